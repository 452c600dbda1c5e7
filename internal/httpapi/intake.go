package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/arvind-mehta/orderflow-core/internal/dispatcher"
	"github.com/arvind-mehta/orderflow-core/internal/domain"
	"github.com/arvind-mehta/orderflow-core/internal/intent"
	"github.com/arvind-mehta/orderflow-core/internal/notifier"
)

// The three webhook_events channels this system ever records: an inbound
// WhatsApp message (text or image), a vendor's accept/reject reply to an
// assignment, and a directly-uploaded order photo from the retailer-facing
// app rather than WhatsApp.
const (
	ChannelWhatsApp       = "whatsapp"
	ChannelVendorResponse = "vendor_response"
	ChannelImageUpload    = "image_upload"
)

// inboundPayload is the normalized shape every channel is decoded into
// before storage; the gateway collaborator is responsible for mapping its
// own wire format onto this one before calling the webhook endpoint.
type inboundPayload struct {
	From       string `json:"from,omitempty"`
	Body       string `json:"body,omitempty"`
	ImageRef   string `json:"image_ref,omitempty"`
	RetailerID string `json:"retailer_id,omitempty"`
	OrderID    string `json:"order_id,omitempty"`
	VendorID   string `json:"vendor_id,omitempty"`
	Accepted   *bool  `json:"accepted,omitempty"`
}

// Dispatcher is the subset of dispatcher.Dispatcher the intake handler
// drives.
type Dispatcher interface {
	Dispatch(ctx context.Context, retailerID string, items []intent.ResolvedItem, source domain.OrderSource, requiresCredit bool) (dispatcher.Outcome, error)
	HandleVendorResponse(ctx context.Context, orderID, vendorID string, accepted bool) error
}

// RetailerResolver looks a retailer up by WhatsApp phone number or id.
type RetailerResolver interface {
	GetByPhone(ctx context.Context, phone string) (domain.Retailer, error)
	GetRetailer(ctx context.Context, id string) (domain.Retailer, error)
}

// OrderLookup resolves a status-query reply to the order it names.
type OrderLookup interface {
	GetByOrderNumber(ctx context.Context, orderNumber string) (domain.Order, error)
}

// Extractor turns an uploaded image reference into candidate order items,
// satisfied by internal/collaborators/ocr.
type Extractor interface {
	Extract(ctx context.Context, imageRef string) (rawText string, items []intent.CandidateItem, err error)
}

// Intake implements recovery.EventHandler: it is what turns a durably
// stored webhook event into the order-orchestration side effects spec.md
// §4.1 and §4.9 describe.
type Intake struct {
	parser     *intent.Parser
	dispatcher Dispatcher
	retailers  RetailerResolver
	orders     OrderLookup
	extractor  Extractor
	notify     *notifier.Notifier
	log        *slog.Logger
}

func NewIntake(parser *intent.Parser, dispatcher Dispatcher, retailers RetailerResolver, orders OrderLookup,
	extractor Extractor, notify *notifier.Notifier, log *slog.Logger) *Intake {
	return &Intake{parser: parser, dispatcher: dispatcher, retailers: retailers, orders: orders,
		extractor: extractor, notify: notify, log: log.With("component", "intake")}
}

// Handle decodes event.Payload and routes it to the right side effect. It
// satisfies recovery.EventHandler.
func (in *Intake) Handle(ctx context.Context, event domain.WebhookEvent) error {
	var payload inboundPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("intake: decode event %s: %w", event.ID, err)
	}

	switch event.Channel {
	case ChannelVendorResponse:
		if payload.Accepted == nil {
			return fmt.Errorf("intake: vendor response %s missing accepted flag", event.ID)
		}
		return in.dispatcher.HandleVendorResponse(ctx, payload.OrderID, payload.VendorID, *payload.Accepted)
	case ChannelWhatsApp:
		return in.handleMessage(ctx, payload)
	case ChannelImageUpload:
		return in.handleImageUpload(ctx, payload)
	default:
		return fmt.Errorf("intake: unknown channel %q", event.Channel)
	}
}

// handleImageUpload runs the same OCR+parse+dispatch pipeline as a WhatsApp
// image message, but for a retailer identified by id (the retailer-facing
// app's own auth) rather than by phone number.
func (in *Intake) handleImageUpload(ctx context.Context, payload inboundPayload) error {
	retailer, err := in.retailers.GetRetailer(ctx, payload.RetailerID)
	if err != nil {
		return fmt.Errorf("intake: resolve retailer %s: %w", payload.RetailerID, err)
	}

	_, candidates, err := in.extractor.Extract(ctx, payload.ImageRef)
	if err != nil {
		return fmt.Errorf("intake: extract image %s: %w", payload.ImageRef, err)
	}
	result := in.parser.ParseExtracted(candidates)

	switch result.Kind {
	case intent.KindOrder:
		_, err := in.dispatcher.Dispatch(ctx, retailer.ID, result.Items, domain.SourceImage, true)
		return err
	case intent.KindNeedsClarification:
		return in.notify.Notify(ctx, retailer.Phone, notifier.TemplateClarificationNeeded, map[string]string{
			"questions": formatQuestions(result.Questions),
		})
	default:
		return fmt.Errorf("intake: image upload for retailer %s yielded no items", retailer.ID)
	}
}

func (in *Intake) handleMessage(ctx context.Context, payload inboundPayload) error {
	retailer, err := in.retailers.GetByPhone(ctx, payload.From)
	if err != nil {
		return fmt.Errorf("intake: resolve retailer %s: %w", payload.From, err)
	}

	source := domain.SourceText
	result := in.parser.Parse(payload.Body)
	if payload.ImageRef != "" {
		source = domain.SourceImage
		_, candidates, err := in.extractor.Extract(ctx, payload.ImageRef)
		if err != nil {
			return fmt.Errorf("intake: extract image %s: %w", payload.ImageRef, err)
		}
		result = in.parser.ParseExtracted(candidates)
	}

	switch result.Kind {
	case intent.KindOrder:
		_, err := in.dispatcher.Dispatch(ctx, retailer.ID, result.Items, source, true)
		return err
	case intent.KindNeedsClarification:
		return in.notify.Notify(ctx, retailer.Phone, notifier.TemplateClarificationNeeded, map[string]string{
			"questions": formatQuestions(result.Questions),
		})
	case intent.KindStatusQuery:
		return in.replyWithStatus(ctx, retailer, result.OrderNumber)
	case intent.KindGreeting, intent.KindHelp, intent.KindUnknown:
		return in.notify.Notify(ctx, retailer.Phone, notifier.TemplateHelp, nil)
	default:
		return nil
	}
}

func (in *Intake) replyWithStatus(ctx context.Context, retailer domain.Retailer, orderNumber string) error {
	order, err := in.orders.GetByOrderNumber(ctx, orderNumber)
	if err != nil {
		return in.notify.Notify(ctx, retailer.Phone, notifier.TemplateHelp, nil)
	}
	return in.notify.Notify(ctx, retailer.Phone, notifier.TemplateOrderConfirmation, map[string]string{
		"order_number": order.OrderNumber, "total": order.Total.String(),
	})
}

func formatQuestions(qs []intent.Question) string {
	parts := make([]string, 0, len(qs))
	for _, q := range qs {
		parts = append(parts, fmt.Sprintf("%s (%s)", q.Subject, strings.ToLower(strings.ReplaceAll(q.Kind, "_", " "))))
	}
	return strings.Join(parts, "; ")
}
