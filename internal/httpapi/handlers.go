package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/arvind-mehta/orderflow-core/internal/domain"
	"github.com/arvind-mehta/orderflow-core/internal/statemachine"
)

type whatsAppWebhookRequest struct {
	MessageID string `json:"message_id"`
	From      string `json:"from"`
	Body      string `json:"body"`
	ImageRef  string `json:"image_ref,omitempty"`
}

// handleWhatsAppWebhook persists the inbound message and returns
// immediately; processing happens off the critical path, in the recovery
// worker's EventHandler.
func (s *Server) handleWhatsAppWebhook(w http.ResponseWriter, r *http.Request) {
	var req whatsAppWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.MessageID == "" || req.From == "" {
		writeError(w, http.StatusBadRequest, "message_id and from are required")
		return
	}

	payload, err := json.Marshal(inboundPayload{From: req.From, Body: req.Body, ImageRef: req.ImageRef})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode payload")
		return
	}

	result, err := s.events.Record(r.Context(), ChannelWhatsApp, req.MessageID, payload)
	if err != nil {
		s.log.Error("record webhook failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not record event")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"event_id": result.EventID})
}

type uploadImageRequest struct {
	RetailerID string `json:"retailer_id"`
	ImageRef   string `json:"image_ref"`
}

// handleUploadImage accepts a directly-submitted order photo (not via
// WhatsApp) and records it the same durable way, for the recovery worker to
// run through OCR and dispatch.
func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	var req uploadImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.RetailerID == "" || req.ImageRef == "" {
		writeError(w, http.StatusBadRequest, "retailer_id and image_ref are required")
		return
	}

	payload, err := json.Marshal(inboundPayload{RetailerID: req.RetailerID, ImageRef: req.ImageRef})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode payload")
		return
	}

	// external_id has no natural provider-assigned value here, so the image
	// reference itself is used; it is already unique per upload.
	result, err := s.events.Record(r.Context(), ChannelImageUpload, req.ImageRef, payload)
	if err != nil {
		s.log.Error("record image upload failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not record upload")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"upload_id": result.EventID})
}

func (s *Server) handleUploadImageStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	event, err := s.events.Status(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "upload not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"upload_id":  event.ID,
		"status":     event.Status,
		"attempts":   event.Attempts,
		"last_error": event.LastError,
	})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	order, err := s.orders.GetOrder(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	writeJSON(w, http.StatusOK, order)
}

type transitionRequest struct {
	ActorID  string `json:"actor_id"`
	VendorID string `json:"vendor_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// handleTransition drives the state machine directly for the admin- and
// vendor-facing action endpoints; the retailer-facing path (WhatsApp
// accept/reject) goes through the webhook intake instead.
func (s *Server) handleTransition(to domain.OrderStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req transitionRequest
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid json body")
				return
			}
		}
		if req.ActorID == "" {
			req.ActorID = "admin"
		}

		order, err := s.sm.Transition(r.Context(), id, to, statemachine.TransitionInput{
			ActorID: req.ActorID, Reason: req.Reason, VendorID: req.VendorID,
		})
		if err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, order)
	}
}
