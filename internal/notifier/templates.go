package notifier

import (
	"fmt"
	"sort"
	"strings"
)

// Template names one of the fixed plain-text WhatsApp message bodies
// spec.md §6 specifies. Rendering is pure and synchronous — Notify never
// blocks on anything slower than a map lookup and a string substitution.
type Template string

const (
	TemplateOrderConfirmation   Template = "ORDER_CONFIRMATION"
	TemplateVendorAssignment    Template = "VENDOR_ASSIGNMENT"
	TemplateInsufficientCredit  Template = "INSUFFICIENT_CREDIT"
	TemplateVendorRetryNotice   Template = "VENDOR_RETRY_NOTICE"
	TemplateQuickReorder        Template = "QUICK_REORDER"
	TemplateHelp                Template = "HELP"
	TemplateClarificationNeeded Template = "CLARIFICATION_NEEDED"
)

var bodies = map[Template]string{
	TemplateOrderConfirmation: "Your order {{order_number}} has been confirmed. Total: {{total}}. " +
		"We'll let you know as soon as a vendor is assigned.",

	TemplateVendorAssignment: "New order {{order_number}} from {{retailer_name}}. Total: {{total}}. " +
		"Reply ACCEPT or REJECT within 2 hours.",

	TemplateInsufficientCredit: "We couldn't place this order: your available credit is {{available}}, " +
		"which isn't enough to cover it. Contact support to raise your limit or pay down your balance.",

	TemplateVendorRetryNotice: "Order {{order_number}} is being reassigned to another vendor. " +
		"No action is needed from you.",

	TemplateQuickReorder: "Time for a reorder? Your usual order from {{last_order_date}} was: {{items}}. " +
		"Reply YES to place it again at today's prices ({{total}}).",

	TemplateHelp: "You can: send a list of items to order (e.g. \"10kg rice, 5kg dal\"), " +
		"send a photo of a handwritten order, or ask \"status of order ORD-1234\".",

	TemplateClarificationNeeded: "I need a bit more information before I can place this order: {{questions}}",
}

// Render substitutes each {{key}} placeholder in the template body with the
// matching entry from data. An unresolved placeholder is left as-is rather
// than failing the send — a missing field shouldn't block a notification
// whose other content is still useful.
func Render(tmpl Template, data map[string]string) (string, error) {
	body, ok := bodies[tmpl]
	if !ok {
		return "", fmt.Errorf("notifier: unknown template %q", tmpl)
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		body = strings.ReplaceAll(body, "{{"+k+"}}", data[k])
	}
	return body, nil
}
