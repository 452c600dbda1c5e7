// Package intent is C9: turns inbound WhatsApp text or OCR item lists into
// a normalized, tagged intent. Detection is deterministic regex scoring,
// not ML, by design (§4.9's rationale) — ML understanding is delegated
// entirely to the external OCR+LLM collaborator, which already hands back
// structured items, so line tokenization is skipped for them; unit
// canonicalization and catalog lookup still run on each extracted item.
package intent

import (
	"regexp"
	"strconv"
	"strings"
)

// ClarifyThreshold is CLARIFY_THRESHOLD: confidence below this becomes
// Unknown.
const ClarifyThreshold = 50

// FuzzyThreshold is FUZZY_THRESHOLD for token-set product matching.
const FuzzyThreshold = 0.7

// Kind tags the sealed variant IntentResult represents.
type Kind string

const (
	KindOrder              Kind = "ORDER"
	KindNeedsClarification Kind = "NEEDS_CLARIFICATION"
	KindStatusQuery        Kind = "STATUS_QUERY"
	KindGreeting           Kind = "GREETING"
	KindHelp               Kind = "HELP"
	KindUnknown            Kind = "UNKNOWN"
)

// CandidateItem is one token-parsed line before product resolution.
type CandidateItem struct {
	Quantity    int
	Unit        string
	ProductName string
}

// ResolvedItem is a CandidateItem resolved against the catalog.
type ResolvedItem struct {
	ProductID string
	Quantity  int
	Unit      string
}

// Question is one clarification the caller must ask the retailer before an
// order can be dispatched.
type Question struct {
	Kind    string // INVALID_UNIT | AMBIGUOUS_PRODUCT | MISSING_QUANTITY
	Subject string
}

// Result is C9's tagged union. Only the fields relevant to Kind are
// populated.
type Result struct {
	Kind            Kind
	Items           []ResolvedItem
	PartialItems    []ResolvedItem
	Questions       []Question
	OrderNumber     string
	IsReturning     bool
	RawText         string
}

// CatalogLookup is the interface intent needs from the product catalog
// collaborator, satisfied by internal/collaborators/catalog.
type CatalogLookup interface {
	ResolveProduct(name string) (productID string, matchedName string, ambiguous bool, found bool)
}

var (
	statusPattern   = regexp.MustCompile(`(?i)\b(status|track|where).*?\b(order)?\s*#?([a-z0-9]+-[a-z0-9\-]+|\d{4,})\b`)
	greetingPattern = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|namaste|good\s*(morning|afternoon|evening))\b`)
	helpPattern     = regexp.MustCompile(`(?i)\b(help|menu|commands|options)\b`)
	itemLinePattern = regexp.MustCompile(`(?i)^\s*(\d+(?:\.\d+)?)\s*([a-z]*)\s*(?:x\s*)?([a-z][a-z \-]*)\s*$`)
	itemLineAltPattern = regexp.MustCompile(`(?i)^\s*([a-z][a-z \-]*?)\s+(\d+(?:\.\d+)?)\s*([a-z]*)\s*$`)
)

var unitAliases = map[string]string{
	"kg": "kg", "kgs": "kg", "kilo": "kg", "kilos": "kg", "kilogram": "kg", "kilograms": "kg",
	"g": "g", "gm": "g", "gms": "g", "gram": "g", "grams": "g",
	"l": "l", "ltr": "l", "ltrs": "l", "litre": "l", "litres": "l", "liter": "l", "liters": "l",
	"ml": "ml",
	"piece": "piece", "pieces": "piece", "pc": "piece", "pcs": "piece",
	"dozen": "dozen", "dz": "dozen",
	"packet": "packet", "packets": "packet", "pkt": "packet",
	"carton": "carton", "cartons": "carton",
}

type Parser struct {
	catalog CatalogLookup
}

func New(catalog CatalogLookup) *Parser {
	return &Parser{catalog: catalog}
}

// Parse classifies input and, for order-shaped intents, runs the full
// normalization pipeline.
func (p *Parser) Parse(input string) Result {
	input = strings.TrimSpace(input)

	type scored struct {
		kind       Kind
		confidence int
		priority   int
	}
	candidates := []scored{}

	if m := statusPattern.FindStringSubmatch(input); m != nil {
		candidates = append(candidates, scored{kind: KindStatusQuery, confidence: 90, priority: 3})
	}
	if greetingPattern.MatchString(input) {
		candidates = append(candidates, scored{kind: KindGreeting, confidence: 80, priority: 1})
	}
	if helpPattern.MatchString(input) {
		candidates = append(candidates, scored{kind: KindHelp, confidence: 75, priority: 1})
	}
	if lines := splitItemLines(input); len(lines) > 0 {
		candidates = append(candidates, scored{kind: KindOrder, confidence: 60 + 5*len(lines), priority: 2})
	}

	if len(candidates) == 0 {
		return Result{Kind: KindUnknown, RawText: input}
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.confidence > best.confidence || (c.confidence == best.confidence && c.priority > best.priority) {
			best = c
		}
	}

	if best.confidence < ClarifyThreshold {
		return Result{Kind: KindUnknown, RawText: input}
	}

	switch best.kind {
	case KindStatusQuery:
		m := statusPattern.FindStringSubmatch(input)
		return Result{Kind: KindStatusQuery, OrderNumber: strings.ToUpper(m[len(m)-1])}
	case KindGreeting:
		return Result{Kind: KindGreeting, IsReturning: false}
	case KindHelp:
		return Result{Kind: KindHelp}
	case KindOrder:
		return p.parseOrder(input)
	default:
		return Result{Kind: KindUnknown, RawText: input}
	}
}

// ParseExtracted builds a Result directly from an OCR+LLM extraction,
// bypassing the text tokenization steps entirely per §4.9's rationale.
func (p *Parser) ParseExtracted(items []CandidateItem) Result {
	return p.resolveItems(items)
}

func splitItemLines(input string) []string {
	var lines []string
	for _, line := range strings.Split(input, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if itemLinePattern.MatchString(line) || itemLineAltPattern.MatchString(line) {
			lines = append(lines, line)
		}
	}
	return lines
}

func (p *Parser) parseOrder(input string) Result {
	var candidates []CandidateItem
	for _, line := range strings.Split(input, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if c, ok := parseItemLine(line); ok {
			candidates = append(candidates, c)
		}
		// Non-matching lines are dropped per §4.9 step 1.
	}
	return p.resolveItems(candidates)
}

// parseItemLine tokenizes one line against the "N[unit] name", "name Nunit",
// and "N x name" patterns.
func parseItemLine(line string) (CandidateItem, bool) {
	if m := itemLinePattern.FindStringSubmatch(line); m != nil {
		qty, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return CandidateItem{}, false
		}
		return CandidateItem{Quantity: int(qty), Unit: strings.ToLower(m[2]), ProductName: strings.TrimSpace(m[3])}, true
	}
	if m := itemLineAltPattern.FindStringSubmatch(line); m != nil {
		qty, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			return CandidateItem{}, false
		}
		return CandidateItem{Quantity: int(qty), Unit: strings.ToLower(m[3]), ProductName: strings.TrimSpace(m[1])}, true
	}
	return CandidateItem{}, false
}

func (p *Parser) resolveItems(candidates []CandidateItem) Result {
	var resolved []ResolvedItem
	var questions []Question

	for _, c := range candidates {
		unit := c.Unit
		if unit != "" {
			canon, ok := unitAliases[unit]
			if !ok {
				questions = append(questions, Question{Kind: "INVALID_UNIT", Subject: c.ProductName})
				continue
			}
			unit = canon
		}

		if c.Quantity <= 0 {
			questions = append(questions, Question{Kind: "MISSING_QUANTITY", Subject: c.ProductName})
			continue
		}

		productID, _, ambiguous, found := p.catalog.ResolveProduct(c.ProductName)
		if ambiguous {
			questions = append(questions, Question{Kind: "AMBIGUOUS_PRODUCT", Subject: c.ProductName})
			continue
		}
		if !found {
			questions = append(questions, Question{Kind: "AMBIGUOUS_PRODUCT", Subject: c.ProductName})
			continue
		}

		resolved = append(resolved, ResolvedItem{ProductID: productID, Quantity: c.Quantity, Unit: unit})
	}

	if len(questions) > 0 {
		return Result{Kind: KindNeedsClarification, PartialItems: resolved, Questions: questions}
	}
	return Result{Kind: KindOrder, Items: resolved}
}

// TokenSetSimilarity computes Jaccard similarity over lower-cased word
// tokens, the fuzzy matcher the catalog collaborator uses when no
// candidate's name matches exactly (§4.9 step 3).
func TokenSetSimilarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for t := range setA {
		if setB[t] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	tokens := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}
