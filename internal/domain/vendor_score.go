package domain

import "time"

// ScoreEventKind classifies an append-only event in the stream C4 derives
// snapshots from.
type ScoreEventKind string

const (
	ScoreEventAssigned       ScoreEventKind = "ASSIGNED"
	ScoreEventAccepted       ScoreEventKind = "ACCEPTED"
	ScoreEventRejected       ScoreEventKind = "REJECTED"
	ScoreEventDelivered      ScoreEventKind = "DELIVERED"
	ScoreEventCancelled      ScoreEventKind = "CANCELLED"
	ScoreEventLateResponse   ScoreEventKind = "LATE_RESPONSE"
	ScoreEventDeliveryFailed ScoreEventKind = "DELIVERY_FAILED"
	ScoreEventPeriodic       ScoreEventKind = "PERIODIC"
)

// VendorScoreEvent is one fact in the append-only stream feeding the scorer.
// Data carries kind-specific payload, e.g. {"product_id":..., "price":...}
// for a PERIODIC price sample, or {"response_minutes":...} for ACCEPTED.
type VendorScoreEvent struct {
	ID       string
	VendorID string
	Kind     ScoreEventKind
	At       time.Time
	Data     map[string]any
}

// ScoreTier buckets a vendor's overall score for display and for the
// cash-only / needs-approval admission rules that key off retailer score
// categories (a distinct concept, but the same bucketing shape).
type ScoreTier string

const (
	TierExcellent ScoreTier = "EXCELLENT"
	TierGood      ScoreTier = "GOOD"
	TierAverage   ScoreTier = "AVERAGE"
	TierPoor      ScoreTier = "POOR"
)

// VendorScoreSnapshot is the derived, cached aggregation the selector ranks
// candidates by. Overall is a deterministic function of the five
// components given a fixed weight configuration.
type VendorScoreSnapshot struct {
	VendorID             string
	ResponseSpeed        float64
	AcceptanceRate       float64
	PriceCompetitiveness float64
	DeliverySuccess      float64
	CancellationRate     float64
	Overall              float64
	Tier                 ScoreTier
	ComputedAt           time.Time
}
