// Package scorer is C4: the vendor reliability scorer. It uses zap rather
// than slog, mirroring the teacher's own split — request-path services log
// through slog, but the stock service's background consumer/ticker code
// logs through zap — which this package's home (a hot background-recompute
// path, not a request handler) matches exactly.
package scorer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/arvind-mehta/orderflow-core/internal/domain"
)

// Config holds the weights and thresholds spec.md §4.4 leaves tunable.
// Weights must sum to 100, which Validate checks. New does not call
// Validate; the binaries build the scorer from DefaultConfig().
type Config struct {
	WeightResponseSpeed        float64
	WeightAcceptanceRate       float64
	WeightPriceCompetitiveness float64
	WeightDeliverySuccess      float64
	WeightCancellationRate     float64

	ResponseTargetMinutes float64
	LateThreshold         time.Duration
	LatePenalty           float64
	SnapshotTTL           time.Duration
}

// DefaultConfig returns spec.md's stated defaults: weights 25/20/20/25/10,
// LATE_THRESHOLD 30m, LATE_PENALTY 5, SNAPSHOT_TTL 1h.
func DefaultConfig() Config {
	return Config{
		WeightResponseSpeed:        25,
		WeightAcceptanceRate:       20,
		WeightPriceCompetitiveness: 20,
		WeightDeliverySuccess:      25,
		WeightCancellationRate:     10,
		ResponseTargetMinutes:      15,
		LateThreshold:              30 * time.Minute,
		LatePenalty:                5,
		SnapshotTTL:                time.Hour,
	}
}

// Validate enforces the weights-sum-to-100 boot-time assertion.
func (c Config) Validate() error {
	sum := c.WeightResponseSpeed + c.WeightAcceptanceRate + c.WeightPriceCompetitiveness +
		c.WeightDeliverySuccess + c.WeightCancellationRate
	if sum < 99.999 || sum > 100.001 {
		return fmt.Errorf("scorer: weights must sum to 100, got %.2f", sum)
	}
	return nil
}

type Scorer struct {
	db     *sql.DB
	redis  *redis.Client
	cfg    Config
	log    *zap.Logger
	cacheTTL time.Duration
}

func New(db *sql.DB, redisClient *redis.Client, cfg Config, log *zap.Logger) *Scorer {
	return &Scorer{db: db, redis: redisClient, cfg: cfg, log: log.With(zap.String("component", "scorer")), cacheTTL: cfg.SnapshotTTL}
}

// Record appends an event to the score stream and invalidates the cached
// snapshot, the cache-aside invalidation half of the pattern
// stock/cache.go's InvalidateItem demonstrates.
func (s *Scorer) Record(ctx context.Context, event domain.VendorScoreEvent) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("scorer: encode event data: %w", err)
	}
	const insertQuery = `
		INSERT INTO vendor_score_events (id, vendor_id, kind, at, data)
		VALUES (gen_random_uuid(), $1, $2, NOW(), $3)
	`
	if _, err := s.db.ExecContext(ctx, insertQuery, event.VendorID, event.Kind, data); err != nil {
		return fmt.Errorf("scorer: record event: %w", err)
	}

	if s.redis != nil {
		if err := s.redis.Del(ctx, snapshotKey(event.VendorID)).Err(); err != nil {
			s.log.Warn("failed to invalidate vendor snapshot cache", zap.String("vendor_id", event.VendorID), zap.Error(err))
		}
	}
	return nil
}

func snapshotKey(vendorID string) string { return fmt.Sprintf("vendor:snapshot:%s", vendorID) }

// Score returns the cached snapshot for vendorID, recomputing lazily if it
// is missing, stale beyond SnapshotTTL, or the cache is cold, following the
// same Redis cache-aside shape as stock/cache.go's GetItem/SetItem.
func (s *Scorer) Score(ctx context.Context, vendorID string) (domain.VendorScoreSnapshot, error) {
	if s.redis != nil {
		if cached, ok := s.readCache(ctx, vendorID); ok {
			return cached, nil
		}
	}

	snapshot, err := s.recompute(ctx, vendorID)
	if err != nil {
		return domain.VendorScoreSnapshot{}, err
	}

	if s.redis != nil {
		s.writeCache(ctx, snapshot)
	}
	return snapshot, nil
}

func (s *Scorer) readCache(ctx context.Context, vendorID string) (domain.VendorScoreSnapshot, bool) {
	data, err := s.redis.Get(ctx, snapshotKey(vendorID)).Bytes()
	if err != nil {
		return domain.VendorScoreSnapshot{}, false
	}
	var snapshot domain.VendorScoreSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return domain.VendorScoreSnapshot{}, false
	}
	if time.Since(snapshot.ComputedAt) > s.cacheTTL {
		return domain.VendorScoreSnapshot{}, false
	}
	return snapshot, true
}

func (s *Scorer) writeCache(ctx context.Context, snapshot domain.VendorScoreSnapshot) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		s.log.Warn("failed to encode snapshot for cache", zap.Error(err))
		return
	}
	if err := s.redis.Set(ctx, snapshotKey(snapshot.VendorID), data, s.cacheTTL).Err(); err != nil {
		s.log.Warn("failed to write snapshot cache", zap.Error(err))
	}
}

// recompute derives a fresh snapshot from the event stream, per §4.4's five
// component metrics, each normalized to [0,100].
func (s *Scorer) recompute(ctx context.Context, vendorID string) (domain.VendorScoreSnapshot, error) {
	responseSpeed, err := s.responseSpeed(ctx, vendorID)
	if err != nil {
		return domain.VendorScoreSnapshot{}, err
	}
	acceptance, err := s.acceptanceRate(ctx, vendorID)
	if err != nil {
		return domain.VendorScoreSnapshot{}, err
	}
	price, err := s.priceCompetitiveness(ctx, vendorID)
	if err != nil {
		return domain.VendorScoreSnapshot{}, err
	}
	delivery, err := s.deliverySuccess(ctx, vendorID)
	if err != nil {
		return domain.VendorScoreSnapshot{}, err
	}
	cancellation, err := s.cancellationRate(ctx, vendorID)
	if err != nil {
		return domain.VendorScoreSnapshot{}, err
	}

	overall := (responseSpeed*s.cfg.WeightResponseSpeed +
		acceptance*s.cfg.WeightAcceptanceRate +
		price*s.cfg.WeightPriceCompetitiveness +
		delivery*s.cfg.WeightDeliverySuccess +
		cancellation*s.cfg.WeightCancellationRate) / 100

	snapshot := domain.VendorScoreSnapshot{
		VendorID:             vendorID,
		ResponseSpeed:        responseSpeed,
		AcceptanceRate:       acceptance,
		PriceCompetitiveness: price,
		DeliverySuccess:      delivery,
		CancellationRate:     cancellation,
		Overall:              overall,
		Tier:                 tierFor(overall),
		ComputedAt:           time.Now(),
	}

	s.checkDivergence(ctx, snapshot)
	if err := s.upsertSnapshot(ctx, snapshot); err != nil {
		s.log.Warn("failed to persist vendor snapshot", zap.String("vendor_id", vendorID), zap.Error(err))
	}
	return snapshot, nil
}

func (s *Scorer) upsertSnapshot(ctx context.Context, snapshot domain.VendorScoreSnapshot) error {
	const query = `
		INSERT INTO vendor_score_snapshots
			(vendor_id, response_speed, acceptance_rate, price_competitiveness, delivery_success, cancellation_rate, overall, tier, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (vendor_id) DO UPDATE SET
			response_speed = EXCLUDED.response_speed,
			acceptance_rate = EXCLUDED.acceptance_rate,
			price_competitiveness = EXCLUDED.price_competitiveness,
			delivery_success = EXCLUDED.delivery_success,
			cancellation_rate = EXCLUDED.cancellation_rate,
			overall = EXCLUDED.overall,
			tier = EXCLUDED.tier,
			computed_at = EXCLUDED.computed_at
	`
	_, err := s.db.ExecContext(ctx, query, snapshot.VendorID, snapshot.ResponseSpeed, snapshot.AcceptanceRate,
		snapshot.PriceCompetitiveness, snapshot.DeliverySuccess, snapshot.CancellationRate, snapshot.Overall,
		snapshot.Tier, snapshot.ComputedAt)
	if err != nil {
		return fmt.Errorf("scorer: upsert snapshot for %s: %w", snapshot.VendorID, err)
	}
	return nil
}

// Recompute forces a fresh score, bypassing the Redis cache-aside read —
// used by the admin recompute-score operation when an operator suspects
// the cached figure has drifted from the underlying event stream.
func (s *Scorer) Recompute(ctx context.Context, vendorID string) (domain.VendorScoreSnapshot, error) {
	snapshot, err := s.recompute(ctx, vendorID)
	if err != nil {
		return domain.VendorScoreSnapshot{}, err
	}
	if s.redis != nil {
		s.writeCache(ctx, snapshot)
	}
	return snapshot, nil
}

func tierFor(overall float64) domain.ScoreTier {
	switch {
	case overall >= 90:
		return domain.TierExcellent
	case overall >= 75:
		return domain.TierGood
	case overall >= 50:
		return domain.TierAverage
	default:
		return domain.TierPoor
	}
}

// responseSpeed averages response minutes over ASSIGNED->(ACCEPTED|REJECTED)
// pairs in the last 30 days, using montanaflynn/stats for the mean instead
// of a hand-rolled sum/len loop.
func (s *Scorer) responseSpeed(ctx context.Context, vendorID string) (float64, error) {
	const query = `
		SELECT (data->>'response_minutes')::float8
		FROM vendor_score_events
		WHERE vendor_id = $1 AND kind IN ('ACCEPTED', 'REJECTED') AND at > NOW() - INTERVAL '30 days'
	`
	minutes, err := s.queryFloats(ctx, query, vendorID)
	if err != nil {
		return 0, err
	}
	if len(minutes) == 0 {
		return 50, nil // zero-data vendors default to neutral
	}

	mean, err := stats.Mean(minutes)
	if err != nil {
		return 0, fmt.Errorf("scorer: response speed mean: %w", err)
	}

	score := 100 - (mean/s.cfg.ResponseTargetMinutes)*100
	if score < 0 {
		score = 0
	}

	lateCount := 0
	for _, m := range minutes {
		if time.Duration(m*float64(time.Minute)) > s.cfg.LateThreshold {
			lateCount++
		}
	}
	score -= float64(lateCount) * s.cfg.LatePenalty
	if score < 0 {
		score = 0
	}
	return score, nil
}

func (s *Scorer) acceptanceRate(ctx context.Context, vendorID string) (float64, error) {
	assigned, accepted, err := s.countPair(ctx, vendorID, "ASSIGNED", "ACCEPTED", 30*24*time.Hour)
	if err != nil {
		return 0, err
	}
	if assigned == 0 {
		return 50, nil
	}
	return 100 * float64(accepted) / float64(assigned), nil
}

func (s *Scorer) deliverySuccess(ctx context.Context, vendorID string) (float64, error) {
	delivered, failed, err := s.countPair(ctx, vendorID, "DELIVERED", "DELIVERY_FAILED", 90*24*time.Hour)
	if err != nil {
		return 0, err
	}
	total := delivered + failed
	if total == 0 {
		return 50, nil
	}
	return 100 * float64(delivered) / float64(total), nil
}

func (s *Scorer) cancellationRate(ctx context.Context, vendorID string) (float64, error) {
	assigned, cancelled, err := s.countPair(ctx, vendorID, "ASSIGNED", "CANCELLED", 30*24*time.Hour)
	if err != nil {
		return 0, err
	}
	if assigned == 0 {
		return 50, nil
	}
	return 100 * (1 - float64(cancelled)/float64(assigned)), nil
}

// countPair counts events of kindA (the denominator) and kindB (the
// numerator) within window, for ratio metrics that share this shape.
func (s *Scorer) countPair(ctx context.Context, vendorID, kindA, kindB string, window time.Duration) (int, int, error) {
	const query = `
		SELECT
			COUNT(*) FILTER (WHERE kind = $2),
			COUNT(*) FILTER (WHERE kind = $3)
		FROM vendor_score_events
		WHERE vendor_id = $1 AND at > NOW() - $4::interval
	`
	var a, b int
	if err := s.db.QueryRowContext(ctx, query, vendorID, kindA, kindB, fmt.Sprintf("%d seconds", int(window.Seconds()))).Scan(&a, &b); err != nil {
		return 0, 0, fmt.Errorf("scorer: count %s/%s for %s: %w", kindA, kindB, vendorID, err)
	}
	return a, b, nil
}

// priceCompetitiveness compares this vendor's PERIODIC price samples
// against the product market average: the mean (stats.Mean) of the
// recorded deviation percentages, clamped to [-50, 50] and subtracted from
// 100. With no samples it returns the neutral 50.
func (s *Scorer) priceCompetitiveness(ctx context.Context, vendorID string) (float64, error) {
	const query = `
		SELECT (data->>'deviation_pct')::float8
		FROM vendor_score_events
		WHERE vendor_id = $1 AND kind = 'PERIODIC' AND at > NOW() - INTERVAL '30 days'
	`
	deviations, err := s.queryFloats(ctx, query, vendorID)
	if err != nil {
		return 0, err
	}
	if len(deviations) == 0 {
		return 50, nil
	}

	mean, err := stats.Mean(deviations)
	if err != nil {
		return 0, fmt.Errorf("scorer: price deviation mean: %w", err)
	}
	clamped := clamp(mean, -50, 50)
	return 100 - clamped, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (s *Scorer) queryFloats(ctx context.Context, query string, args ...any) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scorer: query floats: %w", err)
	}
	defer rows.Close()
	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scorer: scan float: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Top returns up to k vendor ids offering productID, ranked by overall
// score descending.
func (s *Scorer) Top(ctx context.Context, productID string, k int) ([]string, error) {
	const query = `
		SELECT DISTINCT vp.vendor_id
		FROM vendor_products vp
		WHERE vp.product_id = $1
	`
	rows, err := s.db.QueryContext(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("scorer: top candidates for %s: %w", productID, err)
	}
	var vendorIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scorer: scan vendor id: %w", err)
		}
		vendorIDs = append(vendorIDs, id)
	}
	rows.Close()

	type scored struct {
		id    string
		score float64
	}
	ranked := make([]scored, 0, len(vendorIDs))
	for _, id := range vendorIDs {
		snapshot, err := s.Score(ctx, id)
		if err != nil {
			s.log.Warn("failed to score vendor for ranking", zap.String("vendor_id", id), zap.Error(err))
			continue
		}
		ranked = append(ranked, scored{id: id, score: snapshot.Overall})
	}

	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && ranked[j].score > ranked[j-1].score; j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}

	if k > len(ranked) {
		k = len(ranked)
	}
	out := make([]string, k)
	for i := 0; i < k; i++ {
		out[i] = ranked[i].id
	}
	return out, nil
}

// checkDivergence logs at WARN when a freshly computed snapshot's tier
// jumps more than one level from the stored prior snapshot's tier (§9 open
// question on dual scorer reconciliation). It fires whenever a vendor's
// metrics move it that far between two snapshots, e.g. from AVERAGE
// straight to EXCELLENT.
func (s *Scorer) checkDivergence(ctx context.Context, fresh domain.VendorScoreSnapshot) {
	const query = `SELECT tier FROM vendor_score_snapshots WHERE vendor_id = $1`
	var priorTier string
	if err := s.db.QueryRowContext(ctx, query, fresh.VendorID).Scan(&priorTier); err != nil {
		return
	}
	if tierDistance(domain.ScoreTier(priorTier), fresh.Tier) > 1 {
		s.log.Warn("vendor score tier diverged by more than one level",
			zap.String("vendor_id", fresh.VendorID),
			zap.String("prior_tier", priorTier),
			zap.String("fresh_tier", string(fresh.Tier)))
	}
}

func tierDistance(a, b domain.ScoreTier) int {
	order := map[domain.ScoreTier]int{
		domain.TierPoor:      0,
		domain.TierAverage:   1,
		domain.TierGood:      2,
		domain.TierExcellent: 3,
	}
	d := order[a] - order[b]
	if d < 0 {
		d = -d
	}
	return d
}
