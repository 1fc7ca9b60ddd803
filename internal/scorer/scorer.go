// Package scorer computes the composite trust score: a deterministic
// weighted blend of ledger integrity, seller trust, NFC tag uniqueness and
// review authenticity, each normalized to [0,100].
package scorer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/verity/engine/internal/config"
	"github.com/verity/engine/internal/core"
	"github.com/verity/engine/internal/store"
)

// Scorer recomputes and persists composite trust scores. Recompute is a
// pure function of current store state: calling it twice without new input
// yields the same value.
type Scorer struct {
	store   store.Store
	weights config.TrustWeights
	cfg     config.TrustConfig
	reviews config.ReviewsConfig
	logger  *log.Logger
}

// New creates a Scorer with the configured weights and policy knobs.
func New(st store.Store, cfg config.TrustConfig, reviews config.ReviewsConfig) *Scorer {
	return &Scorer{
		store:   st,
		weights: cfg.Weights,
		cfg:     cfg,
		reviews: reviews,
		logger:  log.New(log.Writer(), "[SCORER] ", log.LstdFlags),
	}
}

// Recompute evaluates all four signals and persists the clamped composite
// on the product with a monotonic score timestamp. Signals carrying the
// sentinel are excluded from the average and the remaining weights
// renormalized, so "no signal" never reads as "score 0".
func (s *Scorer) Recompute(ctx context.Context, productID string) (*core.TrustBreakdown, error) {
	product, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	integrity, err := s.ledgerIntegrity(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("recompute %s: %w", productID, err)
	}
	seller, err := s.sellerTrust(ctx, product)
	if err != nil {
		return nil, fmt.Errorf("recompute %s: %w", productID, err)
	}
	tag, err := s.tagUniqueness(ctx, product)
	if err != nil {
		return nil, fmt.Errorf("recompute %s: %w", productID, err)
	}
	reviews, err := s.reviewAuthenticity(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("recompute %s: %w", productID, err)
	}

	composite := weightedAverage([]signal{
		{integrity, s.weights.Integrity},
		{seller, s.weights.Seller},
		{tag, s.weights.Tag},
		{reviews, s.weights.Reviews},
	})
	composite = clamp(composite)

	now := time.Now().UTC()
	if !now.After(product.ScoreUpdatedAt) {
		now = product.ScoreUpdatedAt.Add(time.Nanosecond)
	}

	product.TrustScore = composite
	product.ScoreUpdatedAt = now
	product.UpdatedAt = now
	if err := s.store.UpdateProduct(ctx, product); err != nil {
		return nil, err
	}

	return &core.TrustBreakdown{
		ProductID:          productID,
		Composite:          composite,
		LedgerIntegrity:    integrity,
		SellerTrust:        seller,
		TagUniqueness:      tag,
		ReviewAuthenticity: reviews,
		ComputedAt:         now,
	}, nil
}

// Breakdown returns the current signals without persisting anything, with
// the staleness flag evaluated against the configured TTL.
func (s *Scorer) Breakdown(ctx context.Context, productID string) (*core.TrustBreakdown, error) {
	product, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	integrity, err := s.ledgerIntegrity(ctx, productID)
	if err != nil {
		return nil, err
	}
	seller, err := s.sellerTrust(ctx, product)
	if err != nil {
		return nil, err
	}
	tag, err := s.tagUniqueness(ctx, product)
	if err != nil {
		return nil, err
	}
	reviews, err := s.reviewAuthenticity(ctx, productID)
	if err != nil {
		return nil, err
	}

	return &core.TrustBreakdown{
		ProductID:          productID,
		Composite:          product.TrustScore,
		LedgerIntegrity:    integrity,
		SellerTrust:        seller,
		TagUniqueness:      tag,
		ReviewAuthenticity: reviews,
		Stale:              s.IsStale(product),
		ComputedAt:         product.ScoreUpdatedAt,
	}, nil
}

// IsStale reports whether a product's score is older than the TTL. Stale
// scores are flagged to dashboards, never auto-zeroed.
func (s *Scorer) IsStale(p *core.Product) bool {
	if p.ScoreUpdatedAt.IsZero() {
		return true
	}
	return time.Since(p.ScoreUpdatedAt) > s.cfg.StaleTTL
}

// ledgerIntegrity: 100 minus a penalty per failed/suspicious event,
// floored at 0. An empty chain is full integrity: nothing contradicts it.
func (s *Scorer) ledgerIntegrity(ctx context.Context, productID string) (float64, error) {
	evs, err := s.store.EventsForProduct(ctx, productID)
	if err != nil {
		return 0, err
	}
	score := 100.0
	for _, ev := range evs {
		if ev.Status == core.VerificationFailed || ev.Status == core.VerificationSuspicious {
			score -= s.cfg.IntegrityPenalty
		}
	}
	if score < 0 {
		score = 0
	}
	return score, nil
}

// sellerTrust: the associated credential's trust token; 0 when no seller
// is associated or the seller is rejected.
func (s *Scorer) sellerTrust(ctx context.Context, p *core.Product) (float64, error) {
	if p.SellerID == "" {
		return 0, nil
	}
	cred, err := s.store.GetSeller(ctx, p.SellerID)
	if errors.Is(err, core.ErrUnknownSeller) {
		// A dangling seller reference scores like no seller at all.
		return 0, nil
	}
	if err != nil {
		// Anything else is a backend failure, not a trust signal.
		return 0, err
	}
	if cred.Status == core.SellerRejected {
		return 0, nil
	}
	return clamp(cred.TrustToken), nil
}

// tagUniqueness: 100 when exactly one product holds the tag, 0 when two or
// more share it. Products without a tag emit the sentinel.
func (s *Scorer) tagUniqueness(ctx context.Context, p *core.Product) (float64, error) {
	if p.NFCTagID == "" {
		return core.SignalSentinel, nil
	}
	holders, err := s.store.ProductsByTag(ctx, p.NFCTagID)
	if err != nil {
		return 0, err
	}
	if len(holders) >= 2 {
		return 0, nil
	}
	return 100, nil
}

// reviewAuthenticity: mean of scored reviews over the trailing window, or
// the sentinel when no scored reviews exist.
func (s *Scorer) reviewAuthenticity(ctx context.Context, productID string) (float64, error) {
	reviews, err := s.store.ReviewsForProduct(ctx, productID)
	if err != nil {
		return 0, err
	}

	sum, n := 0.0, 0
	for _, r := range reviews {
		if !r.HasScore {
			continue
		}
		sum += r.AuthenticityScore
		n++
		if n >= s.reviews.TrailingWindow {
			break
		}
	}
	if n == 0 {
		return core.SignalSentinel, nil
	}
	return clamp(sum / float64(n)), nil
}

type signal struct {
	value  float64
	weight float64
}

// weightedAverage blends the non-sentinel signals, renormalizing the
// weights of whatever data is actually available.
func weightedAverage(signals []signal) float64 {
	sum, weightSum := 0.0, 0.0
	for _, sg := range signals {
		if sg.value == core.SignalSentinel {
			continue
		}
		sum += sg.value * sg.weight
		weightSum += sg.weight
	}
	if weightSum == 0 {
		return 0
	}
	return sum / weightSum
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
