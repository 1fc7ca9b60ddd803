// Package registry tracks seller credentials: verification status, trust
// tokens and counterfeit strikes with a rolling auto-rejection window.
package registry

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/verity/engine/internal/config"
	"github.com/verity/engine/internal/core"
	"github.com/verity/engine/internal/store"
)

// AutoRejection is emitted when the strike limit trips inside the rolling
// window. The alert manager consumes these.
type AutoRejection struct {
	SellerID    string
	StrikeCount int
	Window      time.Duration
	At          time.Time
}

// Registry is the only mutator of seller credentials.
type Registry struct {
	store  store.Store
	cfg    config.SellersConfig
	logger *log.Logger

	// onAutoReject is invoked outside any store lock when a seller trips
	// the strike limit. Set once during wiring.
	onAutoReject func(AutoRejection)
}

// New creates a credential registry.
func New(st store.Store, cfg config.SellersConfig) *Registry {
	return &Registry{
		store:  st,
		cfg:    cfg,
		logger: log.New(log.Writer(), "[REGISTRY] ", log.LstdFlags),
	}
}

// OnAutoReject registers the auto-rejection consumer.
func (r *Registry) OnAutoReject(fn func(AutoRejection)) { r.onAutoReject = fn }

// RegisterInput is the payload for seller registration.
type RegisterInput struct {
	SellerID     string
	CompanyName  string
	TrustToken   float64
	KYCDocuments []core.Document
}

// Register creates a new credential in pending state. Fails with
// ErrDuplicateSeller when the seller ID exists.
func (r *Registry) Register(ctx context.Context, in RegisterInput) (*core.SellerCredential, error) {
	if in.SellerID == "" {
		return nil, fmt.Errorf("register: seller ID is required")
	}
	now := time.Now().UTC()
	cred := &core.SellerCredential{
		SellerID:     in.SellerID,
		CompanyName:  in.CompanyName,
		Status:       core.SellerPending,
		TrustToken:   clampToken(in.TrustToken),
		KYCDocuments: in.KYCDocuments,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.store.CreateSeller(ctx, cred); err != nil {
		return nil, err
	}
	r.logger.Printf("Registered seller %s (%s)", in.SellerID, in.CompanyName)
	return cred, nil
}

// Get returns the credential snapshot.
func (r *Registry) Get(ctx context.Context, sellerID string) (*core.SellerCredential, error) {
	return r.store.GetSeller(ctx, sellerID)
}

// RecordStrike adds a counterfeit strike and returns the new lifetime
// count. Reaching the limit within the rolling window auto-rejects the
// seller and emits an AutoRejection event.
func (r *Registry) RecordStrike(ctx context.Context, sellerID string) (int, error) {
	cred, err := r.store.GetSeller(ctx, sellerID)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	cred.StrikeTimes = append(cred.StrikeTimes, now)
	cred.UpdatedAt = now

	inWindow := r.strikesInWindow(cred, now)
	var rejection *AutoRejection
	if inWindow >= r.cfg.StrikeLimit && cred.Status != core.SellerRejected {
		cred.Status = core.SellerRejected
		cred.AutoRejected = true
		rejection = &AutoRejection{
			SellerID:    sellerID,
			StrikeCount: inWindow,
			Window:      r.cfg.StrikeWindow,
			At:          now,
		}
	}

	if err := r.store.UpdateSeller(ctx, cred); err != nil {
		return 0, err
	}

	if rejection != nil {
		r.logger.Printf("Seller %s auto-rejected: %d strikes within %s",
			sellerID, rejection.StrikeCount, r.cfg.StrikeWindow)
		if r.onAutoReject != nil {
			r.onAutoReject(*rejection)
		}
	}
	return cred.StrikeCount(), nil
}

// SetVerificationStatus is the manual moderation mutator.
func (r *Registry) SetVerificationStatus(ctx context.Context, sellerID string, status core.SellerStatus) error {
	switch status {
	case core.SellerPending, core.SellerVerified, core.SellerRejected:
	default:
		return fmt.Errorf("set status: unknown status %q", status)
	}

	cred, err := r.store.GetSeller(ctx, sellerID)
	if err != nil {
		return err
	}
	cred.Status = status
	// A moderator's decision supersedes the strike machinery either way:
	// the expiry sweep must not revert it.
	cred.AutoRejected = false
	cred.UpdatedAt = time.Now().UTC()
	return r.store.UpdateSeller(ctx, cred)
}

// Flag marks a seller as flagged by an alert auto-action.
func (r *Registry) Flag(ctx context.Context, sellerID string) error {
	cred, err := r.store.GetSeller(ctx, sellerID)
	if err != nil {
		return err
	}
	if cred.Flagged {
		return nil
	}
	cred.Flagged = true
	cred.UpdatedAt = time.Now().UTC()
	return r.store.UpdateSeller(ctx, cred)
}

// ResetStrikes is the manual reset: the only operation allowed to lower
// the strike record.
func (r *Registry) ResetStrikes(ctx context.Context, sellerID string) error {
	cred, err := r.store.GetSeller(ctx, sellerID)
	if err != nil {
		return err
	}
	cred.StrikeTimes = nil
	cred.UpdatedAt = time.Now().UTC()
	return r.store.UpdateSeller(ctx, cred)
}

// strikesInWindow counts strikes inside the rolling window ending at now.
func (r *Registry) strikesInWindow(cred *core.SellerCredential, now time.Time) int {
	cutoff := now.Add(-r.cfg.StrikeWindow)
	n := 0
	for _, t := range cred.StrikeTimes {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

// SweepExpiredStrikes re-evaluates auto-rejected sellers whose window
// strikes have aged out. Manual rejections are left alone. It runs on the
// engine's expiry tick; the downgrade is to pending, not verified, so a
// human still reviews the seller.
func (r *Registry) SweepExpiredStrikes(ctx context.Context) {
	sellers, err := r.store.ListSellers(ctx)
	if err != nil {
		r.logger.Printf("Strike sweep failed: %v", err)
		return
	}

	now := time.Now().UTC()
	for i := range sellers {
		cred := &sellers[i]
		if cred.Status != core.SellerRejected || !cred.AutoRejected {
			continue
		}
		if r.strikesInWindow(cred, now) >= r.cfg.StrikeLimit {
			continue
		}
		cred.Status = core.SellerPending
		cred.AutoRejected = false
		cred.UpdatedAt = now
		if err := r.store.UpdateSeller(ctx, cred); err != nil {
			r.logger.Printf("Strike sweep: update %s failed: %v", cred.SellerID, err)
			continue
		}
		r.logger.Printf("Seller %s strikes aged out of window, back to pending review", cred.SellerID)
	}
}

func clampToken(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
