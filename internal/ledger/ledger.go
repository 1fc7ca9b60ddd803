// Package ledger implements the per-product append-only provenance chain.
//
// Every event records the SHA-256 of its predecessor; the first event links
// to a genesis hash derived from the product ID. Appends to one product are
// serialized through KeyedLocks, appends to different products run in
// parallel.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/verity/engine/internal/core"
	"github.com/verity/engine/internal/store"
)

// AppendRequest is the caller-supplied portion of a provenance event.
// PrevHash is optional: when set it must match the current head, which
// detects replayed or tampered submissions.
type AppendRequest struct {
	Kind     core.EventKind
	Location string
	GPS      string
	Env      *core.Environment
	Metadata core.Metadata
	Status   core.VerificationStatus
	PrevHash string
}

// Ledger appends and reads provenance chains on top of a Store.
type Ledger struct {
	store  store.Store
	locks  *KeyedLocks
	logger *log.Logger
}

// New creates a Ledger sharing the engine's per-product lock registry.
func New(st store.Store, locks *KeyedLocks) *Ledger {
	return &Ledger{
		store:  st,
		locks:  locks,
		logger: log.New(log.Writer(), "[LEDGER] ", log.LstdFlags),
	}
}

// GenesisHash is the prev-hash anchor of a product's first event.
func GenesisHash(productID string) string {
	sum := sha256.Sum256([]byte("genesis:" + productID))
	return hex.EncodeToString(sum[:])
}

// EventHash hashes the canonical serialization of an event. Field order is
// fixed and metadata keys are sorted, so the hash does not depend on any
// encoder's map ordering.
func EventHash(ev *core.ProvenanceEvent) string {
	payload := canonicalPayload(ev)
	sum := sha256.Sum256([]byte(ev.PrevHash + "|" + payload))
	return hex.EncodeToString(sum[:])
}

func canonicalPayload(ev *core.ProvenanceEvent) string {
	env := ""
	if ev.Env != nil {
		if ev.Env.TemperatureC != nil {
			env += fmt.Sprintf("t:%g;", *ev.Env.TemperatureC)
		}
		if ev.Env.HumidityPct != nil {
			env += fmt.Sprintf("h:%g;", *ev.Env.HumidityPct)
		}
	}
	// Fields in name order: env, gps, kind, location, metadata, product,
	// status, timestamp.
	return fmt.Sprintf("env=%s|gps=%s|kind=%s|location=%s|metadata=%s|product=%s|status=%s|ts=%d",
		env, ev.GPS, ev.Kind, ev.Location, ev.Metadata.Canonical(),
		ev.ProductID, ev.Status, ev.Timestamp.UnixNano())
}

// Append records a new event at the head of the product's chain. Fails with
// ErrUnknownProduct for unregistered products, ErrChainViolation when an
// explicit PrevHash disagrees with the head, and ErrBusy when the product
// lock cannot be acquired in time. State is unchanged on any failure.
func (l *Ledger) Append(ctx context.Context, productID string, req AppendRequest) (*core.ProvenanceEvent, error) {
	if err := req.Metadata.Validate(); err != nil {
		return nil, fmt.Errorf("append %s: %w", productID, err)
	}

	release, err := l.locks.Acquire(ctx, productID)
	if err != nil {
		return nil, err
	}
	defer release()

	return l.appendLocked(ctx, productID, req)
}

// appendLocked is Append without lock acquisition, for callers that already
// hold the product's write lock.
func (l *Ledger) appendLocked(ctx context.Context, productID string, req AppendRequest) (*core.ProvenanceEvent, error) {
	head, err := l.head(ctx, productID)
	if err != nil {
		return nil, err
	}

	prevHash := GenesisHash(productID)
	if head != nil {
		prevHash = head.Hash
	}
	if req.PrevHash != "" && req.PrevHash != prevHash {
		l.logger.Printf("SECURITY chain violation on product %s: supplied prev %.12s, head %.12s",
			productID, req.PrevHash, prevHash)
		return nil, fmt.Errorf("append %s: %w", productID, core.ErrChainViolation)
	}

	status := req.Status
	if status == "" {
		status = core.VerificationPending
	}

	ev := &core.ProvenanceEvent{
		ID:        uuid.New().String(),
		ProductID: productID,
		Kind:      req.Kind,
		Location:  req.Location,
		GPS:       req.GPS,
		Env:       req.Env,
		Metadata:  req.Metadata,
		Status:    status,
		PrevHash:  prevHash,
		Timestamp: time.Now().UTC(),
	}
	if head != nil && !ev.Timestamp.After(head.Timestamp) {
		// Ledger order is timestamp order within a product; keep it strict
		// even under coarse clocks.
		ev.Timestamp = head.Timestamp.Add(time.Nanosecond)
	}
	ev.Hash = EventHash(ev)

	if err := l.store.AppendEvent(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// Events returns the full chain, oldest first. The slice is a snapshot;
// callers may restart reads at any index without blocking writers.
func (l *Ledger) Events(ctx context.Context, productID string) ([]core.ProvenanceEvent, error) {
	return l.store.EventsForProduct(ctx, productID)
}

// Head returns the latest event, or nil for an empty chain.
func (l *Ledger) Head(ctx context.Context, productID string) (*core.ProvenanceEvent, error) {
	return l.head(ctx, productID)
}

func (l *Ledger) head(ctx context.Context, productID string) (*core.ProvenanceEvent, error) {
	evs, err := l.store.EventsForProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if len(evs) == 0 {
		return nil, nil
	}
	return &evs[len(evs)-1], nil
}

// VerifyChain re-hashes the whole chain and reports the first break.
func (l *Ledger) VerifyChain(ctx context.Context, productID string) error {
	evs, err := l.store.EventsForProduct(ctx, productID)
	if err != nil {
		return err
	}

	want := GenesisHash(productID)
	for i := range evs {
		ev := &evs[i]
		if ev.PrevHash != want {
			return fmt.Errorf("event %d prev-hash mismatch: %w", i, core.ErrChainViolation)
		}
		if EventHash(ev) != ev.Hash {
			return fmt.Errorf("event %d payload hash mismatch: %w", i, core.ErrChainViolation)
		}
		want = ev.Hash
	}
	return nil
}
