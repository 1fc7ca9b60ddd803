package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verity/engine/internal/core"
	"github.com/verity/engine/internal/store"
)

func newTestLedger(t *testing.T) (*Ledger, *store.MemStore) {
	t.Helper()
	st := store.NewMemStore()
	err := st.CreateProduct(context.Background(), &core.Product{
		ID:     "prod-1",
		SKU:    "SKU-001",
		Name:   "Chronograph",
		Active: true,
	})
	require.NoError(t, err)
	return New(st, NewKeyedLocks(time.Second)), st
}

func TestAppend_FirstEventLinksGenesis(t *testing.T) {
	l, _ := newTestLedger(t)

	ev, err := l.Append(context.Background(), "prod-1", AppendRequest{
		Kind:     core.EventManufacturing,
		Location: "Factory Geneva",
		Status:   core.VerificationVerified,
	})
	require.NoError(t, err)

	assert.Equal(t, GenesisHash("prod-1"), ev.PrevHash)
	assert.Equal(t, EventHash(ev), ev.Hash)
	assert.NotEmpty(t, ev.ID)
}

func TestAppend_ChainLinksSequentially(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	ev1, err := l.Append(ctx, "prod-1", AppendRequest{Kind: core.EventManufacturing, Location: "Factory"})
	require.NoError(t, err)
	ev2, err := l.Append(ctx, "prod-1", AppendRequest{Kind: core.EventShipping, Location: "Port"})
	require.NoError(t, err)
	ev3, err := l.Append(ctx, "prod-1", AppendRequest{Kind: core.EventDelivery, Location: "Store"})
	require.NoError(t, err)

	assert.Equal(t, ev1.Hash, ev2.PrevHash)
	assert.Equal(t, ev2.Hash, ev3.PrevHash)
	assert.NoError(t, l.VerifyChain(ctx, "prod-1"))
}

func TestAppend_ExplicitPrevHashMismatch(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Append(ctx, "prod-1", AppendRequest{Kind: core.EventManufacturing, Location: "Factory"})
	require.NoError(t, err)

	_, err = l.Append(ctx, "prod-1", AppendRequest{
		Kind:     core.EventShipping,
		Location: "Port",
		PrevHash: "deadbeef",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrChainViolation)

	// State unchanged: the failed append left a one-event chain.
	evs, err := l.Events(ctx, "prod-1")
	require.NoError(t, err)
	assert.Len(t, evs, 1)
}

func TestAppend_ExplicitPrevHashMatch(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	ev1, err := l.Append(ctx, "prod-1", AppendRequest{Kind: core.EventManufacturing, Location: "Factory"})
	require.NoError(t, err)

	ev2, err := l.Append(ctx, "prod-1", AppendRequest{
		Kind:     core.EventShipping,
		Location: "Port",
		PrevHash: ev1.Hash,
	})
	require.NoError(t, err)
	assert.Equal(t, ev1.Hash, ev2.PrevHash)
}

func TestAppend_UnknownProduct(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.Append(context.Background(), "nope", AppendRequest{Kind: core.EventScan})
	assert.ErrorIs(t, err, core.ErrUnknownProduct)
}

func TestAppend_DefaultStatusPending(t *testing.T) {
	l, _ := newTestLedger(t)

	ev, err := l.Append(context.Background(), "prod-1", AppendRequest{Kind: core.EventScan, Location: "Hub"})
	require.NoError(t, err)
	assert.Equal(t, core.VerificationPending, ev.Status)
}

func TestAppend_TimestampsStrictlyIncrease(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	var prev time.Time
	for i := 0; i < 20; i++ {
		ev, err := l.Append(ctx, "prod-1", AppendRequest{Kind: core.EventScan, Location: "Hub"})
		require.NoError(t, err)
		assert.True(t, ev.Timestamp.After(prev), "event %d must be after its predecessor", i)
		prev = ev.Timestamp
	}
}

func TestVerifyChain_DetectsTamper(t *testing.T) {
	l, st := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Append(ctx, "prod-1", AppendRequest{Kind: core.EventManufacturing, Location: "Factory"})
	require.NoError(t, err)

	// Inject a forged event behind the ledger's back.
	err = st.AppendEvent(ctx, &core.ProvenanceEvent{
		ID:        "forged",
		ProductID: "prod-1",
		Kind:      core.EventDelivery,
		Location:  "Unknown",
		Status:    core.VerificationVerified,
		PrevHash:  "0000",
		Hash:      "1111",
		Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)

	err = l.VerifyChain(ctx, "prod-1")
	assert.ErrorIs(t, err, core.ErrChainViolation)
}

func TestEventHash_CanonicalAndStable(t *testing.T) {
	temp := 4.5
	ev := &core.ProvenanceEvent{
		ProductID: "prod-1",
		Kind:      core.EventShipping,
		Location:  "Rotterdam",
		GPS:       "51.9,4.4",
		Env:       &core.Environment{TemperatureC: &temp},
		Metadata:  core.Metadata{{Key: "carrier", Kind: core.FieldString, String: "maersk"}},
		Status:    core.VerificationVerified,
		PrevHash:  GenesisHash("prod-1"),
		Timestamp: time.Unix(1700000000, 0).UTC(),
	}

	h1 := EventHash(ev)
	h2 := EventHash(ev)
	assert.Equal(t, h1, h2, "hashing must be deterministic")

	ev.Location = "Hamburg"
	assert.NotEqual(t, h1, EventHash(ev), "payload change must change the hash")
}

func TestAppend_ConcurrentSameProduct(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	const n = 25
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := l.Append(ctx, "prod-1", AppendRequest{Kind: core.EventScan, Location: "Hub"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	evs, err := l.Events(ctx, "prod-1")
	require.NoError(t, err)
	assert.Len(t, evs, n)
	assert.NoError(t, l.VerifyChain(ctx, "prod-1"), "concurrent appends must keep the chain intact")
}
