package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verity/engine/internal/core"
)

func product(id, sku string) *core.Product {
	return &core.Product{ID: id, SKU: sku, Name: sku, CreatedAt: time.Now().UTC()}
}

func TestMemStore_ProductUniqueness(t *testing.T) {
	st := NewMemStore()
	ctx := context.Background()

	require.NoError(t, st.CreateProduct(ctx, product("p1", "SKU-1")))

	err := st.CreateProduct(ctx, product("p1", "SKU-other"))
	assert.ErrorIs(t, err, core.ErrDuplicateProduct, "duplicate ID rejected")

	err = st.CreateProduct(ctx, product("p2", "SKU-1"))
	assert.ErrorIs(t, err, core.ErrDuplicateProduct, "duplicate SKU rejected")

	twin := product("p3", "SKU-3")
	twin.DigitalTwinID = "twin-1"
	require.NoError(t, st.CreateProduct(ctx, twin))

	twin2 := product("p4", "SKU-4")
	twin2.DigitalTwinID = "twin-1"
	err = st.CreateProduct(ctx, twin2)
	assert.ErrorIs(t, err, core.ErrDuplicateProduct, "duplicate digital twin rejected")
}

func TestMemStore_CopyOnRead(t *testing.T) {
	st := NewMemStore()
	ctx := context.Background()

	require.NoError(t, st.CreateProduct(ctx, product("p1", "SKU-1")))

	got, err := st.GetProduct(ctx, "p1")
	require.NoError(t, err)
	got.Name = "mutated"

	again, err := st.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "SKU-1", again.Name, "caller mutation must not leak into the store")
}

func TestMemStore_GetProductBySKUAndTag(t *testing.T) {
	st := NewMemStore()
	ctx := context.Background()

	p1 := product("p1", "SKU-1")
	p1.NFCTagID = "tag-x"
	require.NoError(t, st.CreateProduct(ctx, p1))

	p2 := product("p2", "SKU-2")
	p2.NFCTagID = "tag-x"
	p2.CreatedAt = p1.CreatedAt.Add(time.Second)
	require.NoError(t, st.CreateProduct(ctx, p2))

	got, err := st.GetProductBySKU(ctx, "SKU-2")
	require.NoError(t, err)
	assert.Equal(t, "p2", got.ID)

	_, err = st.GetProductBySKU(ctx, "SKU-404")
	assert.ErrorIs(t, err, core.ErrUnknownProduct)

	holders, err := st.ProductsByTag(ctx, "tag-x")
	require.NoError(t, err)
	require.Len(t, holders, 2)
	assert.Equal(t, "p1", holders[0].ID, "oldest registration first")

	// Untagged products never match the empty tag.
	p3 := product("p3", "SKU-3")
	require.NoError(t, st.CreateProduct(ctx, p3))
	none, err := st.ProductsByTag(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemStore_EventsRequireProduct(t *testing.T) {
	st := NewMemStore()
	ctx := context.Background()

	err := st.AppendEvent(ctx, &core.ProvenanceEvent{ID: "e1", ProductID: "ghost"})
	assert.ErrorIs(t, err, core.ErrUnknownProduct)

	_, err = st.EventsForProduct(ctx, "ghost")
	assert.ErrorIs(t, err, core.ErrUnknownProduct)

	require.NoError(t, st.CreateProduct(ctx, product("p1", "SKU-1")))
	require.NoError(t, st.AppendEvent(ctx, &core.ProvenanceEvent{ID: "e1", ProductID: "p1"}))
	require.NoError(t, st.AppendEvent(ctx, &core.ProvenanceEvent{ID: "e2", ProductID: "p1"}))

	evs, err := st.EventsForProduct(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, "e1", evs[0].ID, "oldest first")
}

func TestMemStore_CountScansSince(t *testing.T) {
	st := NewMemStore()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, st.CreateProduct(ctx, product("p1", "SKU-1")))
	require.NoError(t, st.AppendEvent(ctx, &core.ProvenanceEvent{
		ID: "e1", ProductID: "p1", Kind: core.EventScan, Timestamp: now.Add(-48 * time.Hour),
	}))
	require.NoError(t, st.AppendEvent(ctx, &core.ProvenanceEvent{
		ID: "e2", ProductID: "p1", Kind: core.EventScan, Timestamp: now.Add(-time.Hour),
	}))
	require.NoError(t, st.AppendEvent(ctx, &core.ProvenanceEvent{
		ID: "e3", ProductID: "p1", Kind: core.EventShipping, Timestamp: now.Add(-time.Hour),
	}))

	n, err := st.CountScansSince(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemStore_Sellers(t *testing.T) {
	st := NewMemStore()
	ctx := context.Background()

	cred := &core.SellerCredential{
		SellerID:    "s1",
		CompanyName: "Acme",
		Status:      core.SellerPending,
		StrikeTimes: []time.Time{time.Now()},
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, st.CreateSeller(ctx, cred))
	assert.ErrorIs(t, st.CreateSeller(ctx, cred), core.ErrDuplicateSeller)

	got, err := st.GetSeller(ctx, "s1")
	require.NoError(t, err)
	got.StrikeTimes = append(got.StrikeTimes, time.Now())

	again, err := st.GetSeller(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, again.StrikeTimes, 1, "strike slice must be copied on read")

	_, err = st.GetSeller(ctx, "ghost")
	assert.ErrorIs(t, err, core.ErrUnknownSeller)

	assert.ErrorIs(t, st.UpdateSeller(ctx, &core.SellerCredential{SellerID: "ghost"}), core.ErrUnknownSeller)
}

func TestMemStore_ReviewsNewestFirst(t *testing.T) {
	st := NewMemStore()
	ctx := context.Background()

	require.NoError(t, st.CreateProduct(ctx, product("p1", "SKU-1")))
	require.NoError(t, st.CreateReview(ctx, &core.ReviewSignal{ID: "r1", ProductID: "p1"}))
	require.NoError(t, st.CreateReview(ctx, &core.ReviewSignal{ID: "r2", ProductID: "p1"}))

	rs, err := st.ReviewsForProduct(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, rs, 2)
	assert.Equal(t, "r2", rs[0].ID)

	assert.ErrorIs(t, st.CreateReview(ctx, &core.ReviewSignal{ID: "r3", ProductID: "ghost"}), core.ErrUnknownProduct)
}

func TestMemStore_GraphReplace(t *testing.T) {
	st := NewMemStore()
	ctx := context.Background()

	nodes := []core.GraphNode{{ID: "n1", ProductID: "p1"}, {ID: "n2", ProductID: "p1"}}
	require.NoError(t, st.ReplaceGraph(ctx, "p1", nodes))

	got, err := st.GraphForProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	require.NoError(t, st.ReplaceGraph(ctx, "p1", nodes[:1]))
	got, err = st.GraphForProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, got, 1, "replace is wholesale, not additive")
}

func TestMemStore_AlertsNewestFirst(t *testing.T) {
	st := NewMemStore()
	ctx := context.Background()

	require.NoError(t, st.CreateAlert(ctx, &core.ModerationAlert{ID: "a1", Kind: core.AlertLowTrust}))
	require.NoError(t, st.CreateAlert(ctx, &core.ModerationAlert{ID: "a2", Kind: core.AlertGreyMarket}))

	list, err := st.ListAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a2", list[0].ID)

	_, err = st.GetAlert(ctx, "ghost")
	assert.ErrorIs(t, err, core.ErrUnknownAlert)
}

func TestMemStore_FindOpenAlert(t *testing.T) {
	st := NewMemStore()
	ctx := context.Background()

	require.NoError(t, st.CreateAlert(ctx, &core.ModerationAlert{
		ID:               "a1",
		Kind:             core.AlertDuplicateTags,
		Status:           core.AlertOpen,
		AffectedProducts: []string{"p1", "p2"},
	}))
	require.NoError(t, st.CreateAlert(ctx, &core.ModerationAlert{
		ID:              "a2",
		Kind:            core.AlertSellerRejected,
		Status:          core.AlertResolved,
		AffectedSellers: []string{"s1"},
	}))

	got, err := st.FindOpenAlert(ctx, core.AlertDuplicateTags, "p2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a1", got.ID)

	got, err = st.FindOpenAlert(ctx, core.AlertSellerRejected, "s1")
	require.NoError(t, err)
	assert.Nil(t, got, "resolved alerts are not open")

	got, err = st.FindOpenAlert(ctx, core.AlertLowTrust, "p1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemStore_AuthorizedChannels(t *testing.T) {
	st := NewMemStore()
	ctx := context.Background()

	locs, err := st.AuthorizedChannels(ctx, "mfr-1")
	require.NoError(t, err)
	assert.Empty(t, locs)

	require.NoError(t, st.SetAuthorizedChannels(ctx, "mfr-1", []string{"Rotterdam", "Hamburg"}))
	locs, err = st.AuthorizedChannels(ctx, "mfr-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Rotterdam", "Hamburg"}, locs)

	require.NoError(t, st.SetAuthorizedChannels(ctx, "mfr-1", []string{"Rotterdam"}))
	locs, err = st.AuthorizedChannels(ctx, "mfr-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Rotterdam"}, locs, "set replaces the list")
}
