package graph

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verity/engine/internal/config"
	"github.com/verity/engine/internal/core"
	"github.com/verity/engine/internal/store"
)

func newTestAnalyzer() (*Analyzer, *store.MemStore) {
	cfg := config.Default()
	st := store.NewMemStore()
	return New(st, cfg.Graph), st
}

var eventSeq int

func seedEvent(t *testing.T, st *store.MemStore, productID string, kind core.EventKind, location string) {
	t.Helper()
	eventSeq++
	require.NoError(t, st.AppendEvent(context.Background(), &core.ProvenanceEvent{
		ID:        fmt.Sprintf("ev-%d", eventSeq),
		ProductID: productID,
		Kind:      kind,
		Location:  location,
		Status:    core.VerificationVerified,
		Timestamp: time.Now().UTC().Add(time.Duration(eventSeq) * time.Millisecond),
	}))
}

func seedProduct(t *testing.T, st *store.MemStore, p core.Product) {
	t.Helper()
	if p.SKU == "" {
		p.SKU = "SKU-" + p.ID
	}
	p.Active = true
	require.NoError(t, st.CreateProduct(context.Background(), &p))
}

func TestRebuild_PathStructure(t *testing.T) {
	a, st := newTestAnalyzer()
	ctx := context.Background()

	seedProduct(t, st, core.Product{ID: "P"})
	seedEvent(t, st, "P", core.EventManufacturing, "Factory Geneva")
	seedEvent(t, st, "P", core.EventShipping, "Rotterdam")
	seedEvent(t, st, "P", core.EventDelivery, "Store Berlin")

	nodes, err := a.Rebuild(ctx, "P")
	require.NoError(t, err)
	require.Len(t, nodes, 3)

	assert.Equal(t, core.NodeManufacturer, nodes[0].Kind)
	assert.Equal(t, core.NodeDistributor, nodes[1].Kind)
	assert.Equal(t, core.NodeSeller, nodes[2].Kind)

	assert.Empty(t, nodes[0].ParentID, "root has no parent")
	assert.Equal(t, nodes[0].ID, nodes[1].ParentID)
	assert.Equal(t, nodes[1].ID, nodes[2].ParentID)

	for _, n := range nodes {
		assert.True(t, n.PathVerified, "untouched nodes carry the verified baseline")
		assert.Zero(t, n.AnomalyScore)
	}
}

func TestRebuild_CollapsesRepeatedSiteEvents(t *testing.T) {
	a, st := newTestAnalyzer()

	seedProduct(t, st, core.Product{ID: "P"})
	seedEvent(t, st, "P", core.EventScan, "Hub Leipzig")
	seedEvent(t, st, "P", core.EventScan, "Hub Leipzig")
	seedEvent(t, st, "P", core.EventScan, "Hub Leipzig")

	nodes, err := a.Rebuild(context.Background(), "P")
	require.NoError(t, err)
	assert.Len(t, nodes, 1, "repeated scans at one site collapse into one node")
}

func TestRebuild_EmptyChain(t *testing.T) {
	a, st := newTestAnalyzer()

	seedProduct(t, st, core.Product{ID: "P"})

	nodes, err := a.Rebuild(context.Background(), "P")
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestRebuild_GreyMarketDetection(t *testing.T) {
	a, st := newTestAnalyzer()
	ctx := context.Background()

	seedProduct(t, st, core.Product{ID: "P", ManufacturerID: "mfr-1"})
	require.NoError(t, st.SetAuthorizedChannels(ctx, "mfr-1", []string{"Rotterdam", "Store Berlin"}))

	seedEvent(t, st, "P", core.EventManufacturing, "Factory Geneva")
	seedEvent(t, st, "P", core.EventShipping, "Back Alley Depot")
	seedEvent(t, st, "P", core.EventDelivery, "Store Berlin")

	nodes, err := a.Rebuild(ctx, "P")
	require.NoError(t, err)
	require.Len(t, nodes, 3)

	assert.False(t, nodes[0].IsGreyMarket, "manufacturer stage is exempt")
	assert.True(t, nodes[1].IsGreyMarket)
	assert.Equal(t, 40.0, nodes[1].AnomalyScore)
	assert.False(t, nodes[1].PathVerified)
	assert.False(t, nodes[2].IsGreyMarket)
	assert.True(t, nodes[2].PathVerified)
}

func TestRebuild_NoChannelListMeansNoGreyMarket(t *testing.T) {
	a, st := newTestAnalyzer()

	seedProduct(t, st, core.Product{ID: "P", ManufacturerID: "mfr-1"})
	seedEvent(t, st, "P", core.EventShipping, "Anywhere")

	nodes, err := a.Rebuild(context.Background(), "P")
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.False(t, nodes[0].IsGreyMarket, "nothing is unauthorized without a registered list")
}

func TestRebuild_DuplicateTagDivergingPaths(t *testing.T) {
	a, st := newTestAnalyzer()
	ctx := context.Background()

	seedProduct(t, st, core.Product{ID: "Q", NFCTagID: "tag-x"})
	seedProduct(t, st, core.Product{ID: "R", NFCTagID: "tag-x"})

	// Shared origin, then the chains diverge.
	seedEvent(t, st, "Q", core.EventManufacturing, "Factory Geneva")
	seedEvent(t, st, "Q", core.EventDelivery, "Store Berlin")
	seedEvent(t, st, "R", core.EventManufacturing, "Factory Geneva")
	seedEvent(t, st, "R", core.EventDelivery, "Street Market")

	nodesQ, err := a.Rebuild(ctx, "Q")
	require.NoError(t, err)
	nodesR, err := a.Rebuild(ctx, "R")
	require.NoError(t, err)

	require.Len(t, nodesQ, 2)
	require.Len(t, nodesR, 2)

	// Divergence is after the shared factory node.
	assert.Zero(t, nodesQ[0].AnomalyScore)
	assert.Equal(t, 50.0, nodesQ[1].AnomalyScore)
	assert.Zero(t, nodesR[0].AnomalyScore)
	assert.Equal(t, 50.0, nodesR[1].AnomalyScore)

	assert.Equal(t, 50.0, MaxAnomaly(nodesQ))
	assert.Equal(t, 50.0, MaxAnomaly(nodesR), "both holders must come out flagged")
}

func TestRebuild_DuplicateTagIdenticalPathsFlagTail(t *testing.T) {
	a, st := newTestAnalyzer()
	ctx := context.Background()

	seedProduct(t, st, core.Product{ID: "Q", NFCTagID: "tag-x"})
	seedProduct(t, st, core.Product{ID: "R", NFCTagID: "tag-x"})
	seedEvent(t, st, "Q", core.EventManufacturing, "Factory Geneva")
	seedEvent(t, st, "R", core.EventManufacturing, "Factory Geneva")

	nodes, err := a.Rebuild(ctx, "Q")
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, 50.0, nodes[0].AnomalyScore, "identical chains still share one physical tag")
}

func TestRebuild_GreyMarketAndDuplicateTagStack(t *testing.T) {
	a, st := newTestAnalyzer()
	ctx := context.Background()

	seedProduct(t, st, core.Product{ID: "Q", NFCTagID: "tag-x", ManufacturerID: "mfr-1"})
	seedProduct(t, st, core.Product{ID: "R", NFCTagID: "tag-x"})
	require.NoError(t, st.SetAuthorizedChannels(ctx, "mfr-1", []string{"Rotterdam"}))

	seedEvent(t, st, "Q", core.EventManufacturing, "Factory Geneva")
	seedEvent(t, st, "Q", core.EventDelivery, "Street Market")
	seedEvent(t, st, "R", core.EventManufacturing, "Factory Geneva")
	seedEvent(t, st, "R", core.EventDelivery, "Night Bazaar")

	nodes, err := a.Rebuild(ctx, "Q")
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	// 40 grey-market + 50 duplicate-tag on the diverged seller node.
	assert.Equal(t, 90.0, nodes[1].AnomalyScore)
	assert.True(t, nodes[1].IsGreyMarket)
}

func TestRebuild_Persists(t *testing.T) {
	a, st := newTestAnalyzer()
	ctx := context.Background()

	seedProduct(t, st, core.Product{ID: "P"})
	seedEvent(t, st, "P", core.EventManufacturing, "Factory")

	_, err := a.Rebuild(ctx, "P")
	require.NoError(t, err)

	stored, err := st.GraphForProduct(ctx, "P")
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestNodeKindMapping(t *testing.T) {
	assert.Equal(t, core.NodeManufacturer, nodeKind(core.EventManufacturing))
	assert.Equal(t, core.NodeDistributor, nodeKind(core.EventShipping))
	assert.Equal(t, core.NodeDistributor, nodeKind(core.EventCustoms))
	assert.Equal(t, core.NodeFulfillmentCenter, nodeKind(core.EventScan))
	assert.Equal(t, core.NodeFulfillmentCenter, nodeKind(core.EventQualityCheck))
	assert.Equal(t, core.NodeSeller, nodeKind(core.EventDelivery))
	assert.Equal(t, core.NodeSeller, nodeKind(core.EventListing))
}
