// Package graph derives a per-product provenance graph from ledger events
// and scores structural anomalies: grey-market paths and duplicate NFC tag
// reuse. Anomaly scores feed the alert manager; they are deliberately kept
// out of the composite trust score so a known-suspicious path with high
// trust stays representable.
package graph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/verity/engine/internal/config"
	"github.com/verity/engine/internal/core"
	"github.com/verity/engine/internal/store"
)

// Analyzer rebuilds provenance graphs. Nodes are derived state: every
// rebuild replaces the stored node set.
type Analyzer struct {
	store  store.Store
	cfg    config.GraphConfig
	logger *log.Logger
}

// New creates an Analyzer.
func New(st store.Store, cfg config.GraphConfig) *Analyzer {
	return &Analyzer{
		store:  st,
		cfg:    cfg,
		logger: log.New(log.Writer(), "[GRAPH] ", log.LstdFlags),
	}
}

// Rebuild constructs the node tree from the product's ledger, runs the
// detection rules, persists the nodes, and returns them in path order.
func (a *Analyzer) Rebuild(ctx context.Context, productID string) ([]core.GraphNode, error) {
	product, err := a.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	events, err := a.store.EventsForProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	nodes := a.buildPath(productID, events)
	if len(nodes) == 0 {
		if err := a.store.ReplaceGraph(ctx, productID, nil); err != nil {
			return nil, err
		}
		return nil, nil
	}

	if err := a.markGreyMarket(ctx, product, nodes); err != nil {
		return nil, err
	}
	if err := a.markDuplicateTag(ctx, product, nodes); err != nil {
		return nil, err
	}

	// Path-integrity baseline: untouched nodes are verified.
	for i := range nodes {
		if nodes[i].AnomalyScore == 0 && !nodes[i].IsGreyMarket {
			nodes[i].PathVerified = true
		}
	}

	if err := a.store.ReplaceGraph(ctx, productID, nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// MaxAnomaly returns the highest node anomaly score, 0 for an empty graph.
func MaxAnomaly(nodes []core.GraphNode) float64 {
	max := 0.0
	for _, n := range nodes {
		if n.AnomalyScore > max {
			max = n.AnomalyScore
		}
	}
	return max
}

// buildPath collapses the ordered event chain into distinct
// (kind, location) nodes with parent links following event order.
func (a *Analyzer) buildPath(productID string, events []core.ProvenanceEvent) []core.GraphNode {
	now := time.Now().UTC()
	var nodes []core.GraphNode
	var lastKey string

	for _, ev := range events {
		kind := nodeKind(ev.Kind)
		key := string(kind) + "|" + ev.Location
		if key == lastKey {
			continue // repeated scans at the same site collapse into one node
		}
		node := core.GraphNode{
			ID:         nodeID(productID, key),
			ProductID:  productID,
			Kind:       kind,
			Location:   ev.Location,
			DetectedAt: now,
		}
		if len(nodes) > 0 {
			node.ParentID = nodes[len(nodes)-1].ID
		}
		nodes = append(nodes, node)
		lastKey = key
	}
	return nodes
}

// markGreyMarket flags nodes whose location falls outside the
// manufacturer's authorized-distributor list. Manufacturer-stage nodes are
// exempt; with no registered list nothing can be judged unauthorized.
func (a *Analyzer) markGreyMarket(ctx context.Context, product *core.Product, nodes []core.GraphNode) error {
	if product.ManufacturerID == "" {
		return nil
	}
	authorized, err := a.store.AuthorizedChannels(ctx, product.ManufacturerID)
	if err != nil {
		return err
	}
	if len(authorized) == 0 {
		return nil
	}

	for i := range nodes {
		if nodes[i].Kind == core.NodeManufacturer {
			continue
		}
		if !locationAuthorized(nodes[i].Location, authorized) {
			nodes[i].IsGreyMarket = true
			nodes[i].AnomalyScore += a.cfg.GreyMarketPenalty
			a.logger.Printf("Grey-market node on %s: %s (%s)",
				product.ID, nodes[i].Location, nodes[i].Kind)
		}
	}
	return nil
}

// markDuplicateTag penalizes every node past the divergence point when the
// product's NFC tag appears on two or more products.
func (a *Analyzer) markDuplicateTag(ctx context.Context, product *core.Product, nodes []core.GraphNode) error {
	if product.NFCTagID == "" {
		return nil
	}
	holders, err := a.store.ProductsByTag(ctx, product.NFCTagID)
	if err != nil {
		return err
	}
	if len(holders) < 2 {
		return nil
	}

	divergence := len(nodes)
	for _, other := range holders {
		if other.ID == product.ID {
			continue
		}
		otherEvents, err := a.store.EventsForProduct(ctx, other.ID)
		if err != nil {
			return err
		}
		otherNodes := a.buildPath(other.ID, otherEvents)
		if d := commonPrefix(nodes, otherNodes); d < divergence {
			divergence = d
		}
	}

	for i := divergence; i < len(nodes); i++ {
		nodes[i].AnomalyScore += a.cfg.DuplicateTagPenalty
	}
	if divergence == len(nodes) && len(nodes) > 0 {
		// Chains that never diverge still share one physical tag; the tail
		// node carries the anomaly so the alert threshold can trip.
		nodes[len(nodes)-1].AnomalyScore += a.cfg.DuplicateTagPenalty
	}
	a.logger.Printf("Duplicate tag %s on %d products, product %s flagged past node %d",
		product.NFCTagID, len(holders), product.ID, divergence)
	return nil
}

// commonPrefix counts leading nodes with matching (kind, location).
func commonPrefix(a, b []core.GraphNode) int {
	n := 0
	for n < len(a) && n < len(b) {
		if a[n].Kind != b[n].Kind || a[n].Location != b[n].Location {
			break
		}
		n++
	}
	return n
}

func locationAuthorized(location string, authorized []string) bool {
	for _, loc := range authorized {
		if strings.EqualFold(strings.TrimSpace(loc), strings.TrimSpace(location)) {
			return true
		}
	}
	return false
}

func nodeKind(kind core.EventKind) core.NodeKind {
	switch kind {
	case core.EventManufacturing:
		return core.NodeManufacturer
	case core.EventShipping, core.EventCustoms:
		return core.NodeDistributor
	case core.EventScan, core.EventQualityCheck:
		return core.NodeFulfillmentCenter
	default: // delivery, listing
		return core.NodeSeller
	}
}

func nodeID(productID, key string) string {
	sum := sha256.Sum256([]byte(productID + "|" + key))
	return hex.EncodeToString(sum[:8])
}

// Describe renders a short human summary for alert descriptions.
func Describe(nodes []core.GraphNode) string {
	var anomalous []string
	for _, n := range nodes {
		if n.AnomalyScore > 0 || n.IsGreyMarket {
			anomalous = append(anomalous, fmt.Sprintf("%s@%s(%.0f)", n.Kind, n.Location, n.AnomalyScore))
		}
	}
	return strings.Join(anomalous, ", ")
}
