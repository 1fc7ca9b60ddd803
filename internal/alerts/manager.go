// Package alerts owns the moderation-alert state machine and the
// best-effort auto-remediation bookkeeping attached to alert creation.
package alerts

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/verity/engine/internal/config"
	"github.com/verity/engine/internal/core"
	"github.com/verity/engine/internal/graph"
	"github.com/verity/engine/internal/registry"
	"github.com/verity/engine/internal/store"
)

// SellerFlagger is the slice of the credential registry auto-actions need.
type SellerFlagger interface {
	Flag(ctx context.Context, sellerID string) error
}

// Manager creates alerts from scorer/analyzer/registry signals and applies
// their transitions. Failures here are isolated per alert: they never
// abort the mutation that triggered reconciliation.
type Manager struct {
	store   store.Store
	flagger SellerFlagger
	cfg     config.AlertsConfig
	logger  *log.Logger

	// onCreate publishes new alerts to the broadcast hub. Set once at wiring.
	onCreate func(*core.ModerationAlert)
}

// NewManager creates an alert manager.
func NewManager(st store.Store, flagger SellerFlagger, cfg config.AlertsConfig) *Manager {
	return &Manager{
		store:   st,
		flagger: flagger,
		cfg:     cfg,
		logger:  log.New(log.Writer(), "[ALERTS] ", log.LstdFlags),
	}
}

// OnCreate registers the new-alert consumer.
func (m *Manager) OnCreate(fn func(*core.ModerationAlert)) { m.onCreate = fn }

// Reconcile inspects a product's fresh score and graph and opens whatever
// alerts the thresholds demand. Existing open alerts for the same
// condition are not duplicated. Returns the alerts created.
func (m *Manager) Reconcile(ctx context.Context, product *core.Product, breakdown *core.TrustBreakdown, nodes []core.GraphNode) []*core.ModerationAlert {
	var created []*core.ModerationAlert

	if breakdown != nil && breakdown.Composite < m.cfg.TrustAlertThreshold {
		if a := m.lowTrustAlert(ctx, product, breakdown); a != nil {
			created = append(created, a)
		}
	}

	anomaly := graph.MaxAnomaly(nodes)

	// A shared tag is the anomaly by itself; it does not need to clear the
	// graph threshold.
	if breakdown != nil && breakdown.TagUniqueness == 0 {
		if a := m.duplicateTagAlert(ctx, product, anomaly); a != nil {
			created = append(created, a)
		}
	}

	if anomaly >= m.cfg.GraphCriticalThreshold && hasGreyMarket(nodes) {
		if a := m.greyMarketAlert(ctx, product, nodes, anomaly); a != nil {
			created = append(created, a)
		}
	}

	for _, a := range created {
		if m.onCreate != nil {
			m.onCreate(a)
		}
	}
	return created
}

// HandleAutoRejection opens a seller-rejection alert from the credential
// registry's strike-limit event.
func (m *Manager) HandleAutoRejection(ctx context.Context, rej registry.AutoRejection) *core.ModerationAlert {
	existing, err := m.store.FindOpenAlert(ctx, core.AlertSellerRejected, rej.SellerID)
	if err != nil || existing != nil {
		return nil
	}
	a := m.create(ctx, &core.ModerationAlert{
		Kind:     core.AlertSellerRejected,
		Severity: core.SeverityHigh,
		Title:    "Seller auto-rejected on counterfeit strikes",
		Description: fmt.Sprintf("Seller %s hit %d strikes within %s and was auto-rejected",
			rej.SellerID, rej.StrikeCount, rej.Window),
		AffectedSellers: []string{rej.SellerID},
	})
	if a != nil && m.onCreate != nil {
		m.onCreate(a)
	}
	return a
}

func (m *Manager) lowTrustAlert(ctx context.Context, product *core.Product, breakdown *core.TrustBreakdown) *core.ModerationAlert {
	existing, err := m.store.FindOpenAlert(ctx, core.AlertLowTrust, product.ID)
	if err != nil || existing != nil {
		return nil
	}

	severity := core.SeverityHigh
	if breakdown.Composite < m.cfg.TrustCriticalThreshold {
		severity = core.SeverityCritical
	}
	return m.create(ctx, &core.ModerationAlert{
		Kind:     core.AlertLowTrust,
		Severity: severity,
		Title:    "Composite trust score breach",
		Description: fmt.Sprintf("Product %s (%s) trust fell to %.1f",
			product.ID, product.SKU, breakdown.Composite),
		AffectedProducts: []string{product.ID},
		AffectedSellers:  sellerRefs(product),
	})
}

// duplicateTagAlert opens exactly one alert per reused tag, listing every
// product carrying it. Re-detection while the alert is open is a no-op.
func (m *Manager) duplicateTagAlert(ctx context.Context, product *core.Product, anomaly float64) *core.ModerationAlert {
	holders, err := m.store.ProductsByTag(ctx, product.NFCTagID)
	if err != nil || len(holders) < 2 {
		return nil
	}

	var productIDs []string
	var sellerIDs []string
	for _, h := range holders {
		productIDs = append(productIDs, h.ID)
		if h.SellerID != "" {
			sellerIDs = append(sellerIDs, h.SellerID)
		}
		existing, err := m.store.FindOpenAlert(ctx, core.AlertDuplicateTags, h.ID)
		if err != nil || existing != nil {
			return nil
		}
	}

	return m.create(ctx, &core.ModerationAlert{
		Kind:     core.AlertDuplicateTags,
		Severity: m.graphSeverity(anomaly),
		Title:    "NFC tag reused across products",
		Description: fmt.Sprintf("Tag %s appears on %d products",
			product.NFCTagID, len(holders)),
		AffectedProducts: productIDs,
		AffectedSellers:  dedupe(sellerIDs),
	})
}

func (m *Manager) greyMarketAlert(ctx context.Context, product *core.Product, nodes []core.GraphNode, anomaly float64) *core.ModerationAlert {
	existing, err := m.store.FindOpenAlert(ctx, core.AlertGreyMarket, product.ID)
	if err != nil || existing != nil {
		return nil
	}
	return m.create(ctx, &core.ModerationAlert{
		Kind:     core.AlertGreyMarket,
		Severity: m.graphSeverity(anomaly),
		Title:    "Grey-market distribution path",
		Description: fmt.Sprintf("Product %s routed through unauthorized channels: %s",
			product.ID, graph.Describe(nodes)),
		AffectedProducts: []string{product.ID},
		AffectedSellers:  sellerRefs(product),
	})
}

func (m *Manager) graphSeverity(anomaly float64) core.Severity {
	if anomaly >= m.cfg.GraphSevereThreshold {
		return core.SeverityCritical
	}
	return core.SeverityHigh
}

// create persists a new open alert and applies its auto-actions. A failed
// auto-action never blocks creation: it is logged and the alert is marked
// degraded for the retry sweep.
func (m *Manager) create(ctx context.Context, a *core.ModerationAlert) *core.ModerationAlert {
	a.ID = uuid.New().String()
	a.Status = core.AlertOpen
	a.CreatedAt = time.Now().UTC()

	m.applyAutoActions(ctx, a)

	if err := m.store.CreateAlert(ctx, a); err != nil {
		m.logger.Printf("Failed to persist alert %s (%s): %v", a.ID, a.Kind, err)
		return nil
	}
	m.logger.Printf("Alert %s opened: %s severity=%s degraded=%t",
		a.ID, a.Kind, a.Severity, a.Degraded)
	return a
}

// applyAutoActions runs best-effort remediation: flag the affected
// sellers, deactivate listings on critical alerts, record recall notices
// for critical grey-market paths.
func (m *Manager) applyAutoActions(ctx context.Context, a *core.ModerationAlert) {
	degraded := false

	for _, sellerID := range a.AffectedSellers {
		if err := m.flagger.Flag(ctx, sellerID); err != nil {
			degraded = true
			m.logger.Printf("%v: flag seller %s for alert %s: %v",
				core.ErrAutoActionFailed, sellerID, a.ID, err)
			continue
		}
		a.AutoActions.SellersFlagged++
	}

	if a.Severity == core.SeverityCritical {
		for _, productID := range a.AffectedProducts {
			if err := m.deactivateListing(ctx, productID); err != nil {
				degraded = true
				m.logger.Printf("%v: remove listing %s for alert %s: %v",
					core.ErrAutoActionFailed, productID, a.ID, err)
				continue
			}
			a.AutoActions.ListingsRemoved++
		}
		if a.Kind == core.AlertGreyMarket || a.Kind == core.AlertDuplicateTags {
			a.AutoActions.RecallNoticesIssued++
		}
	}

	a.Degraded = degraded
}

func (m *Manager) deactivateListing(ctx context.Context, productID string) error {
	p, err := m.store.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	if !p.Active {
		return nil
	}
	p.Active = false
	p.UpdatedAt = time.Now().UTC()
	return m.store.UpdateProduct(ctx, p)
}

// Assign moves an open alert to investigating and records the assignee.
func (m *Manager) Assign(ctx context.Context, alertID, assignee string) (*core.ModerationAlert, error) {
	a, err := m.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if err := transition(a, core.AlertInvestigating, assignee); err != nil {
		return nil, err
	}
	a.AssignedTo = assignee
	if err := m.store.UpdateAlert(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Resolve closes an alert from any live state. Resolving an already
// resolved alert is a no-op, not an error.
func (m *Manager) Resolve(ctx context.Context, alertID, actor string) (*core.ModerationAlert, error) {
	a, err := m.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if a.Status == core.AlertResolved {
		return a, nil
	}
	if err := transition(a, core.AlertResolved, actor); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	a.ResolvedAt = &now
	if err := m.store.UpdateAlert(ctx, a); err != nil {
		return nil, err
	}
	m.logger.Printf("Alert %s resolved by %s", alertID, actor)
	return a, nil
}

// RetryDegraded re-runs auto-actions for open degraded alerts. Runs on the
// engine's reconciliation tick; each alert is retried independently.
func (m *Manager) RetryDegraded(ctx context.Context) {
	all, err := m.store.ListAlerts(ctx)
	if err != nil {
		m.logger.Printf("Degraded-alert sweep failed: %v", err)
		return
	}
	for i := range all {
		a := &all[i]
		if !a.Degraded || a.Status == core.AlertResolved {
			continue
		}
		a.AutoActions = core.AutoActionRecord{}
		m.applyAutoActions(ctx, a)
		if err := m.store.UpdateAlert(ctx, a); err != nil {
			m.logger.Printf("Degraded-alert sweep: update %s failed: %v", a.ID, err)
			continue
		}
		if !a.Degraded {
			m.logger.Printf("Alert %s auto-actions recovered on retry", a.ID)
		}
	}
}

func sellerRefs(p *core.Product) []string {
	if p.SellerID == "" {
		return nil
	}
	return []string{p.SellerID}
}

func hasGreyMarket(nodes []core.GraphNode) bool {
	for _, n := range nodes {
		if n.IsGreyMarket {
			return true
		}
	}
	return false
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
