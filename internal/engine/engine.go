// Package engine composes the ledger, registry, scorer, graph analyzer,
// alert manager and broadcast hub into one event-driven pipeline: every
// ingested fact recomputes exactly the state it touches and pushes the
// result to subscribers. Nothing in the pipeline runs on a timer except
// the maintenance sweeps.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/verity/engine/internal/alerts"
	"github.com/verity/engine/internal/config"
	"github.com/verity/engine/internal/core"
	"github.com/verity/engine/internal/graph"
	"github.com/verity/engine/internal/hub"
	"github.com/verity/engine/internal/ledger"
	"github.com/verity/engine/internal/monitoring"
	"github.com/verity/engine/internal/oracle"
	"github.com/verity/engine/internal/registry"
	"github.com/verity/engine/internal/scorer"
	"github.com/verity/engine/internal/store"
)

// Engine is the orchestrator behind the API surface. All mutations flow
// through it so that score recomputation, graph analysis and alert
// reconciliation stay consistent with what was just written.
type Engine struct {
	store    store.Store
	cfg      *config.Config
	locks    *ledger.KeyedLocks
	ledger   *ledger.Ledger
	registry *registry.Registry
	scorer   *scorer.Scorer
	graph    *graph.Analyzer
	alerts   *alerts.Manager
	hub      *hub.Hub
	oracle   oracle.Client
	metrics  *monitoring.Metrics

	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup

	// last observed hub totals, for delta-feeding the counters.
	statMu        sync.Mutex
	lastPublished int64
	lastDelivered int64
	lastDropped   int64

	logger *log.Logger
}

// New wires the full pipeline. metrics may be nil (tests).
func New(st store.Store, cfg *config.Config, orc oracle.Client, metrics *monitoring.Metrics) *Engine {
	locks := ledger.NewKeyedLocks(cfg.Ledger.LockTimeout)
	e := &Engine{
		store:    st,
		cfg:      cfg,
		locks:    locks,
		ledger:   ledger.New(st, locks),
		registry: registry.New(st, cfg.Sellers),
		scorer:   scorer.New(st, cfg.Trust, cfg.Reviews),
		graph:    graph.New(st, cfg.Graph),
		hub:      hub.New(cfg.Hub.QueueSize),
		oracle:   orc,
		metrics:  metrics,
		stopCh:   make(chan struct{}),
		logger:   log.New(log.Writer(), "[ENGINE] ", log.LstdFlags),
	}

	mgr := alerts.NewManager(st, e.registry, cfg.Alerts)
	mgr.OnCreate(func(a *core.ModerationAlert) {
		if e.metrics != nil {
			e.metrics.AlertsCreated.WithLabelValues(string(a.Kind), string(a.Severity)).Inc()
		}
		e.hub.Publish(&hub.Event{
			Type:      hub.EventNewAlert,
			ProductID: firstOrEmpty(a.AffectedProducts),
			Payload:   a,
		})
	})
	e.alerts = mgr

	e.registry.OnAutoReject(func(rej registry.AutoRejection) {
		if e.metrics != nil {
			e.metrics.AutoRejections.Inc()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		e.alerts.HandleAutoRejection(ctx, rej)
		e.refreshSellerProducts(ctx, rej.SellerID)
	})

	return e
}

// Hub exposes the broadcast hub for transport wiring.
func (e *Engine) Hub() *hub.Hub { return e.hub }

// Registry exposes the seller credential registry.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Alerts exposes the moderation alert manager.
func (e *Engine) Alerts() *alerts.Manager { return e.alerts }

// Ledger exposes chain reads and verification.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// Store exposes read access for the API layer.
func (e *Engine) Store() store.Store { return e.store }

// ---------------------------------------------------------------------------
// Products
// ---------------------------------------------------------------------------

// RegisterProductInput carries the product registration payload.
type RegisterProductInput struct {
	SKU            string
	Name           string
	Category       string
	Price          float64
	DigitalTwinID  string
	NFCTagID       string
	ManufacturerID string
	SellerID       string
}

// RegisterProduct creates a listing. A colliding NFC tag is accepted on
// purpose: the collision itself is evidence, and the anomaly pipeline runs
// immediately over every holder of the tag.
func (e *Engine) RegisterProduct(ctx context.Context, in RegisterProductInput) (*core.Product, error) {
	if in.SKU == "" || in.Name == "" {
		return nil, fmt.Errorf("register product: sku and name are required")
	}

	now := time.Now().UTC()
	p := &core.Product{
		ID:             uuid.New().String(),
		SKU:            in.SKU,
		Name:           in.Name,
		Category:       in.Category,
		Price:          in.Price,
		DigitalTwinID:  in.DigitalTwinID,
		NFCTagID:       in.NFCTagID,
		ManufacturerID: in.ManufacturerID,
		SellerID:       in.SellerID,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.store.CreateProduct(ctx, p); err != nil {
		return nil, err
	}

	if in.NFCTagID != "" {
		holders, err := e.store.ProductsByTag(ctx, in.NFCTagID)
		if err == nil && len(holders) > 1 {
			e.logger.Printf("SECURITY: NFC tag %s registered on %d products", in.NFCTagID, len(holders))
			for i := range holders {
				e.refresh(ctx, holders[i].ID)
			}
			return e.store.GetProduct(ctx, p.ID)
		}
	}

	e.refresh(ctx, p.ID)
	return e.store.GetProduct(ctx, p.ID)
}

// Product returns one product.
func (e *Engine) Product(ctx context.Context, id string) (*core.Product, error) {
	return e.store.GetProduct(ctx, id)
}

// Products lists every registered product.
func (e *Engine) Products(ctx context.Context) ([]core.Product, error) {
	return e.store.ListProducts(ctx)
}

// ---------------------------------------------------------------------------
// Provenance events
// ---------------------------------------------------------------------------

// RecordEvent appends a provenance event and runs the downstream pipeline:
// score recompute, graph rebuild, alert reconciliation, broadcast.
func (e *Engine) RecordEvent(ctx context.Context, productID string, req ledger.AppendRequest) (*core.ProvenanceEvent, error) {
	start := time.Now()
	ev, err := e.ledger.Append(ctx, productID, req)
	if err != nil {
		if errors.Is(err, core.ErrChainViolation) && e.metrics != nil {
			e.metrics.ChainViolations.Inc()
		}
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.EventsAppended.WithLabelValues(string(ev.Kind)).Inc()
		e.metrics.AppendDuration.Observe(time.Since(start).Seconds())
	}

	e.refresh(ctx, productID)

	// A failed or suspicious event can poison every co-holder of the tag.
	if req.Status == core.VerificationFailed || req.Status == core.VerificationSuspicious {
		e.refreshTagHolders(ctx, productID)
	}
	return ev, nil
}

// Events returns a product's chain, oldest first.
func (e *Engine) Events(ctx context.Context, productID string) ([]core.ProvenanceEvent, error) {
	return e.ledger.Events(ctx, productID)
}

// VerifyChain re-hashes a product's full chain.
func (e *Engine) VerifyChain(ctx context.Context, productID string) error {
	return e.ledger.VerifyChain(ctx, productID)
}

// ---------------------------------------------------------------------------
// Reviews
// ---------------------------------------------------------------------------

// SubmitReviewInput carries a review submission.
type SubmitReviewInput struct {
	ProductID string
	SellerID  string
	Text      string
	Rating    int
}

// SubmitReview scores the review with the authenticity oracle and stores
// it. Oracle unavailability degrades to an unscored review that the trust
// pipeline ignores; the review itself is never lost.
func (e *Engine) SubmitReview(ctx context.Context, in SubmitReviewInput) (*core.ReviewSignal, error) {
	if _, err := e.store.GetProduct(ctx, in.ProductID); err != nil {
		return nil, err
	}
	if in.Rating < 1 || in.Rating > 5 {
		return nil, fmt.Errorf("submit review: rating must be 1..5")
	}

	rev := &core.ReviewSignal{
		ID:        uuid.New().String(),
		ProductID: in.ProductID,
		SellerID:  in.SellerID,
		Text:      in.Text,
		Rating:    in.Rating,
		Status:    core.ReviewPending,
		CreatedAt: time.Now().UTC(),
	}

	score, err := e.oracle.Score(ctx, in.Text)
	switch {
	case err == nil:
		rev.AuthenticityScore = score
		rev.HasScore = true
		switch {
		case score >= e.cfg.Reviews.GenuineThreshold:
			rev.Status = core.ReviewGenuine
		case score < e.cfg.Reviews.SuspiciousThreshold:
			rev.Status = core.ReviewSuspicious
		default:
			rev.Status = core.ReviewPending
		}
	case errors.Is(err, core.ErrOracleUnavailable):
		e.logger.Printf("Oracle unavailable, storing unscored review for %s: %v", in.ProductID, err)
	default:
		return nil, err
	}

	if err := e.store.CreateReview(ctx, rev); err != nil {
		return nil, err
	}

	e.refresh(ctx, in.ProductID)
	return rev, nil
}

// Reviews returns a product's reviews, newest first.
func (e *Engine) Reviews(ctx context.Context, productID string) ([]core.ReviewSignal, error) {
	return e.store.ReviewsForProduct(ctx, productID)
}

// ---------------------------------------------------------------------------
// Sellers
// ---------------------------------------------------------------------------

// RecordStrike registers a counterfeit strike and refreshes every listing
// of the struck seller. Auto-rejection is handled by the registry hook.
func (e *Engine) RecordStrike(ctx context.Context, sellerID string) (int, error) {
	count, err := e.registry.RecordStrike(ctx, sellerID)
	if err != nil {
		return 0, err
	}
	if e.metrics != nil {
		e.metrics.StrikesRecorded.Inc()
	}
	e.refreshSellerProducts(ctx, sellerID)
	return count, nil
}

// SetSellerStatus transitions a seller's verification state and refreshes
// its listings.
func (e *Engine) SetSellerStatus(ctx context.Context, sellerID string, status core.SellerStatus) error {
	if err := e.registry.SetVerificationStatus(ctx, sellerID, status); err != nil {
		return err
	}
	e.refreshSellerProducts(ctx, sellerID)
	return nil
}

// ---------------------------------------------------------------------------
// Scans
// ---------------------------------------------------------------------------

// ScanInput identifies the scanned item by tag or SKU.
type ScanInput struct {
	NFCTagID string
	SKU      string
	Location string
	GPS      string
}

// ScanResult is the consumer-facing verification answer.
type ScanResult struct {
	Product    *core.Product        `json:"product"`
	Breakdown  *core.TrustBreakdown `json:"breakdown"`
	ChainValid bool                 `json:"chain_valid"`
	EventCount int                  `json:"event_count"`
	TagHolders int                  `json:"tag_holders"`
	Verdict    string               `json:"verdict"`
}

// Scan resolves the scanned identifier, records the scan as a provenance
// event and returns the product's current verification picture.
func (e *Engine) Scan(ctx context.Context, in ScanInput) (*ScanResult, error) {
	product, err := e.resolveScan(ctx, in)
	if err != nil {
		return nil, err
	}

	if _, err := e.RecordEvent(ctx, product.ID, ledger.AppendRequest{
		Kind:     core.EventScan,
		Location: in.Location,
		GPS:      in.GPS,
		Status:   core.VerificationVerified,
	}); err != nil {
		return nil, err
	}

	product, err = e.store.GetProduct(ctx, product.ID)
	if err != nil {
		return nil, err
	}
	breakdown, err := e.scorer.Breakdown(ctx, product.ID)
	if err != nil {
		return nil, err
	}
	events, err := e.ledger.Events(ctx, product.ID)
	if err != nil {
		return nil, err
	}
	chainValid := e.ledger.VerifyChain(ctx, product.ID) == nil

	holders := 1
	if product.NFCTagID != "" {
		if hs, err := e.store.ProductsByTag(ctx, product.NFCTagID); err == nil && len(hs) > 0 {
			holders = len(hs)
		}
	}

	result := &ScanResult{
		Product:    product,
		Breakdown:  breakdown,
		ChainValid: chainValid,
		EventCount: len(events),
		TagHolders: holders,
		Verdict:    e.verdict(product.TrustScore, chainValid, holders),
	}

	e.hub.Publish(&hub.Event{
		Type:      hub.EventScanResult,
		ProductID: product.ID,
		Payload:   result,
	})
	return result, nil
}

func (e *Engine) resolveScan(ctx context.Context, in ScanInput) (*core.Product, error) {
	if in.NFCTagID != "" {
		holders, err := e.store.ProductsByTag(ctx, in.NFCTagID)
		if err != nil {
			return nil, err
		}
		if len(holders) == 0 {
			return nil, core.ErrUnknownProduct
		}
		// On a collision, scan against the earliest registration; the
		// breakdown still exposes the shared tag.
		return &holders[0], nil
	}
	if in.SKU != "" {
		return e.store.GetProductBySKU(ctx, in.SKU)
	}
	return nil, fmt.Errorf("scan: tag or sku is required")
}

func (e *Engine) verdict(score float64, chainValid bool, holders int) string {
	switch {
	case !chainValid:
		return "tampered"
	case holders > 1:
		return "duplicate_tag"
	case score >= e.cfg.Scan.GenuineThreshold:
		return "genuine"
	case score >= e.cfg.Scan.SuspectThreshold:
		return "unverified"
	default:
		return "suspect"
	}
}

// ---------------------------------------------------------------------------
// Graph, trust, channels
// ---------------------------------------------------------------------------

// Graph returns a product's derived provenance graph.
func (e *Engine) Graph(ctx context.Context, productID string) ([]core.GraphNode, error) {
	return e.store.GraphForProduct(ctx, productID)
}

// Breakdown returns the current per-signal trust breakdown without
// persisting anything.
func (e *Engine) Breakdown(ctx context.Context, productID string) (*core.TrustBreakdown, error) {
	return e.scorer.Breakdown(ctx, productID)
}

// SetAuthorizedChannels replaces a manufacturer's authorized distributor
// list and re-analyzes that manufacturer's listings.
func (e *Engine) SetAuthorizedChannels(ctx context.Context, manufacturerID string, locations []string) error {
	if err := e.store.SetAuthorizedChannels(ctx, manufacturerID, locations); err != nil {
		return err
	}
	products, err := e.store.ListProducts(ctx)
	if err != nil {
		return nil
	}
	for i := range products {
		if products[i].ManufacturerID == manufacturerID {
			e.refresh(ctx, products[i].ID)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Analytics
// ---------------------------------------------------------------------------

// Dashboard is the aggregate analytics snapshot.
type Dashboard struct {
	TotalProducts    int     `json:"total_products"`
	ActiveProducts   int     `json:"active_products"`
	AverageTrust     float64 `json:"average_trust"`
	LowTrustProducts int     `json:"low_trust_products"`
	TotalSellers     int     `json:"total_sellers"`
	VerifiedSellers  int     `json:"verified_sellers"`
	FlaggedSellers   int     `json:"flagged_sellers"`
	OpenAlerts       int     `json:"open_alerts"`
	CriticalAlerts   int     `json:"critical_alerts"`
	ScansLast24h     int     `json:"scans_last_24h"`
	Subscribers      int     `json:"subscribers"`
}

// Analytics aggregates the dashboard snapshot.
func (e *Engine) Analytics(ctx context.Context) (*Dashboard, error) {
	d := &Dashboard{Subscribers: e.hub.SubscriberCount()}

	products, err := e.store.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	d.TotalProducts = len(products)
	var sum float64
	for i := range products {
		p := &products[i]
		if p.Active {
			d.ActiveProducts++
		}
		sum += p.TrustScore
		if p.TrustScore < e.cfg.Alerts.TrustAlertThreshold {
			d.LowTrustProducts++
		}
	}
	if len(products) > 0 {
		d.AverageTrust = sum / float64(len(products))
	}

	sellers, err := e.store.ListSellers(ctx)
	if err != nil {
		return nil, err
	}
	d.TotalSellers = len(sellers)
	for i := range sellers {
		if sellers[i].Status == core.SellerVerified {
			d.VerifiedSellers++
		}
		if sellers[i].Flagged {
			d.FlaggedSellers++
		}
	}

	alertList, err := e.store.ListAlerts(ctx)
	if err != nil {
		return nil, err
	}
	for i := range alertList {
		a := &alertList[i]
		if a.Status != core.AlertResolved {
			d.OpenAlerts++
			if a.Severity == core.SeverityCritical {
				d.CriticalAlerts++
			}
		}
	}

	if n, err := e.store.CountScansSince(ctx, time.Now().Add(-24*time.Hour)); err == nil {
		d.ScansLast24h = n
	}
	return d, nil
}

// ---------------------------------------------------------------------------
// Pipeline internals
// ---------------------------------------------------------------------------

// refresh recomputes the trust score, rebuilds the provenance graph and
// reconciles alerts for one product, then broadcasts the new score. Runs
// under the product's keyed lock so concurrent ingests serialize.
func (e *Engine) refresh(ctx context.Context, productID string) {
	release, err := e.locks.Acquire(ctx, productID)
	if err != nil {
		e.logger.Printf("Refresh skipped for %s: %v", productID, err)
		return
	}
	defer release()

	breakdown, err := e.scorer.Recompute(ctx, productID)
	if err != nil {
		e.logger.Printf("Recompute failed for %s: %v", productID, err)
		return
	}
	if e.metrics != nil {
		e.metrics.ScoreRecomputes.Inc()
		e.metrics.TrustScore.WithLabelValues(productID).Set(breakdown.Composite)
	}

	nodes, err := e.graph.Rebuild(ctx, productID)
	if err != nil {
		e.logger.Printf("Graph rebuild failed for %s: %v", productID, err)
	}

	product, err := e.store.GetProduct(ctx, productID)
	if err != nil {
		return
	}
	e.alerts.Reconcile(ctx, product, breakdown, nodes)

	e.hub.Publish(&hub.Event{
		Type:      hub.EventTrustScore,
		ProductID: productID,
		Payload:   breakdown,
	})
}

func (e *Engine) refreshTagHolders(ctx context.Context, productID string) {
	p, err := e.store.GetProduct(ctx, productID)
	if err != nil || p.NFCTagID == "" {
		return
	}
	holders, err := e.store.ProductsByTag(ctx, p.NFCTagID)
	if err != nil {
		return
	}
	for i := range holders {
		if holders[i].ID != productID {
			e.refresh(ctx, holders[i].ID)
		}
	}
}

func (e *Engine) refreshSellerProducts(ctx context.Context, sellerID string) {
	products, err := e.store.ListProducts(ctx)
	if err != nil {
		return
	}
	for i := range products {
		if products[i].SellerID == sellerID {
			e.refresh(ctx, products[i].ID)
		}
	}
}

// ---------------------------------------------------------------------------
// Maintenance sweeps
// ---------------------------------------------------------------------------

// Start launches the background sweeps: score staleness, rolling strike
// expiry and degraded-alert retries.
func (e *Engine) Start() {
	e.wg.Add(3)
	go e.staleSweep()
	go e.strikeSweep()
	go e.alertRetrySweep()
	e.logger.Printf("Engine started (instance %s)", e.hub.Instance())
}

// Stop halts the sweeps and waits for them to exit.
func (e *Engine) Stop() {
	e.stopped.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}

// staleSweep flags products whose score aged past the TTL. Stale scores
// are surfaced, never zeroed; the next ingested fact refreshes them.
func (e *Engine) staleSweep() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.Trust.StaleSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			products, err := e.store.ListProducts(ctx)
			if err == nil {
				stale := 0
				for i := range products {
					if e.scorer.IsStale(&products[i]) {
						stale++
					}
				}
				if e.metrics != nil {
					e.metrics.StaleScores.Set(float64(stale))
				}
				if stale > 0 {
					e.logger.Printf("%d products carry stale trust scores", stale)
				}
			}
			e.syncHubStats()
			cancel()
		}
	}
}

func (e *Engine) strikeSweep() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.Sellers.ExpirySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			e.registry.SweepExpiredStrikes(ctx)
			cancel()
		}
	}
}

func (e *Engine) alertRetrySweep() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.Alerts.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			e.alerts.RetryDegraded(ctx)
			if e.metrics != nil {
				if alertList, err := e.store.ListAlerts(ctx); err == nil {
					degraded := 0
					for i := range alertList {
						if alertList[i].Degraded && alertList[i].Status != core.AlertResolved {
							degraded++
						}
					}
					e.metrics.DegradedAlerts.Set(float64(degraded))
				}
			}
			cancel()
		}
	}
}

func (e *Engine) syncHubStats() {
	if e.metrics == nil {
		return
	}
	published, delivered, dropped := e.hub.Stats()

	e.statMu.Lock()
	defer e.statMu.Unlock()
	if d := published - e.lastPublished; d > 0 {
		e.metrics.EventsPublished.Add(float64(d))
	}
	if d := delivered - e.lastDelivered; d > 0 {
		e.metrics.EventsDelivered.Add(float64(d))
	}
	if d := dropped - e.lastDropped; d > 0 {
		e.metrics.EventsDropped.Add(float64(d))
	}
	e.lastPublished, e.lastDelivered, e.lastDropped = published, delivered, dropped
	e.metrics.Subscribers.Set(float64(e.hub.SubscriberCount()))
}

func firstOrEmpty(in []string) string {
	if len(in) == 0 {
		return ""
	}
	return in[0]
}

// ResolveAlert resolves an alert and counts it.
func (e *Engine) ResolveAlert(ctx context.Context, alertID, actor string) (*core.ModerationAlert, error) {
	a, err := e.alerts.Resolve(ctx, alertID, actor)
	if err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.AlertsResolved.Inc()
	}
	return a, nil
}
