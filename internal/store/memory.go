package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/verity/engine/internal/core"
)

// MemStore is the in-memory Store used for development and tests. All maps
// sit behind one RWMutex; every read hands out copies (copy-on-read).
type MemStore struct {
	mu       sync.RWMutex
	products map[string]*core.Product
	events   map[string][]core.ProvenanceEvent // productID -> oldest first
	sellers  map[string]*core.SellerCredential
	reviews  map[string][]core.ReviewSignal // productID -> newest first
	graphs   map[string][]core.GraphNode
	alerts   map[string]*core.ModerationAlert
	alertSeq []string // creation order for newest-first listing
	channels map[string][]string
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		products: make(map[string]*core.Product),
		events:   make(map[string][]core.ProvenanceEvent),
		sellers:  make(map[string]*core.SellerCredential),
		reviews:  make(map[string][]core.ReviewSignal),
		graphs:   make(map[string][]core.GraphNode),
		alerts:   make(map[string]*core.ModerationAlert),
		channels: make(map[string][]string),
	}
}

func (s *MemStore) CreateProduct(_ context.Context, p *core.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[p.ID]; ok {
		return fmt.Errorf("product %s: %w", p.ID, core.ErrDuplicateProduct)
	}
	for _, existing := range s.products {
		if existing.SKU == p.SKU {
			return fmt.Errorf("sku %s: %w", p.SKU, core.ErrDuplicateProduct)
		}
		if p.DigitalTwinID != "" && existing.DigitalTwinID == p.DigitalTwinID {
			return fmt.Errorf("digital twin %s: %w", p.DigitalTwinID, core.ErrDuplicateProduct)
		}
	}
	cp := *p
	s.products[p.ID] = &cp
	return nil
}

func (s *MemStore) GetProduct(_ context.Context, id string) (*core.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", id, core.ErrUnknownProduct)
	}
	cp := *p
	return &cp, nil
}

func (s *MemStore) GetProductBySKU(_ context.Context, sku string) (*core.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.products {
		if p.SKU == sku {
			cp := *p
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("sku %s: %w", sku, core.ErrUnknownProduct)
}

func (s *MemStore) ProductsByTag(_ context.Context, nfcTagID string) ([]core.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.Product
	for _, p := range s.products {
		if p.NFCTagID != "" && p.NFCTagID == nfcTagID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemStore) ListProducts(_ context.Context) ([]core.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemStore) UpdateProduct(_ context.Context, p *core.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[p.ID]; !ok {
		return fmt.Errorf("product %s: %w", p.ID, core.ErrUnknownProduct)
	}
	cp := *p
	s.products[p.ID] = &cp
	return nil
}

func (s *MemStore) AppendEvent(_ context.Context, ev *core.ProvenanceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[ev.ProductID]; !ok {
		return fmt.Errorf("product %s: %w", ev.ProductID, core.ErrUnknownProduct)
	}
	s.events[ev.ProductID] = append(s.events[ev.ProductID], *ev)
	return nil
}

func (s *MemStore) EventsForProduct(_ context.Context, productID string) ([]core.ProvenanceEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.products[productID]; !ok {
		return nil, fmt.Errorf("product %s: %w", productID, core.ErrUnknownProduct)
	}
	evs := s.events[productID]
	out := make([]core.ProvenanceEvent, len(evs))
	copy(out, evs)
	return out, nil
}

func (s *MemStore) CountScansSince(_ context.Context, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, evs := range s.events {
		for _, ev := range evs {
			if ev.Kind == core.EventScan && !ev.Timestamp.Before(since) {
				n++
			}
		}
	}
	return n, nil
}

func (s *MemStore) CreateSeller(_ context.Context, c *core.SellerCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sellers[c.SellerID]; ok {
		return fmt.Errorf("seller %s: %w", c.SellerID, core.ErrDuplicateSeller)
	}
	s.sellers[c.SellerID] = copySeller(c)
	return nil
}

func (s *MemStore) GetSeller(_ context.Context, sellerID string) (*core.SellerCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.sellers[sellerID]
	if !ok {
		return nil, fmt.Errorf("seller %s: %w", sellerID, core.ErrUnknownSeller)
	}
	return copySeller(c), nil
}

func (s *MemStore) UpdateSeller(_ context.Context, c *core.SellerCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sellers[c.SellerID]; !ok {
		return fmt.Errorf("seller %s: %w", c.SellerID, core.ErrUnknownSeller)
	}
	s.sellers[c.SellerID] = copySeller(c)
	return nil
}

func (s *MemStore) ListSellers(_ context.Context) ([]core.SellerCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.SellerCredential, 0, len(s.sellers))
	for _, c := range s.sellers {
		out = append(out, *copySeller(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemStore) CreateReview(_ context.Context, r *core.ReviewSignal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[r.ProductID]; !ok {
		return fmt.Errorf("product %s: %w", r.ProductID, core.ErrUnknownProduct)
	}
	// Newest first.
	s.reviews[r.ProductID] = append([]core.ReviewSignal{*r}, s.reviews[r.ProductID]...)
	return nil
}

func (s *MemStore) ReviewsForProduct(_ context.Context, productID string) ([]core.ReviewSignal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rs := s.reviews[productID]
	out := make([]core.ReviewSignal, len(rs))
	copy(out, rs)
	return out, nil
}

func (s *MemStore) ReplaceGraph(_ context.Context, productID string, nodes []core.GraphNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]core.GraphNode, len(nodes))
	copy(cp, nodes)
	s.graphs[productID] = cp
	return nil
}

func (s *MemStore) GraphForProduct(_ context.Context, productID string) ([]core.GraphNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := s.graphs[productID]
	out := make([]core.GraphNode, len(nodes))
	copy(out, nodes)
	return out, nil
}

func (s *MemStore) CreateAlert(_ context.Context, a *core.ModerationAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.alerts[a.ID] = copyAlert(a)
	s.alertSeq = append(s.alertSeq, a.ID)
	return nil
}

func (s *MemStore) GetAlert(_ context.Context, id string) (*core.ModerationAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.alerts[id]
	if !ok {
		return nil, fmt.Errorf("alert %s: %w", id, core.ErrUnknownAlert)
	}
	return copyAlert(a), nil
}

func (s *MemStore) UpdateAlert(_ context.Context, a *core.ModerationAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.alerts[a.ID]; !ok {
		return fmt.Errorf("alert %s: %w", a.ID, core.ErrUnknownAlert)
	}
	s.alerts[a.ID] = copyAlert(a)
	return nil
}

func (s *MemStore) ListAlerts(_ context.Context) ([]core.ModerationAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.ModerationAlert, 0, len(s.alertSeq))
	for i := len(s.alertSeq) - 1; i >= 0; i-- {
		if a, ok := s.alerts[s.alertSeq[i]]; ok {
			out = append(out, *copyAlert(a))
		}
	}
	return out, nil
}

func (s *MemStore) FindOpenAlert(_ context.Context, kind core.AlertKind, ref string) (*core.ModerationAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.alerts {
		if a.Kind != kind || a.Status == core.AlertResolved {
			continue
		}
		for _, p := range a.AffectedProducts {
			if p == ref {
				return copyAlert(a), nil
			}
		}
		for _, sl := range a.AffectedSellers {
			if sl == ref {
				return copyAlert(a), nil
			}
		}
	}
	return nil, nil
}

func (s *MemStore) SetAuthorizedChannels(_ context.Context, manufacturerID string, locations []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]string, len(locations))
	copy(cp, locations)
	s.channels[manufacturerID] = cp
	return nil
}

func (s *MemStore) AuthorizedChannels(_ context.Context, manufacturerID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	locs := s.channels[manufacturerID]
	out := make([]string, len(locs))
	copy(out, locs)
	return out, nil
}

func copySeller(c *core.SellerCredential) *core.SellerCredential {
	cp := *c
	cp.StrikeTimes = append([]time.Time(nil), c.StrikeTimes...)
	cp.KYCDocuments = append([]core.Document(nil), c.KYCDocuments...)
	return &cp
}

func copyAlert(a *core.ModerationAlert) *core.ModerationAlert {
	cp := *a
	cp.AffectedProducts = append([]string(nil), a.AffectedProducts...)
	cp.AffectedSellers = append([]string(nil), a.AffectedSellers...)
	cp.History = append([]core.AlertTransition(nil), a.History...)
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}
