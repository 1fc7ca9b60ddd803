// Package store defines the persistence boundary for the engine.
//
// Two implementations are provided: MemStore for tests/dev and
// PostgresStore for durable deployments. Readers always receive copies so
// they never observe a partially updated record.
package store

import (
	"context"
	"time"

	"github.com/verity/engine/internal/core"
)

// Store is the persistence contract. Implementations must be safe for
// concurrent use; higher-level write serialization per product is the
// engine's job, not the store's.
type Store interface {
	// Products
	CreateProduct(ctx context.Context, p *core.Product) error
	GetProduct(ctx context.Context, id string) (*core.Product, error)
	GetProductBySKU(ctx context.Context, sku string) (*core.Product, error)
	ProductsByTag(ctx context.Context, nfcTagID string) ([]core.Product, error)
	ListProducts(ctx context.Context) ([]core.Product, error)
	UpdateProduct(ctx context.Context, p *core.Product) error

	// Provenance events, oldest first.
	AppendEvent(ctx context.Context, ev *core.ProvenanceEvent) error
	EventsForProduct(ctx context.Context, productID string) ([]core.ProvenanceEvent, error)
	CountScansSince(ctx context.Context, since time.Time) (int, error)

	// Sellers
	CreateSeller(ctx context.Context, c *core.SellerCredential) error
	GetSeller(ctx context.Context, sellerID string) (*core.SellerCredential, error)
	UpdateSeller(ctx context.Context, c *core.SellerCredential) error
	ListSellers(ctx context.Context) ([]core.SellerCredential, error)

	// Reviews, newest first.
	CreateReview(ctx context.Context, r *core.ReviewSignal) error
	ReviewsForProduct(ctx context.Context, productID string) ([]core.ReviewSignal, error)

	// Derived provenance graph; Rebuild replaces the whole node set.
	ReplaceGraph(ctx context.Context, productID string, nodes []core.GraphNode) error
	GraphForProduct(ctx context.Context, productID string) ([]core.GraphNode, error)

	// Moderation alerts, newest first.
	CreateAlert(ctx context.Context, a *core.ModerationAlert) error
	GetAlert(ctx context.Context, id string) (*core.ModerationAlert, error)
	UpdateAlert(ctx context.Context, a *core.ModerationAlert) error
	ListAlerts(ctx context.Context) ([]core.ModerationAlert, error)
	// FindOpenAlert returns the non-resolved alert of the given kind whose
	// affected products or sellers include ref, or nil.
	FindOpenAlert(ctx context.Context, kind core.AlertKind, ref string) (*core.ModerationAlert, error)

	// Manufacturer authorized-distributor lists for grey-market checks.
	SetAuthorizedChannels(ctx context.Context, manufacturerID string, locations []string) error
	AuthorizedChannels(ctx context.Context, manufacturerID string) ([]string, error)
}
