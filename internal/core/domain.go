// Package core holds the domain model shared by every engine component.
package core

import "time"

// EventKind classifies a provenance event.
type EventKind string

const (
	EventManufacturing EventKind = "manufacturing"
	EventShipping      EventKind = "shipping"
	EventCustoms       EventKind = "customs"
	EventScan          EventKind = "scan"
	EventQualityCheck  EventKind = "quality_check"
	EventDelivery      EventKind = "delivery"
	EventListing       EventKind = "listing"
)

// VerificationStatus is the verification state of a single provenance event.
type VerificationStatus string

const (
	VerificationVerified   VerificationStatus = "verified"
	VerificationPending    VerificationStatus = "pending"
	VerificationFailed     VerificationStatus = "failed"
	VerificationSuspicious VerificationStatus = "suspicious"
)

// Product is a registered marketplace listing with a physical twin.
// Trust score is written only by the scorer; products are deactivated,
// never deleted.
type Product struct {
	ID             string    `json:"id"`
	SKU            string    `json:"sku"`
	Name           string    `json:"name"`
	Category       string    `json:"category"`
	Price          float64   `json:"price"`
	DigitalTwinID  string    `json:"digital_twin_id,omitempty"`
	NFCTagID       string    `json:"nfc_tag_id,omitempty"`
	ManufacturerID string    `json:"manufacturer_id,omitempty"`
	SellerID       string    `json:"seller_id,omitempty"`
	TrustScore     float64   `json:"trust_score"`
	ScoreUpdatedAt time.Time `json:"score_updated_at"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Environment carries optional sensor readings recorded with an event.
type Environment struct {
	TemperatureC *float64 `json:"temperature_c,omitempty"`
	HumidityPct  *float64 `json:"humidity_pct,omitempty"`
}

// ProvenanceEvent is one immutable step in a product's supply-chain history.
// Hash covers the canonical payload plus PrevHash; PrevHash of the first
// event equals the product's genesis hash.
type ProvenanceEvent struct {
	ID        string             `json:"id"`
	ProductID string             `json:"product_id"`
	Kind      EventKind          `json:"kind"`
	Location  string             `json:"location"`
	GPS       string             `json:"gps,omitempty"`
	Env       *Environment       `json:"env,omitempty"`
	Metadata  Metadata           `json:"metadata,omitempty"`
	Status    VerificationStatus `json:"status"`
	PrevHash  string             `json:"prev_hash"`
	Hash      string             `json:"hash"`
	Timestamp time.Time          `json:"timestamp"`
}

// SellerStatus is the verification state of a seller credential.
type SellerStatus string

const (
	SellerPending  SellerStatus = "pending"
	SellerVerified SellerStatus = "verified"
	SellerRejected SellerStatus = "rejected"
)

// SellerCredential tracks a seller's verification state, trust token and
// counterfeit strikes. Mutated only through the credential registry.
type SellerCredential struct {
	SellerID    string       `json:"seller_id"`
	CompanyName string       `json:"company_name"`
	Status      SellerStatus `json:"status"`
	TrustToken  float64      `json:"trust_token"`
	// StrikeTimes holds every recorded strike; the registry derives the
	// rolling-window count from it. Cleared only by manual reset.
	StrikeTimes []time.Time `json:"strike_times,omitempty"`
	Flagged     bool        `json:"flagged"`
	// AutoRejected marks a rejection tripped by the strike limit. Only
	// these lapse when their window strikes age out; a moderator's
	// rejection stands until a moderator lifts it.
	AutoRejected bool       `json:"auto_rejected,omitempty"`
	KYCDocuments []Document `json:"kyc_documents,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// StrikeCount returns the lifetime strike total.
func (c *SellerCredential) StrikeCount() int { return len(c.StrikeTimes) }

// ReviewStatus is derived from the external authenticity score.
type ReviewStatus string

const (
	ReviewGenuine    ReviewStatus = "genuine"
	ReviewPending    ReviewStatus = "pending"
	ReviewSuspicious ReviewStatus = "suspicious"
)

// ReviewSignal is a product review plus its externally supplied
// authenticity score. HasScore distinguishes "score 0" from "never scored".
type ReviewSignal struct {
	ID                string       `json:"id"`
	ProductID         string       `json:"product_id"`
	SellerID          string       `json:"seller_id,omitempty"`
	Text              string       `json:"text"`
	Rating            int          `json:"rating"`
	AuthenticityScore float64      `json:"authenticity_score"`
	HasScore          bool         `json:"has_score"`
	Status            ReviewStatus `json:"status"`
	CreatedAt         time.Time    `json:"created_at"`
}

// NodeKind classifies a provenance-graph vertex.
type NodeKind string

const (
	NodeManufacturer      NodeKind = "manufacturer"
	NodeDistributor       NodeKind = "distributor"
	NodeFulfillmentCenter NodeKind = "fulfillment_center"
	NodeSeller            NodeKind = "seller"
)

// GraphNode is a derived provenance-graph vertex. Nodes are recomputed on
// every rebuild and never hand-edited.
type GraphNode struct {
	ID           string    `json:"id"`
	ProductID    string    `json:"product_id"`
	Kind         NodeKind  `json:"kind"`
	Location     string    `json:"location"`
	ParentID     string    `json:"parent_id,omitempty"`
	AnomalyScore float64   `json:"anomaly_score"`
	IsGreyMarket bool      `json:"is_grey_market"`
	PathVerified bool      `json:"path_verified"`
	DetectedAt   time.Time `json:"detected_at"`
}

// AlertKind classifies a moderation alert.
type AlertKind string

const (
	AlertLowTrust       AlertKind = "low_trust"
	AlertDuplicateTags  AlertKind = "duplicate_tags"
	AlertGreyMarket     AlertKind = "grey_market"
	AlertSellerRejected AlertKind = "seller_rejected"
)

// Severity is the alert severity bucket.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AlertStatus is the lifecycle state of a moderation alert.
type AlertStatus string

const (
	AlertOpen          AlertStatus = "open"
	AlertInvestigating AlertStatus = "investigating"
	AlertResolved      AlertStatus = "resolved"
)

// AutoActionRecord counts remediation steps applied as alert side effects.
type AutoActionRecord struct {
	ListingsRemoved     int `json:"listings_removed"`
	SellersFlagged      int `json:"sellers_flagged"`
	RecallNoticesIssued int `json:"recall_notices_issued"`
}

// AlertTransition is one entry in an alert's append-only audit history.
type AlertTransition struct {
	From      AlertStatus `json:"from"`
	To        AlertStatus `json:"to"`
	Actor     string      `json:"actor,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ModerationAlert is created by the alert manager and mutated only through
// its defined transitions. History is append-only for audit.
type ModerationAlert struct {
	ID               string            `json:"id"`
	Kind             AlertKind         `json:"kind"`
	Severity         Severity          `json:"severity"`
	Title            string            `json:"title"`
	Description      string            `json:"description"`
	AffectedProducts []string          `json:"affected_products,omitempty"`
	AffectedSellers  []string          `json:"affected_sellers,omitempty"`
	Status           AlertStatus       `json:"status"`
	AssignedTo       string            `json:"assigned_to,omitempty"`
	AutoActions      AutoActionRecord  `json:"auto_actions"`
	Degraded         bool              `json:"degraded"`
	History          []AlertTransition `json:"history"`
	CreatedAt        time.Time         `json:"created_at"`
	ResolvedAt       *time.Time        `json:"resolved_at,omitempty"`
}

// TrustBreakdown is the scorer's output: the composite score plus each
// normalized signal. A signal equal to SignalSentinel has no usable data
// and is excluded from the weighted average.
type TrustBreakdown struct {
	ProductID          string    `json:"product_id"`
	Composite          float64   `json:"composite"`
	LedgerIntegrity    float64   `json:"ledger_integrity"`
	SellerTrust        float64   `json:"seller_trust"`
	TagUniqueness      float64   `json:"tag_uniqueness"`
	ReviewAuthenticity float64   `json:"review_authenticity"`
	Stale              bool      `json:"stale"`
	ComputedAt         time.Time `json:"computed_at"`
}

// SignalSentinel marks a trust signal with no usable data.
const SignalSentinel = -1.0
