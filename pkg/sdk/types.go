package sdk

import "time"

// Product mirrors the engine's product resource.
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

// ProvenanceEvent is one step in a product's hash-chained history.
type ProvenanceEvent struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	Kind      string    `json:"kind"`
	Location  string    `json:"location"`
	GPS       string    `json:"gps,omitempty"`
	Status    string    `json:"status"`
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
	Timestamp time.Time `json:"timestamp"`
}

// TrustBreakdown is the per-signal trust decomposition. A signal of -1
// means no usable data.
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

// Scan verdicts, strongest signal first.
const (
	VerdictTampered     = "tampered"
	VerdictDuplicateTag = "duplicate_tag"
	VerdictGenuine      = "genuine"
	VerdictUnverified   = "unverified"
	VerdictSuspect      = "suspect"
)

// ScanResult is the answer to a point-of-sale verification scan.
type ScanResult struct {
	Product    *Product        `json:"product"`
	Breakdown  *TrustBreakdown `json:"breakdown"`
	ChainValid bool            `json:"chain_valid"`
	EventCount int             `json:"event_count"`
	TagHolders int             `json:"tag_holders"`
	Verdict    string          `json:"verdict"`
}

// SellerCredential is a seller's verification record.
type SellerCredential struct {
	SellerID     string      `json:"seller_id"`
	CompanyName  string      `json:"company_name"`
	Status       string      `json:"status"`
	TrustToken   float64     `json:"trust_token"`
	StrikeTimes  []time.Time `json:"strike_times,omitempty"`
	Flagged      bool        `json:"flagged"`
	AutoRejected bool        `json:"auto_rejected,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// StrikeResult reports the rolling-window count after a strike.
type StrikeResult struct {
	SellerID        string `json:"sellerId"`
	StrikesInWindow int    `json:"strikesInWindow"`
	Status          string `json:"status"`
}

// ModerationAlert is a moderation queue entry.
type ModerationAlert struct {
	ID               string     `json:"id"`
	Kind             string     `json:"kind"`
	Severity         string     `json:"severity"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	AffectedProducts []string   `json:"affected_products,omitempty"`
	AffectedSellers  []string   `json:"affected_sellers,omitempty"`
	Status           string     `json:"status"`
	AssignedTo       string     `json:"assigned_to,omitempty"`
	Degraded         bool       `json:"degraded"`
	CreatedAt        time.Time  `json:"created_at"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
}

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
}

// ChainVerification is the re-hash result for a product's full chain.
type ChainVerification struct {
	ProductID string `json:"productId"`
	Valid     bool   `json:"valid"`
	Detail    string `json:"detail,omitempty"`
}

// RegisterProductRequest is the product registration payload.
type RegisterProductRequest struct {
	SKU            string  `json:"sku"`
	Name           string  `json:"name"`
	Category       string  `json:"category,omitempty"`
	Price          float64 `json:"price,omitempty"`
	DigitalTwinID  string  `json:"digitalTwinId,omitempty"`
	NFCTagID       string  `json:"nfcTagId,omitempty"`
	ManufacturerID string  `json:"manufacturerId,omitempty"`
	SellerID       string  `json:"sellerId,omitempty"`
}

// RecordEventRequest is the provenance event payload. Metadata values may
// be strings, numbers or booleans; nested objects are rejected.
type RecordEventRequest struct {
	Kind     string                 `json:"kind"`
	Location string                 `json:"location"`
	GPS      string                 `json:"gps,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Status   string                 `json:"status,omitempty"`
	PrevHash string                 `json:"prevHash,omitempty"`
}

// SubmitReviewRequest is the review submission payload.
type SubmitReviewRequest struct {
	ProductID string `json:"productId"`
	SellerID  string `json:"sellerId,omitempty"`
	Text      string `json:"text"`
	Rating    int    `json:"rating"`
}

// RegisterSellerRequest is the seller onboarding payload.
type RegisterSellerRequest struct {
	SellerID    string  `json:"sellerId"`
	CompanyName string  `json:"companyName"`
	TrustToken  float64 `json:"trustToken"`
}

// ScanRequest identifies the scanned item by NFC tag or SKU.
type ScanRequest struct {
	NFCTagID string `json:"nfcTagId,omitempty"`
	SKU      string `json:"sku,omitempty"`
	Location string `json:"location"`
	GPS      string `json:"gps,omitempty"`
}
