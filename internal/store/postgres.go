package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/verity/engine/internal/core"
)

// PostgresStore is the durable Store backed by database/sql + lib/pq.
// It keeps the same copy-on-read semantics as MemStore by construction:
// rows are decoded into fresh structs per call.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open connection and ensures the tables exist.
func NewPostgresStore(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("postgres bootstrap: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			sku TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			price DOUBLE PRECISION NOT NULL DEFAULT 0,
			digital_twin_id TEXT,
			nfc_tag_id TEXT,
			manufacturer_id TEXT,
			seller_id TEXT,
			trust_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			score_updated_at TIMESTAMPTZ,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS provenance_events (
			id TEXT PRIMARY KEY,
			product_id TEXT NOT NULL REFERENCES products(id),
			kind TEXT NOT NULL,
			location TEXT NOT NULL,
			gps TEXT,
			env JSONB,
			metadata JSONB,
			status TEXT NOT NULL,
			prev_hash TEXT NOT NULL,
			hash TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			seq BIGSERIAL
		)`,
		`CREATE TABLE IF NOT EXISTS sellers (
			seller_id TEXT PRIMARY KEY,
			company_name TEXT NOT NULL,
			status TEXT NOT NULL,
			trust_token DOUBLE PRECISION NOT NULL DEFAULT 0,
			strike_times JSONB,
			flagged BOOLEAN NOT NULL DEFAULT FALSE,
			auto_rejected BOOLEAN NOT NULL DEFAULT FALSE,
			kyc_documents JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS reviews (
			id TEXT PRIMARY KEY,
			product_id TEXT NOT NULL REFERENCES products(id),
			seller_id TEXT,
			review_text TEXT NOT NULL,
			rating INT NOT NULL DEFAULT 0,
			authenticity_score DOUBLE PRECISION,
			has_score BOOLEAN NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS graph_nodes (
			id TEXT PRIMARY KEY,
			product_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			location TEXT NOT NULL,
			parent_id TEXT,
			anomaly_score DOUBLE PRECISION NOT NULL,
			is_grey_market BOOLEAN NOT NULL,
			path_verified BOOLEAN NOT NULL,
			detected_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS moderation_alerts (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			severity TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			affected_products TEXT[],
			affected_sellers TEXT[],
			status TEXT NOT NULL,
			assigned_to TEXT,
			auto_actions JSONB,
			degraded BOOLEAN NOT NULL DEFAULT FALSE,
			history JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			resolved_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS authorized_channels (
			manufacturer_id TEXT PRIMARY KEY,
			locations TEXT[]
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) CreateProduct(ctx context.Context, p *core.Product) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, sku, name, category, price, digital_twin_id,
			nfc_tag_id, manufacturer_id, seller_id, trust_score,
			score_updated_at, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		p.ID, p.SKU, p.Name, p.Category, p.Price, nullable(p.DigitalTwinID),
		nullable(p.NFCTagID), nullable(p.ManufacturerID), nullable(p.SellerID),
		p.TrustScore, p.ScoreUpdatedAt, p.Active, p.CreatedAt, p.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("sku %s: %w", p.SKU, core.ErrDuplicateProduct)
	}
	return err
}

const productCols = `id, sku, name, category, price,
	COALESCE(digital_twin_id,''), COALESCE(nfc_tag_id,''),
	COALESCE(manufacturer_id,''), COALESCE(seller_id,''),
	trust_score, COALESCE(score_updated_at, 'epoch'::timestamptz),
	active, created_at, updated_at`

func (s *PostgresStore) scanProduct(row interface{ Scan(...any) error }) (*core.Product, error) {
	var p core.Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Category, &p.Price,
		&p.DigitalTwinID, &p.NFCTagID, &p.ManufacturerID, &p.SellerID,
		&p.TrustScore, &p.ScoreUpdatedAt, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrUnknownProduct
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) GetProduct(ctx context.Context, id string) (*core.Product, error) {
	return s.scanProduct(s.db.QueryRowContext(ctx,
		`SELECT `+productCols+` FROM products WHERE id = $1`, id))
}

func (s *PostgresStore) GetProductBySKU(ctx context.Context, sku string) (*core.Product, error) {
	return s.scanProduct(s.db.QueryRowContext(ctx,
		`SELECT `+productCols+` FROM products WHERE sku = $1`, sku))
}

func (s *PostgresStore) queryProducts(ctx context.Context, query string, args ...any) ([]core.Product, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Product
	for rows.Next() {
		p, err := s.scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ProductsByTag(ctx context.Context, nfcTagID string) ([]core.Product, error) {
	return s.queryProducts(ctx,
		`SELECT `+productCols+` FROM products WHERE nfc_tag_id = $1 ORDER BY created_at`, nfcTagID)
}

func (s *PostgresStore) ListProducts(ctx context.Context) ([]core.Product, error) {
	return s.queryProducts(ctx, `SELECT `+productCols+` FROM products ORDER BY created_at`)
}

func (s *PostgresStore) UpdateProduct(ctx context.Context, p *core.Product) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products SET sku=$2, name=$3, category=$4, price=$5,
			digital_twin_id=$6, nfc_tag_id=$7, manufacturer_id=$8, seller_id=$9,
			trust_score=$10, score_updated_at=$11, active=$12, updated_at=$13
		WHERE id=$1`,
		p.ID, p.SKU, p.Name, p.Category, p.Price, nullable(p.DigitalTwinID),
		nullable(p.NFCTagID), nullable(p.ManufacturerID), nullable(p.SellerID),
		p.TrustScore, p.ScoreUpdatedAt, p.Active, p.UpdatedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("product %s: %w", p.ID, core.ErrUnknownProduct)
	}
	return nil
}

func (s *PostgresStore) AppendEvent(ctx context.Context, ev *core.ProvenanceEvent) error {
	envJSON, _ := json.Marshal(ev.Env)
	mdJSON, _ := json.Marshal(ev.Metadata)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provenance_events (id, product_id, kind, location, gps, env,
			metadata, status, prev_hash, hash, ts)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		ev.ID, ev.ProductID, ev.Kind, ev.Location, nullable(ev.GPS),
		envJSON, mdJSON, ev.Status, ev.PrevHash, ev.Hash, ev.Timestamp)
	if isFKViolation(err) {
		return fmt.Errorf("product %s: %w", ev.ProductID, core.ErrUnknownProduct)
	}
	return err
}

func (s *PostgresStore) EventsForProduct(ctx context.Context, productID string) ([]core.ProvenanceEvent, error) {
	if _, err := s.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, kind, location, COALESCE(gps,''), env, metadata,
			status, prev_hash, hash, ts
		FROM provenance_events WHERE product_id = $1 ORDER BY seq`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.ProvenanceEvent
	for rows.Next() {
		var ev core.ProvenanceEvent
		var envJSON, mdJSON []byte
		if err := rows.Scan(&ev.ID, &ev.ProductID, &ev.Kind, &ev.Location,
			&ev.GPS, &envJSON, &mdJSON, &ev.Status, &ev.PrevHash, &ev.Hash,
			&ev.Timestamp); err != nil {
			return nil, err
		}
		if len(envJSON) > 0 && string(envJSON) != "null" {
			ev.Env = &core.Environment{}
			if err := json.Unmarshal(envJSON, ev.Env); err != nil {
				return nil, err
			}
		}
		if len(mdJSON) > 0 && string(mdJSON) != "null" {
			if err := json.Unmarshal(mdJSON, &ev.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountScansSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM provenance_events WHERE kind = $1 AND ts >= $2`,
		core.EventScan, since).Scan(&n)
	return n, err
}

func (s *PostgresStore) CreateSeller(ctx context.Context, c *core.SellerCredential) error {
	strikes, _ := json.Marshal(c.StrikeTimes)
	docs, _ := json.Marshal(c.KYCDocuments)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sellers (seller_id, company_name, status, trust_token,
			strike_times, flagged, auto_rejected, kyc_documents, created_at,
			updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		c.SellerID, c.CompanyName, c.Status, c.TrustToken, strikes, c.Flagged,
		c.AutoRejected, docs, c.CreatedAt, c.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("seller %s: %w", c.SellerID, core.ErrDuplicateSeller)
	}
	return err
}

func (s *PostgresStore) scanSeller(row interface{ Scan(...any) error }) (*core.SellerCredential, error) {
	var c core.SellerCredential
	var strikes, docs []byte
	err := row.Scan(&c.SellerID, &c.CompanyName, &c.Status, &c.TrustToken,
		&strikes, &c.Flagged, &c.AutoRejected, &docs, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrUnknownSeller
	}
	if err != nil {
		return nil, err
	}
	if len(strikes) > 0 && string(strikes) != "null" {
		if err := json.Unmarshal(strikes, &c.StrikeTimes); err != nil {
			return nil, err
		}
	}
	if len(docs) > 0 && string(docs) != "null" {
		if err := json.Unmarshal(docs, &c.KYCDocuments); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

const sellerCols = `seller_id, company_name, status, trust_token, strike_times,
	flagged, auto_rejected, kyc_documents, created_at, updated_at`

func (s *PostgresStore) GetSeller(ctx context.Context, sellerID string) (*core.SellerCredential, error) {
	return s.scanSeller(s.db.QueryRowContext(ctx,
		`SELECT `+sellerCols+` FROM sellers WHERE seller_id = $1`, sellerID))
}

func (s *PostgresStore) UpdateSeller(ctx context.Context, c *core.SellerCredential) error {
	strikes, _ := json.Marshal(c.StrikeTimes)
	docs, _ := json.Marshal(c.KYCDocuments)
	res, err := s.db.ExecContext(ctx, `
		UPDATE sellers SET company_name=$2, status=$3, trust_token=$4,
			strike_times=$5, flagged=$6, auto_rejected=$7, kyc_documents=$8,
			updated_at=$9
		WHERE seller_id=$1`,
		c.SellerID, c.CompanyName, c.Status, c.TrustToken, strikes, c.Flagged,
		c.AutoRejected, docs, c.UpdatedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("seller %s: %w", c.SellerID, core.ErrUnknownSeller)
	}
	return nil
}

func (s *PostgresStore) ListSellers(ctx context.Context) ([]core.SellerCredential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sellerCols+` FROM sellers ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.SellerCredential
	for rows.Next() {
		c, err := s.scanSeller(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateReview(ctx context.Context, r *core.ReviewSignal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reviews (id, product_id, seller_id, review_text, rating,
			authenticity_score, has_score, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		r.ID, r.ProductID, nullable(r.SellerID), r.Text, r.Rating,
		r.AuthenticityScore, r.HasScore, r.Status, r.CreatedAt)
	if isFKViolation(err) {
		return fmt.Errorf("product %s: %w", r.ProductID, core.ErrUnknownProduct)
	}
	return err
}

func (s *PostgresStore) ReviewsForProduct(ctx context.Context, productID string) ([]core.ReviewSignal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, COALESCE(seller_id,''), review_text, rating,
			COALESCE(authenticity_score,0), has_score, status, created_at
		FROM reviews WHERE product_id = $1 ORDER BY created_at DESC`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.ReviewSignal
	for rows.Next() {
		var r core.ReviewSignal
		if err := rows.Scan(&r.ID, &r.ProductID, &r.SellerID, &r.Text, &r.Rating,
			&r.AuthenticityScore, &r.HasScore, &r.Status, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ReplaceGraph(ctx context.Context, productID string, nodes []core.GraphNode) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM graph_nodes WHERE product_id = $1`, productID); err != nil {
		return err
	}
	for _, n := range nodes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO graph_nodes (id, product_id, kind, location, parent_id,
				anomaly_score, is_grey_market, path_verified, detected_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			n.ID, n.ProductID, n.Kind, n.Location, nullable(n.ParentID),
			n.AnomalyScore, n.IsGreyMarket, n.PathVerified, n.DetectedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) GraphForProduct(ctx context.Context, productID string) ([]core.GraphNode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, kind, location, COALESCE(parent_id,''),
			anomaly_score, is_grey_market, path_verified, detected_at
		FROM graph_nodes WHERE product_id = $1 ORDER BY detected_at`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.GraphNode
	for rows.Next() {
		var n core.GraphNode
		if err := rows.Scan(&n.ID, &n.ProductID, &n.Kind, &n.Location, &n.ParentID,
			&n.AnomalyScore, &n.IsGreyMarket, &n.PathVerified, &n.DetectedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateAlert(ctx context.Context, a *core.ModerationAlert) error {
	actions, _ := json.Marshal(a.AutoActions)
	history, _ := json.Marshal(a.History)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO moderation_alerts (id, kind, severity, title, description,
			affected_products, affected_sellers, status, assigned_to,
			auto_actions, degraded, history, created_at, resolved_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		a.ID, a.Kind, a.Severity, a.Title, a.Description,
		pq.Array(a.AffectedProducts), pq.Array(a.AffectedSellers), a.Status,
		nullable(a.AssignedTo), actions, a.Degraded, history, a.CreatedAt,
		a.ResolvedAt)
	return err
}

const alertCols = `id, kind, severity, title, description, affected_products,
	affected_sellers, status, COALESCE(assigned_to,''), auto_actions, degraded,
	history, created_at, resolved_at`

func (s *PostgresStore) scanAlert(row interface{ Scan(...any) error }) (*core.ModerationAlert, error) {
	var a core.ModerationAlert
	var products, sellers pq.StringArray
	var actions, history []byte
	var resolvedAt sql.NullTime
	err := row.Scan(&a.ID, &a.Kind, &a.Severity, &a.Title, &a.Description,
		&products, &sellers, &a.Status, &a.AssignedTo, &actions, &a.Degraded,
		&history, &a.CreatedAt, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrUnknownAlert
	}
	if err != nil {
		return nil, err
	}
	a.AffectedProducts = products
	a.AffectedSellers = sellers
	if len(actions) > 0 {
		if err := json.Unmarshal(actions, &a.AutoActions); err != nil {
			return nil, err
		}
	}
	if len(history) > 0 && string(history) != "null" {
		if err := json.Unmarshal(history, &a.History); err != nil {
			return nil, err
		}
	}
	if resolvedAt.Valid {
		a.ResolvedAt = &resolvedAt.Time
	}
	return &a, nil
}

func (s *PostgresStore) GetAlert(ctx context.Context, id string) (*core.ModerationAlert, error) {
	return s.scanAlert(s.db.QueryRowContext(ctx,
		`SELECT `+alertCols+` FROM moderation_alerts WHERE id = $1`, id))
}

func (s *PostgresStore) UpdateAlert(ctx context.Context, a *core.ModerationAlert) error {
	actions, _ := json.Marshal(a.AutoActions)
	history, _ := json.Marshal(a.History)
	res, err := s.db.ExecContext(ctx, `
		UPDATE moderation_alerts SET severity=$2, status=$3, assigned_to=$4,
			auto_actions=$5, degraded=$6, history=$7, resolved_at=$8
		WHERE id=$1`,
		a.ID, a.Severity, a.Status, nullable(a.AssignedTo), actions, a.Degraded,
		history, a.ResolvedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("alert %s: %w", a.ID, core.ErrUnknownAlert)
	}
	return nil
}

func (s *PostgresStore) ListAlerts(ctx context.Context) ([]core.ModerationAlert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+alertCols+` FROM moderation_alerts ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.ModerationAlert
	for rows.Next() {
		a, err := s.scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) FindOpenAlert(ctx context.Context, kind core.AlertKind, ref string) (*core.ModerationAlert, error) {
	a, err := s.scanAlert(s.db.QueryRowContext(ctx, `
		SELECT `+alertCols+` FROM moderation_alerts
		WHERE kind = $1 AND status <> $2
			AND ($3 = ANY(affected_products) OR $3 = ANY(affected_sellers))
		ORDER BY created_at DESC LIMIT 1`,
		kind, core.AlertResolved, ref))
	if errors.Is(err, core.ErrUnknownAlert) {
		return nil, nil
	}
	return a, err
}

func (s *PostgresStore) SetAuthorizedChannels(ctx context.Context, manufacturerID string, locations []string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO authorized_channels (manufacturer_id, locations)
		VALUES ($1, $2)
		ON CONFLICT (manufacturer_id) DO UPDATE SET locations = $2`,
		manufacturerID, pq.Array(locations))
	return err
}

func (s *PostgresStore) AuthorizedChannels(ctx context.Context, manufacturerID string) ([]string, error) {
	var locs pq.StringArray
	err := s.db.QueryRowContext(ctx,
		`SELECT locations FROM authorized_channels WHERE manufacturer_id = $1`,
		manufacturerID).Scan(&locs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return locs, err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func isFKViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}
