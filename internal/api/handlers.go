package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/verity/engine/internal/core"
	"github.com/verity/engine/internal/engine"
	"github.com/verity/engine/internal/ledger"
	"github.com/verity/engine/internal/registry"
)

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrUnknownProduct),
		errors.Is(err, core.ErrUnknownSeller),
		errors.Is(err, core.ErrUnknownAlert):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrDuplicateProduct),
		errors.Is(err, core.ErrDuplicateSeller),
		errors.Is(err, core.ErrChainViolation),
		errors.Is(err, core.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, core.ErrBusy):
		status = http.StatusTooManyRequests
	}
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// Products
// ---------------------------------------------------------------------------

type registerProductRequest struct {
	SKU            string  `json:"sku"`
	Name           string  `json:"name"`
	Category       string  `json:"category"`
	Price          float64 `json:"price"`
	DigitalTwinID  string  `json:"digitalTwinId"`
	NFCTagID       string  `json:"nfcTagId"`
	ManufacturerID string  `json:"manufacturerId"`
	SellerID       string  `json:"sellerId"`
}

func (s *Server) handleRegisterProduct(w http.ResponseWriter, r *http.Request) {
	var req registerProductRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := s.engine.RegisterProduct(r.Context(), engine.RegisterProductInput{
		SKU:            req.SKU,
		Name:           req.Name,
		Category:       req.Category,
		Price:          req.Price,
		DigitalTwinID:  req.DigitalTwinID,
		NFCTagID:       req.NFCTagID,
		ManufacturerID: req.ManufacturerID,
		SellerID:       req.SellerID,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.engine.Products(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, products)
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.Product(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// ---------------------------------------------------------------------------
// Provenance events
// ---------------------------------------------------------------------------

type recordEventRequest struct {
	Kind     core.EventKind             `json:"kind"`
	Location string                     `json:"location"`
	GPS      string                     `json:"gps"`
	Env      *core.Environment          `json:"env"`
	Metadata map[string]json.RawMessage `json:"metadata"`
	Status   core.VerificationStatus    `json:"status"`
	PrevHash string                     `json:"prevHash"`
}

func (s *Server) handleRecordEvent(w http.ResponseWriter, r *http.Request) {
	var req recordEventRequest
	if !decode(w, r, &req) {
		return
	}

	meta, err := core.MetadataFromMap(req.Metadata)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	ev, err := s.engine.RecordEvent(r.Context(), mux.Vars(r)["id"], ledger.AppendRequest{
		Kind:     req.Kind,
		Location: req.Location,
		GPS:      req.GPS,
		Env:      req.Env,
		Metadata: meta,
		Status:   req.Status,
		PrevHash: req.PrevHash,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, ev)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.engine.Events(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, events)
}

func (s *Server) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	productID := mux.Vars(r)["id"]
	if err := s.engine.VerifyChain(r.Context(), productID); err != nil {
		if errors.Is(err, core.ErrChainViolation) {
			respondJSON(w, http.StatusOK, map[string]interface{}{
				"productId": productID,
				"valid":     false,
				"detail":    err.Error(),
			})
			return
		}
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"productId": productID,
		"valid":     true,
	})
}

// ---------------------------------------------------------------------------
// Graph & trust
// ---------------------------------------------------------------------------

func (s *Server) handleGetGraph(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.engine.Graph(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, nodes)
}

func (s *Server) handleTrustBreakdown(w http.ResponseWriter, r *http.Request) {
	b, err := s.engine.Breakdown(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, b)
}

// ---------------------------------------------------------------------------
// Reviews
// ---------------------------------------------------------------------------

type submitReviewRequest struct {
	ProductID string `json:"productId"`
	SellerID  string `json:"sellerId"`
	Text      string `json:"text"`
	Rating    int    `json:"rating"`
}

func (s *Server) handleSubmitReview(w http.ResponseWriter, r *http.Request) {
	var req submitReviewRequest
	if !decode(w, r, &req) {
		return
	}
	rev, err := s.engine.SubmitReview(r.Context(), engine.SubmitReviewInput{
		ProductID: req.ProductID,
		SellerID:  req.SellerID,
		Text:      req.Text,
		Rating:    req.Rating,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, rev)
}

func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := s.engine.Reviews(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, reviews)
}

// ---------------------------------------------------------------------------
// Sellers
// ---------------------------------------------------------------------------

type registerSellerRequest struct {
	SellerID     string          `json:"sellerId"`
	CompanyName  string          `json:"companyName"`
	TrustToken   float64         `json:"trustToken"`
	KYCDocuments []core.Document `json:"kycDocuments"`
}

func (s *Server) handleRegisterSeller(w http.ResponseWriter, r *http.Request) {
	var req registerSellerRequest
	if !decode(w, r, &req) {
		return
	}
	cred, err := s.engine.Registry().Register(r.Context(), registry.RegisterInput{
		SellerID:     req.SellerID,
		CompanyName:  req.CompanyName,
		TrustToken:   req.TrustToken,
		KYCDocuments: req.KYCDocuments,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, cred)
}

func (s *Server) handleListSellers(w http.ResponseWriter, r *http.Request) {
	sellers, err := s.engine.Store().ListSellers(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sellers)
}

func (s *Server) handleGetSeller(w http.ResponseWriter, r *http.Request) {
	cred, err := s.engine.Registry().Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cred)
}

func (s *Server) handleStrike(w http.ResponseWriter, r *http.Request) {
	sellerID := mux.Vars(r)["id"]
	count, err := s.engine.RecordStrike(r.Context(), sellerID)
	if err != nil {
		respondError(w, err)
		return
	}
	cred, err := s.engine.Registry().Get(r.Context(), sellerID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sellerId":        sellerID,
		"strikesInWindow": count,
		"status":          cred.Status,
	})
}

type sellerStatusRequest struct {
	Status core.SellerStatus `json:"status"`
}

func (s *Server) handleSellerStatus(w http.ResponseWriter, r *http.Request) {
	var req sellerStatusRequest
	if !decode(w, r, &req) {
		return
	}
	sellerID := mux.Vars(r)["id"]
	if err := s.engine.SetSellerStatus(r.Context(), sellerID, req.Status); err != nil {
		respondError(w, err)
		return
	}
	cred, err := s.engine.Registry().Get(r.Context(), sellerID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cred)
}

// ---------------------------------------------------------------------------
// Manufacturer channels
// ---------------------------------------------------------------------------

type channelsRequest struct {
	Locations []string `json:"locations"`
}

func (s *Server) handleSetChannels(w http.ResponseWriter, r *http.Request) {
	var req channelsRequest
	if !decode(w, r, &req) {
		return
	}
	manufacturerID := mux.Vars(r)["id"]
	if err := s.engine.SetAuthorizedChannels(r.Context(), manufacturerID, req.Locations); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"manufacturerId": manufacturerID,
		"locations":      req.Locations,
	})
}

// ---------------------------------------------------------------------------
// Alerts
// ---------------------------------------------------------------------------

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	alertList, err := s.engine.Store().ListAlerts(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, alertList)
}

func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	a, err := s.engine.Store().GetAlert(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

type assignRequest struct {
	Assignee string `json:"assignee"`
}

func (s *Server) handleAssignAlert(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if !decode(w, r, &req) {
		return
	}
	a, err := s.engine.Alerts().Assign(r.Context(), mux.Vars(r)["id"], req.Assignee)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

type resolveRequest struct {
	Actor string `json:"actor"`
}

func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !decode(w, r, &req) {
		return
	}
	a, err := s.engine.ResolveAlert(r.Context(), mux.Vars(r)["id"], req.Actor)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

// ---------------------------------------------------------------------------
// Scan & analytics
// ---------------------------------------------------------------------------

type scanRequest struct {
	NFCTagID string `json:"nfcTagId"`
	SKU      string `json:"sku"`
	Location string `json:"location"`
	GPS      string `json:"gps"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if !decode(w, r, &req) {
		return
	}
	result, err := s.engine.Scan(r.Context(), engine.ScanInput{
		NFCTagID: req.NFCTagID,
		SKU:      req.SKU,
		Location: req.Location,
		GPS:      req.GPS,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.engine.Analytics(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}
