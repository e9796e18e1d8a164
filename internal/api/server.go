// Package api exposes the catalog over HTTP: token lists, search,
// details, prices, balances, and validation control. Responses use a
// uniform {success, ...} JSON envelope.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"token-catalog/internal/domain"
	"token-catalog/internal/observability"
	"token-catalog/internal/validator"
)

var addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// Catalog is the token read side the API serves from.
type Catalog interface {
	GetTokens(ctx context.Context) []domain.Token
	GetTokensByChain(ctx context.Context, chainID int64) []domain.Token
	GetTokenDetails(ctx context.Context, address string, chainID int64) (domain.Token, bool)
	SearchTokens(ctx context.Context, chainID int64, query string) []domain.Token
}

// PriceEngine resolves USD prices.
type PriceEngine interface {
	GetPrice(ctx context.Context, chainID int64, address string) domain.TokenPrice
	GetPrices(ctx context.Context, chainID int64, addresses []string) []domain.TokenPrice
}

// Balances resolves account holdings.
type Balances interface {
	GetBalances(ctx context.Context, account string, chainID int64) []domain.TokenBalance
}

// Validation controls the validation scheduler.
type Validation interface {
	Start(ctx context.Context) (domain.ValidationState, error)
	Status(ctx context.Context) (validator.Status, error)
	Reset(ctx context.Context) error
}

// Server routes HTTP requests to the catalog services.
type Server struct {
	catalog   Catalog
	prices    PriceEngine
	balances  Balances
	validator Validation
	logger    *log.Logger
}

// NewServer creates the API server over the given services.
func NewServer(catalog Catalog, prices PriceEngine, balances Balances, validation Validation) *Server {
	return &Server{
		catalog:   catalog,
		prices:    prices,
		balances:  balances,
		validator: validation,
		logger:    log.New(os.Stdout, "[api] ", log.LstdFlags),
	}
}

// Routes registers all endpoints on a new ServeMux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", observability.Handler())

	mux.HandleFunc("/tokens", s.instrument("/tokens", http.MethodGet, s.handleTokens))
	mux.HandleFunc("/tokens/search", s.instrument("/tokens/search", http.MethodGet, s.handleSearch))
	mux.HandleFunc("/token", s.instrument("/token", http.MethodGet, s.handleTokenDetails))
	mux.HandleFunc("/price", s.instrument("/price", http.MethodGet, s.handlePrice))
	mux.HandleFunc("/balance", s.instrument("/balance", http.MethodGet, s.handleBalance))
	mux.HandleFunc("/validate", s.instrument("/validate", http.MethodPost, s.handleValidateStart))
	mux.HandleFunc("/validate/status", s.instrument("/validate/status", http.MethodGet, s.handleValidateStatus))
	mux.HandleFunc("/validate/reset", s.instrument("/validate/reset", http.MethodPost, s.handleValidateReset))

	return mux
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument enforces the HTTP method and records request metrics.
func (s *Server) instrument(route, method string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(recorder, r)
		observability.RecordHTTPRequest(route, strconv.Itoa(recorder.status), time.Since(start).Seconds())
	}
}

// handleTokens serves the full catalog, or one chain's slice when
// chainId is present.
func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	if chainParam := r.URL.Query().Get("chainId"); chainParam != "" {
		chainID, ok := s.parseChainID(w, chainParam)
		if !ok {
			return
		}
		tokens := s.catalog.GetTokensByChain(r.Context(), chainID)
		s.writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"count":   len(tokens),
			"tokens":  emptyAsSlice(tokens),
		})
		return
	}

	tokens := s.catalog.GetTokens(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   len(tokens),
		"tokens":  emptyAsSlice(tokens),
	})
}

// pricedToken is a catalog entry with its current USD price attached.
type pricedToken struct {
	domain.Token
	Price float64 `json:"price"`
}

// handleSearch serves text or address search, with prices attached to
// every hit.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	chainParam := r.URL.Query().Get("chainId")
	if query == "" || chainParam == "" {
		s.writeError(w, http.StatusBadRequest, "Missing chainId or q parameter")
		return
	}
	chainID, ok := s.parseChainID(w, chainParam)
	if !ok {
		return
	}

	tokens := s.catalog.SearchTokens(r.Context(), chainID, query)

	addresses := make([]string, len(tokens))
	for i, t := range tokens {
		addresses[i] = t.Address
	}
	priceByAddr := map[string]float64{}
	for _, p := range s.prices.GetPrices(r.Context(), chainID, addresses) {
		priceByAddr[p.TokenAddress] = p.UsdPrice
	}

	priced := make([]pricedToken, len(tokens))
	for i, t := range tokens {
		priced[i] = pricedToken{Token: t, Price: priceByAddr[strings.ToLower(t.Address)]}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   len(priced),
		"tokens":  priced,
	})
}

// handleTokenDetails serves one token's metadata.
func (s *Server) handleTokenDetails(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		s.writeError(w, http.StatusBadRequest, "address is required")
		return
	}
	chainID, ok := s.requireChainID(w, r)
	if !ok {
		return
	}

	token, found := s.catalog.GetTokenDetails(r.Context(), address, chainID)
	if !found {
		s.writeError(w, http.StatusNotFound, "Token not found or invalid address")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"token":   token,
	})
}

// handlePrice serves one price, or a batch when address holds a
// comma-separated list.
func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	addressParam := r.URL.Query().Get("address")
	if addressParam == "" {
		s.writeError(w, http.StatusBadRequest, "address is required")
		return
	}
	chainID, ok := s.requireChainID(w, r)
	if !ok {
		return
	}

	var addresses []string
	for _, a := range strings.Split(addressParam, ",") {
		if a != "" {
			addresses = append(addresses, a)
		}
	}
	if len(addresses) == 0 {
		s.writeError(w, http.StatusBadRequest, "address is required")
		return
	}

	if len(addresses) > 1 {
		prices := s.prices.GetPrices(r.Context(), chainID, addresses)
		s.writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data":    prices,
		})
		return
	}

	price := s.prices.GetPrice(r.Context(), chainID, addresses[0])
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    price,
	})
}

// handleBalance serves an account's nonzero holdings on one chain.
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	if account == "" {
		s.writeError(w, http.StatusBadRequest, "account is required")
		return
	}
	chainID, ok := s.requireChainID(w, r)
	if !ok {
		return
	}
	if !addressPattern.MatchString(account) {
		s.writeError(w, http.StatusBadRequest, "Invalid account address")
		return
	}

	balances := s.balances.GetBalances(r.Context(), account, chainID)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"account":  account,
		"chainId":  chainID,
		"count":    len(balances),
		"balances": emptyAsSlice(balances),
	})
}

// handleValidateStart kicks off a validation run.
func (s *Server) handleValidateStart(w http.ResponseWriter, r *http.Request) {
	state, err := s.validator.Start(r.Context())
	switch {
	case errors.Is(err, validator.ErrAlreadyProcessing):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, validator.ErrNoTokens):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		s.logger.Printf("validation start: %v", err)
		s.writeError(w, http.StatusInternalServerError, "Internal server error")
	default:
		s.writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Validation started - processing in batches",
			"state":   state,
		})
	}
}

// handleValidateStatus reports validation run progress.
func (s *Server) handleValidateStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.validator.Status(r.Context())
	if err != nil {
		s.logger.Printf("validation status: %v", err)
		s.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"state":    status.State,
		"nextWake": status.NextWake,
	})
}

// handleValidateReset clears the validation state.
func (s *Server) handleValidateReset(w http.ResponseWriter, r *http.Request) {
	if err := s.validator.Reset(r.Context()); err != nil {
		s.logger.Printf("validation reset: %v", err)
		s.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Validation state reset",
	})
}

// requireChainID parses the mandatory chainId query parameter.
func (s *Server) requireChainID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	chainParam := r.URL.Query().Get("chainId")
	if chainParam == "" {
		s.writeError(w, http.StatusBadRequest, "chainId is required")
		return 0, false
	}
	return s.parseChainID(w, chainParam)
}

func (s *Server) parseChainID(w http.ResponseWriter, chainParam string) (int64, bool) {
	chainID, err := strconv.ParseInt(chainParam, 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "chainId must be a number")
		return 0, false
	}
	return chainID, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Printf("encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}

// emptyAsSlice keeps empty results rendering as [] instead of null.
func emptyAsSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
