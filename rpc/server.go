package rpc

import (
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"landsale/crypto"
	"landsale/native/presale"
	"landsale/observability/metrics"
)

// Server exposes the settlement ledger over HTTP. Purchase and commission
// endpoints are open because the merchant signature inside the payload is the
// authorization; pool withdrawals and flag mutations are operator actions
// gated by the admin bearer token in addition to the engine's role checks.
type Server struct {
	engine     *presale.Engine
	log        *slog.Logger
	metrics    *metrics.PresaleMetrics
	adminToken string
	router     http.Handler
}

// NewServer constructs a configured router around the engine.
func NewServer(engine *presale.Engine, logger *slog.Logger, adminToken string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:     engine,
		log:        logger,
		metrics:    metrics.Presale(),
		adminToken: strings.TrimSpace(adminToken),
	}
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Route("/v1/presale", func(r chi.Router) {
		r.Post("/buy", s.handleBuy)
		r.Post("/commission/claim", s.handleClaimCommission)
		r.Get("/balance/{addr}", s.handleBalance)
		r.Get("/discount/{addr}", s.handleGetDiscount)
		r.Group(func(r chi.Router) {
			r.Use(s.requireAdminToken)
			r.Post("/sale/claim", s.handleClaimSale)
			r.Post("/charity/claim", s.handleClaimCharity)
			r.Put("/discount/{addr}", s.handleSetDiscount)
			r.Get("/pools", s.handlePools)
		})
	})
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) requireAdminToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			writeError(w, http.StatusServiceUnavailable, errors.New("admin endpoints disabled: no token configured"))
			return
		}
		supplied := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(supplied), []byte(s.adminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, errors.New("invalid bearer token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// statusFor maps ledger rejections onto HTTP statuses. Every distinct error
// kind keeps its reason string in the body so clients can branch on cause.
func statusFor(err error) int {
	switch {
	case errors.Is(err, presale.ErrAlreadyPurchased), errors.Is(err, presale.ErrVoucherReused):
		return http.StatusConflict
	case errors.Is(err, presale.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, presale.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, presale.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, presale.ErrInsufficientPool):
		return http.StatusConflict
	case errors.Is(err, presale.ErrUnknownPack):
		return http.StatusNotFound
	case errors.Is(err, presale.ErrBadAuthorization):
		return http.StatusBadRequest
	case errors.Is(err, presale.ErrStaleQuote):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// reasonFor labels metrics without leaking free-form error text.
func reasonFor(err error) string {
	switch {
	case errors.Is(err, presale.ErrAlreadyPurchased):
		return "already_purchased"
	case errors.Is(err, presale.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, presale.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, presale.ErrInsufficientPool):
		return "insufficient_pool"
	case errors.Is(err, presale.ErrForbidden):
		return "forbidden"
	case errors.Is(err, presale.ErrVoucherReused):
		return "voucher_reused"
	case errors.Is(err, presale.ErrUnknownPack):
		return "unknown_pack"
	case errors.Is(err, presale.ErrBadAuthorization):
		return "bad_authorization"
	case errors.Is(err, presale.ErrStaleQuote):
		return "stale_quote"
	default:
		return "internal"
	}
}

func parseAddress(value string) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Raw(), nil
}

func parseHex(value string, expected int) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, err
	}
	if expected > 0 && len(decoded) != expected {
		return nil, errors.New("unexpected length")
	}
	return decoded, nil
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, errors.New("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, errors.New("invalid amount")
	}
	return amount, nil
}

func (s *Server) publishPools() {
	pools, err := s.engine.Pools()
	if err != nil {
		return
	}
	s.metrics.SetPoolBalance("sale", pools.Sale)
	s.metrics.SetPoolBalance("charity", pools.Charity)
	s.metrics.SetPoolBalance("commission", pools.Commission)
}
