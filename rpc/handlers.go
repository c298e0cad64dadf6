package rpc

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

type buyRequest struct {
	Buyer              string `json:"buyer"`
	PackID             uint32 `json:"packId"`
	LandsRoot          string `json:"landsRoot"`
	CommissionPermille uint16 `json:"commissionPermille"`
	CommissionCode     string `json:"commissionCode"`
	DiscountPermille   uint16 `json:"discountPermille"`
	Signature          string `json:"signature"`
	Payment            string `json:"payment"`
}

type buyResponse struct {
	ReceiptID       string `json:"receiptId"`
	PackID          uint32 `json:"packId"`
	CreditCents     uint64 `json:"creditCents"`
	Payment         string `json:"payment"`
	Required        string `json:"required"`
	SaleShare       string `json:"saleShare"`
	CharityShare    string `json:"charityShare"`
	CommissionShare string `json:"commissionShare"`
	OracleRate      string `json:"oracleRate"`
	OracleSource    string `json:"oracleSource"`
	SettledAt       int64  `json:"settledAt"`
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	var req buyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("malformed request body"))
		return
	}
	buyer, err := parseAddress(req.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid buyer address"))
		return
	}
	rootBytes, err := parseHex(req.LandsRoot, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid lands root"))
		return
	}
	var landsRoot [32]byte
	copy(landsRoot[:], rootBytes)
	sig, err := parseHex(req.Signature, 65)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid signature encoding"))
		return
	}
	payment, err := parseAmount(req.Payment)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	receipt, err := s.engine.BuyPack(buyer, req.PackID, landsRoot, req.CommissionPermille, req.CommissionCode, req.DiscountPermille, sig, payment)
	if err != nil {
		s.metrics.PurchaseRejected(reasonFor(err))
		s.log.Warn("purchase rejected",
			"buyer", req.Buyer,
			"packId", req.PackID,
			"reason", err.Error(),
			"requestId", requestID(r),
		)
		writeError(w, statusFor(err), err)
		return
	}
	s.metrics.PurchaseSettled(receipt.PriceCents)
	s.publishPools()
	s.log.Info("purchase settled",
		"receiptId", receipt.ID,
		"buyer", req.Buyer,
		"packId", receipt.PackID,
		"payment", receipt.Payment.String(),
		"requestId", requestID(r),
	)
	writeJSON(w, http.StatusOK, buyResponse{
		ReceiptID:       receipt.ID,
		PackID:          receipt.PackID,
		CreditCents:     receipt.PriceCents,
		Payment:         receipt.Payment.String(),
		Required:        receipt.Required.String(),
		SaleShare:       receipt.SaleShare.String(),
		CharityShare:    receipt.CharityShare.String(),
		CommissionShare: receipt.CommissionShare.String(),
		OracleRate:      receipt.OracleRate.String(),
		OracleSource:    receipt.OracleSource,
		SettledAt:       receipt.SettledAt,
	})
}

type commissionClaimRequest struct {
	Claimant  string `json:"claimant"`
	Code      string `json:"code"`
	Amount    string `json:"amount"`
	Signature string `json:"signature"`
}

func (s *Server) handleClaimCommission(w http.ResponseWriter, r *http.Request) {
	var req commissionClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("malformed request body"))
		return
	}
	claimant, err := parseAddress(req.Claimant)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid claimant address"))
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sig, err := parseHex(req.Signature, 65)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid signature encoding"))
		return
	}
	if err := s.engine.ClaimCommission(claimant, req.Code, amount, sig); err != nil {
		s.metrics.ClaimRejected("commission", reasonFor(err))
		s.log.Warn("commission claim rejected",
			"claimant", req.Claimant,
			"code", req.Code,
			"reason", err.Error(),
			"requestId", requestID(r),
		)
		writeError(w, statusFor(err), err)
		return
	}
	s.metrics.ClaimSettled("commission")
	s.publishPools()
	s.log.Info("commission claim settled",
		"claimant", req.Claimant,
		"code", req.Code,
		"amount", amount.String(),
		"requestId", requestID(r),
	)
	writeJSON(w, http.StatusOK, claimResponse{Pool: "commission", Amount: amount.String()})
}

type poolClaimRequest struct {
	Caller string `json:"caller"`
}

type claimResponse struct {
	Pool   string `json:"pool"`
	Amount string `json:"amount"`
}

func (s *Server) handlePoolClaim(w http.ResponseWriter, r *http.Request, pool string, claim func([20]byte) (*big.Int, error)) {
	var req poolClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("malformed request body"))
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid caller address"))
		return
	}
	amount, err := claim(caller)
	if err != nil {
		s.metrics.ClaimRejected(pool, reasonFor(err))
		s.log.Warn("pool claim rejected",
			"pool", pool,
			"caller", req.Caller,
			"reason", err.Error(),
			"requestId", requestID(r),
		)
		writeError(w, statusFor(err), err)
		return
	}
	s.metrics.ClaimSettled(pool)
	s.publishPools()
	s.log.Info("pool claim settled",
		"pool", pool,
		"caller", req.Caller,
		"amount", amount.String(),
		"requestId", requestID(r),
	)
	writeJSON(w, http.StatusOK, claimResponse{Pool: pool, Amount: amount.String()})
}

func (s *Server) handleClaimSale(w http.ResponseWriter, r *http.Request) {
	s.handlePoolClaim(w, r, "sale", s.engine.ClaimSale)
}

func (s *Server) handleClaimCharity(w http.ResponseWriter, r *http.Request) {
	s.handlePoolClaim(w, r, "charity", s.engine.ClaimCharity)
}

type balanceResponse struct {
	Address     string `json:"address"`
	CreditCents uint64 `json:"creditCents"`
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid address"))
		return
	}
	credit, err := s.engine.Balance(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		Address:     chi.URLParam(r, "addr"),
		CreditCents: credit,
	})
}

type discountResponse struct {
	Address  string `json:"address"`
	Eligible bool   `json:"eligible"`
}

func (s *Server) handleGetDiscount(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid address"))
		return
	}
	eligible, err := s.engine.IsDiscounted(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, discountResponse{Address: chi.URLParam(r, "addr"), Eligible: eligible})
}

type setDiscountRequest struct {
	Caller   string `json:"caller"`
	Eligible bool   `json:"eligible"`
}

func (s *Server) handleSetDiscount(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid address"))
		return
	}
	var req setDiscountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("malformed request body"))
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid caller address"))
		return
	}
	if err := s.engine.SetDiscount(caller, addr, req.Eligible); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.log.Info("discount flag updated",
		"address", chi.URLParam(r, "addr"),
		"eligible", req.Eligible,
		"requestId", requestID(r),
	)
	writeJSON(w, http.StatusOK, discountResponse{Address: chi.URLParam(r, "addr"), Eligible: req.Eligible})
}

type poolsResponse struct {
	Sale           string `json:"sale"`
	Charity        string `json:"charity"`
	Commission     string `json:"commission"`
	TotalDeposited string `json:"totalDeposited"`
	TotalWithdrawn string `json:"totalWithdrawn"`
}

func (s *Server) handlePools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.engine.Pools()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, poolsResponse{
		Sale:           pools.Sale.String(),
		Charity:        pools.Charity.String(),
		Commission:     pools.Commission.String(),
		TotalDeposited: pools.TotalDeposited.String(),
		TotalWithdrawn: pools.TotalWithdrawn.String(),
	})
}

func requestID(r *http.Request) string {
	return chimw.GetReqID(r.Context())
}
