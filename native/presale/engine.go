package presale

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Payout settles an outbound native-currency transfer to a recipient. The
// implementation performs the external interaction; the engine commits all
// pool decrements before invoking it so a reentrant or failing transfer can
// never duplicate a withdrawal.
type Payout interface {
	Transfer(to [20]byte, amount *big.Int) error
}

// NoopPayout accepts every transfer without side effects.
type NoopPayout struct{}

// Transfer implements Payout.
func (NoopPayout) Transfer([20]byte, *big.Int) error { return nil }

// Engine is the settlement ledger: it validates merchant authorizations,
// enforces the one-purchase rule, prices packs through the oracle and keeps
// the three custody pools balanced. All operations are serialized; each call
// commits in full or leaves state untouched.
type Engine struct {
	mu     sync.Mutex
	ledger *Ledger
	oracle RateOracle
	payout Payout
	roles  Roles

	charityPermille uint16
	maxQuoteAge     time.Duration
	emitter         Emitter
	nowFn           func() time.Time
}

// NewEngine constructs an engine over the supplied ledger, oracle and role
// set. Payout defaults to a no-op and can be overridden via SetPayout.
func NewEngine(ledger *Ledger, oracle RateOracle, roles Roles) *Engine {
	return &Engine{
		ledger:  ledger,
		oracle:  oracle,
		payout:  NoopPayout{},
		roles:   roles,
		emitter: NoopEmitter{},
		nowFn:   time.Now,
	}
}

// The Set* configuration methods below do not take the engine mutex and must
// be called before the engine starts serving operations.

// SetPayout configures the transfer primitive. Passing nil resets to no-op.
func (e *Engine) SetPayout(p Payout) {
	if p == nil {
		e.payout = NoopPayout{}
		return
	}
	e.payout = p
}

// SetEmitter configures the event emitter. Passing nil resets to no-op.
func (e *Engine) SetEmitter(emitter Emitter) {
	if emitter == nil {
		e.emitter = NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetCharityRate configures the per-mille share of every payment routed to
// the charity pool.
func (e *Engine) SetCharityRate(permille uint16) error {
	if permille > permilleDenominator {
		return fmt.Errorf("presale: charity rate %d exceeds %d", permille, permilleDenominator)
	}
	e.charityPermille = permille
	return nil
}

// SetMaxQuoteAge configures the oracle freshness window. Zero disables the
// staleness check.
func (e *Engine) SetMaxQuoteAge(age time.Duration) {
	if age < 0 {
		age = 0
	}
	e.maxQuoteAge = age
}

// SetNowFunc overrides the time source, primarily for deterministic testing.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		e.nowFn = time.Now
		return
	}
	e.nowFn = now
}

// Roles returns the configured role addresses.
func (e *Engine) Roles() Roles { return e.roles }

func (e *Engine) emit(event Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(event)
}

// BuyPack settles a purchase: rejects repeat buyers, verifies the merchant
// signature over the call arguments bound to the caller identity, prices the
// pack through the oracle applying the signed discount, and partitions the
// payment into the commission, charity and sale pools. Overpayment is
// retained in the sale pool; no refund is issued.
func (e *Engine) BuyPack(caller [20]byte, packID uint32, landsRoot [32]byte, commissionPermille uint16, commissionCode string, discountPermille uint16, sig []byte, payment *big.Int) (*PurchaseReceipt, error) {
	if e == nil || e.ledger == nil {
		return nil, fmt.Errorf("presale engine not configured")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	participant, err := e.ledger.Participant(caller)
	if err != nil {
		return nil, err
	}
	if participant.HasPurchased {
		return nil, ErrAlreadyPurchased
	}

	auth := PurchaseAuthorization{
		PackID:             packID,
		LandsRoot:          landsRoot,
		Buyer:              caller,
		CommissionPermille: commissionPermille,
		CommissionCode:     commissionCode,
		DiscountPermille:   discountPermille,
	}
	recovered, err := RecoverSigner(auth.Hash(), sig)
	if err != nil || !signerMatches(recovered, e.roles.Merchant) {
		return nil, ErrInvalidSignature
	}
	if discountPermille > permilleDenominator {
		return nil, ErrBadAuthorization
	}
	if uint32(commissionPermille)+uint32(e.charityPermille) > permilleDenominator {
		return nil, ErrBadAuthorization
	}

	priceCents, ok, err := e.ledger.Pack(packID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownPack
	}

	quote, err := e.oracleQuote()
	if err != nil {
		return nil, err
	}
	required := RequiredPayment(quote.Rate, priceCents, discountPermille)
	if payment == nil || payment.Cmp(required) < 0 {
		return nil, ErrInsufficientFunds
	}

	commissionShare := PermilleShare(payment, commissionPermille)
	charityShare := PermilleShare(payment, e.charityPermille)
	saleShare := new(big.Int).Sub(payment, commissionShare)
	saleShare.Sub(saleShare, charityShare)

	pools, err := e.ledger.Pools()
	if err != nil {
		return nil, err
	}
	updated := pools.Copy()
	updated.Commission.Add(updated.Commission, commissionShare)
	updated.Charity.Add(updated.Charity, charityShare)
	updated.Sale.Add(updated.Sale, saleShare)
	updated.TotalDeposited.Add(updated.TotalDeposited, payment)

	credited := participant.Copy()
	credited.HasPurchased = true
	credited.CreditBalance += priceCents

	receipt := &PurchaseReceipt{
		ID:              uuid.NewString(),
		Buyer:           caller,
		PackID:          packID,
		PriceCents:      priceCents,
		Payment:         new(big.Int).Set(payment),
		Required:        required,
		CommissionShare: commissionShare,
		CharityShare:    charityShare,
		SaleShare:       saleShare,
		OracleRate:      cloneBigInt(quote.Rate),
		OracleSource:    quote.Source,
		SettledAt:       e.nowFn().Unix(),
	}

	if err := e.ledger.PutParticipant(caller, credited); err != nil {
		return nil, err
	}
	if err := e.ledger.PutPools(updated); err != nil {
		// Restore the participant so a storage fault cannot consume the
		// one-purchase allowance without recording the payment.
		if rbErr := e.ledger.PutParticipant(caller, participant); rbErr != nil {
			return nil, fmt.Errorf("%w (participant rollback failed: %v)", err, rbErr)
		}
		return nil, err
	}
	if err := e.ledger.AppendReceipt(receipt); err != nil {
		if rbErr := e.ledger.PutParticipant(caller, participant); rbErr != nil {
			return nil, fmt.Errorf("%w (participant rollback failed: %v)", err, rbErr)
		}
		if rbErr := e.ledger.PutPools(pools); rbErr != nil {
			return nil, fmt.Errorf("%w (pools rollback failed: %v)", err, rbErr)
		}
		return nil, err
	}

	e.emit(PurchaseCompleted{
		ReceiptID:       receipt.ID,
		Buyer:           caller,
		PackID:          packID,
		PriceCents:      priceCents,
		Payment:         new(big.Int).Set(payment),
		CommissionShare: new(big.Int).Set(commissionShare),
		CharityShare:    new(big.Int).Set(charityShare),
		SaleShare:       new(big.Int).Set(saleShare),
	})
	return receipt.Copy(), nil
}

func (e *Engine) oracleQuote() (PriceQuote, error) {
	if e.oracle == nil {
		return PriceQuote{}, fmt.Errorf("presale: oracle not configured")
	}
	quote, err := e.oracle.CentRate()
	if err != nil {
		return PriceQuote{}, err
	}
	if quote.Rate == nil || quote.Rate.Sign() <= 0 {
		return PriceQuote{}, fmt.Errorf("presale: oracle returned invalid rate")
	}
	if e.maxQuoteAge > 0 && !quote.Timestamp.IsZero() {
		if e.nowFn().Sub(quote.Timestamp) > e.maxQuoteAge {
			return PriceQuote{}, ErrStaleQuote
		}
	}
	return quote, nil
}

// ClaimSale transfers the entire sale pool to the administrator and zeroes
// it. Only the administrator may call it; the other pools are never touched.
func (e *Engine) ClaimSale(caller [20]byte) (*big.Int, error) {
	if e == nil || e.ledger == nil {
		return nil, fmt.Errorf("presale engine not configured")
	}
	if caller != e.roles.Administrator {
		return nil, ErrForbidden
	}
	amount, err := e.drainPool(poolSale, e.roles.Administrator)
	if err != nil {
		return nil, err
	}
	e.emit(SaleClaimed{Recipient: e.roles.Administrator, Amount: new(big.Int).Set(amount)})
	return amount, nil
}

// ClaimCharity transfers the entire charity pool to the charity recipient.
func (e *Engine) ClaimCharity(caller [20]byte) (*big.Int, error) {
	if e == nil || e.ledger == nil {
		return nil, fmt.Errorf("presale engine not configured")
	}
	if caller != e.roles.Charity {
		return nil, fmt.Errorf("%w: reserved for charity", ErrForbidden)
	}
	amount, err := e.drainPool(poolCharity, e.roles.Charity)
	if err != nil {
		return nil, err
	}
	e.emit(CharityClaimed{Recipient: e.roles.Charity, Amount: new(big.Int).Set(amount)})
	return amount, nil
}

const (
	poolSale       = "sale"
	poolCharity    = "charity"
	poolCommission = "commission"
)

// drainPool zeroes the named pool and settles the payout following
// checks-effects-interactions: the decrement is committed before the external
// transfer runs, and a failed transfer restores the balance.
func (e *Engine) drainPool(pool string, recipient [20]byte) (*big.Int, error) {
	e.mu.Lock()
	pools, err := e.ledger.Pools()
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	var amount *big.Int
	updated := pools.Copy()
	switch pool {
	case poolSale:
		amount = cloneBigInt(pools.Sale)
		updated.Sale.SetInt64(0)
	case poolCharity:
		amount = cloneBigInt(pools.Charity)
		updated.Charity.SetInt64(0)
	default:
		e.mu.Unlock()
		return nil, fmt.Errorf("presale: unknown pool %q", pool)
	}
	if amount.Sign() == 0 {
		e.mu.Unlock()
		return amount, nil
	}
	updated.TotalWithdrawn.Add(updated.TotalWithdrawn, amount)
	if err := e.ledger.PutPools(updated); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	journalErr := e.ledger.AppendPayout(&PayoutRecord{
		ID:        uuid.NewString(),
		Pool:      pool,
		Recipient: recipient,
		Amount:    amount,
		CreatedAt: e.nowFn().Unix(),
	})
	e.mu.Unlock()
	if journalErr != nil {
		if rbErr := e.restorePool(pool, amount, nil); rbErr != nil {
			return nil, fmt.Errorf("presale: %s payout journal failed: %w (pool restore failed: %v)", pool, journalErr, rbErr)
		}
		return nil, journalErr
	}

	if err := e.payout.Transfer(recipient, amount); err != nil {
		if rbErr := e.restorePool(pool, amount, nil); rbErr != nil {
			return nil, fmt.Errorf("presale: %s payout failed: %w (pool restore failed: %v)", pool, err, rbErr)
		}
		return nil, fmt.Errorf("presale: %s payout failed: %w", pool, err)
	}
	return amount, nil
}

// restorePool credits a failed withdrawal back to its pool and, when the
// failure relates to a voucher, releases its consumption mark. Any error here
// means the committed decrement could not be undone; callers must surface it
// so operators can reconcile against the payout journal.
func (e *Engine) restorePool(pool string, amount *big.Int, voucherDigest []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	pools, err := e.ledger.Pools()
	if err != nil {
		return fmt.Errorf("reload pools: %w", err)
	}
	updated := pools.Copy()
	switch pool {
	case poolSale:
		updated.Sale.Add(updated.Sale, amount)
	case poolCharity:
		updated.Charity.Add(updated.Charity, amount)
	case poolCommission:
		updated.Commission.Add(updated.Commission, amount)
	}
	updated.TotalWithdrawn.Sub(updated.TotalWithdrawn, amount)
	if err := e.ledger.PutPools(updated); err != nil {
		return fmt.Errorf("write pools: %w", err)
	}
	if len(voucherDigest) > 0 {
		if err := e.ledger.ReleaseVoucher(voucherDigest); err != nil {
			return fmt.Errorf("release voucher: %w", err)
		}
	}
	return nil
}

// ClaimCommission redeems a merchant-signed voucher for the supplied amount
// out of the commission pool. Each voucher message digest is single use.
func (e *Engine) ClaimCommission(caller [20]byte, code string, amount *big.Int, sig []byte) error {
	if e == nil || e.ledger == nil {
		return fmt.Errorf("presale engine not configured")
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("presale: claim amount must be positive")
	}

	voucher := CommissionVoucher{Code: code, Amount: amount, Claimant: caller}
	digest, err := voucher.Hash()
	if err != nil {
		return err
	}
	recovered, err := RecoverSigner(digest, sig)
	if err != nil || !signerMatches(recovered, e.roles.Merchant) {
		return ErrInvalidSignature
	}

	e.mu.Lock()
	consumed, err := e.ledger.VoucherConsumed(digest)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if consumed {
		e.mu.Unlock()
		return ErrVoucherReused
	}
	pools, err := e.ledger.Pools()
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if amount.Cmp(pools.Commission) > 0 {
		e.mu.Unlock()
		return ErrInsufficientPool
	}
	updated := pools.Copy()
	updated.Commission.Sub(updated.Commission, amount)
	updated.TotalWithdrawn.Add(updated.TotalWithdrawn, amount)
	if err := e.ledger.ConsumeVoucher(digest); err != nil {
		e.mu.Unlock()
		return err
	}
	if err := e.ledger.PutPools(updated); err != nil {
		_ = e.ledger.ReleaseVoucher(digest)
		e.mu.Unlock()
		return err
	}
	journalErr := e.ledger.AppendPayout(&PayoutRecord{
		ID:        uuid.NewString(),
		Pool:      poolCommission,
		Recipient: caller,
		Amount:    cloneBigInt(amount),
		CreatedAt: e.nowFn().Unix(),
	})
	e.mu.Unlock()
	if journalErr != nil {
		if rbErr := e.restorePool(poolCommission, amount, digest); rbErr != nil {
			return fmt.Errorf("presale: commission payout journal failed: %w (pool restore failed: %v)", journalErr, rbErr)
		}
		return journalErr
	}

	if err := e.payout.Transfer(caller, amount); err != nil {
		if rbErr := e.restorePool(poolCommission, amount, digest); rbErr != nil {
			return fmt.Errorf("presale: commission payout failed: %w (pool restore failed: %v)", err, rbErr)
		}
		return fmt.Errorf("presale: commission payout failed: %w", err)
	}
	e.emit(CommissionClaimed{Claimant: caller, Code: code, Amount: new(big.Int).Set(amount)})
	return nil
}

// Balance returns the caller's accumulated USD-cent purchase credit.
func (e *Engine) Balance(caller [20]byte) (uint64, error) {
	if e == nil || e.ledger == nil {
		return 0, fmt.Errorf("presale engine not configured")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	participant, err := e.ledger.Participant(caller)
	if err != nil {
		return 0, err
	}
	return participant.CreditBalance, nil
}

// IsDiscounted reports the administrator-set eligibility flag for an address.
// The flag is an independent registry: it does not feed into pricing, which
// only honours the merchant-signed per-purchase discount.
func (e *Engine) IsDiscounted(addr [20]byte) (bool, error) {
	if e == nil || e.ledger == nil {
		return false, fmt.Errorf("presale engine not configured")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	participant, err := e.ledger.Participant(addr)
	if err != nil {
		return false, err
	}
	return participant.DiscountEligible, nil
}

// SetDiscount updates the eligibility flag for an address. Administrator only.
func (e *Engine) SetDiscount(caller, addr [20]byte, eligible bool) error {
	if e == nil || e.ledger == nil {
		return fmt.Errorf("presale engine not configured")
	}
	if caller != e.roles.Administrator {
		return ErrForbidden
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	participant, err := e.ledger.Participant(addr)
	if err != nil {
		return err
	}
	updated := participant.Copy()
	updated.DiscountEligible = eligible
	if err := e.ledger.PutParticipant(addr, updated); err != nil {
		return err
	}
	e.emit(DiscountUpdated{Account: addr, Eligible: eligible})
	return nil
}

// Pools returns a copy of the current custody balances.
func (e *Engine) Pools() (*Pools, error) {
	if e == nil || e.ledger == nil {
		return nil, fmt.Errorf("presale engine not configured")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	pools, err := e.ledger.Pools()
	if err != nil {
		return nil, err
	}
	return pools.Copy(), nil
}
