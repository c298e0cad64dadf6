package presale

import "math/big"

// Event is implemented by every notification emitted by the engine.
type Event interface {
	EventType() string
}

// Emitter receives engine events. Implementations must not call back into the
// engine.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards all events.
type NoopEmitter struct{}

// Emit implements Emitter.
func (NoopEmitter) Emit(Event) {}

// Event type identifiers.
const (
	TypePurchaseCompleted = "presale.purchase.completed"
	TypeSaleClaimed       = "presale.sale.claimed"
	TypeCharityClaimed    = "presale.charity.claimed"
	TypeCommissionClaimed = "presale.commission.claimed"
	TypeDiscountUpdated   = "presale.discount.updated"
)

// PurchaseCompleted is emitted after a purchase settles.
type PurchaseCompleted struct {
	ReceiptID       string
	Buyer           [20]byte
	PackID          uint32
	PriceCents      uint64
	Payment         *big.Int
	CommissionShare *big.Int
	CharityShare    *big.Int
	SaleShare       *big.Int
}

func (PurchaseCompleted) EventType() string { return TypePurchaseCompleted }

// SaleClaimed is emitted when the administrator withdraws the sale pool.
type SaleClaimed struct {
	Recipient [20]byte
	Amount    *big.Int
}

func (SaleClaimed) EventType() string { return TypeSaleClaimed }

// CharityClaimed is emitted when the charity recipient withdraws its pool.
type CharityClaimed struct {
	Recipient [20]byte
	Amount    *big.Int
}

func (CharityClaimed) EventType() string { return TypeCharityClaimed }

// CommissionClaimed is emitted when a voucher is redeemed.
type CommissionClaimed struct {
	Claimant [20]byte
	Code     string
	Amount   *big.Int
}

func (CommissionClaimed) EventType() string { return TypeCommissionClaimed }

// DiscountUpdated is emitted when the administrator flips an eligibility flag.
type DiscountUpdated struct {
	Account  [20]byte
	Eligible bool
}

func (DiscountUpdated) EventType() string { return TypeDiscountUpdated }
