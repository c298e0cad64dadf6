package presale

import (
	"math/big"
)

// Roles holds the three identities configured at construction. They are
// immutable for the lifetime of the engine.
type Roles struct {
	Administrator [20]byte
	Merchant      [20]byte
	Charity       [20]byte
}

// Participant tracks the per-address settlement state. Records are created
// lazily on first purchase attempt and never deleted.
type Participant struct {
	HasPurchased     bool
	CreditBalance    uint64
	DiscountEligible bool
}

// Copy returns a value copy to keep callers from mutating ledger state.
func (p *Participant) Copy() *Participant {
	if p == nil {
		return &Participant{}
	}
	clone := *p
	return &clone
}

// Pools carries the three custody balances plus the lifetime totals used to
// check the conservation law: Sale+Charity+Commission must always equal
// TotalDeposited-TotalWithdrawn.
type Pools struct {
	Sale           *big.Int
	Charity        *big.Int
	Commission     *big.Int
	TotalDeposited *big.Int
	TotalWithdrawn *big.Int
}

// NewPools returns a zeroed pools record.
func NewPools() *Pools {
	return &Pools{
		Sale:           big.NewInt(0),
		Charity:        big.NewInt(0),
		Commission:     big.NewInt(0),
		TotalDeposited: big.NewInt(0),
		TotalWithdrawn: big.NewInt(0),
	}
}

// Copy returns a deep copy of the pools record.
func (p *Pools) Copy() *Pools {
	if p == nil {
		return NewPools()
	}
	return &Pools{
		Sale:           cloneBigInt(p.Sale),
		Charity:        cloneBigInt(p.Charity),
		Commission:     cloneBigInt(p.Commission),
		TotalDeposited: cloneBigInt(p.TotalDeposited),
		TotalWithdrawn: cloneBigInt(p.TotalWithdrawn),
	}
}

// normalize ensures every balance pointer is non-nil after decoding.
func (p *Pools) normalize() *Pools {
	if p.Sale == nil {
		p.Sale = big.NewInt(0)
	}
	if p.Charity == nil {
		p.Charity = big.NewInt(0)
	}
	if p.Commission == nil {
		p.Commission = big.NewInt(0)
	}
	if p.TotalDeposited == nil {
		p.TotalDeposited = big.NewInt(0)
	}
	if p.TotalWithdrawn == nil {
		p.TotalWithdrawn = big.NewInt(0)
	}
	return p
}

// PurchaseReceipt captures the outcome of a settled purchase for auditing.
type PurchaseReceipt struct {
	ID              string
	Buyer           [20]byte
	PackID          uint32
	PriceCents      uint64
	Payment         *big.Int
	Required        *big.Int
	CommissionShare *big.Int
	CharityShare    *big.Int
	SaleShare       *big.Int
	OracleRate      *big.Int
	OracleSource    string
	SettledAt       int64
}

// Copy returns a deep copy of the receipt.
func (r *PurchaseReceipt) Copy() *PurchaseReceipt {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Payment = cloneBigInt(r.Payment)
	clone.Required = cloneBigInt(r.Required)
	clone.CommissionShare = cloneBigInt(r.CommissionShare)
	clone.CharityShare = cloneBigInt(r.CharityShare)
	clone.SaleShare = cloneBigInt(r.SaleShare)
	clone.OracleRate = cloneBigInt(r.OracleRate)
	return &clone
}

// PayoutRecord journals an outbound transfer settled by the custodian.
type PayoutRecord struct {
	ID        string
	Pool      string
	Recipient [20]byte
	Amount    *big.Int
	CreatedAt int64
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
