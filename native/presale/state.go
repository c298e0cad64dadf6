package presale

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/rlp"

	"landsale/storage"
)

var (
	participantPrefix = []byte("presale/participant/")
	packPrefix        = []byte("presale/pack/")
	voucherPrefix     = []byte("presale/voucher/")
	receiptPrefix     = []byte("presale/receipt/")
	payoutPrefix      = []byte("presale/payout/")
	poolsKey          = []byte("presale/pools")
	receiptIndexKey   = []byte("presale/receipt/index")
)

// Ledger maps the four logical settlement tables (participants, pack catalog,
// pools, consumed vouchers) plus the audit journals onto prefixed keys in the
// underlying key-value store. Values are RLP encoded.
type Ledger struct {
	db storage.Database
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(db storage.Database) *Ledger {
	return &Ledger{db: db}
}

type storedParticipant struct {
	HasPurchased     bool
	CreditBalance    uint64
	DiscountEligible bool
}

type storedPools struct {
	Sale           *big.Int
	Charity        *big.Int
	Commission     *big.Int
	TotalDeposited *big.Int
	TotalWithdrawn *big.Int
}

type storedReceipt struct {
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
	SettledAt       uint64
}

type storedPayout struct {
	ID        string
	Pool      string
	Recipient [20]byte
	Amount    *big.Int
	CreatedAt uint64
}

func (l *Ledger) get(key []byte, out interface{}) (bool, error) {
	encoded, err := l.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := rlp.DecodeBytes(encoded, out); err != nil {
		return false, err
	}
	return true, nil
}

func (l *Ledger) put(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return l.db.Put(key, encoded)
}

func participantKey(addr [20]byte) []byte {
	return append(append([]byte(nil), participantPrefix...), addr[:]...)
}

// Participant loads the record for the supplied address, returning a zeroed
// record when the address has never been seen.
func (l *Ledger) Participant(addr [20]byte) (*Participant, error) {
	if l == nil {
		return nil, fmt.Errorf("ledger not initialised")
	}
	var stored storedParticipant
	ok, err := l.get(participantKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Participant{}, nil
	}
	return &Participant{
		HasPurchased:     stored.HasPurchased,
		CreditBalance:    stored.CreditBalance,
		DiscountEligible: stored.DiscountEligible,
	}, nil
}

// PutParticipant persists the record for the supplied address.
func (l *Ledger) PutParticipant(addr [20]byte, p *Participant) error {
	if l == nil {
		return fmt.Errorf("ledger not initialised")
	}
	if p == nil {
		return fmt.Errorf("ledger: participant must not be nil")
	}
	stored := storedParticipant{
		HasPurchased:     p.HasPurchased,
		CreditBalance:    p.CreditBalance,
		DiscountEligible: p.DiscountEligible,
	}
	return l.put(participantKey(addr), stored)
}

// Pools loads the custody pool balances, zeroed when not yet written.
func (l *Ledger) Pools() (*Pools, error) {
	if l == nil {
		return nil, fmt.Errorf("ledger not initialised")
	}
	var stored storedPools
	ok, err := l.get(poolsKey, &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return NewPools(), nil
	}
	pools := &Pools{
		Sale:           stored.Sale,
		Charity:        stored.Charity,
		Commission:     stored.Commission,
		TotalDeposited: stored.TotalDeposited,
		TotalWithdrawn: stored.TotalWithdrawn,
	}
	return pools.normalize(), nil
}

// PutPools persists the custody pool balances.
func (l *Ledger) PutPools(p *Pools) error {
	if l == nil {
		return fmt.Errorf("ledger not initialised")
	}
	if p == nil {
		return fmt.Errorf("ledger: pools must not be nil")
	}
	clone := p.Copy()
	stored := storedPools{
		Sale:           clone.Sale,
		Charity:        clone.Charity,
		Commission:     clone.Commission,
		TotalDeposited: clone.TotalDeposited,
		TotalWithdrawn: clone.TotalWithdrawn,
	}
	return l.put(poolsKey, stored)
}

func packKey(packID uint32) []byte {
	return append(append([]byte(nil), packPrefix...), []byte(strconv.FormatUint(uint64(packID), 10))...)
}

// Pack looks up the USD-cent price for the supplied pack identifier.
func (l *Ledger) Pack(packID uint32) (uint64, bool, error) {
	if l == nil {
		return 0, false, fmt.Errorf("ledger not initialised")
	}
	var priceCents uint64
	ok, err := l.get(packKey(packID), &priceCents)
	if err != nil {
		return 0, false, err
	}
	return priceCents, ok, nil
}

// PutPack records or updates a catalog entry.
func (l *Ledger) PutPack(packID uint32, priceCents uint64) error {
	if l == nil {
		return fmt.Errorf("ledger not initialised")
	}
	if priceCents == 0 {
		return fmt.Errorf("ledger: pack price must be positive")
	}
	return l.put(packKey(packID), priceCents)
}

func voucherKey(digest []byte) []byte {
	return append(append([]byte(nil), voucherPrefix...), []byte(hex.EncodeToString(digest))...)
}

// VoucherConsumed reports whether a commission voucher digest has been spent.
func (l *Ledger) VoucherConsumed(digest []byte) (bool, error) {
	if l == nil {
		return false, fmt.Errorf("ledger not initialised")
	}
	return l.db.Has(voucherKey(digest))
}

// ConsumeVoucher marks a commission voucher digest as spent.
func (l *Ledger) ConsumeVoucher(digest []byte) error {
	if l == nil {
		return fmt.Errorf("ledger not initialised")
	}
	return l.db.Put(voucherKey(digest), []byte{1})
}

// ReleaseVoucher removes a voucher consumption mark. Only used to roll back a
// claim whose outbound transfer failed.
func (l *Ledger) ReleaseVoucher(digest []byte) error {
	if l == nil {
		return fmt.Errorf("ledger not initialised")
	}
	return l.db.Delete(voucherKey(digest))
}

func receiptKey(id string) []byte {
	return append(append([]byte(nil), receiptPrefix...), []byte(id)...)
}

// AppendReceipt journals a settled purchase and registers it in the index.
func (l *Ledger) AppendReceipt(r *PurchaseReceipt) error {
	if l == nil {
		return fmt.Errorf("ledger not initialised")
	}
	if r == nil || r.ID == "" {
		return fmt.Errorf("ledger: receipt id required")
	}
	clone := r.Copy()
	stored := storedReceipt{
		ID:              clone.ID,
		Buyer:           clone.Buyer,
		PackID:          clone.PackID,
		PriceCents:      clone.PriceCents,
		Payment:         clone.Payment,
		Required:        clone.Required,
		CommissionShare: clone.CommissionShare,
		CharityShare:    clone.CharityShare,
		SaleShare:       clone.SaleShare,
		OracleRate:      clone.OracleRate,
		OracleSource:    clone.OracleSource,
	}
	if clone.SettledAt > 0 {
		stored.SettledAt = uint64(clone.SettledAt)
	}
	if err := l.put(receiptKey(clone.ID), stored); err != nil {
		return err
	}
	index, err := l.receiptIndex()
	if err != nil {
		return err
	}
	index = append(index, clone.ID)
	return l.put(receiptIndexKey, index)
}

// Receipt loads a purchase receipt by identifier.
func (l *Ledger) Receipt(id string) (*PurchaseReceipt, bool, error) {
	if l == nil {
		return nil, false, fmt.Errorf("ledger not initialised")
	}
	var stored storedReceipt
	ok, err := l.get(receiptKey(id), &stored)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	receipt := &PurchaseReceipt{
		ID:              stored.ID,
		Buyer:           stored.Buyer,
		PackID:          stored.PackID,
		PriceCents:      stored.PriceCents,
		Payment:         stored.Payment,
		Required:        stored.Required,
		CommissionShare: stored.CommissionShare,
		CharityShare:    stored.CharityShare,
		SaleShare:       stored.SaleShare,
		OracleRate:      stored.OracleRate,
		OracleSource:    stored.OracleSource,
		SettledAt:       int64(stored.SettledAt),
	}
	return receipt, true, nil
}

// Receipts returns every journalled purchase in settlement order.
func (l *Ledger) Receipts() ([]*PurchaseReceipt, error) {
	if l == nil {
		return nil, fmt.Errorf("ledger not initialised")
	}
	index, err := l.receiptIndex()
	if err != nil {
		return nil, err
	}
	receipts := make([]*PurchaseReceipt, 0, len(index))
	for _, id := range index {
		receipt, ok, err := l.Receipt(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		receipts = append(receipts, receipt)
	}
	return receipts, nil
}

func (l *Ledger) receiptIndex() ([]string, error) {
	var index []string
	if _, err := l.get(receiptIndexKey, &index); err != nil {
		return nil, err
	}
	return index, nil
}

func payoutKey(id string) []byte {
	return append(append([]byte(nil), payoutPrefix...), []byte(id)...)
}

// AppendPayout journals an outbound transfer from one of the pools.
func (l *Ledger) AppendPayout(p *PayoutRecord) error {
	if l == nil {
		return fmt.Errorf("ledger not initialised")
	}
	if p == nil || p.ID == "" {
		return fmt.Errorf("ledger: payout id required")
	}
	stored := storedPayout{
		ID:        p.ID,
		Pool:      p.Pool,
		Recipient: p.Recipient,
		Amount:    cloneBigInt(p.Amount),
	}
	if p.CreatedAt > 0 {
		stored.CreatedAt = uint64(p.CreatedAt)
	}
	return l.put(payoutKey(p.ID), stored)
}
