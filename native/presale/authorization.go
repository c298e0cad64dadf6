package presale

import (
	"encoding/binary"
	"fmt"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// PurchaseAuthorization is the merchant-signed payload authorising a single
// pack purchase. The buyer address is bound into the signed message so a
// signature issued for one participant cannot be replayed by another.
type PurchaseAuthorization struct {
	PackID             uint32
	LandsRoot          [32]byte
	Buyer              [20]byte
	CommissionPermille uint16
	CommissionCode     string
	DiscountPermille   uint16
}

// Message renders the canonical type-tagged concatenation of the signed
// fields: uint32 BE, 32 raw bytes, 20-byte address, uint16 BE, raw UTF-8
// code, uint16 BE, in that exact order.
func (a PurchaseAuthorization) Message() []byte {
	buf := make([]byte, 0, 4+32+20+2+len(a.CommissionCode)+2)
	buf = binary.BigEndian.AppendUint32(buf, a.PackID)
	buf = append(buf, a.LandsRoot[:]...)
	buf = append(buf, a.Buyer[:]...)
	buf = binary.BigEndian.AppendUint16(buf, a.CommissionPermille)
	buf = append(buf, []byte(a.CommissionCode)...)
	buf = binary.BigEndian.AppendUint16(buf, a.DiscountPermille)
	return buf
}

// Hash computes the keccak256 digest of the canonical message.
func (a PurchaseAuthorization) Hash() []byte {
	return ethcrypto.Keccak256(a.Message())
}

// CommissionVoucher is the merchant-signed payload permitting the claimant to
// withdraw a specific amount from the commission pool.
type CommissionVoucher struct {
	Code     string
	Amount   *big.Int
	Claimant [20]byte
}

// Message renders the canonical concatenation: raw UTF-8 code, the amount as
// a 32-byte big-endian unsigned integer, then the claimant address.
func (v CommissionVoucher) Message() ([]byte, error) {
	if v.Amount == nil {
		return nil, fmt.Errorf("presale: voucher amount required")
	}
	if v.Amount.Sign() < 0 {
		return nil, fmt.Errorf("presale: voucher amount must not be negative")
	}
	if v.Amount.BitLen() > 256 {
		return nil, fmt.Errorf("presale: voucher amount exceeds 256 bits")
	}
	amount := make([]byte, 32)
	v.Amount.FillBytes(amount)
	buf := make([]byte, 0, len(v.Code)+32+20)
	buf = append(buf, []byte(v.Code)...)
	buf = append(buf, amount...)
	buf = append(buf, v.Claimant[:]...)
	return buf, nil
}

// Hash computes the keccak256 digest of the canonical voucher message. The
// digest doubles as the voucher's replay key in the ledger.
func (v CommissionVoucher) Hash() ([]byte, error) {
	message, err := v.Message()
	if err != nil {
		return nil, err
	}
	return ethcrypto.Keccak256(message), nil
}

// RecoverSigner recovers the signing address from a 65-byte signature over
// the supplied digest. The recovery byte is normalised to the two canonical
// values (27/28 are accepted and mapped to 0/1) before recovery. The function
// is pure; callers authorise by comparing the result against a role address.
func RecoverSigner(digest []byte, sig []byte) ([20]byte, error) {
	var signer [20]byte
	if len(digest) != 32 {
		return signer, fmt.Errorf("presale: digest must be 32 bytes")
	}
	if len(sig) != 65 {
		return signer, fmt.Errorf("presale: signature must be 65 bytes")
	}
	normalized := append([]byte(nil), sig...)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	if normalized[64] > 1 {
		return signer, fmt.Errorf("presale: invalid recovery byte %d", sig[64])
	}
	pubKey, err := ethcrypto.SigToPub(digest, normalized)
	if err != nil {
		return signer, fmt.Errorf("presale: recover pubkey: %w", err)
	}
	recovered := ethcrypto.PubkeyToAddress(*pubKey)
	copy(signer[:], recovered.Bytes())
	return signer, nil
}

// signerMatches reports whether the recovered identity equals the expected
// role address.
func signerMatches(recovered, expected [20]byte) bool {
	return ethcommon.BytesToAddress(recovered[:]) == ethcommon.BytesToAddress(expected[:])
}
