package presale

import "errors"

var (
	// ErrAlreadyPurchased indicates the caller has already completed a purchase.
	ErrAlreadyPurchased = errors.New("presale: only one purchase per wallet")
	// ErrInvalidSignature indicates the recovered signer did not match the merchant.
	ErrInvalidSignature = errors.New("presale: invalid merchant signature")
	// ErrInsufficientFunds indicates the payment was below the computed price.
	ErrInsufficientFunds = errors.New("presale: not enough funds")
	// ErrInsufficientPool indicates a commission claim exceeded the pool balance.
	ErrInsufficientPool = errors.New("presale: insufficient commission pool")
	// ErrForbidden indicates the caller does not hold the required role.
	ErrForbidden = errors.New("presale: forbidden")
	// ErrVoucherReused indicates a commission voucher has already been consumed.
	ErrVoucherReused = errors.New("presale: voucher already claimed")
	// ErrUnknownPack indicates the pack identifier is not in the catalog.
	ErrUnknownPack = errors.New("presale: unknown pack")
	// ErrBadAuthorization indicates a signed field is outside its valid range.
	ErrBadAuthorization = errors.New("presale: malformed authorization")
	// ErrStaleQuote indicates the oracle quote exceeded the freshness window.
	ErrStaleQuote = errors.New("presale: oracle quote stale")
)
