package presale

import "math/big"

// permilleDenominator is the denominator for all rate fields. Commission and
// discount rates are expressed in tenths of a percent: 80 means 8%.
const permilleDenominator = 1000

// RequiredPayment computes the native-currency amount a buyer must attach:
// rate x priceCents x (1000 - discountPermille) / 1000. The discount applies
// to the payment only; pack credit is always the undiscounted priceCents.
func RequiredPayment(rate *big.Int, priceCents uint64, discountPermille uint16) *big.Int {
	if rate == nil || rate.Sign() <= 0 || priceCents == 0 {
		return big.NewInt(0)
	}
	if discountPermille > permilleDenominator {
		discountPermille = permilleDenominator
	}
	required := new(big.Int).Mul(rate, new(big.Int).SetUint64(priceCents))
	required.Mul(required, big.NewInt(int64(permilleDenominator-discountPermille)))
	return required.Div(required, big.NewInt(permilleDenominator))
}

// PermilleShare computes amount x permille / 1000, rounding toward zero. Used
// for both the signed commission rate and the configured charity rate.
func PermilleShare(amount *big.Int, permille uint16) *big.Int {
	if amount == nil || amount.Sign() <= 0 || permille == 0 {
		return big.NewInt(0)
	}
	share := new(big.Int).Mul(amount, big.NewInt(int64(permille)))
	share.Div(share, big.NewInt(permilleDenominator))
	if share.Cmp(amount) > 0 {
		return new(big.Int).Set(amount)
	}
	return share
}
