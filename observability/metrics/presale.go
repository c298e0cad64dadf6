package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PresaleMetrics aggregates the settlement counters exported by the daemon.
type PresaleMetrics struct {
	purchasesSettled  prometheus.Counter
	purchaseRejected  *prometheus.CounterVec
	claimsSettled     *prometheus.CounterVec
	claimRejected     *prometheus.CounterVec
	poolBalance       *prometheus.GaugeVec
	creditDistributed prometheus.Counter
}

var (
	presaleOnce     sync.Once
	presaleRegistry *PresaleMetrics
)

// Presale returns the process-wide settlement metrics, registering them with
// the default registry on first use.
func Presale() *PresaleMetrics {
	presaleOnce.Do(func() {
		presaleRegistry = &PresaleMetrics{
			purchasesSettled: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "presale_purchases_settled_total",
				Help: "Count of successfully settled pack purchases.",
			}),
			purchaseRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "presale_purchases_rejected_total",
				Help: "Count of rejected purchase attempts by reason.",
			}, []string{"reason"}),
			claimsSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "presale_claims_settled_total",
				Help: "Count of settled pool withdrawals by pool.",
			}, []string{"pool"}),
			claimRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "presale_claims_rejected_total",
				Help: "Count of rejected pool withdrawals by pool and reason.",
			}, []string{"pool", "reason"}),
			poolBalance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "presale_pool_balance",
				Help: "Current custody pool balance in native units.",
			}, []string{"pool"}),
			creditDistributed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "presale_credit_distributed_cents_total",
				Help: "Cumulative USD-cent purchase credit granted to participants.",
			}),
		}
		prometheus.MustRegister(
			presaleRegistry.purchasesSettled,
			presaleRegistry.purchaseRejected,
			presaleRegistry.claimsSettled,
			presaleRegistry.claimRejected,
			presaleRegistry.poolBalance,
			presaleRegistry.creditDistributed,
		)
	})
	return presaleRegistry
}

// PurchaseSettled records a settled purchase and its granted credit.
func (m *PresaleMetrics) PurchaseSettled(priceCents uint64) {
	if m == nil {
		return
	}
	m.purchasesSettled.Inc()
	m.creditDistributed.Add(float64(priceCents))
}

// PurchaseRejected records a rejected purchase attempt.
func (m *PresaleMetrics) PurchaseRejected(reason string) {
	if m == nil {
		return
	}
	m.purchaseRejected.WithLabelValues(reason).Inc()
}

// ClaimSettled records a settled withdrawal for the named pool.
func (m *PresaleMetrics) ClaimSettled(pool string) {
	if m == nil {
		return
	}
	m.claimsSettled.WithLabelValues(pool).Inc()
}

// ClaimRejected records a rejected withdrawal for the named pool.
func (m *PresaleMetrics) ClaimRejected(pool, reason string) {
	if m == nil {
		return
	}
	m.claimRejected.WithLabelValues(pool, reason).Inc()
}

// SetPoolBalance publishes a pool balance gauge. Balances beyond float64
// precision are approximated; the gauge is for dashboards, not accounting.
func (m *PresaleMetrics) SetPoolBalance(pool string, balance *big.Int) {
	if m == nil || balance == nil {
		return
	}
	value, _ := new(big.Float).SetInt(balance).Float64()
	m.poolBalance.WithLabelValues(pool).Set(value)
}
