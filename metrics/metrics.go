// Package metrics exposes Prometheus collectors for the ledger and the price
// feed. All methods are safe to call on a nil receiver, which disables
// reporting.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fundme"

// Ledger collects per-operation outcomes and storage access counts.
type Ledger struct {
	calls        *prometheus.CounterVec
	storageReads *prometheus.CounterVec
	funded       prometheus.Counter
	withdrawn    prometheus.Counter
	balance      prometheus.Gauge
	funders      prometheus.Gauge
}

func NewLedger(reg prometheus.Registerer) *Ledger {
	m := &Ledger{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "calls_total",
			Help:      "Ledger operations by name and result.",
		}, []string{"op", "result"}),
		storageReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "storage_reads_total",
			Help:      "Persisted slot reads performed by ledger operations.",
		}, []string{"op"}),
		funded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "funded_wei_total",
			Help:      "Wei accepted by successful fund calls (float approximation).",
		}),
		withdrawn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "withdrawn_wei_total",
			Help:      "Wei paid out by successful withdrawals (float approximation).",
		}),
		balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "balance_ether",
			Help:      "Value held by the ledger account.",
		}),
		funders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "funders",
			Help:      "Entries in the funder registry.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.calls, m.storageReads, m.funded, m.withdrawn, m.balance, m.funders)
	}

	return m
}

// ObserveCall records the outcome of op. result is "ok" or an error kind.
func (m *Ledger) ObserveCall(op, result string) {
	if m == nil {
		return
	}

	m.calls.WithLabelValues(op, result).Inc()
}

func (m *Ledger) AddStorageReads(op string, n uint64) {
	if m == nil {
		return
	}

	m.storageReads.WithLabelValues(op).Add(float64(n))
}

func (m *Ledger) AddFunded(wei float64) {
	if m == nil {
		return
	}

	m.funded.Add(wei)
}

func (m *Ledger) AddWithdrawn(wei float64) {
	if m == nil {
		return
	}

	m.withdrawn.Add(wei)
}

// SetHoldings reports the ledger balance and funder registry size.
func (m *Ledger) SetHoldings(balanceEther float64, funders int) {
	if m == nil {
		return
	}

	m.balance.Set(balanceEther)
	m.funders.Set(float64(funders))
}

// Oracle tracks the last observed price and failed reads.
type Oracle struct {
	price    prometheus.Gauge
	minimum  prometheus.Gauge
	failures prometheus.Counter
}

func NewOracle(reg prometheus.Registerer) *Oracle {
	m := &Oracle{
		price: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "price_usd",
			Help:      "Last USD price reported by the price feed.",
		}),
		minimum: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "minimum_contribution_ether",
			Help:      "Smallest contribution, in ether, that clears the USD threshold.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "failures_total",
			Help:      "Failed price feed reads.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.price, m.minimum, m.failures)
	}

	return m
}

func (m *Oracle) SetPrice(usd, minimumEther float64) {
	if m == nil {
		return
	}

	m.price.Set(usd)
	m.minimum.Set(minimumEther)
}

func (m *Oracle) Failure() {
	if m == nil {
		return
	}

	m.failures.Inc()
}
