// Package metrics exposes Prometheus collectors for the ledger core.
//
// Collectors live on a private registry so tests and multiple stores in one
// process never collide on the global default registry.
package metrics

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every collector the core updates.
type Metrics struct {
	Registry *prometheus.Registry

	GateWait        prometheus.Histogram
	GateOps         *prometheus.CounterVec
	StoreErrors     *prometheus.CounterVec
	UsersCreated    prometheus.Counter
	CodeCollisions  prometheus.Counter
	Attributions    *prometheus.CounterVec
	PendingResolved *prometheus.CounterVec
	PendingExpired  prometheus.Counter
	Earnings        *prometheus.CounterVec
	CommissionMinor *prometheus.CounterVec
	Confirmations   *prometheus.CounterVec
	Retries         prometheus.Counter

	// subscriptionTypes and paymentMethods bound the label values of
	// Earnings and CommissionMinor, which come from callers.
	subscriptionTypes *labelSet
	paymentMethods    *labelSet
}

// MaxLabelValues is how many distinct caller-supplied values a label keeps
// before folding the rest into OtherLabel.
const MaxLabelValues = 32

// OtherLabel replaces label values beyond MaxLabelValues, and empty ones.
const OtherLabel = "other"

// New creates a Metrics with all collectors registered on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		GateWait: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "refledger_gate_wait_seconds",
			Help:    "Time spent waiting to acquire the serialization gate",
			Buckets: prometheus.DefBuckets,
		}),
		GateOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "refledger_gate_operations_total",
			Help: "Compound store operations run under the gate",
		}, []string{"op", "result"}),
		StoreErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "refledger_store_errors_total",
			Help: "Store errors by taxonomy code",
		}, []string{"code"}),
		UsersCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "refledger_users_created_total",
			Help: "Users created on first contact",
		}),
		CodeCollisions: f.NewCounter(prometheus.CounterOpts{
			Name: "refledger_referral_code_collisions_total",
			Help: "Generated referral codes rejected because they were taken",
		}),
		Attributions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "refledger_attributions_total",
			Help: "Referral attribution attempts by outcome",
		}, []string{"status"}),
		PendingResolved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "refledger_pending_resolutions_total",
			Help: "Pending referral resolution attempts by outcome",
		}, []string{"status"}),
		PendingExpired: f.NewCounter(prometheus.CounterOpts{
			Name: "refledger_pending_expired_total",
			Help: "Pending referrals deleted by the retention sweep",
		}),
		Earnings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "refledger_earnings_recorded_total",
			Help: "Commission rows appended to the ledger",
		}, []string{"subscription_type", "payment_method"}),
		CommissionMinor: f.NewCounterVec(prometheus.CounterOpts{
			Name: "refledger_commission_minor_units_total",
			Help: "Commission credited, in minor units",
		}, []string{"subscription_type"}),
		Confirmations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "refledger_payment_confirmations_total",
			Help: "Admin payment confirmations by outcome",
		}, []string{"outcome"}),
		Retries: f.NewCounter(prometheus.CounterOpts{
			Name: "refledger_store_retries_total",
			Help: "Operations retried after a transient store failure",
		}),
		subscriptionTypes: newLabelSet(MaxLabelValues),
		paymentMethods:    newLabelSet(MaxLabelValues),
	}
}

// ObserveEarning counts one ledger row. Unbounded subscription types and
// payment methods are folded into OtherLabel.
func (m *Metrics) ObserveEarning(subscriptionType, paymentMethod string, minor int64) {
	t := m.subscriptionTypes.value(subscriptionType)
	m.Earnings.WithLabelValues(t, m.paymentMethods.value(paymentMethod)).Inc()
	m.CommissionMinor.WithLabelValues(t).Add(float64(minor))
}

// labelSet admits the first max distinct values it sees.
type labelSet struct {
	mu   sync.Mutex
	max  int
	seen map[string]struct{}
}

func newLabelSet(max int) *labelSet {
	return &labelSet{max: max, seen: make(map[string]struct{}, max)}
}

func (s *labelSet) value(v string) string {
	if v == "" {
		return OtherLabel
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[v]; ok {
		return v
	}
	if len(s.seen) >= s.max {
		return OtherLabel
	}
	s.seen[v] = struct{}{}
	return v
}

// Sample is one gathered metric value.
type Sample struct {
	Name   string
	Labels map[string]string
	Value  float64
}

// Snapshot gathers counters and histogram sample counts, sorted by name.
func (m *Metrics) Snapshot() ([]Sample, error) {
	families, err := m.Registry.Gather()
	if err != nil {
		return nil, err
	}

	var out []Sample
	for _, fam := range families {
		for _, metric := range fam.GetMetric() {
			labels := make(map[string]string, len(metric.GetLabel()))
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			var v float64
			switch {
			case metric.GetCounter() != nil:
				v = metric.GetCounter().GetValue()
			case metric.GetHistogram() != nil:
				v = float64(metric.GetHistogram().GetSampleCount())
			case metric.GetGauge() != nil:
				v = metric.GetGauge().GetValue()
			default:
				continue
			}
			out = append(out, Sample{Name: fam.GetName(), Labels: labels, Value: v})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// OrNew returns m, or a fresh Metrics if m is nil.
func OrNew(m *Metrics) *Metrics {
	if m == nil {
		return New()
	}
	return m
}
