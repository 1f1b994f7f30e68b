package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// VillageMetrics exposes economy and persistence activity. A nil *VillageMetrics
// is valid and records nothing.
type VillageMetrics struct {
	balance      prometheus.Gauge
	objects      prometheus.Gauge
	purchases    *prometheus.CounterVec
	rejections   *prometheus.CounterVec
	refunds      *prometheus.CounterVec
	saves        *prometheus.CounterVec
	saveDuration prometheus.Histogram
}

// NewVillageMetrics registers the collectors on reg. A nil reg returns a no-op value.
func NewVillageMetrics(reg prometheus.Registerer) *VillageMetrics {
	if reg == nil {
		return nil
	}
	m := &VillageMetrics{
		balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "village_balance",
			Help: "Current ledger balance.",
		}),
		objects: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "village_placed_objects",
			Help: "Objects currently placed in the village.",
		}),
		purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "village_purchases_total",
			Help: "Confirmed purchases by catalog entry.",
		}, []string{"catalog_id"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "village_purchase_rejections_total",
			Help: "Purchase requests or confirmations that did not complete.",
		}, []string{"reason"}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "village_refunds_total",
			Help: "Coins refunded by deleting placed objects.",
		}, []string{"catalog_id"}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "village_saves_total",
			Help: "Save attempts by trigger and result.",
		}, []string{"trigger", "result"}),
		saveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "village_save_duration_seconds",
			Help:    "Time spent writing the save file.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.balance, m.objects, m.purchases, m.rejections, m.refunds, m.saves, m.saveDuration)
	return m
}

func (m *VillageMetrics) SetBalance(v int64) {
	if m == nil {
		return
	}
	m.balance.Set(float64(v))
}

func (m *VillageMetrics) SetObjects(n int) {
	if m == nil {
		return
	}
	m.objects.Set(float64(n))
}

func (m *VillageMetrics) IncPurchase(catalogID string) {
	if m == nil {
		return
	}
	m.purchases.WithLabelValues(normalizeLabel(catalogID)).Inc()
}

func (m *VillageMetrics) IncRejection(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *VillageMetrics) AddRefund(catalogID string, amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.refunds.WithLabelValues(normalizeLabel(catalogID)).Add(float64(amount))
}

// ObserveSave matches the saves.Options OnSave hook.
func (m *VillageMetrics) ObserveSave(trigger string, took time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.saves.WithLabelValues(normalizeLabel(trigger), result).Inc()
	m.saveDuration.Observe(took.Seconds())
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
