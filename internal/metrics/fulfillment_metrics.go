package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// FulfillmentMetrics содержит метрики выдачи и доставки кодов.
// Методы безопасны для nil-получателя, чтобы сервисы работали без метрик в тестах.
type FulfillmentMetrics struct {
	notifications *prometheus.CounterVec

	allocationAttempts *prometheus.CounterVec
	allocationDuration prometheus.Histogram
	codesSold          prometheus.Counter
	inventoryFailures  prometheus.Counter

	deliveries       *prometheus.CounterVec
	deliveryDuration prometheus.Histogram

	inFlight prometheus.Gauge
}

// NewFulfillmentMetrics регистрирует метрики в DefaultRegisterer.
func NewFulfillmentMetrics() *FulfillmentMetrics {
	return NewFulfillmentMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewFulfillmentMetricsWithRegisterer регистрирует метрики в указанном реестре.
func NewFulfillmentMetricsWithRegisterer(registerer prometheus.Registerer) *FulfillmentMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &FulfillmentMetrics{
		notifications: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "giftshop_payment_notifications_total",
			Help: "Payment notifications processed by source and outcome",
		}, []string{"source", "result"}),
		allocationAttempts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "giftshop_allocation_attempts_total",
			Help: "Allocation transaction attempts by outcome",
		}, []string{"result"}),
		allocationDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "giftshop_allocation_duration_seconds",
			Help:    "Duration of the allocation unit including retries",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		codesSold: registerCounter(registerer, prometheus.CounterOpts{
			Name: "giftshop_codes_sold_total",
			Help: "Gift codes moved to sold",
		}),
		inventoryFailures: registerCounter(registerer, prometheus.CounterOpts{
			Name: "giftshop_inventory_failures_total",
			Help: "Paid notifications that could not be fulfilled for lack of codes",
		}),
		deliveries: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "giftshop_deliveries_total",
			Help: "Code delivery attempts by outcome",
		}, []string{"result"}),
		deliveryDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "giftshop_delivery_duration_seconds",
			Help:    "Duration of a single delivery attempt",
			Buckets: prometheus.DefBuckets,
		}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "giftshop_notifications_in_flight",
			Help: "Payment notifications currently being processed",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordNotification учитывает итог обработки уведомления.
func (m *FulfillmentMetrics) RecordNotification(source, result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(source, result).Inc()
}

// RecordAllocationAttempt учитывает одну попытку транзакции выдачи.
func (m *FulfillmentMetrics) RecordAllocationAttempt(result string) {
	if m == nil {
		return
	}
	m.allocationAttempts.WithLabelValues(result).Inc()
}

// RecordAllocation записывает длительность выдачи и число проданных кодов.
func (m *FulfillmentMetrics) RecordAllocation(duration time.Duration, codes int) {
	if m == nil {
		return
	}
	m.allocationDuration.Observe(duration.Seconds())
	m.codesSold.Add(float64(codes))
}

// RecordInventoryFailure увеличивает счётчик оплат без кодов.
func (m *FulfillmentMetrics) RecordInventoryFailure() {
	if m == nil {
		return
	}
	m.inventoryFailures.Inc()
}

// RecordDelivery учитывает попытку доставки.
func (m *FulfillmentMetrics) RecordDelivery(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(result).Inc()
	m.deliveryDuration.Observe(duration.Seconds())
}

// InFlightStarted увеличивает число уведомлений в обработке.
func (m *FulfillmentMetrics) InFlightStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// InFlightFinished уменьшает число уведомлений в обработке.
func (m *FulfillmentMetrics) InFlightFinished() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}
