package batch

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cyp0633/libcalseal/calcrypto"
)

// Metrics counts the work done by a Pipeline
type Metrics struct {
	Pages        prometheus.Counter
	Decrypted    prometheus.Counter
	Failed       prometheus.Counter
	Verification *prometheus.CounterVec
}

// NewMetrics creates the pipeline collectors and registers them with reg.
// A nil reg leaves them unregistered. Collectors already registered by a
// previous pipeline are reused.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Pages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calseal_batch_pages_total",
			Help: "Event pages fetched by the batch decryption pipeline",
		}),
		Decrypted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calseal_batch_events_decrypted_total",
			Help: "Events decrypted by the batch decryption pipeline",
		}),
		Failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calseal_batch_events_failed_total",
			Help: "Events the batch decryption pipeline could not decrypt",
		}),
		Verification: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calseal_batch_verification_total",
			Help: "Decrypted events by aggregated signature verification status",
		}, []string{"status"}),
	}
	if reg == nil {
		return m
	}
	m.Pages = register(reg, m.Pages)
	m.Decrypted = register(reg, m.Decrypted)
	m.Failed = register(reg, m.Failed)
	m.Verification = register(reg, m.Verification)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (m *Metrics) observe(status calcrypto.VerificationStatus) {
	m.Decrypted.Inc()
	m.Verification.WithLabelValues(status.String()).Inc()
}
