// Invariants are conditions in code that must be true; otherwise, there is a bug in code.
// Raising one records an error log and increments a monitoring counter instead of panicking,
// so a broken assumption degrades the spell-check service rather than crashing it.
// The caller is still expected to handle the erroneous case, e.g. by returning early.
//
// Do not use invariants for conditions that depend on external factors; failing to load a
// partition from S3 is an error, not an invariant violation.

package utils

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	promclient "github.com/prometheus/client_model/go"
)

var invariantsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "spellcache",
	Name:      "invariants_total",
	Help:      "The total number of invariant violations",
}, []string{
	"module", // The module in which this invariant occurred.
	"type",   // The type of the invariant that occurred.
})

var invariantLogger atomic.Pointer[StructuredLogger]

// SetInvariantLogger sets the logger used to report invariant violations
func SetInvariantLogger(logger *StructuredLogger) {
	invariantLogger.Store(logger)
}

// RaiseInvariant reports a violated invariant
func RaiseInvariant(module, invariantType, msg string, fields map[string]interface{}) {
	invariantsMetric.WithLabelValues(module, invariantType).Inc()

	logger := invariantLogger.Load()
	if logger == nil {
		logger = NewStructuredLogger(nil)
	}
	logger.WithFields(map[string]interface{}{
		"invariant": invariantType,
		"module":    module,
	}).Error(msg, fields)
}

// GetInvariantCount returns the current value of the invariant counter for the given labels
func GetInvariantCount(module, invariantType string) int {
	metric := &promclient.Metric{}
	if err := invariantsMetric.WithLabelValues(module, invariantType).Write(metric); err != nil {
		return 0
	}
	return int(metric.GetCounter().GetValue())
}
