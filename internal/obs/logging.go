// Package obs carries the ambient observability stack: structured logging
// and Prometheus metrics, passed as constructor parameters to the components
// that use them rather than accessed as globals.
//
// Grounded on the teacher's observability/metrics.go (promauto + prefixed
// metric names) for the metrics half; the zap logger is an enrichment from
// the rest of the pack (IAmSoThirsty-Project-AI) since the teacher itself
// logs with the bare "log" package.
package obs

import "go.uber.org/zap"

// NewLogger builds the process-wide sugared logger. Production builds use
// zap's JSON encoder; callers needing human-readable console output during
// local runs should set dev=true.
func NewLogger(dev bool) (*zap.SugaredLogger, error) {
	var cfg zap.Config
	if dev {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}
