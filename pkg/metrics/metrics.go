package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Register adds collectors to the default registry. Collectors registered
// earlier, for example by a second fx app in tests, are left alone.
func Register(collectors ...prometheus.Collector) {
	for _, c := range collectors {
		if err := prometheus.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				zap.L().Warn("failed to register metrics", zap.Error(err))
			}
		}
	}
}
