package staging

import (
	"os"

	"github.com/phambaophuc/brushset-converter/internal/config"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// HealthCheck reports whether new scopes can be created under cfg. For the
// disk backend this creates and removes a probe directory.
func HealthCheck(cfg config.StagingConfig) string {
	if cfg.Backend == config.BackendMemory {
		return StatusHealthy
	}

	probe, err := os.MkdirTemp(cfg.Dir, "brushset-probe-")
	if err != nil {
		return StatusUnhealthy
	}
	if err := os.Remove(probe); err != nil {
		return StatusUnhealthy
	}
	return StatusHealthy
}
