package observability

import (
	"log/slog"
	"os"

	"github.com/univac-1/risk-analyzer/internal/config"
)

// SetupLogger builds the process-wide JSON logger. Dev runs log at debug,
// everything else at info. Every line carries the service name and
// environment so aggregated logs stay filterable.
func SetupLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.IsDev() {
		level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
}
