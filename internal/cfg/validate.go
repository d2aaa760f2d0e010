package cfg

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ccfd-server/internal/common"
	"ccfd-server/internal/ml"
)

func validateSettings(settings *Settings) error {
	if settings.Port < 1 || settings.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", settings.Port)
	}
	if settings.MetricsPort != 0 && (settings.MetricsPort < 1024 || settings.MetricsPort > 65535) {
		return fmt.Errorf("metrics port must be 0 (disabled) or between 1024 and 65535, got %d", settings.MetricsPort)
	}
	if settings.MetricsPort == settings.Port {
		return fmt.Errorf("metrics port and server port must differ, both are %d", settings.Port)
	}

	if len(settings.Models) == 0 {
		return fmt.Errorf("at least one model must be configured")
	}
	if len(settings.Models) > common.MaxEnsembleSize {
		return fmt.Errorf("at most %d models can be configured, got %d", common.MaxEnsembleSize, len(settings.Models))
	}
	for i, m := range settings.Models {
		if m.Path == "" || m.Scaler == "" {
			return fmt.Errorf("model %d: path and scaler are required", i)
		}
		if _, err := ml.ParseKind(m.Kind); err != nil {
			return fmt.Errorf("model %d (%s): %w", i, m.Path, err)
		}
	}
	if settings.PassScore < 1 || settings.PassScore > len(settings.Models) {
		return fmt.Errorf("pass score must be between 1 and %d (the number of models), got %d",
			len(settings.Models), settings.PassScore)
	}

	if settings.MaxRequestBytes < 1 || settings.MaxRequestBytes > common.MaxRequestBytesLimit {
		return fmt.Errorf("max request bytes must be between 1 and %d, got %d",
			common.MaxRequestBytesLimit, settings.MaxRequestBytes)
	}
	if settings.ReadTimeout < 0 || settings.ReadTimeout > time.Hour {
		return fmt.Errorf("read timeout must be between 0 (none) and 1h, got %v", settings.ReadTimeout)
	}
	if settings.WriteTimeout < 0 || settings.WriteTimeout > time.Hour {
		return fmt.Errorf("write timeout must be between 0 (none) and 1h, got %v", settings.WriteTimeout)
	}
	if settings.ShutdownTimeout < time.Second || settings.ShutdownTimeout > 10*time.Minute {
		return fmt.Errorf("shutdown timeout must be between 1s and 10m, got %v", settings.ShutdownTimeout)
	}
	if settings.HTTPTimeout < time.Second || settings.HTTPTimeout > 10*time.Minute {
		return fmt.Errorf("HTTP timeout must be between 1s and 10m, got %v", settings.HTTPTimeout)
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(settings.LogLevel)); err != nil {
		return fmt.Errorf("invalid log level %q", settings.LogLevel)
	}
	return nil
}
