package cfg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func createValidSettings() *Settings {
	return &Settings{
		Host:      "0.0.0.0",
		Port:      9999,
		PassScore: 2,
		Models: []ModelConfig{
			{Path: "rf.json", Scaler: "s.json", Kind: "random_forest"},
			{Path: "svm.json", Scaler: "s.json", Kind: "svm"},
			{Path: "ae.json", Scaler: "s.json", Kind: "autoencoder"},
		},
		MaxRequestBytes: 1024,
		ShutdownTimeout: 30 * time.Second,
		HTTPTimeout:     30 * time.Second,
		MetricsPort:     8080,
		LogLevel:        "info",
	}
}

func TestValidateSettings_ValidConfig(t *testing.T) {
	settings := createValidSettings()

	err := validateSettings(settings)
	if err != nil {
		t.Errorf("Expected valid config to pass, got error: %v", err)
	}
}

func TestValidateSettings_MetricsDisabled(t *testing.T) {
	settings := createValidSettings()
	settings.MetricsPort = 0
	assert.NoError(t, validateSettings(settings))
}

func TestValidateSettings_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *Settings)
		wantErr string
	}{
		{"port zero", func(s *Settings) { s.Port = 0 }, "port must be between"},
		{"port too large", func(s *Settings) { s.Port = 70000 }, "port must be between"},
		{"privileged metrics port", func(s *Settings) { s.MetricsPort = 80 }, "metrics port"},
		{"metrics port equals server port", func(s *Settings) { s.MetricsPort = 9999 }, "must differ"},
		{"no models", func(s *Settings) { s.Models = nil }, "at least one model"},
		{"too many models", func(s *Settings) {
			for len(s.Models) <= 64 {
				s.Models = append(s.Models, s.Models[0])
			}
		}, "at most 64"},
		{"model without scaler", func(s *Settings) { s.Models[1].Scaler = "" }, "path and scaler"},
		{"unknown kind", func(s *Settings) { s.Models[2].Kind = "lstm" }, "unknown model kind"},
		{"pass score zero", func(s *Settings) { s.PassScore = 0 }, "pass score"},
		{"pass score above size", func(s *Settings) { s.PassScore = 4 }, "pass score"},
		{"zero request bytes", func(s *Settings) { s.MaxRequestBytes = 0 }, "max request bytes"},
		{"huge request bytes", func(s *Settings) { s.MaxRequestBytes = 2 << 20 }, "max request bytes"},
		{"negative read timeout", func(s *Settings) { s.ReadTimeout = -time.Second }, "read timeout"},
		{"write timeout too long", func(s *Settings) { s.WriteTimeout = 2 * time.Hour }, "write timeout"},
		{"shutdown timeout too short", func(s *Settings) { s.ShutdownTimeout = 0 }, "shutdown timeout"},
		{"http timeout too short", func(s *Settings) { s.HTTPTimeout = time.Millisecond }, "HTTP timeout"},
		{"bad log level", func(s *Settings) { s.LogLevel = "verbose" }, "log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := createValidSettings()
			tt.mutate(settings)

			err := validateSettings(settings)
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
