// Package config resolves server startup configuration from the
// environment, following the env-var + .env pattern used elsewhere in the
// retrieval pack (kelseyhightower/envconfig + joho/godotenv) rather than the
// teacher's flag-based CLI, since server startup config is ambient plumbing
// and not the out-of-scope "command-line argument parsing" spec.md §1 names
// (that item refers to the client's connect-time arguments).
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds every environment-tunable knob the server reads at startup.
type Config struct {
	// ControlAddr is the wildcard-bound listen address for the reliable
	// control transport (spec.md §6: default port 8888).
	ControlAddr string `envconfig:"CONTROL_ADDR" default:":8888"`

	// MediaAddr is the wildcard-bound listen address for the unreliable
	// media transport (spec.md §6: default port 8889).
	MediaAddr string `envconfig:"MEDIA_ADDR" default:":8889"`

	// MetricsAddr serves /healthz and /metrics. Empty disables it.
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// OTLPEndpoint, if set, enables OpenTelemetry trace export for the
	// control-plane join (control.handshake) span. Empty disables tracing.
	OTLPEndpoint string `envconfig:"OTLP_ENDPOINT" default:""`
}

// Load reads a .env file if present (missing file is not an error) and then
// overlays process environment variables under the SFU_ prefix.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("sfu", &cfg); err != nil {
		return Config{}, fmt.Errorf("process env config: %w", err)
	}
	return cfg, nil
}
