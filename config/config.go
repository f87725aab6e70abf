// Package config implements the runtime's ambient configuration loading:
// an env-driven RuntimeConfig assembled from a gzip+base64 JSON blob, plus
// the listen address and log format resolution §6.6 specifies. No per-field
// environment variables are read.
//
// Grounded on appruntime/exported/config/parse.go's ParseRuntime: the same
// "gzip:" prefix convention and StdEncoding-then-RawURLEncoding fallback,
// adapted from the teacher's ENCORE_RUNTIME_CONFIG env var to this module's
// RPLANE_RUNTIME_CONFIG. A malformed blob is returned as an error rather
// than ending the process.
package config

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/rs/xid"
)

// Service describes one routable downstream service, the minimal subset of
// the teacher's config.Service this module's gateway/proxy need.
type Service struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ServiceAuth names the service-auth method to construct: "noop" or
// "encore" (§4.3's derived-key HMAC scheme).
type ServiceAuth struct {
	Method string `json:"method"`
}

// PlatformKey is one versioned platform-ingress HMAC key (§4.4).
type PlatformKey struct {
	ID   uint32 `json:"id"`
	Data string `json:"data"` // base64-encoded secret
}

// RuntimeConfig is the process-wide configuration blob, loaded once at
// startup from RPLANE_RUNTIME_CONFIG.
type RuntimeConfig struct {
	AppID    string `json:"app_id"`
	EnvID    string `json:"env_id"`
	DeployID string `json:"deploy_id"`
	AppCommit string `json:"app_commit"`

	APIBaseURL string `json:"api_base_url"`

	Services []Service `json:"services"`

	HostedServices []string `json:"hosted_services"`
	HostedGateways []string `json:"hosted_gateways"`

	ServiceAuth  ServiceAuth   `json:"service_auth"`
	PlatformKeys []PlatformKey `json:"platform_keys"`

	TraceEndpoint string `json:"trace_endpoint"`
}

func gunzip(data []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(gz)
}

// ParseRuntimeConfig decodes blob, which is optionally "gzip:"-prefixed and
// base64-encoded (StdEncoding, falling back to RawURLEncoding for blobs
// produced by an older encoder), into a RuntimeConfig.
func ParseRuntimeConfig(blob string) (*RuntimeConfig, error) {
	blob, gzipped := strings.CutPrefix(blob, "gzip:")

	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		raw, err = base64.RawURLEncoding.DecodeString(blob)
	}
	if err != nil {
		return nil, fmt.Errorf("config: could not decode runtime config: %w", err)
	}

	if gzipped {
		if raw, err = gunzip(raw); err != nil {
			return nil, fmt.Errorf("config: could not gunzip runtime config: %w", err)
		}
	}

	var cfg RuntimeConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: could not parse runtime config: %w", err)
	}

	if cfg.APIBaseURL != "" {
		if _, err := url.Parse(cfg.APIBaseURL); err != nil {
			return nil, fmt.Errorf("config: invalid api base url: %w", err)
		}
	}

	return &cfg, nil
}

// LoadRuntimeConfig reads RPLANE_RUNTIME_CONFIG from the environment and
// parses it. When the variable is unset it returns, not an error, a
// RuntimeConfig whose only set field is a generated DeployID; no other
// environment variables are consulted.
func LoadRuntimeConfig() (*RuntimeConfig, error) {
	blob := os.Getenv("RPLANE_RUNTIME_CONFIG")
	if blob == "" {
		return &RuntimeConfig{DeployID: xid.New().String()}, nil
	}
	cfg, err := ParseRuntimeConfig(blob)
	if err != nil {
		return nil, err
	}
	if cfg.DeployID == "" {
		// Local runs and ad-hoc deployments don't always have a deploy id
		// assigned upstream; xid gives us a sortable, collision-free one
		// rather than leaving the trace uploader's X-Encore-Deploy-ID
		// header empty.
		cfg.DeployID = xid.New().String()
	}
	return cfg, nil
}

const defaultListenAddr = "0.0.0.0"

// ListenAddr resolves §6.6's listen-address rule: RPLANE_LISTEN_ADDR verbatim
// if set, else 0.0.0.0:$PORT.
func ListenAddr() string {
	if addr := os.Getenv("RPLANE_LISTEN_ADDR"); addr != "" {
		return addr
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	return defaultListenAddr + ":" + port
}

// LogFormat is either "json" (default) or "console", selected by
// RPLANE_LOG_FORMAT=console per §6.6.
func LogFormat() string {
	if os.Getenv("RPLANE_LOG_FORMAT") == "console" {
		return "console"
	}
	return "json"
}
