// SPDX-License-Identifier: MIT

// Package config loads the daemon configuration from the environment.
package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// Config is the immutable configuration snapshot the daemon runs with.
type Config struct {
	// APIURL is the base URL of the Cyoda REST API, e.g. "https://host/api".
	APIURL string
	// GRPCAddress is the host:port of the calculation-node event service.
	GRPCAddress string

	// APIKey and APISecret are the login credentials. The environment carries
	// them base64-encoded (CYODA_API_KEY / CYODA_API_SECRET).
	APIKey    string
	APISecret string

	// ProcessorTag identifies this client's processing-node group.
	ProcessorTag string
	// Owner is the owner identifier stamped on every outbound event.
	Owner string
	// Source is the source identifier stamped on every outbound event.
	Source string

	// GRPCInsecure disables TLS on the event stream. Local development only.
	GRPCInsecure bool

	// BackoffInitial and BackoffMax bound the reconnect backoff schedule.
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// ListenAddr is the bind address for the health/metrics HTTP listener.
	ListenAddr string
}

const (
	defaultOwner          = "PLAY"
	defaultSource         = "SimpleSample"
	defaultBackoffInitial = time.Second
	defaultBackoffMax     = 30 * time.Second
)

// Load reads the configuration from the environment and validates it.
func Load() (Config, error) {
	host := ParseString("CYODA_HOST", "")

	apiURL := ParseString("CYODA_API_URL", "")
	if apiURL == "" && host != "" {
		apiURL = fmt.Sprintf("https://%s/api", host)
	}
	grpcAddress := ParseString("GRPC_ADDRESS", "")
	if grpcAddress == "" && host != "" {
		grpcAddress = fmt.Sprintf("grpc-%s:443", host)
	}

	apiKey, err := decodeSecret("CYODA_API_KEY")
	if err != nil {
		return Config{}, err
	}
	apiSecret, err := decodeSecret("CYODA_API_SECRET")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		APIURL:         strings.TrimRight(apiURL, "/"),
		GRPCAddress:    grpcAddress,
		APIKey:         apiKey,
		APISecret:      apiSecret,
		ProcessorTag:   ParseString("GRPC_PROCESSOR_TAG", ""),
		Owner:          ParseString("CALC_OWNER", defaultOwner),
		Source:         ParseString("CALC_SOURCE", defaultSource),
		GRPCInsecure:   ParseBool("GRPC_INSECURE", false),
		BackoffInitial: ParseDuration("GRPC_BACKOFF_INITIAL", defaultBackoffInitial),
		BackoffMax:     ParseDuration("GRPC_BACKOFF_MAX", defaultBackoffMax),
		ListenAddr:     ParseString("LISTEN_ADDR", ":8090"),
	}
	return cfg, cfg.Validate()
}

// Validate reports the first missing or inconsistent setting.
func (c Config) Validate() error {
	switch {
	case c.APIURL == "":
		return fmt.Errorf("config: CYODA_API_URL (or CYODA_HOST) is required")
	case c.GRPCAddress == "":
		return fmt.Errorf("config: GRPC_ADDRESS (or CYODA_HOST) is required")
	case c.APIKey == "":
		return fmt.Errorf("config: CYODA_API_KEY is required")
	case c.APISecret == "":
		return fmt.Errorf("config: CYODA_API_SECRET is required")
	case c.ProcessorTag == "":
		return fmt.Errorf("config: GRPC_PROCESSOR_TAG is required")
	case c.BackoffInitial <= 0:
		return fmt.Errorf("config: GRPC_BACKOFF_INITIAL must be positive")
	case c.BackoffMax < c.BackoffInitial:
		return fmt.Errorf("config: GRPC_BACKOFF_MAX must be >= GRPC_BACKOFF_INITIAL")
	}
	return nil
}

// decodeSecret reads a base64-encoded credential from the environment.
func decodeSecret(key string) (string, error) {
	raw := ParseString(key, "")
	if raw == "" {
		return "", nil
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("config: %s is not valid base64: %w", key, err)
	}
	return string(decoded), nil
}
