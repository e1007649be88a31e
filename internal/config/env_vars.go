package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	appNameVar       = "APP_NAME"
	baseURLVar       = "ACTIVA_API_BASE_URL"
	defaultBaseURL   = "https://gestionactiva.citaconlaverdad.com/api"
	defaultSessionFN = ".activa/session.json"
)

type EnvVars struct{}

var _ Config = EnvVars{}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Activa Client")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

// GetAPIBaseURL returns the backend base URL with any trailing slash removed.
func (EnvVars) GetAPIBaseURL() string {
	return strings.TrimRight(GetEnv(baseURLVar, defaultBaseURL), "/")
}

func (EnvVars) GetHTTPTimeout() time.Duration {
	return getDuration("ACTIVA_HTTP_TIMEOUT", 30*time.Second)
}

// GetRefreshThreshold is how close to expiry a token may get before a
// request proactively refreshes it.
func (EnvVars) GetRefreshThreshold() time.Duration {
	return getDuration("ACTIVA_REFRESH_THRESHOLD", 5*time.Minute)
}

// GetInactivityTimeout is the idle window after which the session is
// logged out.
func (EnvVars) GetInactivityTimeout() time.Duration {
	return getDuration("ACTIVA_INACTIVITY_TIMEOUT", 30*time.Minute)
}

// GetSessionFile is where the CLI persists the session between runs.
func (EnvVars) GetSessionFile() string {
	if path := os.Getenv("ACTIVA_SESSION_FILE"); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultSessionFN
	}
	return filepath.Join(home, defaultSessionFN)
}

// GetRequestRate is the outbound request rate limit in requests per second.
// Zero disables the limiter.
func (EnvVars) GetRequestRate() float64 {
	raw := os.Getenv("ACTIVA_REQUEST_RATE")
	if raw == "" {
		return 0
	}
	rate, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return rate
}

func (EnvVars) GetRequestBurst() int {
	raw := os.Getenv("ACTIVA_REQUEST_BURST")
	if raw == "" {
		return 10
	}
	burst, err := strconv.Atoi(raw)
	if err != nil || burst < 1 {
		return 10
	}
	return burst
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

func getDuration(envVar string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(envVar)
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return defaultValue
	}
	return d
}
