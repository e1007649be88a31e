package config

import "time"

// Config is the client-side configuration surface: where the API lives and
// the session lifecycle thresholds.
type Config interface {
	GetAppName() string
	GetEnv() string
	GetAPIBaseURL() string
	GetHTTPTimeout() time.Duration
	GetRefreshThreshold() time.Duration
	GetInactivityTimeout() time.Duration
	GetSessionFile() string
	GetRequestRate() float64
	GetRequestBurst() int
}

type mainConfig struct {
	EnvVars
}

func New() Config {
	return mainConfig{}
}
