package g2s

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Target service identifiers known to the pipeline.
const (
	TargetML  = "mlService"
	TargetLog = "logService"
)

// secretsEnv holds raw env values before they are keyed by target.
type secretsEnv struct {
	MLServiceKey  string `env:"HONEYPULSE_ML_SERVICE_KEY" envDefault:"ml-secret-key"`
	LogServiceKey string `env:"HONEYPULSE_LOG_SERVICE_KEY" envDefault:"log-secret-key"`
}

// Secrets maps a target service to the key its credentials are signed with.
type Secrets map[string][]byte

// LoadSecrets reads the per-target signing keys from the environment.
func LoadSecrets() (Secrets, error) {
	var raw secretsEnv
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("parse g2s secrets env: %w", err)
	}
	return Secrets{
		TargetML:  []byte(raw.MLServiceKey),
		TargetLog: []byte(raw.LogServiceKey),
	}, nil
}

// For returns the key for target.
func (s Secrets) For(target string) ([]byte, bool) {
	key, ok := s[target]
	return key, ok && len(key) > 0
}
