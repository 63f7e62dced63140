package secrets

// Package secrets resolves sensitive configuration values (database
// password, Stripe API key) through the Doppler CLI, with environment
// variables as the local-development path.

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// DopplerClient reads secrets from a Doppler project/config pair.
type DopplerClient struct {
	Project string
	Config  string
}

// NewDopplerClient creates a client for the given project and config.
func NewDopplerClient(project, config string) *DopplerClient {
	return &DopplerClient{
		Project: project,
		Config:  config,
	}
}

// GetSecret retrieves a secret value. The process environment is
// consulted first so that `doppler run` and plain .env setups both work;
// only when the variable is unset does the CLI get involved.
func (d *DopplerClient) GetSecret(key string) (string, error) {
	if value := os.Getenv(key); value != "" {
		return value, nil
	}

	if _, err := exec.LookPath("doppler"); err != nil {
		return "", fmt.Errorf("doppler CLI not found: %w", err)
	}

	cmd := exec.Command("doppler", "secrets", "get", key,
		"--project", d.Project,
		"--config", d.Config,
		"--plain")

	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", key, err)
	}

	return strings.TrimSpace(string(output)), nil
}

// GetSecretWithFallback gets a secret, returning fallback when the secret
// is missing or Doppler is unavailable.
func (d *DopplerClient) GetSecretWithFallback(key, fallback string) string {
	value, err := d.GetSecret(key)
	if err != nil || value == "" {
		return fallback
	}
	return value
}
