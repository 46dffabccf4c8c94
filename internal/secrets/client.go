// Package secrets resolves the token-signing secret, from HashiCorp
// Vault when enabled or from local configuration otherwise.
package secrets

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/api"
)

// Config holds Vault configuration.
type Config struct {
	Enabled    bool
	Address    string
	Token      string
	MountPath  string // KV v2 secrets engine mount path
	SecretPath string // path of the control-plane secret
	TLSEnabled bool
	CACert     string

	// FallbackSecret is used when Vault is disabled (development and
	// tests only).
	FallbackSecret string
}

// Client wraps the HashiCorp Vault client.
type Client struct {
	client *api.Client
	config Config
}

// NewClient creates a new Vault client. When Vault is disabled the
// client serves the configured fallback secret.
func NewClient(cfg Config) (*Client, error) {
	if !cfg.Enabled {
		return &Client{config: cfg}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{CACert: cfg.CACert}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{client: client, config: cfg}, nil
}

// SigningSecret returns the token-signing secret. The secret is read
// once at startup and is read-only at runtime.
func (c *Client) SigningSecret(ctx context.Context) ([]byte, error) {
	if !c.config.Enabled {
		if c.config.FallbackSecret == "" {
			return nil, fmt.Errorf("vault disabled and no fallback signing secret configured")
		}
		return []byte(c.config.FallbackSecret), nil
	}

	path := fmt.Sprintf("%s/data/%s", c.config.MountPath, c.config.SecretPath)
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret at %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no secret found at %s", path)
	}

	// KV v2 nests the payload under "data".
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected secret format at %s", path)
	}
	value, ok := data["signing_secret"].(string)
	if !ok || value == "" {
		return nil, fmt.Errorf("signing_secret missing at %s", path)
	}
	return []byte(value), nil
}
