package secret

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/semmidev/mongostash/internal/config"
	"github.com/semmidev/mongostash/internal/domain"
)

type VaultStore struct {
	client *api.Client
}

func NewVault(cfg *config.VaultConfig) (*VaultStore, error) {
	vaultCfg := api.DefaultConfig()
	if vaultCfg.Error != nil {
		return nil, fmt.Errorf("failed to read vault environment: %w", vaultCfg.Error)
	}
	vaultCfg.Address = cfg.Host
	vaultCfg.MaxRetries = 0

	client, err := api.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &VaultStore{client: client}, nil
}

// RenewSelf extends the lifetime of the client token.
func (v *VaultStore) RenewSelf(ctx context.Context, increment time.Duration) error {
	_, err := v.client.Auth().Token().RenewSelfWithContext(ctx, int(increment.Seconds()))
	if err != nil {
		return fmt.Errorf("failed to renew vault token: %w", err)
	}
	return nil
}

// ReadSecret returns the payload stored at path. KV version 2 responses are
// unwrapped so callers always see the key/value pairs.
func (v *VaultStore) ReadSecret(ctx context.Context, path string) (map[string]interface{}, error) {
	secret, err := v.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vault secret %s: %w", path, maybePermissionDenied(err))
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no secret found at %s", path)
	}

	data := secret.Data
	if nested, ok := data["data"].(map[string]interface{}); ok {
		if _, hasMeta := data["metadata"]; hasMeta {
			data = nested
		}
	}
	return data, nil
}

// ClassifyRenewal decides whether a token renewal failure may be ignored.
// Vault answers 400 or 403 when asked to renew a root or otherwise
// non-renewable token; any other failure is fatal.
func ClassifyRenewal(err error) domain.Severity {
	if err == nil {
		return domain.Ignorable
	}
	var apiErr *api.ResponseError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusBadRequest, http.StatusForbidden:
			return domain.Ignorable
		}
	}
	return domain.Fatal
}

var ErrPermissionDenied = errors.New("permission denied")

func maybePermissionDenied(err error) error {
	var apiErr *api.ResponseError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return err
}
