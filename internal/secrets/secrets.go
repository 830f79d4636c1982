// Package secrets stores and retrieves per-venue trading credentials in
// HashiCorp Vault, with a local cache so live gate/consensus evaluation
// never blocks on a Vault round trip.
package secrets

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"
)

// VenueCredentials is the API key pair a venue connector needs to place
// and query orders.
type VenueCredentials struct {
	Venue     string `json:"venue"`
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	IsTestnet bool   `json:"is_testnet"`
}

// Config configures the Vault-backed store.
type Config struct {
	Enabled    bool
	Address    string
	Token      string
	MountPath  string
	SecretPath string
}

// Store caches venue credentials and mirrors writes to Vault when enabled;
// with Vault disabled it behaves as a process-local credential cache,
// matching the teacher's development-mode fallback.
type Store struct {
	client *api.Client
	cfg    Config
	mu     sync.RWMutex
	cache  map[string]*VenueCredentials
}

// NewStore builds a Store, connecting to Vault only when cfg.Enabled.
func NewStore(cfg Config) (*Store, error) {
	s := &Store{cfg: cfg, cache: make(map[string]*VenueCredentials)}
	if !cfg.Enabled {
		return s, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	s.client = client
	return s, nil
}

func (s *Store) path(venue string) string {
	return fmt.Sprintf("%s/data/%s/%s", s.cfg.MountPath, s.cfg.SecretPath, venue)
}

// Put stores venue credentials, writing through to Vault when enabled.
func (s *Store) Put(ctx context.Context, creds VenueCredentials) error {
	s.mu.Lock()
	s.cache[creds.Venue] = &creds
	s.mu.Unlock()

	if !s.cfg.Enabled {
		return nil
	}

	_, err := s.client.Logical().WriteWithContext(ctx, s.path(creds.Venue), map[string]interface{}{
		"data": map[string]interface{}{
			"api_key":    creds.APIKey,
			"api_secret": creds.APISecret,
			"is_testnet": creds.IsTestnet,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to store venue credentials in vault: %w", err)
	}
	return nil
}

// Get returns a venue's credentials, preferring the local cache and
// falling back to Vault on a miss.
func (s *Store) Get(ctx context.Context, venue string) (*VenueCredentials, error) {
	s.mu.RLock()
	if cached, ok := s.cache[venue]; ok {
		s.mu.RUnlock()
		return cached, nil
	}
	s.mu.RUnlock()

	if !s.cfg.Enabled {
		return nil, fmt.Errorf("credentials for venue %q not found", venue)
	}

	secret, err := s.client.Logical().ReadWithContext(ctx, s.path(venue))
	if err != nil {
		return nil, fmt.Errorf("failed to read venue credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("credentials for venue %q not found", venue)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format for venue %q", venue)
	}

	creds := &VenueCredentials{
		Venue:     venue,
		APIKey:    stringField(data, "api_key"),
		APISecret: stringField(data, "api_secret"),
		IsTestnet: boolField(data, "is_testnet"),
	}

	s.mu.Lock()
	s.cache[venue] = creds
	s.mu.Unlock()

	return creds, nil
}

// Delete removes a venue's credentials from both the cache and Vault.
func (s *Store) Delete(ctx context.Context, venue string) error {
	s.mu.Lock()
	delete(s.cache, venue)
	s.mu.Unlock()

	if !s.cfg.Enabled {
		return nil
	}
	_, err := s.client.Logical().DeleteWithContext(ctx, s.path(venue))
	if err != nil {
		return fmt.Errorf("failed to delete venue credentials from vault: %w", err)
	}
	return nil
}

func stringField(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func boolField(data map[string]interface{}, key string) bool {
	if v, ok := data[key].(bool); ok {
		return v
	}
	return false
}
