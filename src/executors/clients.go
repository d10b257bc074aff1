package executors

import (
	"fmt"
	"sync"

	"marketrouter/src/connectors"
	"marketrouter/src/model"
	"marketrouter/src/portfolio"
	"marketrouter/src/security"
)

type cachedClient struct {
	keyHash string
	client  connectors.ExchangeClient
}

// AccountClients returns a portfolio.ClientSource that decrypts the stored credentials of an
// account and builds its client once. Rotated keys build a new client.
func AccountClients(registry *connectors.Registry) portfolio.ClientSource {
	var mu sync.Mutex
	cache := map[uint]cachedClient{}

	return func(account *model.Account) (connectors.ExchangeClient, error) {
		if account.Exchange == nil {
			return nil, fmt.Errorf("account %d has no exchange loaded", account.ID)
		}
		if !account.HasCredentials() {
			return nil, fmt.Errorf("account %d: %w: no key/secret set", account.ID, portfolio.ErrCredentials)
		}

		mu.Lock()
		defer mu.Unlock()
		if c, ok := cache[account.ID]; ok && c.keyHash == account.APIKeyHash+account.APISecretHash {
			return c.client, nil
		}

		creds, err := decryptCredentials(account)
		if err != nil {
			return nil, err
		}
		client, err := registry.NewClient(account.Exchange, creds)
		if err != nil {
			return nil, err
		}
		cache[account.ID] = cachedClient{keyHash: account.APIKeyHash + account.APISecretHash, client: client}
		return client, nil
	}
}

func decryptCredentials(account *model.Account) (connectors.Credentials, error) {
	var creds connectors.Credentials
	var err error

	if creds.APIKey, err = security.DecryptString(account.APIKeyHash); err != nil {
		return creds, fmt.Errorf("decrypt api key of account %d: %w", account.ID, err)
	}
	if creds.APISecret, err = security.DecryptString(account.APISecretHash); err != nil {
		return creds, fmt.Errorf("decrypt api secret of account %d: %w", account.ID, err)
	}
	if account.APIPassphraseHash != "" {
		if creds.Passphrase, err = security.DecryptString(account.APIPassphraseHash); err != nil {
			return creds, fmt.Errorf("decrypt api passphrase of account %d: %w", account.ID, err)
		}
	}
	return creds, nil
}
