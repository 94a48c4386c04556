package auth

import (
	"os"
	"time"
)

// Environment variables holding a token. The prefixed one wins.
const (
	EnvAccessToken = "VKHARVEST_ACCESS_TOKEN"
	EnvToken       = "TOKEN"
	EnvUserAgent   = "VKHARVEST_USER_AGENT"

	envAccountName = "env"
)

// EnvironmentStore is a read-only CredentialStore over the environment. It
// exposes at most one account, named "env".
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

func envToken() string {
	if token := os.Getenv(EnvAccessToken); token != "" {
		return token
	}
	return os.Getenv(EnvToken)
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(account *Account) error {
	return ErrStoreUnavailable
}

// Retrieve returns the environment account. name must be empty or "env".
func (e *EnvironmentStore) Retrieve(name string) (*Account, error) {
	token := envToken()
	if token == "" || (name != "" && name != envAccountName) {
		return nil, ErrCredentialsNotFound
	}

	return &Account{
		Name:         envAccountName,
		AccessToken:  token,
		UserAgent:    os.Getenv(EnvUserAgent),
		LastModified: time.Now(),
	}, nil
}

// List returns the environment account if a token is set
func (e *EnvironmentStore) List() ([]*Account, error) {
	account, err := e.Retrieve("")
	if err != nil {
		return []*Account{}, nil
	}
	return []*Account{account}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(name string) error {
	return ErrStoreUnavailable
}

// Exists reports whether a token is set
func (e *EnvironmentStore) Exists(name string) bool {
	_, err := e.Retrieve(name)
	return err == nil
}
