// Package identity manages the pseudonymous user token attached to every
// backend request so work can be scoped per installation.
package identity

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/phuslu/log"
)

// StorageKey is the local storage key holding the user token.
const StorageKey = "app_user_id"

const (
	tokenLength = 8
	alphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// tokenBytes are the UUID bytes free of the version and variant bits.
var tokenBytes = [tokenLength]int{0, 1, 2, 3, 4, 5, 7, 9}

// mu serializes creation and removal so concurrent callers agree on one
// token.
var mu sync.Mutex

type Storage interface {
	GetItem(key string) (string, bool, error)
	SetItem(key, value string) error
	RemoveItem(key string) error
}

// GetOrCreate returns the stored token, generating and persisting a new
// one on first use.
func GetOrCreate(store Storage) (string, error) {
	mu.Lock()
	defer mu.Unlock()

	id, ok, err := Get(store)
	if err != nil {
		return "", err
	}
	if ok {
		return id, nil
	}

	id, err = NewToken()
	if err != nil {
		return "", err
	}
	if err := store.SetItem(StorageKey, id); err != nil {
		return "", fmt.Errorf("saving user id: %w", err)
	}
	log.Info().Str("user_id", id).Msg("Generated new user ID")
	return id, nil
}

// Get returns the stored token without creating one.
func Get(store Storage) (string, bool, error) {
	id, ok, err := store.GetItem(StorageKey)
	if err != nil {
		return "", false, fmt.Errorf("reading user id: %w", err)
	}
	id = strings.TrimSpace(id)
	return id, ok && id != "", nil
}

func Clear(store Storage) error {
	mu.Lock()
	defer mu.Unlock()
	if err := store.RemoveItem(StorageKey); err != nil {
		return fmt.Errorf("clearing user id: %w", err)
	}
	return nil
}

// NewToken returns a random alphanumeric token of tokenLength characters.
func NewToken() (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generating user id: %w", err)
	}
	var b strings.Builder
	for _, i := range tokenBytes {
		b.WriteByte(alphabet[int(u[i])%len(alphabet)])
	}
	return b.String(), nil
}
