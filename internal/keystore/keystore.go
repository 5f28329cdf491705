// Package keystore reads the notification webhook token from the system
// keychain.
package keystore

import (
	"errors"
	"fmt"
	"log"

	"github.com/zalando/go-keyring"
)

const tokenUser = "webhook-token"

// LoadToken returns the configured token when set, otherwise the token
// stored under service in the keychain. A missing keychain entry yields an
// empty token.
func LoadToken(service, configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if service == "" {
		return "", nil
	}

	token, err := keyring.Get(service, tokenUser)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", nil
		}
		// Headless hosts often have no secret service; run without auth.
		log.Printf("WARNING: Failed to read webhook token from keychain: %v", err)
		return "", nil
	}
	return token, nil
}

// StoreToken saves token under service in the keychain
func StoreToken(service, token string) error {
	if service == "" {
		return fmt.Errorf("keyring service name is required")
	}
	if err := keyring.Set(service, tokenUser, token); err != nil {
		return fmt.Errorf("failed to store webhook token: %w", err)
	}
	return nil
}

// DeleteToken removes the stored token
func DeleteToken(service string) error {
	err := keyring.Delete(service, tokenUser)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete webhook token: %w", err)
	}
	return nil
}
