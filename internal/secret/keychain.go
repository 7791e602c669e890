package secret

import (
	"fmt"
	"os/exec"
	"strings"
)

// KeychainStore implements Store on top of the macOS Keychain, driven
// through the `security` CLI. Each key becomes a generic-password item
// under the configured service name, so passwords never land on disk in
// the connections file beyond their obfuscated fallback copy.
type KeychainStore struct {
	service string
}

// NewKeychainStore creates a KeychainStore scoped to the application's
// service name.
func NewKeychainStore() *KeychainStore {
	return &KeychainStore{service: "catdb"}
}

func (k *KeychainStore) security(args ...string) ([]byte, error) {
	return exec.Command("security", args...).Output()
}

// Set writes a keychain item for key, replacing any existing one.
func (k *KeychainStore) Set(key string, value []byte) error {
	k.Delete(key)
	_, err := k.security("add-generic-password",
		"-a", key, "-s", k.service, "-w", string(value), "-U")
	if err != nil {
		return fmt.Errorf("keychain set %q: %w", key, err)
	}
	return nil
}

// Get reads the item for key. A missing item, or a host without the
// `security` tool, reads as nil, nil so callers fall back to the
// connections file.
func (k *KeychainStore) Get(key string) ([]byte, error) {
	out, err := k.security("find-generic-password",
		"-a", key, "-s", k.service, "-w")
	if err != nil {
		return nil, nil
	}
	return []byte(strings.TrimSpace(string(out))), nil
}

// Delete removes the item for key. Deleting an absent item is not an
// error.
func (k *KeychainStore) Delete(key string) error {
	k.security("delete-generic-password", "-a", key, "-s", k.service)
	return nil
}
