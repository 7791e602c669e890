// Package secret handles at-rest protection of connection passwords.
//
// The default Obfuscator is a reversible letter rotation (rot13). It is NOT
// a security control — anyone with the config file can recover the value —
// it only keeps passwords from sitting on disk in plaintext, a tradeoff the
// user accepted. Deployments that need real protection should use the
// KeychainStore (or another Store implementation) instead.
package secret

// Store is a pluggable keyed secret store. Implementations may back onto
// the OS keychain, a vault, or environment variables.
type Store interface {
	// Set stores a secret value under the given key.
	Set(key string, value []byte) error

	// Get retrieves the secret value for the given key. Returns a nil
	// slice and nil error when the key does not exist.
	Get(key string) ([]byte, error)

	// Delete removes the secret for the given key.
	Delete(key string) error
}

// Rotate13 applies the self-inverse rot13 transform to ASCII letters,
// leaving all other bytes untouched. Applying it twice yields the input.
func Rotate13(s string) string {
	out := []rune(s)
	for i, r := range out {
		switch {
		case r >= 'a' && r <= 'z':
			out[i] = 'a' + (r-'a'+13)%26
		case r >= 'A' && r <= 'Z':
			out[i] = 'A' + (r-'A'+13)%26
		}
	}
	return string(out)
}
