package crypto

import (
	"github.com/99designs/keyring"

	corekiterrors "github.com/knowhost/corekit/internal/errors"
)

// keychainService names the credential-store entry; grounded on the
// vvoland-cagent manifest's use of 99designs/keyring for the same
// purpose (stashing a secret so a later launch can auto-unlock).
const keychainService = "corekit-knowledge"
const keychainKey = "master-password"

// Keychain hands a password to (and recovers it from) the OS credential
// store, so a process restart can auto-unlock without reprompting. This
// is the single side effect Crypto has on the host environment (spec
// §4.1 "Key lifecycle").
type Keychain struct{}

// NewKeychain constructs a Keychain. Opening the backend is deferred to
// each call so a missing credential-store backend only fails the
// specific operation, never construction.
func NewKeychain() *Keychain {
	return &Keychain{}
}

func (k *Keychain) open() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: keychainService,
	})
	if err != nil {
		return nil, corekiterrors.CryptoFailure(corekiterrors.ErrCodeCryptoSetup, "failed to open OS credential store", err)
	}
	return ring, nil
}

// Persist stashes password in the OS credential store.
func (k *Keychain) Persist(password string) error {
	ring, err := k.open()
	if err != nil {
		return err
	}
	if err := ring.Set(keyring.Item{
		Key:  keychainKey,
		Data: []byte(password),
	}); err != nil {
		return corekiterrors.CryptoFailure(corekiterrors.ErrCodeCryptoSetup, "failed to persist password to credential store", err)
	}
	return nil
}

// Recover returns the previously persisted password, if any.
func (k *Keychain) Recover() (string, error) {
	ring, err := k.open()
	if err != nil {
		return "", err
	}
	item, err := ring.Get(keychainKey)
	if err != nil {
		return "", corekiterrors.CryptoFailure(corekiterrors.ErrCodeCryptoUnlock, "no password in credential store", err)
	}
	return string(item.Data), nil
}

// Forget removes the persisted password, e.g. when the user clears
// their password entirely.
func (k *Keychain) Forget() error {
	ring, err := k.open()
	if err != nil {
		return err
	}
	if err := ring.Remove(keychainKey); err != nil && err != keyring.ErrKeyNotFound {
		return corekiterrors.CryptoFailure(corekiterrors.ErrCodeCryptoSetup, "failed to remove password from credential store", err)
	}
	return nil
}
