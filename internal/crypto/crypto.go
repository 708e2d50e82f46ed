// Package crypto implements C1: password-derived symmetric encryption of
// host-memory payloads. A single 256-bit key, derived from the user's
// password with Argon2id over a fixed per-install salt, wraps plaintext
// with AES-256-GCM. The wire format is the literal tag "ENC:v1:" followed
// by base64(nonce(12) || ciphertext || tag(16)), matching spec §6.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"

	corekiterrors "github.com/knowhost/corekit/internal/errors"
)

// WirePrefix is the literal tag that discriminates encrypted payloads.
const WirePrefix = "ENC:v1:"

// Argon2id tuning, grounded on the NasServer vault's KDF constants.
const (
	argonMemory  = 64 * 1024 // KiB
	argonTime    = 1
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
	nonceLen     = 12
	tagLen       = 16
)

// verifyConstant is the known plaintext whose ciphertext lives in the
// verification file; `verify_password` attempts to decrypt it.
const verifyConstant = "corekit-password-verification-v1"

const (
	saltFileName   = ".salt"
	verifyFileName = ".password"
)

// Manager owns the lifecycle of the symmetric key: deriving it from a
// password, holding it in RAM while unlocked, and wrapping/unwrapping
// plaintext for callers. It is safe for concurrent use; only
// SetPassword/ClearPassword/ChangePassword/Lock/Unlock mutate the key,
// under a writer lock, while
// Encrypt/Decrypt take a reader lock.
type Manager struct {
	mu      sync.RWMutex
	dataDir string
	salt    []byte
	key     []byte // nil when locked or no password set
	locked  bool
}

// New constructs a Manager rooted at dataDir (spec §6's knowledge/
// directory). It does not derive or load a key; call Unlock or
// SetPassword next.
func New(dataDir string) (*Manager, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, corekiterrors.Persistence("failed to create crypto data dir", err)
	}
	m := &Manager{dataDir: dataDir, locked: true}
	if salt, err := os.ReadFile(m.saltPath()); err == nil {
		m.salt = salt
	} else if !os.IsNotExist(err) {
		return nil, corekiterrors.Persistence("failed to read salt file", err)
	}
	return m, nil
}

func (m *Manager) saltPath() string   { return filepath.Join(m.dataDir, saltFileName) }
func (m *Manager) verifyPath() string { return filepath.Join(m.dataDir, verifyFileName) }

// HasPassword reports whether a password has been set for this install
// (a verification file exists on disk).
func (m *Manager) HasPassword() bool {
	_, err := os.Stat(m.verifyPath())
	return err == nil
}

// deriveKey runs Argon2id over password and the install salt.
func deriveKey(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

func newSalt() ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// SetPassword establishes a new password for an install that has none
// yet. It generates a fresh salt (if one does not already exist),
// derives the key, writes the verification file, and leaves the
// Manager unlocked.
func (m *Manager) SetPassword(password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.salt == nil {
		salt, err := newSalt()
		if err != nil {
			return corekiterrors.CryptoFailure(corekiterrors.ErrCodeCryptoSetup, "failed to generate salt", err)
		}
		if err := os.WriteFile(m.saltPath(), salt, 0o600); err != nil {
			return corekiterrors.CryptoFailure(corekiterrors.ErrCodeCryptoSetup, "failed to persist salt", err)
		}
		m.salt = salt
	}

	key := deriveKey(password, m.salt)
	ciphertext, err := encryptWithKey(key, []byte(verifyConstant))
	if err != nil {
		return corekiterrors.CryptoFailure(corekiterrors.ErrCodeCryptoSetup, "failed to seal verification blob", err)
	}
	if err := writeFileAtomic(m.verifyPath(), []byte(ciphertext)); err != nil {
		return corekiterrors.CryptoFailure(corekiterrors.ErrCodeCryptoSetup, "failed to persist verification file", err)
	}

	m.key = key
	m.locked = false
	return nil
}

// VerifyPassword reports whether password matches the install's current
// password by attempting to decrypt the verification file.
func (m *Manager) VerifyPassword(password string) (bool, error) {
	m.mu.RLock()
	salt := m.salt
	m.mu.RUnlock()

	if salt == nil {
		return false, corekiterrors.CryptoFailure(corekiterrors.ErrCodeCryptoUnlock, "no password configured", nil)
	}
	blob, err := os.ReadFile(m.verifyPath())
	if err != nil {
		return false, corekiterrors.CryptoFailure(corekiterrors.ErrCodeCryptoUnlock, "failed to read verification file", err)
	}
	key := deriveKey(password, salt)
	plaintext, err := decryptWithKey(key, string(blob))
	if err != nil {
		return false, nil // wrong password is not an I/O error
	}
	return subtle.ConstantTimeCompare(plaintext, []byte(verifyConstant)) == 1, nil
}

// Unlock derives the key from password and, if it matches the
// verification file, holds it in RAM.
func (m *Manager) Unlock(password string) error {
	ok, err := m.VerifyPassword(password)
	if err != nil {
		return err
	}
	if !ok {
		return corekiterrors.CryptoFailure(corekiterrors.ErrCodeCryptoUnlock, "incorrect password", nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.key = deriveKey(password, m.salt)
	m.locked = false
	return nil
}

// Lock wipes the key from RAM.
func (m *Manager) Lock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	secureWipe(m.key)
	m.key = nil
	m.locked = true
}

// IsUnlocked reports whether the key currently lives in RAM.
func (m *Manager) IsUnlocked() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.locked
}

// Encrypt wraps plaintext under the current key, producing the spec
// §6 wire format. Returns a CryptoError if locked.
func (m *Manager) Encrypt(plaintext string) (string, error) {
	m.mu.RLock()
	key := m.key
	locked := m.locked
	m.mu.RUnlock()
	if locked || key == nil {
		return "", corekiterrors.CryptoFailure(corekiterrors.ErrCodeCryptoLocked, "crypto manager is locked", nil)
	}
	ct, err := encryptWithKey(key, []byte(plaintext))
	if err != nil {
		return "", corekiterrors.CryptoFailure(corekiterrors.ErrCodeCryptoDecrypt, "encryption failed", err)
	}
	return ct, nil
}

// Decrypt unwraps ciphertext. Per spec §7, when locked or on AEAD
// failure it returns the ciphertext unchanged alongside a CryptoError
// so that callers on the search path can display the obfuscated
// content rather than fail the whole query.
func (m *Manager) Decrypt(ciphertext string) (string, error) {
	if !m.IsEncrypted(ciphertext) {
		return ciphertext, nil
	}
	m.mu.RLock()
	key := m.key
	locked := m.locked
	m.mu.RUnlock()
	if locked || key == nil {
		return ciphertext, corekiterrors.CryptoFailure(corekiterrors.ErrCodeCryptoLocked, "crypto manager is locked", nil)
	}
	plaintext, err := decryptWithKey(key, ciphertext)
	if err != nil {
		return ciphertext, corekiterrors.CryptoFailure(corekiterrors.ErrCodeCryptoDecrypt, "decryption failed", err)
	}
	return string(plaintext), nil
}

// IsEncrypted reports whether s carries the wire-format prefix.
func (m *Manager) IsEncrypted(s string) bool {
	return strings.HasPrefix(s, WirePrefix)
}

// IsEncryptedBytes is the []byte convenience form of IsEncrypted.
func IsEncryptedBytes(b []byte) bool {
	return strings.HasPrefix(string(b), WirePrefix)
}

// ChangePassword atomically rotates the password. It derives the new
// key, invokes reencrypt (which the caller uses to decrypt every
// stored blob with oldKey and re-encrypt it with newKey, typically via
// a staging area), and only on success commits the new verification
// file. A failure inside reencrypt leaves the Manager's on-disk state
// untouched.
func (m *Manager) ChangePassword(oldPassword, newPassword string, reencrypt func(oldKey, newKey []byte) error) error {
	ok, err := m.VerifyPassword(oldPassword)
	if err != nil {
		return err
	}
	if !ok {
		return corekiterrors.CryptoFailure(corekiterrors.ErrCodeCryptoUnlock, "incorrect current password", nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	oldKey := deriveKey(oldPassword, m.salt)
	newKey := deriveKey(newPassword, m.salt)

	if reencrypt != nil {
		if err := reencrypt(oldKey, newKey); err != nil {
			return corekiterrors.CryptoFailure(corekiterrors.ErrCodeCryptoSetup, "re-encryption failed, password unchanged", err)
		}
	}

	ciphertext, err := encryptWithKey(newKey, []byte(verifyConstant))
	if err != nil {
		return corekiterrors.CryptoFailure(corekiterrors.ErrCodeCryptoSetup, "failed to seal new verification blob", err)
	}
	if err := writeFileAtomic(m.verifyPath(), []byte(ciphertext)); err != nil {
		return corekiterrors.CryptoFailure(corekiterrors.ErrCodeCryptoSetup, "failed to persist new verification file", err)
	}

	secureWipe(m.key)
	m.key = newKey
	m.locked = false
	secureWipe(oldKey)
	return nil
}

// DecryptAllResult reports the outcome of a bulk decrypt pass, used to
// gate `clear_password` (spec §4.1: clearing the password is permitted
// only after every encrypted blob decrypts successfully).
type DecryptAllResult struct {
	Count int
	OK    int
}

// DecryptAll decrypts every blob in ciphertexts under the current key,
// returning the plaintexts (ciphertext preserved in place for any that
// fail) and a count of how many succeeded.
func (m *Manager) DecryptAll(ciphertexts []string) ([]string, DecryptAllResult, error) {
	if !m.IsUnlocked() {
		return nil, DecryptAllResult{}, corekiterrors.CryptoFailure(corekiterrors.ErrCodeCryptoLocked, "crypto manager is locked", nil)
	}
	out := make([]string, len(ciphertexts))
	result := DecryptAllResult{Count: len(ciphertexts)}
	for i, ct := range ciphertexts {
		plain, err := m.Decrypt(ct)
		out[i] = plain
		if err == nil {
			result.OK++
		}
	}
	return out, result, nil
}

// ClearPassword removes the password entirely. Per spec §4.1 this is
// only safe after a successful DecryptAll; callers must verify that
// externally before calling ClearPassword.
func (m *Manager) ClearPassword() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := os.Remove(m.verifyPath()); err != nil && !os.IsNotExist(err) {
		return corekiterrors.Persistence("failed to remove verification file", err)
	}
	secureWipe(m.key)
	m.key = nil
	m.locked = true
	return nil
}

// EncryptWithKey wraps plaintext under an explicit raw key rather than
// the Manager's own held key. ChangePassword hands the old and new raw
// keys to its reencrypt callback; this and DecryptWithKey are what that
// callback uses to actually rewrap every stored blob (spec §4.1: "it
// enumerates every encrypted blob... decrypts with the old key,
// re-encrypts with the new key").
func EncryptWithKey(key []byte, plaintext string) (string, error) {
	return encryptWithKey(key, []byte(plaintext))
}

// DecryptWithKey unwraps ciphertext under an explicit raw key. See
// EncryptWithKey.
func DecryptWithKey(key []byte, ciphertext string) (string, error) {
	plain, err := decryptWithKey(key, ciphertext)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func encryptWithKey(key, plaintext []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	blob := append(nonce, sealed...)
	return WirePrefix + base64.StdEncoding.EncodeToString(blob), nil
}

func decryptWithKey(key []byte, ciphertext string) ([]byte, error) {
	if !strings.HasPrefix(ciphertext, WirePrefix) {
		return nil, fmt.Errorf("not an ENC:v1: payload")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, WirePrefix))
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	if len(raw) < nonceLen+tagLen {
		return nil, fmt.Errorf("ciphertext too short")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce, sealed := raw[:nonceLen], raw[nonceLen:]
	return gcm.Open(nil, nonce, sealed, nil)
}

// writeFileAtomic writes data to path via a temp file + rename, so a
// crash mid-write never leaves a half-written verification file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// secureWipe zeroes key bytes before they're dropped, and keeps the
// slice alive until after the zeroing so the compiler can't elide it.
func secureWipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
