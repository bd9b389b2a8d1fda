// Package credential seals secrets such as the backend bearer token before
// they are written to the configuration table. Values are encrypted with
// AES-256-GCM under a key derived from machine and user identifiers, so a
// copied database is useless on another machine.
package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// SealedPrefix marks values as encrypted in storage.
const SealedPrefix = "enc:v1:"

var (
	ErrOpenFailed    = errors.New("failed to open sealed value")
	ErrInvalidFormat = errors.New("invalid sealed format")
)

// secretKeys are configuration keys whose values are sealed at rest.
var secretKeys = map[string]bool{
	"backend.token": true,
}

// IsSecretKey reports whether values under key must be sealed.
func IsSecretKey(key string) bool {
	return secretKeys[key]
}

// Sealer encrypts and decrypts stored secrets.
type Sealer struct {
	gcm cipher.AEAD
}

// NewSealer creates a sealer keyed to this machine and user.
func NewSealer() (*Sealer, error) {
	return NewSealerWithKey(machineKey())
}

// NewSealerWithKey creates a sealer from an explicit 32-byte key.
func NewSealerWithKey(key []byte) (*Sealer, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("sealer key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Sealer{gcm: gcm}, nil
}

// Seal encrypts plaintext into a storable string. Empty stays empty.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := s.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return SealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a stored value. Values without the sealed prefix were
// written before sealing existed and are returned unchanged.
func (s *Sealer) Open(stored string) (string, error) {
	if !IsSealed(stored) {
		return stored, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, SealedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	n := s.gcm.NonceSize()
	if len(raw) < n+s.gcm.Overhead() {
		return "", ErrInvalidFormat
	}
	plaintext, err := s.gcm.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", ErrOpenFailed
	}
	return string(plaintext), nil
}

// IsSealed checks if a value is already encrypted.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, SealedPrefix)
}

func machineKey() []byte {
	var b strings.Builder
	hostname, _ := os.Hostname()
	home, _ := os.UserHomeDir()
	b.WriteString(hostname)
	b.WriteString(home)
	b.WriteString(runtime.GOOS + "/" + runtime.GOARCH)
	b.WriteString("neai-token-sealer-v1")
	if uid := os.Getuid(); uid != -1 {
		b.WriteString("uid:" + strconv.Itoa(uid))
	}
	b.WriteString(os.Getenv("USER"))

	sum := sha256.Sum256([]byte(b.String()))
	return sum[:]
}

// Mask returns a display form of a secret showing at most its first and
// last four characters (runes, not bytes).
func Mask(secret string) string {
	r := []rune(secret)
	if len(r) <= 8 {
		return "****"
	}
	return string(r[:4]) + "..." + string(r[len(r)-4:])
}
