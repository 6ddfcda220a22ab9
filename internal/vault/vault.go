// Package vault encrypts router credentials at rest.
//
// Stored secrets have the form hex(iv):hex(tag):hex(ciphertext), sealed with
// AES-256-GCM. Values that do not have three colon-separated parts are legacy
// plaintext and pass through unchanged.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/hkdf"
)

const (
	keySize   = 32
	nonceSize = 12
	tagSize   = 16
	hkdfInfo  = "hotspot-guardian router credentials"
)

var (
	ErrEmptyKey      = errors.New("vault: encryption key is empty")
	ErrDecryptFailed = errors.New("vault: decryption failed")
)

type Vault struct {
	key    []byte
	logger *zap.Logger
}

// New builds a vault from the configured secret. A 32-byte secret is used as
// the AES key directly; anything else is stretched with HKDF-SHA256.
func New(secret string, logger *zap.Logger) (*Vault, error) {
	if secret == "" {
		return nil, ErrEmptyKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	key := []byte(secret)
	if len(key) != keySize {
		key = make([]byte, keySize)
		r := hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo))
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, fmt.Errorf("vault: derive key: %w", err)
		}
	}
	return &Vault{key: key, logger: logger}, nil
}

func (v *Vault) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("vault: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("vault: %w", err)
	}

	iv := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("vault: read nonce: %w", err)
	}

	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ct), nil
}

// Decrypt never fails: a value that is not in the sealed format, or that
// cannot be opened, is returned as given. Open failures are logged.
func (v *Vault) Decrypt(stored string) string {
	parts := strings.Split(stored, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return stored
	}

	plaintext, err := v.open(parts[0], parts[1], parts[2])
	if err != nil {
		v.logger.Error("Unable to decrypt credential", zap.Error(err))
		return stored
	}
	return plaintext
}

func (v *Vault) open(ivHex, tagHex, ctHex string) (string, error) {
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) == 0 {
		return "", fmt.Errorf("%w: bad iv", ErrDecryptFailed)
	}
	tag, err := hex.DecodeString(tagHex)
	if err != nil || len(tag) != tagSize {
		return "", fmt.Errorf("%w: bad tag", ErrDecryptFailed)
	}
	ct, err := hex.DecodeString(ctHex)
	if err != nil {
		return "", fmt.Errorf("%w: bad ciphertext", ErrDecryptFailed)
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(iv))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}

	plaintext, err := gcm.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	return string(plaintext), nil
}
