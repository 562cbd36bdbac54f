package middleware

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aretw0/concord/pkg/ports"
	"golang.org/x/crypto/chacha20poly1305"
)

// envelopeV1 prefixes every sealed value so unencrypted data is rejected instead of misread.
const envelopeV1 byte = 0x01

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes (chacha20poly1305.KeySize).
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

type encryptionMiddleware struct {
	next   ports.KVStore
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that seals values with XChaCha20-Poly1305.
// The key is bound to the value as additional data, so a sealed value cannot be replayed under another session ID.
func NewEncryptionMiddleware(config EncryptionConfig) (Middleware, error) {
	if len(config.ActiveKey) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("active key must be %d bytes", chacha20poly1305.KeySize)
	}
	for i, k := range config.FallbackKeys {
		if len(k) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("fallback key %d must be %d bytes", i, chacha20poly1305.KeySize)
		}
	}
	return func(next ports.KVStore) ports.KVStore {
		return &encryptionMiddleware{
			next:   next,
			config: config,
		}
	}, nil
}

func (m *encryptionMiddleware) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	sealed, err := seal(value, m.config.ActiveKey, []byte(key))
	if err != nil {
		return fmt.Errorf("failed to encrypt session: %w", err)
	}
	return m.next.Set(ctx, key, sealed, ttl)
}

func (m *encryptionMiddleware) Get(ctx context.Context, key string) ([]byte, error) {
	sealed, err := m.next.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	plain, err := openWithRotation(sealed, []byte(key), m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt session: %w", err)
	}
	return plain, nil
}

func (m *encryptionMiddleware) Delete(ctx context.Context, key string) error {
	return m.next.Delete(ctx, key)
}

func (m *encryptionMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

// Helpers

func seal(plaintext, key, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 1+aead.NonceSize(), 1+aead.NonceSize()+len(plaintext)+aead.Overhead())
	out[0] = envelopeV1
	nonce := out[1:]
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return aead.Seal(out, nonce, plaintext, ad), nil
}

func openWithRotation(sealed, ad, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if len(sealed) == 0 || sealed[0] != envelopeV1 {
		return nil, errors.New("value is missing encryption envelope")
	}

	if plain, err := open(sealed[1:], activeKey, ad); err == nil {
		return plain, nil
	}

	for _, key := range fallbackKeys {
		if plain, err := open(sealed[1:], key, ad); err == nil {
			return plain, nil
		}
	}

	return nil, errors.New("decryption failed with all available keys")
}

func open(ciphertext, key, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < aead.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:aead.NonceSize()]
	return aead.Open(nil, nonce, ciphertext[aead.NonceSize():], ad)
}
