package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	encPrefix = "enc:"
	keySalt   = "amightyclaw-salt-v1"
)

func deriveKey(secret string) []byte {
	sum := sha256.Sum256([]byte(keySalt + secret))
	return sum[:]
}

// Encrypt seals text with AES-256-GCM under a key derived from secret and
// returns "enc:<nonceHex>:<cipherHex>".
func Encrypt(text, secret string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("encryption secret is empty")
	}
	block, err := aes.NewCipher(deriveKey(secret))
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nil, nonce, []byte(text), nil)
	return encPrefix + hex.EncodeToString(nonce) + ":" + hex.EncodeToString(sealed), nil
}

func Decrypt(encrypted, secret string) (string, error) {
	body := strings.TrimPrefix(encrypted, encPrefix)
	parts := strings.SplitN(body, ":", 2)
	if len(parts) != 2 {
		return "", errors.New("invalid encrypted text format")
	}
	nonce, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode nonce: %w", err)
	}
	data, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	block, err := aes.NewCipher(deriveKey(secret))
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", errors.New("invalid nonce length")
	}
	plain, err := gcm.Open(nil, nonce, data, nil)
	if err != nil {
		return "", errors.New("decryption failed (wrong encryption key?)")
	}
	return string(plain), nil
}

// ResolveSecret returns value as-is unless it carries the "enc:" prefix, in
// which case it is decrypted with the config's encryption key.
func (c *Config) ResolveSecret(value string) (string, error) {
	if !strings.HasPrefix(value, encPrefix) {
		return value, nil
	}
	return Decrypt(value, c.EncryptionKey)
}

func GenerateSecret(length int) string {
	if length <= 0 {
		length = 48
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
