package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/scrypt"
)

// Secrets file layout: salt | nonce | AES-256-GCM ciphertext of a JSON map.
const (
	saltSize = 16
	scryptN  = 32768 // 2^15
	scryptR  = 8
	scryptP  = 1
	keySize  = 32 // AES-256
)

//nolint:gochecknoglobals // in-memory decrypted secrets, process-wide
var (
	decryptedSecrets map[string]string
	secretsMu        sync.RWMutex
)

// SetDecryptedSecrets stores decrypted secrets in memory.
func SetDecryptedSecrets(secrets map[string]string) {
	secretsMu.Lock()
	defer secretsMu.Unlock()
	decryptedSecrets = secrets
}

// AllSecrets returns a copy of the decrypted secrets currently in memory,
// for read-modify-write of the secrets file.
func AllSecrets() map[string]string {
	secretsMu.RLock()
	defer secretsMu.RUnlock()
	out := make(map[string]string, len(decryptedSecrets))
	for k, v := range decryptedSecrets {
		out[k] = v
	}
	return out
}

// GetSecret returns a secret value by name using standard precedence:
// decrypted secrets file first, then environment variables.
func GetSecret(name string) (string, error) {
	secretsMu.RLock()
	if decryptedSecrets != nil {
		if value, exists := decryptedSecrets[name]; exists && value != "" {
			secretsMu.RUnlock()
			return value, nil
		}
	}
	secretsMu.RUnlock()

	if value := os.Getenv(name); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("secret %s not found in secrets file or environment", name)
}

func deriveKey(passphrase string, salt []byte) ([]byte, error) {
	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// SaveSecretsFile encrypts the secrets map with a passphrase-derived key and
// writes it to path.
func SaveSecretsFile(path, passphrase string, secrets map[string]string) error {
	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)
	payload := append(append(salt, nonce...), ciphertext...)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create secrets directory: %w", err)
	}
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return fmt.Errorf("failed to write secrets file: %w", err)
	}
	return nil
}

// LoadSecretsFile decrypts the secrets file at path and stores the result in
// memory for GetSecret. A missing file is not an error; environment fallback
// still applies.
func LoadSecretsFile(path, passphrase string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read secrets file: %w", err)
	}

	if len(payload) < saltSize {
		return fmt.Errorf("secrets file %s is truncated", path)
	}
	salt := payload[:saltSize]

	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("failed to create GCM: %w", err)
	}

	if len(payload) < saltSize+gcm.NonceSize() {
		return fmt.Errorf("secrets file %s is truncated", path)
	}
	nonce := payload[saltSize : saltSize+gcm.NonceSize()]
	ciphertext := payload[saltSize+gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return fmt.Errorf("failed to decrypt secrets (wrong passphrase?): %w", err)
	}

	var secrets map[string]string
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return fmt.Errorf("failed to parse secrets: %w", err)
	}

	SetDecryptedSecrets(secrets)
	return nil
}
