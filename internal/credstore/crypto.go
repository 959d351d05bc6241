package credstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

const (
	// scryptN is the CPU/memory cost parameter for scrypt key derivation (2^15).
	scryptN = 32768

	// scryptR is the block size parameter for scrypt key derivation.
	scryptR = 8

	// scryptP is the parallelization parameter for scrypt key derivation.
	scryptP = 1

	// scryptKeyLen is the derived key length in bytes.
	scryptKeyLen = 32

	// saltLen is the length of the per-database key derivation salt.
	saltLen = 16
)

// Cipher seals and opens credential values with AES-256-GCM using a key
// derived from a passphrase via scrypt. Stored format: [nonce][ciphertext+tag].
type Cipher struct {
	gcm cipher.AEAD
}

// NewCipher derives a key from passphrase and salt and returns a cipher
// over it. The salt must be the one stored alongside the database so the
// same passphrase reproduces the same key.
func NewCipher(passphrase string, salt []byte) (*Cipher, error) {
	if passphrase == "" {
		return nil, errors.New("credstore: empty passphrase")
	}
	if len(salt) != saltLen {
		return nil, fmt.Errorf("credstore: salt must be %d bytes, got %d", saltLen, len(salt))
	}

	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	defer zeroBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return &Cipher{gcm: gcm}, nil
}

// GenerateSalt returns a fresh random key derivation salt.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}

// Seal encrypts plaintext with a random nonce. Output: [nonce][ciphertext+tag].
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return c.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts data produced by Seal.
func (c *Cipher) Open(data []byte) ([]byte, error) {
	if len(data) < c.gcm.NonceSize() {
		return nil, errors.New("credstore: ciphertext too short")
	}
	nonce, ciphertext := data[:c.gcm.NonceSize()], data[c.gcm.NonceSize():]

	plaintext, err := c.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting value: %w", err)
	}
	return plaintext, nil
}

// zeroBytes overwrites key material after use to limit the window during
// which raw key bytes are reachable in memory.
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
