// Package crypto provides the cryptographic primitives of the auth engine.
//
// This package implements:
//   - Password hashing with Argon2id (memory-hard, GPU-resistant)
//   - Encryption at rest of TOTP secrets with AES-256-GCM
//   - Key derivation with HKDF-SHA256
//   - Secure random tokens and constant-time comparison
//   - Signed access/refresh token pairs (see tokens.go)
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// DefaultSaltSize is the default salt size in bytes.
const DefaultSaltSize = 16

// PasswordParams holds the Argon2id cost parameters.
type PasswordParams struct {
	// Time is the number of iterations
	Time uint32
	// Memory is the memory usage in KB
	Memory uint32
	// Threads is the degree of parallelism
	Threads uint8
	// KeyLen is the output key length in bytes
	KeyLen uint32
}

// DefaultPasswordParams returns the OWASP recommended Argon2id settings.
func DefaultPasswordParams() PasswordParams {
	return PasswordParams{
		Time:    3,
		Memory:  64 * 1024,
		Threads: 4,
		KeyLen:  32,
	}
}

// DerivedKeys holds the keys derived from the Master Encryption Key (MEK).
type DerivedKeys struct {
	// TOTPKey is used for encrypting TOTP secrets
	TOTPKey []byte
}

// DeriveKeys derives purpose-specific keys from a Master Encryption Key using HKDF.
func DeriveKeys(mek []byte) (DerivedKeys, error) {
	if len(mek) != 32 {
		return DerivedKeys{}, errors.New("MEK must be 32 bytes")
	}

	totpKey, err := hkdfKey(mek, "dek_totp")
	if err != nil {
		return DerivedKeys{}, err
	}

	return DerivedKeys{TOTPKey: totpKey}, nil
}

// hkdfKey derives a 32-byte key using HKDF-SHA256.
func hkdfKey(mek []byte, info string) ([]byte, error) {
	hkdfReader := hkdf.New(sha256.New, mek, nil, []byte(info))
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdfReader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Encrypt encrypts plaintext using AES-256-GCM.
// Returns the ciphertext and nonce (both required for decryption).
func Encrypt(plaintext []byte, key []byte) (ciphertext []byte, nonce []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, err
	}

	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// Decrypt decrypts ciphertext using AES-256-GCM.
func Decrypt(ciphertext, nonce, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return gcm.Open(nil, nonce, ciphertext, nil)
}

// HashToken hashes a token using SHA-256 and returns it hex encoded.
// Used to key revocation entries without storing token material.
func HashToken(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// GenerateSalt generates a cryptographically secure random salt.
func GenerateSalt(size int) ([]byte, error) {
	if size < 8 {
		return nil, errors.New("salt size must be at least 8 bytes")
	}
	salt := make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// HashPassword hashes a password using Argon2id.
func HashPassword(password string, salt []byte, p PasswordParams) []byte {
	return argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Threads, p.KeyLen)
}

// VerifyPassword verifies a password against a hash using constant-time comparison.
func VerifyPassword(password string, hash, salt []byte, p PasswordParams) bool {
	candidate := HashPassword(password, salt, p)
	return ConstantTimeEquals(candidate, hash)
}

// ConstantTimeEquals compares two byte slices in constant time.
func ConstantTimeEquals(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// ConstantTimeEqualString compares two strings in constant time.
func ConstantTimeEqualString(a, b string) bool {
	return ConstantTimeEquals([]byte(a), []byte(b))
}

// RandomBytes generates cryptographically secure random bytes.
func RandomBytes(size int) ([]byte, error) {
	if size < 1 {
		return nil, errors.New("size must be positive")
	}
	b := make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

// RandomToken generates a URL-safe random token of length random bytes.
func RandomToken(length int) (string, error) {
	b, err := RandomBytes(length)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// MaskEmail masks an email address for logs (e.g., ab****@gm****).
func MaskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 1 {
		return "***"
	}

	local := email[:at]
	domain := email[at+1:]

	if len(domain) == 0 {
		return local[:1] + "***@***"
	}

	maskedDomain := "****"
	if len(domain) >= 2 {
		maskedDomain = domain[:2] + "****"
	}

	return local[:2] + "****@" + maskedDomain
}
