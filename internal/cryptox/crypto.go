// Package cryptox holds the cryptographic primitives of the journal core:
// argon2id key derivation from activation phrases, verifiers, AES-GCM
// content encryption and secretbox key wrapping.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"errors"

	"github.com/dmitrijs2005/gophjournal/internal/common"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// KeySize is the length of every symmetric key handled here (AES-256, secretbox).
	KeySize = 32
	// SaltSize is the length of a registration salt.
	SaltSize = 32

	wrapNonceSize = 24
)

// ErrOpen is returned for any authenticated-decryption failure.
var ErrOpen = errors.New("cryptox: open failed")

// KDFParams are the argon2id cost parameters.
type KDFParams struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

// DefaultKDFParams matches the interactive-login cost used for master keys.
var DefaultKDFParams = KDFParams{Time: 1, MemoryKiB: 64 * 1024, Threads: 4}

// DeriveKey stretches secret with salt into a KeySize-byte key.
// Identical inputs always produce the same key.
func DeriveKey(secret, salt []byte, p KDFParams) []byte {
	if p.Time == 0 || p.MemoryKiB == 0 || p.Threads == 0 {
		p = DefaultKDFParams
	}
	return argon2.IDKey(secret, salt, p.Time, p.MemoryKiB, p.Threads, KeySize)
}

// MakeVerifier returns a one-way commitment to key that can be stored next to
// the salt and compared later without keeping the key itself.
func MakeVerifier(key []byte) []byte {
	h := sha256.New()
	h.Write([]byte("gophjournal/verifier/v1"))
	h.Write(key)
	return h.Sum(nil)
}

// NewDataKey returns a fresh random per-entry key.
func NewDataKey() []byte {
	return common.GenerateRandByteArray(KeySize)
}

// Seal encrypts plaintext with AES-256-GCM under key. A fresh random nonce is
// generated for every call; aad is authenticated but not encrypted.
func Seal(key, plaintext, aad []byte) (ciphertext, nonce []byte, err error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce = common.GenerateRandByteArray(aesgcm.NonceSize())
	ciphertext = aesgcm.Seal(nil, nonce, plaintext, aad)

	return ciphertext, nonce, nil
}

// Open reverses Seal. Any failure, including a wrong key or modified
// ciphertext, yields ErrOpen and no plaintext.
func Open(key, ciphertext, nonce, aad []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, ErrOpen
	}
	if len(nonce) != aesgcm.NonceSize() {
		return nil, ErrOpen
	}

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrOpen
	}
	return plaintext, nil
}

// WrapKey seals dek under kek with nacl/secretbox.
func WrapKey(kek, dek []byte) (wrapped, nonce []byte, err error) {
	if len(kek) != KeySize {
		return nil, nil, errors.New("cryptox: wrapping key must be 32 bytes")
	}

	var k [KeySize]byte
	copy(k[:], kek)
	defer common.WipeByteArray(k[:])

	var n [wrapNonceSize]byte
	copy(n[:], common.GenerateRandByteArray(wrapNonceSize))

	wrapped = secretbox.Seal(nil, dek, &n, &k)
	return wrapped, n[:], nil
}

// UnwrapKey reverses WrapKey, returning ErrOpen on any failure.
func UnwrapKey(kek, wrapped, nonce []byte) ([]byte, error) {
	if len(kek) != KeySize || len(nonce) != wrapNonceSize {
		return nil, ErrOpen
	}

	var k [KeySize]byte
	copy(k[:], kek)
	defer common.WipeByteArray(k[:])

	var n [wrapNonceSize]byte
	copy(n[:], nonce)

	dek, ok := secretbox.Open(nil, wrapped, &n, &k)
	if !ok {
		return nil, ErrOpen
	}
	return dek, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
