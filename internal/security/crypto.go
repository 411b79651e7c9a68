// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package security implements the credential and secure-storage subsystem:
// symmetric encryption of persisted state, the encrypted audit trail,
// account registration and login with brute-force lockout, and idle
// session expiry.
package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32

	// IVSize is the CBC initialization vector length in bytes.
	IVSize = aes.BlockSize

	// DefaultIterations is the PBKDF2-SHA-256 iteration count used to
	// derive the key material from the passphrase.
	DefaultIterations = 10000

	// appKeySuffix is the fixed application constant mixed into the
	// machine-derived passphrase.
	appKeySuffix = "9AF26B"
)

// derivationSalt is the fixed salt for key derivation. It is deliberately
// constant so the same machine regenerates the same key across restarts;
// existing data files stay readable without a separate key store.
var derivationSalt = []byte{0x43, 0x87, 0x23, 0x72, 0x45, 0x56, 0x68, 0x14, 0x62, 0x84}

// =============================================================================
// ERRORS
// =============================================================================

// ErrDecrypt indicates a token could not be decrypted: malformed base64,
// a truncated ciphertext, or data written under a foreign key. Callers
// treat it as "no usable data", never as a fatal condition.
var ErrDecrypt = errors.New("decryption failed")

// =============================================================================
// CIPHER
// =============================================================================

// Cipher provides symmetric encryption of opaque byte payloads. The key
// and IV are derived once at construction and reused for every call: key
// derivation is deliberately slow and must not run per message.
//
// The IV is deterministic for a given passphrase, so identical plaintexts
// produce identical tokens. That keeps tokens self-contained and state
// files diffable across saves, at the cost of revealing plaintext
// equality; see DESIGN.md for the trade-off record.
type Cipher struct {
	block cipher.Block
	iv    []byte
}

// NewCipher derives AES-256 key material from the passphrase with
// PBKDF2-SHA-256 over the fixed salt. iterations below DefaultIterations
// are raised to it.
func NewCipher(passphrase string, iterations int) (*Cipher, error) {
	if passphrase == "" {
		return nil, errors.New("passphrase must not be empty")
	}
	if iterations < DefaultIterations {
		iterations = DefaultIterations
	}

	// One derivation stream, split into key then IV, matching the layout
	// of data written by earlier releases.
	material := pbkdf2.Key([]byte(passphrase), derivationSalt, iterations, KeySize+IVSize, sha256.New)

	block, err := aes.NewCipher(material[:KeySize])
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	return &Cipher{
		block: block,
		iv:    material[KeySize : KeySize+IVSize],
	}, nil
}

// DefaultPassphrase builds the machine-derived passphrase: hostname plus
// a fixed application constant. Data encrypted on one machine is not
// portable to another.
func DefaultPassphrase() string {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return fmt.Sprintf("BudgetVault-%s-%s", host, appKeySuffix)
}

// Encrypt encrypts plaintext with AES-256-CBC and PKCS#7 padding and
// returns a base64 token. Empty input yields an empty token.
func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	if len(plaintext) == 0 {
		return "", nil
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, c.iv).CryptBlocks(ciphertext, padded)

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt. Any malformed or foreign-key token fails with
// ErrDecrypt; an empty token yields empty plaintext.
func (c *Cipher) Decrypt(token string) ([]byte, error) {
	if token == "" {
		return nil, nil
	}

	ciphertext, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64", ErrDecrypt)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext not block-aligned", ErrDecrypt)
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(c.block, c.iv).CryptBlocks(padded, ciphertext)

	plaintext, err := pkcs7Unpad(padded, aes.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}

// LooksEncrypted applies the legacy-file heuristic shared by all stores:
// a file whose first bytes carry no JSON structural character is treated
// as ciphertext; otherwise it is plaintext from a release that predates
// encryption at rest.
func LooksEncrypted(data []byte) bool {
	head := data
	if len(head) > 10 {
		head = head[:10]
	}
	return !bytes.ContainsAny(head, "{[")
}

// EncryptString is Encrypt for string payloads.
func (c *Cipher) EncryptString(plaintext string) (string, error) {
	return c.Encrypt([]byte(plaintext))
}

// DecryptString is Decrypt returning a string.
func (c *Cipher) DecryptString(token string) (string, error) {
	plaintext, err := c.Decrypt(token)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// =============================================================================
// PKCS#7 PADDING
// =============================================================================

// pkcs7Pad appends 1..blockSize bytes, each holding the pad length.
func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

// pkcs7Unpad validates and strips the padding appended by pkcs7Pad.
func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, errors.New("invalid padding length")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, errors.New("inconsistent padding bytes")
		}
	}
	return data[:len(data)-padLen], nil
}
