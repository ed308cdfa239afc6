// Package codecrypt шифрует значения подарочных кодов для хранения в БД.
//
// Из одного мастер-ключа через HKDF выводятся два независимых ключа:
// ключ XChaCha20-Poly1305 для значений и ключ HMAC для уникального индекса.
package codecrypt

import (
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	// MinMasterKeySize — минимальная длина мастер-ключа в байтах.
	MinMasterKeySize = 32

	encryptionInfo = "giftshop/gift-codes/encryption/v1"
	digestInfo     = "giftshop/gift-codes/digest/v1"
)

var (
	// ErrMasterKeyTooShort возвращается при слишком коротком мастер-ключе.
	ErrMasterKeyTooShort = errors.New("code master key must be at least 32 bytes")
	// ErrCiphertextInvalid — повреждённый шифротекст или чужой ключ.
	ErrCiphertextInvalid = errors.New("gift code ciphertext is invalid")
)

// Cipher шифрует и расшифровывает значения кодов.
type Cipher struct {
	aead      cipher.AEAD
	digestKey []byte
}

// New создаёт Cipher из мастер-ключа.
func New(masterKey []byte) (*Cipher, error) {
	if len(masterKey) < MinMasterKeySize {
		return nil, ErrMasterKeyTooShort
	}

	encKey, err := deriveKey(masterKey, encryptionInfo, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	digestKey, err := deriveKey(masterKey, digestInfo, sha256.Size)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(encKey)
	if err != nil {
		return nil, fmt.Errorf("init xchacha20-poly1305: %w", err)
	}

	return &Cipher{aead: aead, digestKey: digestKey}, nil
}

// NewFromBase64 создаёт Cipher из мастер-ключа в base64 (std или url-алфавит).
func NewFromBase64(encoded string) (*Cipher, error) {
	encoded = strings.TrimSpace(encoded)
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		key, err = base64.RawURLEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decode code master key: %w", err)
		}
	}
	return New(key)
}

func deriveKey(masterKey []byte, info string, size int) ([]byte, error) {
	key := make([]byte, size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", info, err)
	}
	return key, nil
}

// Seal шифрует значение кода. productID связывается с шифротекстом как additional data,
// поэтому шифротекст нельзя переставить на другой товар.
func (c *Cipher) Seal(productID, value string) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(value)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, []byte(value), []byte(productID)), nil
}

// Open расшифровывает значение кода.
func (c *Cipher) Open(productID string, sealed []byte) (string, error) {
	nonceSize := c.aead.NonceSize()
	if len(sealed) < nonceSize+c.aead.Overhead() {
		return "", ErrCiphertextInvalid
	}
	plain, err := c.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], []byte(productID))
	if err != nil {
		return "", ErrCiphertextInvalid
	}
	return string(plain), nil
}

// Digest возвращает детерминированный отпечаток значения для уникального индекса.
func (c *Cipher) Digest(value string) string {
	mac := hmac.New(sha256.New, c.digestKey)
	_, _ = mac.Write([]byte(strings.TrimSpace(value)))
	return hex.EncodeToString(mac.Sum(nil))
}
