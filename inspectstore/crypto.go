// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package inspectstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/argon2"
)

const (
	keyMaterialLen = 48 // 16-byte salt + 32-byte secret
	saltLen        = 16
)

// loadOrCreateKeyMaterial returns the persisted key material, generating it
// on first run. An existing file is never overwritten; losing it makes the
// stored ciphertext unrecoverable.
func loadOrCreateKeyMaterial(path string) ([]byte, error) {
	material, err := os.ReadFile(path)
	if err == nil {
		if len(material) != keyMaterialLen {
			return nil, fmt.Errorf("key material at %s has unexpected length %d", path, len(material))
		}
		return material, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read key material: %w", err)
	}

	material = make([]byte, keyMaterialLen)
	if _, err := rand.Read(material); err != nil {
		return nil, fmt.Errorf("generate key material: %w", err)
	}
	// O_EXCL keeps a concurrent first run from clobbering the winner's key.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return loadOrCreateKeyMaterial(path)
		}
		return nil, fmt.Errorf("persist key material: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(material); err != nil {
		return nil, fmt.Errorf("persist key material: %w", err)
	}
	return material, nil
}

// recordCipher encrypts sensitive text columns with AES-256-GCM. The key is
// derived from the persisted material with Argon2id.
type recordCipher struct {
	aead cipher.AEAD
}

func newRecordCipher(material []byte) (*recordCipher, error) {
	if len(material) != keyMaterialLen {
		return nil, fmt.Errorf("key material has unexpected length %d", len(material))
	}
	salt, secret := material[:saltLen], material[saltLen:]
	key := argon2.IDKey(secret, salt, 1, 64*1024, 4, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &recordCipher{aead: aead}, nil
}

// seal encrypts a column value. The empty string stays empty so that
// never-populated columns remain distinguishable without decryption.
func (c *recordCipher) seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *recordCipher) open(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(raw) < c.aead.NonceSize() {
		return "", errors.New("ciphertext shorter than nonce")
	}
	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt record: %w", err)
	}
	return string(plaintext), nil
}
