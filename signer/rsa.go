package signer

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// KeyPair signs tokens with a PEM encoded RSA private key, the format the
// stock tooling writes to ~/.android/adbkey.
type KeyPair struct {
	key *rsa.PrivateKey
	pub []byte
}

// LoadKeyPair reads the private key at path and, when present, the matching
// public key at path+".pub". The .pub contents are offered to the device
// verbatim for interactive approval; without it signatures still work but
// the public key fallback is unavailable.
func LoadKeyPair(path string) (*KeyPair, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("no PEM block in " + path)
	}

	key, err := parsePrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key %s: %w", path, err)
	}

	// Missing .pub only disables the approval fallback.
	pub, _ := os.ReadFile(path + ".pub")

	return &KeyPair{key: key, pub: pub}, nil
}

// DefaultKeyPath returns the conventional adb key location.
func DefaultKeyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".android", "adbkey")
}

// Sign signs the already-hashed token with RSASSA-PKCS1-v1_5 over SHA-1,
// which is what adbd verifies.
func (k *KeyPair) Sign(token []byte) ([]byte, error) {
	return rsa.SignPKCS1v15(rand.Reader, k.key, crypto.SHA1, token)
}

// PublicKey returns the raw adbkey.pub contents, or nil when unavailable.
func (k *KeyPair) PublicKey() []byte {
	return k.pub
}

func parsePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("not an RSA private key")
	}
	return key, nil
}
