package vault

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/DeBrosOfficial/dataspace/pkg/errors"
)

// GenerateSigningKey creates a fresh RSA key.
func GenerateSigningKey() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, 2048)
}

// EncodePrivateKey renders key as a PKCS#8 PEM block.
func EncodePrivateKey(key *rsa.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})), nil
}

// ParsePrivateKey accepts PKCS#8 and PKCS#1 PEM.
func ParsePrivateKey(data string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return key, nil
}

// SigningKey resolves the PEM key stored under alias. When the vault has
// none, an ephemeral key is generated and stored so later calls agree.
func SigningKey(ctx context.Context, v Vault, alias string) (*rsa.PrivateKey, bool, error) {
	data, err := v.ResolveSecret(ctx, alias)
	if err == nil {
		key, err := ParsePrivateKey(data)
		return key, false, err
	}
	if !errors.IsNotFound(err) {
		return nil, false, err
	}
	key, err := GenerateSigningKey()
	if err != nil {
		return nil, false, err
	}
	encoded, err := EncodePrivateKey(key)
	if err != nil {
		return nil, false, err
	}
	if err := v.StoreSecret(ctx, alias, encoded); err != nil {
		return nil, false, err
	}
	return key, true, nil
}

// SaveSigningKey writes key to path, readable by the owner only.
func SaveSigningKey(key *rsa.PrivateKey, path string) error {
	encoded, err := EncodePrivateKey(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(encoded), 0600)
}
