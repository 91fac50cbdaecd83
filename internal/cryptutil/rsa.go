package cryptutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"

	"github.com/pkg/errors"
)

// ParseRSAPrivateKey reads a PEM-encoded PKCS#1 or PKCS#8 RSA private key,
// the format expected in the RSA_PRIVATE_KEY environment variable.
func ParseRSAPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("RSA_PRIVATE_KEY is not valid PEM")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	generic, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse RSA private key")
	}
	key, ok := generic.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("PEM key is not an RSA private key")
	}
	return key, nil
}

// UnsealOAEP decrypts an RSA-OAEP(SHA-256) ciphertext, the scheme used to
// wrap the account ingestion payload (spec.md §6, {"payload": base64}).
func UnsealOAEP(key *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	pt, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, key, ciphertext, nil)
	if err != nil {
		return nil, errors.Wrap(err, "RSA-OAEP decryption failed")
	}
	return pt, nil
}
