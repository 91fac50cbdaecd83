//go:build !openssl

// Package cryptutil implements the at-rest encryption used on account
// records: AES-256-CBC for secrets, RSA-OAEP for unsealing the account
// ingestion payload.
package cryptutil

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/pkg/errors"
)

// encryptAES256CBC encrypts plaintext under key (32 bytes) with PKCS#7
// padding, using a caller-supplied IV. The returned slice is ciphertext
// only; the IV is stored alongside it by the caller, not prepended.
func encryptAES256CBC(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

// decryptAES256CBC is the inverse of encryptAES256CBC.
func decryptAES256CBC(key, iv, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, nil
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, errors.New("ciphertext is not a multiple of the AES block size")
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return pkcs7Unpad(out)
}
