package cryptutil

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/pkg/errors"
)

// KeySize is the width of the process-wide AES key (spec: 32-byte key
// supplied base64-encoded on the command line).
const KeySize = 32

// Key is the process-wide AES-256 key, read once at startup and never
// rotated. It is safe for concurrent use by every goroutine that calls
// Encrypt/Decrypt, since crypto/aes ciphers are stateless per call.
type Key [KeySize]byte

// ParseKey decodes the base64 form of the -k/--key flag.
func ParseKey(b64 string) (Key, error) {
	var k Key
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return k, errors.Wrap(err, "invalid AES key encoding")
	}
	if len(raw) != KeySize {
		return k, errors.Errorf("AES key must be %d bytes, got %d", KeySize, len(raw))
	}
	copy(k[:], raw)
	return k, nil
}

// Secret is an at-rest encrypted field. Encrypt produces the wire form to
// serialize into AccountInfo.json; Decrypt returns the plaintext.
//
// Invariant I5: decrypt(encrypt(x, k), k) == x for non-empty x; empty or
// absent secrets pass through unchanged (Encrypt on an empty plaintext
// never touches the cipher and IV is left unset).
type Secret struct {
	Ciphertext []byte // base64 on the wire
	IV         []byte // base64 on the wire, generated on first encryption
}

// Encrypt produces the at-rest form of plaintext. An empty plaintext
// round-trips as an empty Secret with no IV — encryption is a no-op for
// absent secrets, matching spec.md's I5.
func Encrypt(key Key, iv []byte, plaintext string) (Secret, error) {
	if plaintext == "" {
		return Secret{}, nil
	}
	if iv == nil {
		iv = make([]byte, 16)
		if _, err := rand.Read(iv); err != nil {
			return Secret{}, errors.Wrap(err, "failed to generate IV")
		}
	}
	ct, err := encryptAES256CBC(key[:], iv, []byte(plaintext))
	if err != nil {
		return Secret{}, err
	}
	return Secret{Ciphertext: ct, IV: iv}, nil
}

// Decrypt inverts Encrypt. A Secret with no ciphertext decrypts to "".
func Decrypt(key Key, s Secret) (string, error) {
	if len(s.Ciphertext) == 0 {
		return "", nil
	}
	pt, err := decryptAES256CBC(key[:], s.IV, s.Ciphertext)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	padLen := blockSize - len(b)%blockSize
	padded := make([]byte, len(b)+padLen)
	copy(padded, b)
	for i := len(b); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return b, nil
	}
	padLen := int(b[len(b)-1])
	if padLen == 0 || padLen > len(b) {
		return nil, errors.New("invalid PKCS#7 padding")
	}
	return b[:len(b)-padLen], nil
}
