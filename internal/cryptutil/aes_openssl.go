//go:build openssl

package cryptutil

import (
	"os"
	"runtime"

	"github.com/golang-fips/openssl/v2"
	"github.com/pkg/errors"
)

func init() {
	if err := openssl.Init(opensslVersion()); err != nil {
		panic(err)
	}
	_ = openssl.SetFIPS(true)
}

func encryptAES256CBC(key, iv, plaintext []byte) ([]byte, error) {
	padded := pkcs7Pad(plaintext, 16)
	out, err := openssl.AESCBCEncrypt(key, iv, padded)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return out, nil
}

func decryptAES256CBC(key, iv, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, nil
	}
	out, err := openssl.AESCBCDecrypt(key, iv, ciphertext)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return pkcs7Unpad(out)
}

// opensslVersion mirrors the accountstore scrypt build's version probe: try
// an override first, then fall back to the usual shared-library names.
func opensslVersion() string {
	if v := os.Getenv("GO_OPENSSL_VERSION_OVERRIDE"); v != "" {
		if runtime.GOOS == "linux" {
			return "libcrypto.so." + v
		}
		return v
	}
	versions := []string{"3", "1.1.1", "1.1", "1.0.2"}
	for _, v := range versions {
		var candidate string
		switch runtime.GOOS {
		case "windows":
			candidate = "libcrypto-" + v + ".dll"
		case "darwin":
			candidate = "libcrypto." + v + ".dylib"
		default:
			candidate = "libcrypto.so." + v
		}
		if ok, _ := openssl.CheckVersion(candidate); ok {
			return candidate
		}
	}
	return "libcrypto.so"
}
