package cryptutil

import (
	"testing"

	"github.com/matryer/is"
)

func TestEncryptDecryptRoundtrip(t *testing.T) {
	is := is.New(t)
	var key Key
	for i := range key {
		key[i] = byte(i)
	}
	cases := []string{
		"hunter2",
		"a very long refresh token that spans more than one AES block size for sure",
		"x",
	}
	for _, plaintext := range cases {
		secret, err := Encrypt(key, nil, plaintext)
		is.NoErr(err)
		is.True(len(secret.IV) > 0)
		got, err := Decrypt(key, secret)
		is.NoErr(err)
		is.Equal(got, plaintext)
	}
}

func TestEncryptDecryptEmptyIsIdentity(t *testing.T) {
	is := is.New(t)
	var key Key
	secret, err := Encrypt(key, nil, "")
	is.NoErr(err)
	is.Equal(len(secret.Ciphertext), 0)
	is.Equal(len(secret.IV), 0)

	got, err := Decrypt(key, secret)
	is.NoErr(err)
	is.Equal(got, "")
}

func TestParseKeyRejectsWrongLength(t *testing.T) {
	is := is.New(t)
	_, err := ParseKey("dG9vc2hvcnQ=") // "tooshort"
	is.True(err != nil)
}
