package friendcode

import (
	"regexp"
	"testing"

	"github.com/matryer/is"
)

var branchIndexPattern = regexp.MustCompile(`^[A-HJ-NP-Z2-9]{5}-[A-HJ-NP-Z2-9]{4}$`)

func TestEncodeIsDeterministic(t *testing.T) {
	is := is.New(t)
	const id uint64 = 76561198000000000
	a := Encode(id)
	b := Encode(id)
	is.Equal(a, b)
	is.True(branchIndexPattern.MatchString(a))
}

func TestEncodeVariesByID(t *testing.T) {
	is := is.New(t)
	a := Encode(76561198000000000)
	b := Encode(76561198000000001)
	is.True(a != b)
}

func TestAccountID64Roundtrip(t *testing.T) {
	is := is.New(t)
	var accountID uint32 = 39734272
	full := AccountID64(accountID)
	is.Equal(uint32(full), accountID)
}
