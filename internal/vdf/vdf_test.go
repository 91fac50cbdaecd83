package vdf

import (
	"testing"

	"github.com/matryer/is"
)

func TestUpsertAndLookupDepotKey(t *testing.T) {
	is := is.New(t)
	k := NewKeysVDF()
	k.UpsertDepotKey(228980, "deadbeef")
	k.UpsertDepotKey(228990, "cafef00d")

	got, ok := k.DepotKey(228980)
	is.True(ok)
	is.Equal(got, "deadbeef")

	got, ok = k.DepotKey(228990)
	is.True(ok)
	is.Equal(got, "cafef00d")

	_, ok = k.DepotKey(1)
	is.True(!ok)
}

func TestMarshalParseRoundtrip(t *testing.T) {
	is := is.New(t)
	k := NewKeysVDF()
	k.UpsertDepotKey(228980, "deadbeef")

	blob := k.Marshal()
	parsed, err := ParseKeysVDF(blob)
	is.NoErr(err)

	got, ok := parsed.DepotKey(228980)
	is.True(ok)
	is.Equal(got, "deadbeef")
}

func TestMarshalIsDeterministic(t *testing.T) {
	is := is.New(t)
	k := NewKeysVDF()
	k.UpsertDepotKey(3, "c")
	k.UpsertDepotKey(1, "a")
	k.UpsertDepotKey(2, "b")

	a := k.Marshal()
	b := k.Marshal()
	is.Equal(string(a), string(b))
}

func TestParseEmptyOrMalformedIsEmptyDocument(t *testing.T) {
	is := is.New(t)
	empty, err := ParseKeysVDF(nil)
	is.NoErr(err)
	_, ok := empty.DepotKey(1)
	is.True(!ok)

	malformed, err := ParseKeysVDF([]byte(`{{{ not vdf at all`))
	is.NoErr(err)
	_, ok = malformed.DepotKey(1)
	is.True(!ok)
}

func TestUpsertOverwritesExistingKey(t *testing.T) {
	is := is.New(t)
	k := NewKeysVDF()
	k.UpsertDepotKey(1, "old")
	k.UpsertDepotKey(1, "new")

	got, ok := k.DepotKey(1)
	is.True(ok)
	is.Equal(got, "new")
}
