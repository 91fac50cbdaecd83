package str

import "testing"

func TestTitle(t *testing.T) {
	cases := map[string]string{
		"active":        "Active",
		"orphan":        "Orphan",
		"access denied": "Access Denied",
		"foo_bar":       "Foo_bar",
	}
	for in, want := range cases {
		if got := Title(in); got != want {
			t.Errorf("Title(%q) = %q, want %q", in, got, want)
		}
	}
}
