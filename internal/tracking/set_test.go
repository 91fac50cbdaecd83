package tracking

import (
	"testing"

	"github.com/matryer/is"
)

func TestSetAddHasSize(t *testing.T) {
	is := is.New(t)
	s := NewSet[string]()
	is.Equal(s.Size(), 0)
	s.Add("a")
	s.Add("b")
	s.Add("a")
	is.Equal(s.Size(), 2)
	is.True(s.Has("a"))
	is.True(!s.Has("z"))
}

func TestReportTracksAppsAndDepots(t *testing.T) {
	is := is.New(t)
	r := NewReport()
	r.TouchApp(730)
	r.TouchDepot(730, 731)

	is.True(r.TouchedApp(730))
	is.True(r.TouchedDepot(730, 731))
	is.True(!r.TouchedDepot(730, 999))
	is.True(!r.TouchedApp(440))

	is.Equal(len(r.Apps()), 1)
	is.Equal(len(r.Depots()), 1)
}

func TestTouchDepotImpliesTouchedApp(t *testing.T) {
	is := is.New(t)
	r := NewReport()
	r.TouchDepot(440, 441)
	is.True(r.TouchedApp(440))
}
