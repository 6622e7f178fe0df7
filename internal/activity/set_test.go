package activity

import (
	"testing"
	"time"

	"github.com/jaki95/ipa-library/internal/mainloop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSet(t *testing.T) *Set {
	t.Helper()
	loop := mainloop.New()
	t.Cleanup(loop.Start())
	return NewSet(loop)
}

func TestSectionsOrder(t *testing.T) {
	s := newTestSet(t)
	s.Installing().Add("i", "I", "com.i", "")
	s.Downloads().Add("d", "D", "com.d", "")

	sections := s.Sections()
	require.Len(t, sections, 4)
	assert.Equal(t, CategoryDownload, sections[0].Category)
	assert.Equal(t, CategorySign, sections[1].Category)
	assert.Equal(t, CategoryModify, sections[2].Category)
	assert.Equal(t, CategoryInstall, sections[3].Category)

	require.Len(t, sections[0].Records, 1)
	assert.Equal(t, "d", sections[0].Records[0].ID)
	assert.Empty(t, sections[1].Records)
	require.Len(t, sections[3].Records, 1)
}

func TestRegistriesAreIndependent(t *testing.T) {
	s := newTestSet(t)

	s.Downloads().Add("same", "App", "com.app", "")
	s.Signing().Add("same", "App", "com.app", "")

	assert.ElementsMatch(t, []Category{CategoryDownload, CategorySign}, s.Locate("same"))

	s.Downloads().Remove("same")
	assert.Equal(t, []Category{CategorySign}, s.Locate("same"))
	assert.Empty(t, s.Locate("other"))
}

func TestSetChangedFansIn(t *testing.T) {
	s := newTestSet(t)
	ch := s.Changed()

	s.Modifying().Add("m", "M", "com.m", "")
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("set channel not closed after a registry mutation")
	}
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory("sign")
	require.NoError(t, err)
	assert.Equal(t, CategorySign, c)
	assert.Equal(t, Signing, c.ActiveStatus())

	_, err = ParseCategory("upload")
	assert.ErrorIs(t, err, ErrUnknownCategory)
}
