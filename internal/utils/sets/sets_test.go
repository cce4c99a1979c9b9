package sets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEqual_IgnoresOrderAndDuplicates(t *testing.T) {
	a := FromSlice([]string{"a", "b", "b"})
	b := FromSlice([]string{"b", "a"})

	assert.True(t, a.Equal(b))
	assert.True(t, b.Equal(a))
	assert.Equal(t, 2, a.Len())
}

func TestEqual_Differs(t *testing.T) {
	assert.False(t, New("a", "b").Equal(New("a")))
	assert.False(t, New("a").Equal(New("b")))
	assert.True(t, New().Equal(New()))
}

func TestContainsAdd(t *testing.T) {
	s := New("a")
	assert.True(t, s.Contains("a"))
	assert.False(t, s.Contains("b"))

	s.Add("b")
	assert.True(t, s.Contains("b"))
}

func TestSorted(t *testing.T) {
	s := New("c", "a", "b")
	assert.Equal(t, []string{"a", "b", "c"}, s.Sorted())
	assert.Empty(t, New().Sorted())
}
