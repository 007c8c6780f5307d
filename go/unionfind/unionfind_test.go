package unionfind

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFind_UnknownID_IsOwnRepresentative(t *testing.T) {
	u := New()
	assert.Equal(t, "a", u.Find("a"))
	assert.False(t, u.Joined("a"))
}

func TestUnion_MergesBothEndpoints(t *testing.T) {
	u := New()
	u.Union("a", "b")

	assert.Equal(t, u.Find("a"), u.Find("b"))
	assert.True(t, u.Joined("a"))
	assert.True(t, u.Joined("b"))
}

func TestUnion_IsTransitive(t *testing.T) {
	u := New()
	u.Union("a", "b")
	u.Union("b", "c")
	u.Union("d", "e")

	assert.Equal(t, u.Find("a"), u.Find("c"))
	assert.NotEqual(t, u.Find("a"), u.Find("d"))
}

func TestUnion_SameComponentTwice_IsIdempotent(t *testing.T) {
	u := New()
	u.Union("a", "b")
	u.Union("b", "a")
	u.Union("a", "b")

	groups := u.Groups([]string{"a", "b"}, 2)
	assert.Equal(t, [][]string{{"a", "b"}}, groups)
}

func TestGroups_IncludesEveryMemberOfComponent(t *testing.T) {
	u := New()
	// Mirrors a scan where c is found as a neighbour of both a and b but
	// never queried first itself.
	u.Union("a", "b")
	u.Union("a", "c")

	groups := u.Groups([]string{"a", "b", "c"}, 2)
	assert.Equal(t, [][]string{{"a", "b", "c"}}, groups)
}

func TestGroups_FiltersBelowMinSize(t *testing.T) {
	u := New()
	u.Union("a", "b")

	groups := u.Groups([]string{"a", "b", "lonely"}, 2)
	assert.Equal(t, [][]string{{"a", "b"}}, groups)

	groups = u.Groups([]string{"a", "b"}, 3)
	assert.Empty(t, groups)
}

func TestGroups_SortsBySizeDescThenFirstMember(t *testing.T) {
	u := New()
	u.Union("x", "y")
	u.Union("p", "q")
	u.Union("q", "r")

	groups := u.Groups([]string{"p", "q", "r", "x", "y"}, 2)
	assert.Equal(t, [][]string{{"p", "q", "r"}, {"x", "y"}}, groups)
}

func TestGroups_MembersSortedAscending(t *testing.T) {
	u := New()
	u.Union("zeta", "alpha")
	u.Union("alpha", "mid")

	groups := u.Groups([]string{"zeta", "mid", "alpha"}, 2)
	assert.Equal(t, [][]string{{"alpha", "mid", "zeta"}}, groups)
}
