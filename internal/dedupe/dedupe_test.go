package dedupe

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	id   int
	name string
	at   int
}

func TestKeepEarliest_InputOrder(t *testing.T) {
	items := []item{
		{1, "Mandler", 0},
		{2, "ost", 0},
		{3, "MANDLER", 0},
		{4, "", 0},
		{5, "mandler ", 0},
	}

	kept, groups := KeepEarliest(items, func(i item) string {
		return strings.ToLower(strings.TrimSpace(i.name))
	}, nil)

	assert.Equal(t, []item{{1, "Mandler", 0}, {2, "ost", 0}, {4, "", 0}}, kept)
	require.Len(t, groups, 1)
	assert.Equal(t, "mandler", groups[0].Key)
	assert.Equal(t, 1, groups[0].Kept.id)
	assert.Len(t, groups[0].Dropped, 2)
}

func TestKeepEarliest_ByTimestamp(t *testing.T) {
	items := []item{
		{1, "ost", 30},
		{2, "smør", 5},
		{3, "ost", 10},
		{4, "ost", 20},
	}

	kept, groups := KeepEarliest(items,
		func(i item) string { return i.name },
		func(a, b item) bool { return a.at < b.at })

	// the kept record takes the position of its key's first appearance
	require.Len(t, kept, 2)
	assert.Equal(t, 3, kept[0].id)
	assert.Equal(t, 2, kept[1].id)

	require.Len(t, groups, 1)
	assert.Equal(t, 3, groups[0].Kept.id)
	ids := []int{}
	for _, d := range groups[0].Dropped {
		ids = append(ids, d.id)
	}
	assert.ElementsMatch(t, []int{1, 4}, ids)
}

func TestKeepEarliest_Empty(t *testing.T) {
	kept, groups := KeepEarliest[item](nil, func(i item) string { return i.name }, nil)
	assert.Empty(t, kept)
	assert.Empty(t, groups)
}
