package synonym

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noot-app/ingredient-matcher/internal/normalize"
)

func TestDefault(t *testing.T) {
	table, err := Default()
	require.NoError(t, err)

	assert.Equal(t, 3, table.Version())
	assert.Greater(t, table.Len(), 20)

	canon, ok := table.Canonical(normalize.Key("olivenolie"))
	require.True(t, ok)
	assert.Equal(t, normalize.Key("Olie, oliven"), canon)

	canon, ok = table.Canonical(normalize.Key("kylling"))
	require.True(t, ok)
	assert.Equal(t, "kyllingebryst", canon)
}

func TestCanonical_ExactOnly(t *testing.T) {
	table, err := Default()
	require.NoError(t, err)

	_, ok := table.Canonical(normalize.Key("olivenolie ekstra"))
	assert.False(t, ok)
	_, ok = table.Canonical("")
	assert.False(t, ok)
}

func TestParse_AliasesAndIdentity(t *testing.T) {
	table, err := Parse([]byte(`
version: 1
synonyms:
  mandel: [mandler, mandelkerner, Mandel]
`))
	require.NoError(t, err)

	// aliases that normalize to the canonical key itself are dropped
	assert.Equal(t, []string{normalize.Key("mandelkerner")}, table.Aliases(normalize.Key("mandel")))
	assert.Equal(t, 1, table.Len())
}

func TestParse_Conflict(t *testing.T) {
	_, err := Parse([]byte(`
synonyms:
  "olie, oliven": [olie]
  "olie, raps": [olie]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maps to both")
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("synonyms: [unclosed"))
	require.Error(t, err)
}

func TestCategoryNames(t *testing.T) {
	table, err := Default()
	require.NoError(t, err)

	group, ok := table.CategoryGroup("dairy")
	require.True(t, ok)
	assert.Equal(t, normalize.Key("mejeriprodukter"), group)

	names := table.CategoryNames("Dairy")
	require.NotEmpty(t, names)
	assert.Equal(t, group, names[0])
	assert.Contains(t, names, normalize.Key("mejeri"))

	// unknown hints fall back to themselves
	assert.Equal(t, []string{"konserves"}, table.CategoryNames("Konserves"))
	assert.Nil(t, table.CategoryNames("  "))
}

func TestRepresentative(t *testing.T) {
	table, err := Parse([]byte(`
categories:
  mejeriprodukter: [dairy]
representatives:
  Mejeriprodukter: "1234"
`))
	require.NoError(t, err)

	group, ok := table.CategoryGroup("dairy")
	require.True(t, ok)
	id, ok := table.Representative(group)
	require.True(t, ok)
	assert.Equal(t, "1234", id)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "synonyms.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 9\nsynonyms:\n  ost: [oste]\n"), 0644))

	table, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, table.Version())

	table, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, table.Version())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
