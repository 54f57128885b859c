package reference

import (
	"context"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noot-app/ingredient-matcher/internal/config"
	"github.com/noot-app/ingredient-matcher/internal/types"
)

func f(v float64) *float64 { return &v }

func newTestNormalizer() *Normalizer {
	return NewNormalizer(nil, config.NewTestLogger(io.Discard, "error"))
}

func TestNormalize_FoodSevenWithMalformedRow(t *testing.T) {
	rows := Rows{
		{FoodID: "7", NameDa: "Gulerod, rå", NameEn: "Carrot, raw", Parameter: "Energi (kcal)", Value: f(93)},
		{FoodID: "7", NameDa: "Gulerod, rå", NameEn: "Carrot, raw", Parameter: "Protein (g)", Value: f(1.1)},
		{FoodID: "7", NameDa: "Gulerod, rå", NameEn: "Carrot, raw", Parameter: "", Value: f(4)},
	}

	records, stats, err := newTestNormalizer().Normalize(context.Background(), rows)
	require.NoError(t, err)

	require.Len(t, records, 1)
	rec := records["7"]
	require.NotNil(t, rec.Nutrients.Energy)
	require.NotNil(t, rec.Nutrients.Protein)
	assert.Equal(t, 93.0, *rec.Nutrients.Energy)
	assert.Equal(t, 1.1, *rec.Nutrients.Protein)
	assert.Nil(t, rec.Nutrients.Fat)
	assert.Equal(t, "Gulerod, rå", rec.NameDa)
	assert.Equal(t, "Carrot, raw", rec.NameEn)

	assert.Equal(t, 3, stats.RowsProcessed)
	assert.Equal(t, 1, stats.RecordsProduced)
	assert.Equal(t, 1, stats.RowsSkipped)
	assert.Equal(t, map[string]int{ReasonMissingParameter: 1}, stats.SkipReasons)
}

func TestNormalize_SkipReasons(t *testing.T) {
	rows := Rows{
		{FoodID: "", Parameter: "Protein", Value: f(1)},
		{FoodID: "1", Parameter: "Protein", Value: f(-2)},
		{FoodID: "1", Parameter: "Fedt", Value: f(math.NaN())},
		{FoodID: "1", Parameter: "Fedt", Value: f(3)},
	}

	records, stats, err := newTestNormalizer().Normalize(context.Background(), rows)
	require.NoError(t, err)

	assert.Len(t, records, 1)
	assert.Equal(t, 3, stats.RowsSkipped)
	assert.Equal(t, 1, stats.SkipReasons[ReasonMissingFoodID])
	assert.Equal(t, 1, stats.SkipReasons[ReasonNegativeValue])
	assert.Equal(t, 1, stats.SkipReasons[ReasonInvalidValue])
	assert.Equal(t, 3.0, *records["1"].Nutrients.Fat)
}

func TestNormalize_NoRecognizedParameters(t *testing.T) {
	rows := Rows{
		{FoodID: "42", NameDa: "Salt", Parameter: "Natrium", Value: f(38758)},
		{FoodID: "42", NameDa: "Salt", Parameter: "Jern, Fe", Value: nil},
	}

	records, stats, err := newTestNormalizer().Normalize(context.Background(), rows)
	require.NoError(t, err)

	require.Contains(t, records, "42")
	rec := records["42"]
	assert.False(t, rec.Nutrients.Known())
	require.Contains(t, rec.Extra, "Natrium")
	assert.Equal(t, 38758.0, *rec.Extra["Natrium"])
	require.Contains(t, rec.Extra, "Jern, Fe")
	assert.Nil(t, rec.Extra["Jern, Fe"])
	assert.Equal(t, 0, stats.RowsSkipped)
}

func TestNormalize_ParameterNamesAreCaseSensitive(t *testing.T) {
	rows := Rows{
		{FoodID: "1", Parameter: "protein", Value: f(5)},
		{FoodID: "1", Parameter: "Kostfibre", Value: f(2.5)},
	}

	records, _, err := newTestNormalizer().Normalize(context.Background(), rows)
	require.NoError(t, err)

	rec := records["1"]
	assert.Nil(t, rec.Nutrients.Protein)
	assert.Equal(t, 5.0, *rec.Extra["protein"])
	assert.Equal(t, 2.5, *rec.Nutrients.Fiber)
}

func TestNormalize_DuplicateParameterKeepsFirstKnownValue(t *testing.T) {
	rows := Rows{
		{FoodID: "1", Parameter: "Protein", Value: nil},
		{FoodID: "1", Parameter: "Protein (g)", Value: f(21.15)},
		{FoodID: "1", Parameter: "Protein", Value: f(30)},
		{FoodID: " 1 ", Parameter: "Energi (kcal)", Value: f(0)},
	}

	records, stats, err := newTestNormalizer().Normalize(context.Background(), rows)
	require.NoError(t, err)

	require.Len(t, records, 1)
	rec := records["1"]
	assert.Equal(t, 21.15, *rec.Nutrients.Protein)
	// measured zero is kept as zero
	require.NotNil(t, rec.Nutrients.Energy)
	assert.Equal(t, 0.0, *rec.Nutrients.Energy)
	assert.Equal(t, 1, stats.DuplicateParameters)
}

func TestNormalize_CustomParameters(t *testing.T) {
	n := NewNormalizer(map[string]string{"kcal": types.NutrientEnergy}, config.NewTestLogger(io.Discard, "error"))

	records, _, err := n.Normalize(context.Background(), Rows{
		{FoodID: "1", Parameter: "kcal", Value: f(120)},
		{FoodID: "1", Parameter: "Energi (kcal)", Value: f(999)},
	})
	require.NoError(t, err)
	assert.Equal(t, 120.0, *records["1"].Nutrients.Energy)
	assert.Equal(t, 999.0, *records["1"].Extra["Energi (kcal)"])
}

type failingSource struct{}

func (failingSource) Each(ctx context.Context, fn func(Row) error) error {
	if err := fn(Row{FoodID: "1", Parameter: "Fedt", Value: f(1)}); err != nil {
		return err
	}
	return errors.New("disk gone")
}

func TestNormalize_SourceErrorIsFatal(t *testing.T) {
	_, _, err := newTestNormalizer().Normalize(context.Background(), failingSource{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")
}

func TestNormalize_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := newTestNormalizer().Normalize(ctx, Rows{{FoodID: "1", Parameter: "Fedt", Value: f(1)}})
	require.ErrorIs(t, err, context.Canceled)
}
