package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNutrients_UnknownIsNotZero(t *testing.T) {
	n := Nutrients{Energy: Float(0)}

	assert.NotNil(t, n.Get(NutrientEnergy))
	assert.Equal(t, 0.0, *n.Get(NutrientEnergy))
	assert.Nil(t, n.Get(NutrientProtein))
	assert.True(t, n.Known())
	assert.False(t, Nutrients{}.Known())

	data, err := json.Marshal(n)
	require.NoError(t, err)
	assert.JSONEq(t, `{"energy_kcal":0,"protein_g":null,"carbohydrate_g":null,"fat_g":null,"fiber_g":null}`, string(data))
}

func TestNutrients_Scale(t *testing.T) {
	n := Nutrients{Energy: Float(200), Fat: Float(10)}

	scaled := n.Scale(1.5)
	assert.InDelta(t, 300, *scaled.Energy, 1e-9)
	assert.InDelta(t, 15, *scaled.Fat, 1e-9)
	assert.Nil(t, scaled.Protein)

	// input is not modified
	assert.Equal(t, 200.0, *n.Energy)
}

func TestNutrients_Add(t *testing.T) {
	a := Nutrients{Energy: Float(100), Protein: Float(2)}
	b := Nutrients{Energy: Float(50), Fat: Float(1)}

	sum := a.Add(b)
	assert.Equal(t, 150.0, *sum.Energy)
	assert.Equal(t, 2.0, *sum.Protein)
	assert.Equal(t, 1.0, *sum.Fat)
	assert.Nil(t, sum.Fiber)
	assert.Equal(t, map[string]float64{NutrientEnergy: 150, NutrientProtein: 2, NutrientFat: 1}, sum.Map())
}

func TestNutrients_ExtraParameters(t *testing.T) {
	rec := NutritionRecord{
		FoodID:    "12",
		Nutrients: Nutrients{Energy: Float(579)},
		Extra:     map[string]*float64{"Calcium (mg)": Float(250), "Jern, Fe": nil},
	}

	tests := []struct {
		name    string
		got     Nutrients
		want    map[string]*float64
		wantNil []string
	}{
		{
			name:    "profile copies extras",
			got:     rec.Profile(),
			want:    map[string]*float64{"Calcium (mg)": Float(250)},
			wantNil: []string{"Jern, Fe"},
		},
		{
			name:    "scale keeps unknown extras unknown",
			got:     rec.Profile().Scale(2),
			want:    map[string]*float64{"Calcium (mg)": Float(500)},
			wantNil: []string{"Jern, Fe"},
		},
		{
			name: "add fills an unknown side",
			got: rec.Profile().Add(Nutrients{Extra: map[string]*float64{
				"Calcium (mg)": Float(10), "Jern, Fe": Float(0.5), "Natrium": nil,
			}}),
			want:    map[string]*float64{"Calcium (mg)": Float(260), "Jern, Fe": Float(0.5)},
			wantNil: []string{"Natrium"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for name, want := range tt.want {
				require.Contains(t, tt.got.Extra, name)
				require.NotNil(t, tt.got.Extra[name], name)
				assert.InDelta(t, *want, *tt.got.Extra[name], 1e-9, name)
			}
			for _, name := range tt.wantNil {
				require.Contains(t, tt.got.Extra, name)
				assert.Nil(t, tt.got.Extra[name], name)
			}
		})
	}

	// the record is not modified
	assert.Equal(t, 250.0, *rec.Extra["Calcium (mg)"])
	assert.Nil(t, Nutrients{}.Scale(3).Extra)
}

func TestNutrients_SetUnknownName(t *testing.T) {
	var n Nutrients
	assert.False(t, n.Set("sodium_mg", Float(1)))
	assert.True(t, n.Set(NutrientFiber, Float(3)))
	assert.Equal(t, 3.0, *n.Fiber)
}

func TestProductCatalogID(t *testing.T) {
	p := ProductRecord{Store: " Netto ", ExternalID: "5701234 "}
	assert.Equal(t, "netto/5701234", p.CatalogID())
}

func TestMatchTypeAndKindValid(t *testing.T) {
	assert.True(t, MatchCategoryFallback.Valid())
	assert.False(t, MatchType("guess").Valid())
	assert.True(t, CatalogProduct.Valid())
	assert.False(t, CatalogKind("recipes").Valid())
}
