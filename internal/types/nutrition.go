package types

// Nutrient names used as keys in maps and tool output
const (
	NutrientEnergy       = "energy_kcal"
	NutrientProtein      = "protein_g"
	NutrientCarbohydrate = "carbohydrate_g"
	NutrientFat          = "fat_g"
	NutrientFiber        = "fiber_g"
)

// NutrientNames lists the core nutrients in display order
var NutrientNames = []string{
	NutrientEnergy,
	NutrientProtein,
	NutrientCarbohydrate,
	NutrientFat,
	NutrientFiber,
}

// Nutrients holds per-100g (or scaled) values for the core nutrients and
// any extra reference parameters (vitamins, minerals) keyed by their
// reference name. A nil value means unknown, which is not the same as zero.
type Nutrients struct {
	Energy       *float64            `json:"energy_kcal"`
	Protein      *float64            `json:"protein_g"`
	Carbohydrate *float64            `json:"carbohydrate_g"`
	Fat          *float64            `json:"fat_g"`
	Fiber        *float64            `json:"fiber_g"`
	Extra        map[string]*float64 `json:"extra,omitempty"`
}

// NutritionRecord is one food from the nutrition reference
type NutritionRecord struct {
	FoodID    string              `json:"food_id"`
	NameDa    string              `json:"name_da"`
	NameEn    string              `json:"name_en,omitempty"`
	Category  string              `json:"category,omitempty"`
	Nutrients Nutrients           `json:"nutrients"`
	Extra     map[string]*float64 `json:"extra,omitempty"`
}

// Profile returns the record's core nutrients together with its extra
// parameters, ready to be scaled and summed
func (r NutritionRecord) Profile() Nutrients {
	out := r.Nutrients
	out.Extra = copyExtra(r.Extra)
	return out
}

// Float returns a pointer to v
func Float(v float64) *float64 {
	return &v
}

// field returns the address of the named nutrient field, or nil
func (n *Nutrients) field(name string) **float64 {
	switch name {
	case NutrientEnergy:
		return &n.Energy
	case NutrientProtein:
		return &n.Protein
	case NutrientCarbohydrate:
		return &n.Carbohydrate
	case NutrientFat:
		return &n.Fat
	case NutrientFiber:
		return &n.Fiber
	}
	return nil
}

// Get returns the value of a core nutrient by name
func (n Nutrients) Get(name string) *float64 {
	if f := n.field(name); f != nil {
		return *f
	}
	return nil
}

// Set assigns a core nutrient by name. It reports false for unknown names.
func (n *Nutrients) Set(name string, v *float64) bool {
	f := n.field(name)
	if f == nil {
		return false
	}
	*f = v
	return true
}

// Scale multiplies every known value by factor; unknown values stay unknown
func (n Nutrients) Scale(factor float64) Nutrients {
	var out Nutrients
	for _, name := range NutrientNames {
		if v := n.Get(name); v != nil {
			out.Set(name, Float(*v*factor))
		}
	}
	if len(n.Extra) > 0 {
		out.Extra = make(map[string]*float64, len(n.Extra))
		for name, v := range n.Extra {
			out.Extra[name] = nil
			if v != nil {
				out.Extra[name] = Float(*v * factor)
			}
		}
	}
	return out
}

// Add sums known values. A nutrient stays unknown only when both sides are unknown.
func (n Nutrients) Add(other Nutrients) Nutrients {
	var out Nutrients
	for _, name := range NutrientNames {
		out.Set(name, sum(n.Get(name), other.Get(name)))
	}
	if len(n.Extra)+len(other.Extra) > 0 {
		out.Extra = make(map[string]*float64, len(n.Extra)+len(other.Extra))
		for name, v := range n.Extra {
			out.Extra[name] = sum(v, other.Extra[name])
		}
		for name, v := range other.Extra {
			if _, seen := out.Extra[name]; !seen {
				out.Extra[name] = sum(nil, v)
			}
		}
	}
	return out
}

func sum(a, b *float64) *float64 {
	switch {
	case a != nil && b != nil:
		return Float(*a + *b)
	case a != nil:
		return Float(*a)
	case b != nil:
		return Float(*b)
	}
	return nil
}

func copyExtra(extra map[string]*float64) map[string]*float64 {
	if len(extra) == 0 {
		return nil
	}
	out := make(map[string]*float64, len(extra))
	for name, v := range extra {
		out[name] = nil
		if v != nil {
			out[name] = Float(*v)
		}
	}
	return out
}

// Known reports whether at least one core nutrient has a value
func (n Nutrients) Known() bool {
	for _, name := range NutrientNames {
		if n.Get(name) != nil {
			return true
		}
	}
	return false
}

// Map returns the known values keyed by nutrient name
func (n Nutrients) Map() map[string]float64 {
	out := make(map[string]float64, len(NutrientNames))
	for _, name := range NutrientNames {
		if v := n.Get(name); v != nil {
			out[name] = *v
		}
	}
	return out
}
