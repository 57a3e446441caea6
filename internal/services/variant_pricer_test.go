package services

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/flowix-ar/storefront/internal/domain"
)

func shirtProduct() ProductWithVariants {
	return ProductWithVariants{
		ID:        "prod_shirt",
		Name:      "Shirt",
		BasePrice: 1000,
		Variants: []VariantGroup{
			{
				ID:   "size",
				Name: "Size",
				Kind: domain.VariantKindRequired,
				Options: []VariantOption{
					{ID: "S", Label: "Small"},
					{ID: "L", Label: "Large", PriceModifier: 200},
				},
			},
		},
	}
}

func TestVariantPricer_NoGroupsAlwaysComplete(t *testing.T) {
	pricer := NewVariantPricer()
	product := ProductWithVariants{ID: "p", BasePrice: 1500}

	for _, selection := range []VariantSelection{nil, {}, {"size": {"L"}}} {
		res := pricer.Resolve(product, selection)
		assert.Equal(t, int64(1500), res.UnitPrice)
		assert.True(t, res.IsComplete)
		assert.Empty(t, res.MissingRequiredGroups)
	}
}

func TestVariantPricer_RequiredGroup(t *testing.T) {
	pricer := NewVariantPricer()
	product := shirtProduct()

	res := pricer.Resolve(product, VariantSelection{"size": {"L"}})
	assert.Equal(t, int64(1200), res.UnitPrice)
	assert.True(t, res.IsComplete)
	assert.Equal(t, []string{}, res.MissingRequiredGroups)
	require.Len(t, res.Selected, 1)
	assert.Equal(t, "Large", res.Selected[0].OptionLabel)
	assert.Equal(t, "Size", res.Selected[0].GroupName)

	res = pricer.Resolve(product, VariantSelection{})
	assert.Equal(t, int64(1000), res.UnitPrice)
	assert.False(t, res.IsComplete)
	assert.Equal(t, []string{"size"}, res.MissingRequiredGroups)
}

func TestVariantPricer_UnknownOptionIgnored(t *testing.T) {
	res := NewVariantPricer().Resolve(shirtProduct(), VariantSelection{
		"size":  {"XXL-UNKNOWN"},
		"ghost": {"anything"},
	})
	assert.Equal(t, int64(1000), res.UnitPrice)
	assert.False(t, res.IsComplete)
	assert.Equal(t, []string{"size"}, res.MissingRequiredGroups)
	assert.Empty(t, res.Selected)
}

func TestVariantPricer_TwoOptionsInRequiredGroupIsIncomplete(t *testing.T) {
	res := NewVariantPricer().Resolve(shirtProduct(), VariantSelection{"size": {"S", "L"}})
	assert.False(t, res.IsComplete)
	assert.Equal(t, []string{"size"}, res.MissingRequiredGroups)
}

func TestVariantPricer_DuplicateOptionCountsOnce(t *testing.T) {
	product := ProductWithVariants{
		BasePrice: 1000,
		Variants: []VariantGroup{{
			ID:      "extras",
			Name:    "Extras",
			Kind:    domain.VariantKindOptional,
			Options: []VariantOption{{ID: "gift", Label: "Gift wrap", PriceModifier: 150}},
		}},
	}
	res := NewVariantPricer().Resolve(product, VariantSelection{"extras": {"gift", "gift"}})
	assert.Equal(t, int64(1150), res.UnitPrice)
	assert.True(t, res.IsComplete)
}

func TestVariantPricer_PriceClampedAtZero(t *testing.T) {
	product := ProductWithVariants{
		BasePrice: 1000,
		Variants: []VariantGroup{{
			ID:      "promo",
			Name:    "Promo",
			Kind:    domain.VariantKindRequired,
			Options: []VariantOption{{ID: "mega", Label: "Mega discount", PriceModifier: -5000}},
		}},
	}
	res := NewVariantPricer().Resolve(product, VariantSelection{"promo": {"mega"}})
	assert.Equal(t, int64(0), res.UnitPrice)
	assert.True(t, res.IsComplete)
}

func TestVariantPricer_ModifierSumSaturates(t *testing.T) {
	product := ProductWithVariants{
		BasePrice: math.MaxInt64 - 10,
		Variants: []VariantGroup{{
			ID:   "extras",
			Name: "Extras",
			Kind: domain.VariantKindOptional,
			Options: []VariantOption{
				{ID: "a", Label: "A", PriceModifier: math.MaxInt64},
				{ID: "b", Label: "B", PriceModifier: math.MaxInt64},
			},
		}},
	}
	res := NewVariantPricer().Resolve(product, VariantSelection{"extras": {"a", "b"}})
	assert.Equal(t, int64(math.MaxInt64), res.UnitPrice)

	product.BasePrice = 0
	product.Variants[0].Options = []VariantOption{
		{ID: "a", Label: "A", PriceModifier: math.MinInt64},
		{ID: "b", Label: "B", PriceModifier: math.MinInt64},
	}
	res = NewVariantPricer().Resolve(product, VariantSelection{"extras": {"a", "b"}})
	assert.Equal(t, int64(0), res.UnitPrice)
}

func TestVariantValidationErrorWithoutCause(t *testing.T) {
	err := &VariantValidationError{GroupID: "extras", OptionID: "nuts", Reason: "duplicate option id"}
	assert.Equal(t, "variants: invalid variant configuration: duplicate option id (extras/nuts)", err.Error())
	assert.True(t, errors.Is(err, ErrVariantInvalid))
	assert.Contains(t, (&VariantValidationError{Reason: "bad"}).Error(), "bad")
}

func TestVariantPricer_MissingGroupsFollowProductOrder(t *testing.T) {
	product := ProductWithVariants{
		BasePrice: 500,
		Variants: []VariantGroup{
			{ID: "color", Name: "Color", Kind: domain.VariantKindRequired, Options: []VariantOption{{ID: "red", Label: "Red"}}},
			{ID: "extras", Name: "Extras", Kind: domain.VariantKindOptional, Options: []VariantOption{{ID: "box", Label: "Box"}}},
			{ID: "size", Name: "Size", Kind: domain.VariantKindRequired, Options: []VariantOption{{ID: "M", Label: "M"}}},
		},
	}
	res := NewVariantPricer().Resolve(product, VariantSelection{"extras": {"box"}})
	assert.Equal(t, []string{"color", "size"}, res.MissingRequiredGroups)
}

func TestVariantPricer_ToggleRequiredReplaces(t *testing.T) {
	pricer := NewVariantPricer()
	original := VariantSelection{}

	afterS := pricer.ToggleOption(original, "size", "S", domain.VariantKindRequired)
	afterL := pricer.ToggleOption(afterS, "size", "L", domain.VariantKindRequired)

	assert.Equal(t, VariantSelection{"size": {"L"}}, afterL)
	assert.Equal(t, VariantSelection{"size": {"S"}}, afterS, "earlier selection must not be mutated")
	assert.Empty(t, original)
}

func TestVariantPricer_ToggleOptionalRemovalLeavesInputIntact(t *testing.T) {
	pricer := NewVariantPricer()
	original := VariantSelection{"extras": {"a", "b", "c"}, "size": {"M"}}

	removed := pricer.ToggleOption(original, "extras", "b", domain.VariantKindOptional)
	assert.Equal(t, []string{"a", "c"}, removed["extras"])
	assert.Equal(t, VariantSelection{"extras": {"a", "b", "c"}, "size": {"M"}}, original)

	removed["size"][0] = "L"
	assert.Equal(t, "M", original["size"][0], "untouched groups must not share storage")

	fromNil := pricer.ToggleOption(nil, "extras", "a", domain.VariantKindOptional)
	assert.Equal(t, VariantSelection{"extras": {"a"}}, fromNil)
}

func TestVariantPricer_ToggleOptionalTwiceRestoresOriginal(t *testing.T) {
	pricer := NewVariantPricer()
	original := VariantSelection{
		"size":   {"M"},
		"extras": {"box"},
	}

	once := pricer.ToggleOption(original, "extras", "gift", domain.VariantKindOptional)
	assert.Equal(t, []string{"box", "gift"}, once["extras"])
	assert.Equal(t, []string{"box"}, original["extras"])

	twice := pricer.ToggleOption(once, "extras", "gift", domain.VariantKindOptional)
	assert.Equal(t, original, twice)

	added := pricer.ToggleOption(original, "ribbon", "red", domain.VariantKindOptional)
	removed := pricer.ToggleOption(added, "ribbon", "red", domain.VariantKindOptional)
	assert.Equal(t, original, removed)
}

func TestValidateVariantGroups(t *testing.T) {
	valid := shirtProduct().Variants
	require.NoError(t, ValidateVariantGroups(valid))
	require.NoError(t, ValidateVariantGroups(nil))

	cases := map[string]struct {
		groups []VariantGroup
		target error
	}{
		"required without options": {
			groups: []VariantGroup{{ID: "size", Name: "Size", Kind: domain.VariantKindRequired}},
			target: ErrVariantRequiredGroupEmpty,
		},
		"duplicate group": {
			groups: []VariantGroup{valid[0], valid[0]},
			target: ErrVariantInvalid,
		},
		"duplicate option": {
			groups: []VariantGroup{{ID: "c", Name: "Color", Kind: domain.VariantKindOptional, Options: []VariantOption{{ID: "r", Label: "Red"}, {ID: "r", Label: "Rose"}}}},
			target: ErrVariantInvalid,
		},
		"unknown kind": {
			groups: []VariantGroup{{ID: "c", Name: "Color", Kind: "multi", Options: []VariantOption{{ID: "r", Label: "Red"}}}},
			target: ErrVariantInvalid,
		},
		"modifier too large": {
			groups: []VariantGroup{{ID: "c", Name: "Color", Kind: domain.VariantKindOptional, Options: []VariantOption{{ID: "r", Label: "Red", PriceModifier: maxProductBasePrice + 1}}}},
			target: ErrVariantInvalid,
		},
		"modifier too negative": {
			groups: []VariantGroup{{ID: "c", Name: "Color", Kind: domain.VariantKindOptional, Options: []VariantOption{{ID: "r", Label: "Red", PriceModifier: -maxProductBasePrice - 1}}}},
			target: ErrVariantInvalid,
		},
		"blank label": {
			groups: []VariantGroup{{ID: "c", Name: "Color", Kind: domain.VariantKindOptional, Options: []VariantOption{{ID: "r", Label: " "}}}},
			target: ErrVariantInvalid,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := ValidateVariantGroups(tc.groups)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.target), "unexpected error %v", err)
		})
	}

	optionalEmpty := []VariantGroup{{ID: "extras", Name: "Extras", Kind: domain.VariantKindOptional}}
	assert.NoError(t, ValidateVariantGroups(optionalEmpty))
}
