package domain

// VariantKind controls how many options a buyer may pick from a group.
type VariantKind string

const (
	// VariantKindRequired groups need exactly one selected option before checkout.
	VariantKindRequired VariantKind = "required"
	// VariantKindOptional groups accept any number of distinct options, including none.
	VariantKindOptional VariantKind = "optional"
)

// Valid reports whether the kind is one of the known values.
func (k VariantKind) Valid() bool {
	return k == VariantKindRequired || k == VariantKindOptional
}

// VariantOption is a single selectable choice inside a group. PriceModifier is a signed amount in
// the store currency's minor units.
type VariantOption struct {
	ID            string
	Label         string
	PriceModifier int64
}

// VariantGroup is an ordered set of options authored by the merchant.
type VariantGroup struct {
	ID          string
	Name        string
	Kind        VariantKind
	Description string
	Options     []VariantOption
}

// Option returns the option with the given identifier.
func (g VariantGroup) Option(id string) (VariantOption, bool) {
	for _, opt := range g.Options {
		if opt.ID == id {
			return opt, true
		}
	}
	return VariantOption{}, false
}

// VariantSelection maps group identifiers to the option identifiers a buyer picked.
type VariantSelection map[string][]string

// Clone returns a deep copy so callers can derive a new selection without touching the original.
func (s VariantSelection) Clone() VariantSelection {
	if s == nil {
		return VariantSelection{}
	}
	out := make(VariantSelection, len(s))
	for group, options := range s {
		out[group] = append([]string(nil), options...)
	}
	return out
}

// ProductWithVariants is the minimal product shape needed to price a selection.
type ProductWithVariants struct {
	ID        string
	Name      string
	BasePrice int64
	ImageURL  string
	Variants  []VariantGroup
}

// ResolvedOption captures a matched option together with its group so it can be copied into an
// order line verbatim.
type ResolvedOption struct {
	GroupID       string
	GroupName     string
	GroupKind     VariantKind
	OptionID      string
	OptionLabel   string
	PriceModifier int64
}

// PriceResolution is the outcome of pricing a selection against a product.
type PriceResolution struct {
	UnitPrice             int64
	IsComplete            bool
	MissingRequiredGroups []string
	Selected              []ResolvedOption
}
