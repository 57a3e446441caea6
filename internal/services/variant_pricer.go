package services

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	domain "github.com/flowix-ar/storefront/internal/domain"
)

const (
	maxVariantGroups        = 20
	maxOptionsPerGroup      = 50
	maxVariantLabelLength   = 80
	maxVariantDescLength    = 280
	maxVariantIdentifierLen = 64
)

var (
	// ErrVariantInvalid indicates the authored variant groups are malformed.
	ErrVariantInvalid = errors.New("variants: invalid variant configuration")
	// ErrVariantRequiredGroupEmpty indicates a required group was authored without options, which no buyer could satisfy.
	ErrVariantRequiredGroupEmpty = errors.New("variants: required group has no options")
)

// VariantValidationError names the offending group so merchants can fix their product.
type VariantValidationError struct {
	GroupID  string
	OptionID string
	Reason   string
	cause    error
}

func (e *VariantValidationError) Error() string {
	ref := e.GroupID
	if e.OptionID != "" {
		ref = e.GroupID + "/" + e.OptionID
	}
	if ref == "" {
		return fmt.Sprintf("%s: %s", e.Unwrap().Error(), e.Reason)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Unwrap().Error(), e.Reason, ref)
}

// Unwrap reports ErrVariantInvalid when the error was built without a specific cause.
func (e *VariantValidationError) Unwrap() error {
	if e.cause == nil {
		return ErrVariantInvalid
	}
	return e.cause
}

type variantPricer struct{}

// NewVariantPricer returns the stateless pricer used by product and order flows.
func NewVariantPricer() VariantPricer {
	return variantPricer{}
}

// Resolve computes the unit price for a selection and reports which required groups are unmet.
// Identifiers that do not exist on the product are ignored.
func (variantPricer) Resolve(product ProductWithVariants, selection VariantSelection) PriceResolution {
	result := PriceResolution{
		UnitPrice:             product.BasePrice,
		IsComplete:            true,
		MissingRequiredGroups: []string{},
	}

	for _, group := range product.Variants {
		chosen := selection[group.ID]
		seen := make(map[string]struct{}, len(chosen))
		valid := 0
		for _, optionID := range chosen {
			if _, dup := seen[optionID]; dup {
				continue
			}
			seen[optionID] = struct{}{}
			option, ok := group.Option(optionID)
			if !ok {
				continue
			}
			valid++
			result.UnitPrice = addPrice(result.UnitPrice, option.PriceModifier)
			result.Selected = append(result.Selected, domain.ResolvedOption{
				GroupID:       group.ID,
				GroupName:     group.Name,
				GroupKind:     group.Kind,
				OptionID:      option.ID,
				OptionLabel:   option.Label,
				PriceModifier: option.PriceModifier,
			})
		}
		if group.Kind == domain.VariantKindRequired && valid != 1 {
			result.IsComplete = false
			result.MissingRequiredGroups = append(result.MissingRequiredGroups, group.ID)
		}
	}

	if result.UnitPrice < 0 {
		result.UnitPrice = 0
	}
	return result
}

// addPrice adds two minor-unit amounts, saturating at the int64 bounds.
func addPrice(a, b int64) int64 {
	switch {
	case b > 0 && a > math.MaxInt64-b:
		return math.MaxInt64
	case b < 0 && a < math.MinInt64-b:
		return math.MinInt64
	}
	return a + b
}

// ToggleOption returns a new selection with the option applied. Required groups are single choice;
// optional groups flip membership of the option. The input selection is left untouched.
func (variantPricer) ToggleOption(selection VariantSelection, groupID, optionID string, kind VariantKind) VariantSelection {
	next := selection.Clone()

	switch kind {
	case domain.VariantKindRequired:
		next[groupID] = []string{optionID}
	case domain.VariantKindOptional:
		current := next[groupID]
		if idx := slices.Index(current, optionID); idx >= 0 {
			current = slices.Delete(current, idx, idx+1)
			if len(current) == 0 {
				delete(next, groupID)
			} else {
				next[groupID] = current
			}
		} else {
			next[groupID] = append(current, optionID)
		}
	}
	return next
}

// ValidateVariantGroups checks merchant-authored groups before they are persisted.
func ValidateVariantGroups(groups []VariantGroup) error {
	if len(groups) > maxVariantGroups {
		return &VariantValidationError{Reason: fmt.Sprintf("at most %d groups are allowed", maxVariantGroups), cause: ErrVariantInvalid}
	}
	groupIDs := make(map[string]struct{}, len(groups))
	for _, group := range groups {
		id := strings.TrimSpace(group.ID)
		if id == "" || len(id) > maxVariantIdentifierLen {
			return &VariantValidationError{GroupID: group.ID, Reason: "group id is required", cause: ErrVariantInvalid}
		}
		if _, dup := groupIDs[id]; dup {
			return &VariantValidationError{GroupID: id, Reason: "duplicate group id", cause: ErrVariantInvalid}
		}
		groupIDs[id] = struct{}{}

		if !group.Kind.Valid() {
			return &VariantValidationError{GroupID: id, Reason: fmt.Sprintf("unknown kind %q", group.Kind), cause: ErrVariantInvalid}
		}
		if name := strings.TrimSpace(group.Name); name == "" || len([]rune(name)) > maxVariantLabelLength {
			return &VariantValidationError{GroupID: id, Reason: "group name is required", cause: ErrVariantInvalid}
		}
		if len([]rune(group.Description)) > maxVariantDescLength {
			return &VariantValidationError{GroupID: id, Reason: "description too long", cause: ErrVariantInvalid}
		}
		if group.Kind == domain.VariantKindRequired && len(group.Options) == 0 {
			return &VariantValidationError{GroupID: id, Reason: "add at least one option or make the group optional", cause: ErrVariantRequiredGroupEmpty}
		}
		if len(group.Options) > maxOptionsPerGroup {
			return &VariantValidationError{GroupID: id, Reason: fmt.Sprintf("at most %d options are allowed", maxOptionsPerGroup), cause: ErrVariantInvalid}
		}

		optionIDs := make(map[string]struct{}, len(group.Options))
		for _, option := range group.Options {
			optID := strings.TrimSpace(option.ID)
			if optID == "" || len(optID) > maxVariantIdentifierLen {
				return &VariantValidationError{GroupID: id, OptionID: option.ID, Reason: "option id is required", cause: ErrVariantInvalid}
			}
			if _, dup := optionIDs[optID]; dup {
				return &VariantValidationError{GroupID: id, OptionID: optID, Reason: "duplicate option id", cause: ErrVariantInvalid}
			}
			optionIDs[optID] = struct{}{}
			if label := strings.TrimSpace(option.Label); label == "" || len([]rune(label)) > maxVariantLabelLength {
				return &VariantValidationError{GroupID: id, OptionID: optID, Reason: "option label is required", cause: ErrVariantInvalid}
			}
			if option.PriceModifier > maxProductBasePrice || option.PriceModifier < -maxProductBasePrice {
				return &VariantValidationError{GroupID: id, OptionID: optID, Reason: "price modifier out of range", cause: ErrVariantInvalid}
			}
		}
	}
	return nil
}

// normalizeVariantGroups trims identifiers and text so stored products match what validation saw.
func normalizeVariantGroups(groups []VariantGroup) []VariantGroup {
	if len(groups) == 0 {
		return nil
	}
	out := make([]VariantGroup, 0, len(groups))
	for _, group := range groups {
		normalized := VariantGroup{
			ID:          strings.TrimSpace(group.ID),
			Name:        strings.TrimSpace(group.Name),
			Kind:        VariantKind(strings.ToLower(strings.TrimSpace(string(group.Kind)))),
			Description: strings.TrimSpace(group.Description),
		}
		if len(group.Options) > 0 {
			normalized.Options = make([]VariantOption, 0, len(group.Options))
			for _, option := range group.Options {
				normalized.Options = append(normalized.Options, VariantOption{
					ID:            strings.TrimSpace(option.ID),
					Label:         strings.TrimSpace(option.Label),
					PriceModifier: option.PriceModifier,
				})
			}
		}
		out = append(out, normalized)
	}
	return out
}
