package marketdata

import "fmt"

// FieldInRange rejects a result whose named field is missing or outside
// [min, max] — the field-level "sanity band" validators spec.md calls for
// (e.g. a price must be positive, a Fear & Greed index must be 0-100).
func FieldInRange(field string, min, max float64) Validator {
	return func(r CanonicalResult) error {
		v, ok := r.Fields[field]
		if !ok {
			return fmt.Errorf("missing field %q", field)
		}
		if v < min || v > max {
			return fmt.Errorf("field %q=%v out of range [%v,%v]", field, v, min, max)
		}
		return nil
	}
}

// RequireFields rejects a result missing any of the named fields.
func RequireFields(fields ...string) Validator {
	return func(r CanonicalResult) error {
		for _, f := range fields {
			if _, ok := r.Fields[f]; !ok {
				return fmt.Errorf("missing required field %q", f)
			}
		}
		return nil
	}
}
