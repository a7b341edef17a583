package validator

import "fmt"

// Min validates that a numeric value is greater than or equal to the minimum.
func Min[T Numeric](field string, value T, min T) Rule {
	return newRule(field, fmt.Sprintf("must be at least %v", min), "min", func() bool {
		return value >= min
	}, "min", min)
}

// Max validates that a numeric value is less than or equal to the maximum.
func Max[T Numeric](field string, value T, max T) Rule {
	return newRule(field, fmt.Sprintf("must be at most %v", max), "max", func() bool {
		return value <= max
	}, "max", max)
}

// Between validates min <= value <= max.
func Between[T Numeric](field string, value, min, max T) Rule {
	return newRule(field, fmt.Sprintf("must be between %v and %v", min, max), "between", func() bool {
		return value >= min && value <= max
	}, "min", min, "max", max)
}

// MaxItems validates the length of a slice.
func MaxItems[T any](field string, value []T, max int) Rule {
	return newRule(field, fmt.Sprintf("must contain at most %d items", max), "max_items", func() bool {
		return len(value) <= max
	}, "max", max)
}

// RequiredItems validates that a slice is not empty.
func RequiredItems[T any](field string, value []T) Rule {
	return newRule(field, "must contain at least one item", "required", func() bool {
		return len(value) > 0
	})
}
