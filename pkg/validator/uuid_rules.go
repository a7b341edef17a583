package validator

import "github.com/google/uuid"

// ValidUUID validates the canonical 36 character UUID form.
func ValidUUID(field, value string) Rule {
	return newRule(field, "must be a valid UUID", "uuid", func() bool {
		if len(value) != 36 {
			return false
		}
		_, err := uuid.Parse(value)
		return err == nil
	})
}

// RequiredUUID validates that value is not the nil UUID.
func RequiredUUID(field string, value uuid.UUID) Rule {
	return newRule(field, "field is required", "required", func() bool {
		return value != uuid.Nil
	})
}
