package validator

import "errors"

// ErrValidationFailed matches every ValidationErrors value through errors.Is
var ErrValidationFailed = errors.New("validation failed")
