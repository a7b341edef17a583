package app

import "errors"

var (
	ErrUnknownDriver = errors.New("unknown queue storage driver")
	ErrStoreNil      = errors.New("queue storage cannot be nil")
	ErrNotMigratable = errors.New("storage driver has no migrations")
)
