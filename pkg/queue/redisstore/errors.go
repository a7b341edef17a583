package redisstore

import "errors"

var (
	ErrClientNil                    = errors.New("redis client cannot be nil")
	ErrFailedToParseRedisConnString = errors.New("failed to parse redis connection string")
	ErrRedisNotReady                = errors.New("redis did not become ready within the given time period")
	ErrEmptyConnectionURL           = errors.New("empty redis connection URL")
	ErrHealthcheckFailed            = errors.New("redis healthcheck failed")
	ErrCorruptJob                   = errors.New("stored job is corrupt")
	ErrPrefixNotHashTagged          = errors.New("redis cluster needs a key prefix with a {hash tag}")
)
