package cli

import "errors"

// Error variables for configuration and argument handling.
var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config file")
	ErrStorePathEmpty     = errors.New("store-path cannot be empty")
	ErrInvalidLogLevel    = errors.New("invalid log level")
	ErrInvalidRangeSize   = errors.New("range_size must be > 0")
	ErrUnknownCommand     = errors.New("unknown command")
	ErrMissingArgument    = errors.New("missing argument")
	ErrInvalidArgument    = errors.New("invalid argument")
)
