package config

import "errors"

// ErrLoadConfig wraps failures reading the YAML file, the environment or
// decoding either into Config.
var ErrLoadConfig = errors.New("cannot load configuration")

// ErrInvalidConfig wraps validation failures of a loaded Config.
var ErrInvalidConfig = errors.New("invalid configuration")
