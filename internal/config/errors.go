package config

import "errors"

// ErrInvalidConfig wraps every Validate failure; ErrLoadConfig wraps file,
// env and decode failures in Load.
var (
	ErrInvalidConfig = errors.New("invalid contestboard config")
	ErrLoadConfig    = errors.New("load contestboard config")
)
