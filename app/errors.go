package app

import "errors"

// ErrUnknownAgent is returned for an agents entry naming no built-in kind.
var ErrUnknownAgent = errors.New("app: unknown agent kind")
