package secret

import "errors"

var (
	// ErrProviderNotRegistered is returned for a reference to an unknown provider.
	ErrProviderNotRegistered = errors.New("secret: provider not registered")

	// ErrProviderExists is returned when a factory name is registered twice.
	ErrProviderExists = errors.New("secret: provider already registered")

	// ErrInvalidRef is returned for an empty provider name or reference.
	ErrInvalidRef = errors.New("secret: invalid reference")

	// ErrEmptySecret is returned by strict resolvers for empty values.
	ErrEmptySecret = errors.New("secret: empty value")

	// ErrSecretNotFound is returned by providers that have no value for a ref.
	ErrSecretNotFound = errors.New("secret: not found")

	// ErrMissingEnv is returned when ${VAR} names an unset variable.
	ErrMissingEnv = errors.New("secret: missing required environment variables")
)
