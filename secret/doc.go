// Package secret resolves environment variables and secret references in
// configuration values.
//
// Every string loaded by the config package passes through a Resolver:
//   - ${VAR} expands strictly; a missing variable is an error (see ExpandEnvStrict)
//   - secretref:<provider>:<ref> is replaced by the provider's value
//
// References may be the whole value or inline:
//   - Full value:  secretref:env:OPENAI_API_KEY
//   - Inline use:  Bearer secretref:file:search-api-token
//
// Providers are built from configuration through a Registry. Builtin
// registers the env and file providers.
package secret
