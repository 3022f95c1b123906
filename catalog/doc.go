// Package catalog lists the chat models agents may be configured with and
// their token limits.
//
// The catalog is immutable after construction. Lookups accept dated model
// snapshots ("gpt-4o-2024-08-06") by falling back to the longest registered
// prefix.
package catalog
