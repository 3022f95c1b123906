// Package agenterr defines the error taxonomy shared by the guardrail,
// configuration and loop packages.
//
// Every failure that can reach an agent run's stream boundary is either an
// *Error carrying a Kind, or an error that the recovery package classifies
// into one by inspection.
package agenterr
