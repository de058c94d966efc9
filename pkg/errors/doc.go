// Package errors provides standardized error definitions for the hpool
// transport. All sentinel errors are centralized here so callers can test
// failures with Is regardless of which layer produced them.
package errors
