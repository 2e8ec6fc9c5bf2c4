// Package types holds the small set of types shared by every safetynet package:
// the error Code enumeration with its stable names and human-readable messages.
//
// Codes fall into two severity classes. Recoverable codes are returned as
// wrapped errors and recorded in the caller's last-error slot; fatal codes
// (ErrCatastrophic, ErrSysFail) are routed through the crash reporter.
//
// This package has no dependencies beyond the standard library.
package types
