// Package integrity holds the enforcement kill switch.
//
// A Config is constructed once at process start and passed by reference to
// every service that validates transitions. The level is read without locks
// on every check; a stale read for one extra operation is acceptable.
//
// Levels:
//   - strict: violations are returned and abort the calling operation
//   - warn:   violations are logged and the operation proceeds
//   - off:    checks are skipped and only counted
//
// Violations that implement Fatal (authority violations, nuclear invariant
// violations) are returned regardless of the level.
package integrity
