// Package harness runs booking scenarios against a fully wired engine.
//
// A scenario is a YAML list of steps. Each step drives one centralized
// service operation (or a webhook delivery, a sweep or a clock advance) on
// a named session and may state the expected outcome and resulting states.
// Every run uses an in-memory database, a manual clock, sequential ids and
// the sandbox gateway, so its trace is deterministic and can be compared
// against a golden file.
//
// After the last step the harness reconciles every session against the
// global invariants; any violation fails the scenario.
package harness
