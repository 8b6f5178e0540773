// Package transition validates proposed state changes for the payment,
// session, video and refund machines.
//
// Three layers are checked, in this order:
//
//  1. The forbidden list: transitions that bypass payment or intake forms,
//     retroactively downgrade a settled state, or open video to an unpaid
//     booking. These are rejected unconditionally and classified as
//     security-relevant (CodeForbidden).
//  2. The per-entity allowed table (CodeInvalidTransition, naming the allowed
//     set).
//  3. Cross-entity synchronization: the projected payment/session/video
//     combination must be one of the allowed pairings (CodeSyncViolation).
//
// Everything here is pure. Callers decide what a violation means by handing
// it to integrity.Config.
package transition
