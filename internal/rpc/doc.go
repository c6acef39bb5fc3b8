// Package rpc implements request/reply calls over an asynchronous broker.
//
// A Client owns a pending-call registry keyed by correlation token. A call
// registers itself, publishes a task.Envelope through a Transport, and waits
// for the one reply carrying its token.
//
// # Resolution
//
// Every call resolves exactly once, and its registry entry is removed exactly
// once, by whichever happens first:
//   - correlated reply: the decoded task.Result is returned
//   - call deadline: *Error with KindTimeout
//   - transport failure or Close: *Error with KindProtocol
//   - caller context done: *Error with KindCanceled (KindTimeout if the
//     context deadline passed)
//
// Replies that arrive after their call resolved are orphaned: logged, counted
// and dropped. They can never resolve a different call.
//
// # Retries
//
// None. A failed call is reported to the caller, who owns the retry policy.
package rpc
