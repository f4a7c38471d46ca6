// Package eventify provides the authentication and session-lifecycle core of
// the Eventify server: credential verification, multi-factor challenge
// orchestration, refresh-credential rotation with reuse detection, and
// privileged-session elevation under a per-user concurrency cap.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build]. No session state is held in process memory; every session
// lives in the shared [session.Store] and is mutated through atomic
// compare-and-swap operations on its stamp.
//
// # Architecture boundaries
//
// eventify is the public surface. It exposes [Engine], [Builder], [Config],
// and value types (User, TokenPair, SignInResult, AuditEvent, …). Session
// persistence lives in session/, credential minting in token/, purpose-scoped
// one-time codes in otp/, password hashing in password/, and challenge
// delivery in dispatch/. Metric identifiers and their exporter glue live under
// metrics/export/.
//
// # What this package must NOT do
//
//   - Render UI, route HTTP, or deliver messages itself; user lookup is the
//     caller's [UserDirectory], delivery is the caller's [dispatch.Channel] set.
//   - Hold authoritative session state in memory between requests.
//   - Accept a refresh credential whose embedded stamp is not the session's
//     current stamp — a mismatch revokes the session unconditionally.
package eventify
