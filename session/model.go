// Package session owns durable session records and the authoritative stamp
// used for refresh-credential validation. All mutation paths go through
// atomic compare-and-swap operations so that two concurrent rotations of the
// same session can never both succeed, and the per-user privileged count can
// never exceed its cap.
package session

// Session is a durable session record.
//
// Privileged is monotonic: once true it never reverts while the session
// exists. The store layer enforces this — sessions are deleted, never
// demoted.
type Session struct {
	ID     string
	UserID string

	DeviceInfo string
	IP         string
	Address    string

	// StartedOn and RenewedOn are Unix seconds. RenewedOn is zero until the
	// first refresh.
	StartedOn int64
	RenewedOn int64

	Privileged bool
}

// Stamp returns the current valid generation of the session's refresh
// credential: RenewedOn when the session has been refreshed, StartedOn
// otherwise. At any instant at most one stamp value is live per session.
func (s *Session) Stamp() int64 {
	if s.RenewedOn != 0 {
		return s.RenewedOn
	}
	return s.StartedOn
}
