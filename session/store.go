package session

import (
	"context"
	"errors"
	"time"
)

// Store errors. Implementations return these (possibly wrapped); callers
// match with errors.Is.
var (
	// ErrNotFound: no session with that ID exists.
	ErrNotFound = errors.New("session: not found")

	// ErrConflict: a session with that ID already exists.
	ErrConflict = errors.New("session: id conflict")

	// ErrStampMismatch: the caller's expected stamp does not match the
	// stored stamp. The presented refresh credential belongs to a retired
	// generation — replay, or theft. The store does NOT delete the session;
	// that decision belongs to the caller.
	ErrStampMismatch = errors.New("session: stamp mismatch")

	// ErrConcurrentUpdate: the stored stamp already equals the stamp this
	// renewal would have written. Another request renewed the session within
	// the same second; the credential was valid a moment ago, so this is a
	// lost race, not a replay.
	ErrConcurrentUpdate = errors.New("session: concurrent update")

	// ErrUnavailable: the backing store could not be reached.
	ErrUnavailable = errors.New("session: store unavailable")
)

// RenewInput carries everything a single atomic renewal needs. Request
// metadata (DeviceInfo, IP, Address) replaces whatever the record held; the
// fields reflect where the session was last used, not where it began.
type RenewInput struct {
	SessionID     string
	UserID        string
	ExpectedStamp int64
	// StartedOn is carried over from the loaded session: renewal replaces
	// the whole record, and the start time must survive every rotation.
	StartedOn int64
	// Now becomes the new RenewedOn, and therefore the new stamp.
	Now time.Time

	DeviceInfo string
	IP         string
	Address    string
}

// Store is the contract every session backend satisfies. privilegedCap is the
// per-user ceiling on privileged sessions; negative means unlimited.
//
// Create and Renew both evaluate the privileged flag atomically with the
// write: counting a user's privileged sessions and flipping the flag happen
// under the same lock (or script) as the insert/update, so two concurrent
// operations can never both squeeze under the cap.
type Store interface {
	// Create persists a new session and decides its privileged flag under
	// the cap. The returned session reflects what was stored.
	Create(ctx context.Context, s *Session, privilegedCap int) (*Session, error)

	// Get loads a session by ID.
	Get(ctx context.Context, id string) (*Session, error)

	// Renew advances the session's stamp if and only if the stored stamp
	// equals in.ExpectedStamp. The privileged flag is re-evaluated on every
	// renewal: a standard session is promoted when the cap has room, and a
	// privileged one stays privileged.
	Renew(ctx context.Context, in RenewInput, privilegedCap int) (*Session, error)

	// Delete removes a session. Deleting a missing session is not an error.
	Delete(ctx context.Context, id string) error

	// DeleteAllForUser removes every session belonging to the user and
	// returns how many were removed.
	DeleteAllForUser(ctx context.Context, userID string) (int, error)

	// PrivilegedCount reports the user's current privileged session count.
	PrivilegedCount(ctx context.Context, userID string) (int, error)

	// Close releases backend resources.
	Close() error
}
