package eventify

import "sync/atomic"

// MetricID identifies one engine counter.
type MetricID uint16

const (
	// MetricSignInSuccess counts completed sign-ins (tokens issued).
	MetricSignInSuccess MetricID = iota
	// MetricSignInFailure counts rejected credential or code checks.
	MetricSignInFailure
	// MetricSignInLockedOut counts attempts refused during a lockout window.
	MetricSignInLockedOut
	// MetricSignInThrottled counts attempts refused while a one-time code is still live.
	MetricSignInThrottled
	// MetricTwoFactorRequired counts sign-ins paused for the second factor.
	MetricTwoFactorRequired
	// MetricChallengeSent counts one-time codes dispatched.
	MetricChallengeSent
	// MetricRefreshSuccess counts successful rotations.
	MetricRefreshSuccess
	// MetricRefreshFailure counts rejected refresh credentials.
	MetricRefreshFailure
	// MetricRefreshReuseDetected counts stamp mismatches that terminated a session.
	MetricRefreshReuseDetected
	// MetricRefreshConflict counts same-second rotation races.
	MetricRefreshConflict
	// MetricElevationSuccess counts sessions promoted to privileged.
	MetricElevationSuccess
	// MetricElevationDenied counts elevations refused at the cap or on a bad code.
	MetricElevationDenied
	// MetricSessionCreated counts sessions written to the store.
	MetricSessionCreated
	// MetricSessionDeleted counts sessions removed, for any reason.
	MetricSessionDeleted
	// MetricSignUpSuccess counts accounts created.
	MetricSignUpSuccess
	// MetricSignUpDuplicate counts registrations refused on an existing identifier.
	MetricSignUpDuplicate

	metricIDCount
)

const cacheLineSize = 64

// paddedCounter keeps each counter on its own cache line so concurrent
// increments of different metrics don't false-share.
type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed array of atomic counters. A nil or disabled Metrics
// accepts all calls and records nothing.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]paddedCounter
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}

	s := MetricsSnapshot{Counters: make(map[MetricID]uint64, int(metricIDCount))}
	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return s
}

// MetricName returns the stable external name for a counter, used by the
// exporters.
func MetricName(id MetricID) string {
	switch id {
	case MetricSignInSuccess:
		return "eventify.sign_in.success"
	case MetricSignInFailure:
		return "eventify.sign_in.failure"
	case MetricSignInLockedOut:
		return "eventify.sign_in.locked_out"
	case MetricSignInThrottled:
		return "eventify.sign_in.throttled"
	case MetricTwoFactorRequired:
		return "eventify.sign_in.two_factor_required"
	case MetricChallengeSent:
		return "eventify.challenge.sent"
	case MetricRefreshSuccess:
		return "eventify.refresh.success"
	case MetricRefreshFailure:
		return "eventify.refresh.failure"
	case MetricRefreshReuseDetected:
		return "eventify.refresh.reuse_detected"
	case MetricRefreshConflict:
		return "eventify.refresh.conflict"
	case MetricElevationSuccess:
		return "eventify.elevation.success"
	case MetricElevationDenied:
		return "eventify.elevation.denied"
	case MetricSessionCreated:
		return "eventify.session.created"
	case MetricSessionDeleted:
		return "eventify.session.deleted"
	case MetricSignUpSuccess:
		return "eventify.sign_up.success"
	case MetricSignUpDuplicate:
		return "eventify.sign_up.duplicate"
	default:
		return "eventify.unknown"
	}
}

// MetricIDs returns every defined counter ID, in order.
func MetricIDs() []MetricID {
	out := make([]MetricID, 0, int(metricIDCount))
	for id := MetricID(0); id < metricIDCount; id++ {
		out = append(out, id)
	}
	return out
}
