// Package internaldefs holds the shared counter definitions used by the
// metric exporters. It exists so exporter packages don't duplicate the
// catalog.
package internaldefs

import (
	eventify "github.com/zoha-shobbar/Eventify"
)

// CounterDef binds an engine counter to its exported name.
type CounterDef struct {
	ID   eventify.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: eventify.MetricSignInSuccess, Name: "eventify_sign_in_success_total", Help: "Completed sign-ins."},
	{ID: eventify.MetricSignInFailure, Name: "eventify_sign_in_failure_total", Help: "Rejected credential or code checks."},
	{ID: eventify.MetricSignInLockedOut, Name: "eventify_sign_in_locked_out_total", Help: "Attempts refused during a lockout window."},
	{ID: eventify.MetricSignInThrottled, Name: "eventify_sign_in_throttled_total", Help: "Challenge requests refused while a code is still live."},
	{ID: eventify.MetricTwoFactorRequired, Name: "eventify_two_factor_required_total", Help: "Sign-ins paused for the second factor."},
	{ID: eventify.MetricChallengeSent, Name: "eventify_challenge_sent_total", Help: "One-time codes dispatched."},
	{ID: eventify.MetricRefreshSuccess, Name: "eventify_refresh_success_total", Help: "Successful token rotations."},
	{ID: eventify.MetricRefreshFailure, Name: "eventify_refresh_failure_total", Help: "Rejected refresh credentials."},
	{ID: eventify.MetricRefreshReuseDetected, Name: "eventify_refresh_reuse_detected_total", Help: "Stamp mismatches that terminated a session."},
	{ID: eventify.MetricRefreshConflict, Name: "eventify_refresh_conflict_total", Help: "Same-second rotation races."},
	{ID: eventify.MetricElevationSuccess, Name: "eventify_elevation_success_total", Help: "Sessions promoted to privileged."},
	{ID: eventify.MetricElevationDenied, Name: "eventify_elevation_denied_total", Help: "Elevations refused at the cap or on a bad code."},
	{ID: eventify.MetricSessionCreated, Name: "eventify_session_created_total", Help: "Sessions written to the store."},
	{ID: eventify.MetricSessionDeleted, Name: "eventify_session_deleted_total", Help: "Sessions removed, for any reason."},
	{ID: eventify.MetricSignUpSuccess, Name: "eventify_sign_up_success_total", Help: "Accounts created."},
	{ID: eventify.MetricSignUpDuplicate, Name: "eventify_sign_up_duplicate_total", Help: "Registrations refused on an existing identifier."},
}
