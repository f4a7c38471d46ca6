package eventify

import "context"

type clientIPContextKey struct{}
type deviceInfoContextKey struct{}
type addressContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. It is recorded on the
// session at creation and refreshed on every rotation, and included in audit
// events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithDeviceInfo attaches a free-form device description (typically the
// User-Agent) to ctx for session metadata.
func WithDeviceInfo(ctx context.Context, deviceInfo string) context.Context {
	return context.WithValue(ctx, deviceInfoContextKey{}, deviceInfo)
}

// WithAddress attaches a coarse geographic address (resolved from the IP by
// the caller) to ctx for session metadata.
func WithAddress(ctx context.Context, address string) context.Context {
	return context.WithValue(ctx, addressContextKey{}, address)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func deviceInfoFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	di, _ := ctx.Value(deviceInfoContextKey{}).(string)
	return di
}

func addressFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	addr, _ := ctx.Value(addressContextKey{}).(string)
	return addr
}
