//go:build !real_waku

package wakuchannel

// newGoWakuBackend is unavailable without the real_waku build tag. Unlike
// the teacher's internal/waku package (which leaves this case as a link
// error), the factory here treats a nil backend as "transport
// unsupported" and returns a clean error to the caller instead.
func newGoWakuBackend() backend {
	return nil
}
