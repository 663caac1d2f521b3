package fsfs

import "context"

// checkCancel polls ctx at a coarse boundary (one node-rev per commit
// walk, one revision per hot-copy range or Verify pass, one shard per
// Pack, once per hot-copy pass; history navigation takes no context and
// does not poll) and turns
// a cancelled context into an *Error rather than the bare
// context.Canceled/DeadlineExceeded values, so callers can IsKind it
// alongside every other fsfs error.
func checkCancel(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return wrapErr(KindIO, ctx.Err(), "operation cancelled")
	default:
		return nil
	}
}
