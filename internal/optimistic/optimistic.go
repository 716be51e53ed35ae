// Package optimistic provides the shared apply-locally-then-confirm
// primitive used by the send pipeline and the lifecycle transitions.
package optimistic

import "context"

// Op describes one optimistic update. Apply runs synchronously before the
// request so readers see the change immediately; Rollback undoes it when
// the request fails; OnSuccess runs only after the request succeeds.
type Op struct {
	Apply     func() error
	Request   func(ctx context.Context) error
	Rollback  func()
	OnSuccess func(ctx context.Context)
}

// Run executes the op. The returned error is the apply error or the request
// error; after a request error the rollback has already run.
func Run(ctx context.Context, op Op) error {
	if op.Apply != nil {
		if err := op.Apply(); err != nil {
			return err
		}
	}
	if op.Request != nil {
		if err := op.Request(ctx); err != nil {
			if op.Rollback != nil {
				op.Rollback()
			}
			return err
		}
	}
	if op.OnSuccess != nil {
		op.OnSuccess(ctx)
	}
	return nil
}
