package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
)

// safeCall runs fn and turns a panic into an error so one broken job cannot
// stop the tick loop.
func (s *Scheduler) safeCall(ctx context.Context, job string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger(ctx).Error("scheduler.job.panic",
				zap.String("job", job),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("%s: panic: %v", job, r)
		}
	}()
	return fn(ctx)
}
