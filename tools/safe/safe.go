package safe

import (
	"PPFeed/logger"
	"PPFeed/tools/errs"

	"go.uber.org/zap"
)

// SafeGo starts a goroutine that recovers from panic,
// so that one bad handler doesn't crash the gateway.
func SafeGo(name string, f func()) {
	go Run(name, f)
}

// Run calls f and converts a panic into an error log.
func Run(name string, f func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic recovered", zap.String("task", name), zap.Error(errs.ErrPanic(r)), zap.Stack("stack"))
		}
	}()
	f()
}
