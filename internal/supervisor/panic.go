package supervisor

import (
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
)

// DefaultPanicLog is where observation-side panics are recorded.
const DefaultPanicLog = "sentinel_panic.log"

// Go runs fn on its own goroutine with a recover wrapper. A panic is
// appended to the panic file and logged; the goroutine dies and the
// data path keeps running.
func Go(name, panicPath string, logger *zap.Logger, fn func()) {
	if panicPath == "" {
		panicPath = DefaultPanicLog
	}
	go func() {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			logger.Error("observation task panicked",
				zap.String("task", name), zap.Any("panic", r))
			writePanic(panicPath, name, r)
		}()
		fn()
	}()
}

func writePanic(path, name string, r any) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sentinel: cannot write panic log: %v\n", err)
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "panic in %s at %s: %v\n%s\n",
		name, time.Now().UTC().Format(time.RFC3339Nano), r, debug.Stack())
}
