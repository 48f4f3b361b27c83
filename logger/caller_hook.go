package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// wrapperPackages are skipped when looking for the call site, since every
// log line passes through logrus and the Entry wrappers here.
var wrapperPackages = []string{
	"github.com/sirupsen/logrus.",
	"cryptostream/logger.",
}

// callerHook points entry.Caller at the first frame outside the wrappers.
// logrus' own caller lookup would report logger.go for every line.
type callerHook struct{}

func (callerHook) Levels() []logrus.Level { return logrus.AllLevels }

func (callerHook) Fire(entry *logrus.Entry) error {
	if frame, ok := callSite(4); ok {
		entry.Caller = &frame
	}
	return nil
}

// callSite walks the stack from skip and returns the first frame not in a
// wrapper package.
func callSite(skip int) (runtime.Frame, bool) {
	var pcs [24]uintptr
	n := runtime.Callers(skip, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !isWrapper(frame.Function) && frame.Function != "" {
			return frame, true
		}
		if !more {
			return runtime.Frame{}, false
		}
	}
}

func isWrapper(fn string) bool {
	for _, prefix := range wrapperPackages {
		if strings.HasPrefix(fn, prefix) {
			return true
		}
	}
	// runtime frames, e.g. from a deferred log call
	return strings.HasPrefix(fn, "runtime.")
}
