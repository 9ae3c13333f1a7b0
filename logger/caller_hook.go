package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)


// callerHook rewrites entry.Caller to the first frame that is neither
// logrus nor one of the wrappers in this package.
type callerHook struct{}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	pcs := make([]uintptr, 20)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !isWrapperFrame(frame) {
			entry.Caller = &frame
			return nil
		}
		if !more {
			return nil
		}
	}
}

func isWrapperFrame(frame runtime.Frame) bool {
	switch {
	case frame.Function == "":
		return true
	case strings.Contains(frame.Function, "sirupsen/logrus"):
		return true
	case strings.HasPrefix(frame.Function, "marketpulse/logger."):
		return !strings.HasSuffix(frame.File, "_test.go")
	}
	return false
}
