package logger

import (
	"reflect"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

const maxCallerDepth = 32

// callerHook replaces the caller logrus computes, which always lands in one
// of the wrappers in this package, with the first frame that belongs to
// neither logrus, this package nor the metrics helpers that log on behalf
// of their callers. Frames with nothing but runtime code left keep the
// caller logrus found.
type callerHook struct {
	skip []string
}

func newCallerHook() *callerHook {
	pkg := funcPackage(runtime.FuncForPC(reflect.ValueOf(newCallerHook).Pointer()).Name())
	module := strings.TrimSuffix(pkg, "/logger")
	return &callerHook{skip: []string{
		"github.com/sirupsen/logrus.",
		pkg + ".",
		module + "/internal/metrics.",
		"runtime.",
	}}
}

// funcPackage trims the function and receiver from a qualified function
// name such as "cryptostream/logger.(*Entry).Warn".
func funcPackage(name string) string {
	slash := strings.LastIndex(name, "/")
	if dot := strings.Index(name[slash+1:], "."); dot >= 0 {
		return name[:slash+1+dot]
	}
	return name
}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	if entry.Logger == nil || !entry.Logger.ReportCaller {
		return nil
	}
	pcs := make([]uintptr, maxCallerDepth)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if frame.Function != "" && !h.skipped(frame.Function) {
			entry.Caller = &frame
			return nil
		}
		if !more {
			return nil
		}
	}
}

func (h *callerHook) skipped(fn string) bool {
	for _, prefix := range h.skip {
		if strings.HasPrefix(fn, prefix) {
			return true
		}
	}
	return false
}
