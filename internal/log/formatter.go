package log

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// callerDepth is how many frames formatter.Format sits above the actual
// caller of the Logger interface when logrus itself has no caller info
// (entry.HasCaller() false, i.e. ReportCaller is off).
const callerDepth = 8

type formatter struct {
	pattern string
	time    string
}

// Format renders entry according to a template of %time, %level, %field,
// %msg, %caller, %func and %goroutine placeholders.
func (f *formatter) Format(entry *logrus.Entry) ([]byte, error) {
	r := strings.NewReplacer(
		"%time", entry.Time.Format(f.time),
		"%level", entry.Level.String(),
		"%field", joinFields(entry),
		"%msg", entry.Message,
		"%caller", callerLocation(entry),
		"%func", callerFunc(entry),
		"%goroutine", goroutineID(),
	)
	return []byte(r.Replace(f.pattern)), nil
}

// callerLocation returns "package/file:line" for where the log call was
// made, falling back to runtime.Caller when logrus wasn't asked to
// capture caller info itself.
func callerLocation(entry *logrus.Entry) string {
	if entry.HasCaller() {
		pkg := packageName(entry.Caller.Function)
		return fmt.Sprintf("%s/%s:%d", pkg, baseName(entry.Caller.File), entry.Caller.Line)
	}
	_, file, line, ok := runtime.Caller(callerDepth)
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("unknown/%s:%d", baseName(file), line)
}

// callerFunc returns just the method or function name, dropping the
// package-qualified prefix.
func callerFunc(entry *logrus.Entry) string {
	if entry.HasCaller() {
		return lastSegment(entry.Caller.Function, ".")
	}
	pc, _, _, ok := runtime.Caller(callerDepth)
	if !ok {
		return "unknown"
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "unknown"
	}
	return lastSegment(fn.Name(), ".")
}

// goroutineID scrapes the numeric id out of a single-frame stack dump;
// there is no public runtime API for this.
func goroutineID() string {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	stack := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	fields := strings.Fields(stack)
	if len(fields) == 0 {
		return "unknown"
	}
	return fields[0]
}

func joinFields(entry *logrus.Entry) string {
	fields := make([]string, 0, len(entry.Data))
	for key, val := range entry.Data {
		s, ok := val.(string)
		if !ok {
			s = fmt.Sprint(val)
		}
		fields = append(fields, key+"="+s)
	}
	return strings.Join(fields, ",")
}

func baseName(path string) string {
	if i := strings.LastIndex(path, "/"); i != -1 {
		return path[i+1:]
	}
	return path
}

func lastSegment(s, sep string) string {
	if i := strings.LastIndex(s, sep); i != -1 {
		return s[i+1:]
	}
	return s
}

// packageName extracts the last path segment of a function's package from
// its fully qualified name (e.g. "stampede.dev/stampede/internal/attack.(*Controller).Run").
func packageName(function string) string {
	if i := strings.LastIndex(function, "/"); i != -1 {
		function = function[i+1:]
	}
	i := strings.Index(function, ".")
	if i < 1 {
		return ""
	}
	return function[:i]
}
