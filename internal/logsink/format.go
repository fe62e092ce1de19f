package logsink

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Format selects how a stream renders each Event it's given.
type Format int

const (
	FormatCSV Format = iota
	FormatJSON
	FormatRaw
	FormatPretty
)

// ParseFormat maps a CLI flag value to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	case "raw":
		return FormatRaw, nil
	case "pretty":
		return FormatPretty, nil
	default:
		return 0, fmt.Errorf("unknown log format %q", s)
	}
}

// quoteCSV double-quotes a string field and doubles inner quotes, per the
// stream's documented quoting rule. Numeric and boolean fields are never
// quoted.
func quoteCSV(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		if r == '"' {
			b.WriteByte('"')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}

func boolCSV(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func optionalInt64CSV(p *int64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatInt(*p, 10)
}

func requestHeader() string {
	return "elapsed,raw,name,final_url,redirected,response_time,status_code,success,update,user,error,coordinated_omission_elapsed,user_cadence\n"
}

func requestCSV(r *RequestRecord) string {
	fields := []string{
		strconv.FormatInt(r.Elapsed, 10),
		quoteCSV(r.Raw),
		quoteCSV(r.Name),
		quoteCSV(r.FinalURL),
		boolCSV(r.Redirected),
		strconv.FormatInt(r.ResponseTimeMs, 10),
		strconv.Itoa(r.StatusCode),
		boolCSV(r.Success),
		boolCSV(r.Update),
		strconv.Itoa(r.User),
		quoteCSV(r.Error),
		optionalInt64CSV(r.CoordinatedOmissionElapsed),
		strconv.FormatInt(r.UserCadence, 10),
	}
	return strings.Join(fields, ",") + "\n"
}

func taskHeader() string {
	return "elapsed,taskset_index,task_index,name,run_time,success,user\n"
}

func taskCSV(r *TaskRecord) string {
	fields := []string{
		strconv.FormatInt(r.Elapsed, 10),
		strconv.Itoa(r.TaskSetIndex),
		strconv.Itoa(r.TaskIndex),
		quoteCSV(r.Name),
		strconv.FormatInt(r.RunTimeMs, 10),
		boolCSV(r.Success),
		strconv.Itoa(r.User),
	}
	return strings.Join(fields, ",") + "\n"
}

func errorHeader() string {
	return "elapsed,raw,name,final_url,redirected,response_time,status_code,user,error\n"
}

func errorCSV(r *ErrorRecord) string {
	fields := []string{
		strconv.FormatInt(r.Elapsed, 10),
		quoteCSV(r.Raw),
		quoteCSV(r.Name),
		quoteCSV(r.FinalURL),
		boolCSV(r.Redirected),
		strconv.FormatInt(r.ResponseTimeMs, 10),
		strconv.Itoa(r.StatusCode),
		strconv.Itoa(r.User),
		quoteCSV(r.Error),
	}
	return strings.Join(fields, ",") + "\n"
}

func debugHeader() string {
	return "tag,request,header,body\n"
}

func debugCSV(r *DebugRecord) string {
	fields := []string{
		quoteCSV(r.Tag),
		quoteCSV(r.Request),
		quoteCSV(r.Header),
		quoteCSV(r.Body),
	}
	return strings.Join(fields, ",") + "\n"
}

// renderRaw renders a single-line debug-style rendering of any record kind.
func renderRaw(ev Event) string {
	switch ev.Kind {
	case KindRequest:
		r := ev.Request
		return fmt.Sprintf("request name=%s status=%d success=%v time=%dms user=%d\n", r.Name, r.StatusCode, r.Success, r.ResponseTimeMs, r.User)
	case KindTask:
		r := ev.Task
		return fmt.Sprintf("task name=%s success=%v time=%dms user=%d\n", r.Name, r.Success, r.RunTimeMs, r.User)
	case KindError:
		r := ev.Error
		return fmt.Sprintf("error name=%s status=%d err=%q user=%d\n", r.Name, r.StatusCode, r.Error, r.User)
	case KindDebug:
		r := ev.Debug
		return fmt.Sprintf("debug tag=%s\n", r.Tag)
	}
	return "\n"
}

// renderPretty renders a multi-line, newline-terminated debug rendering.
func renderPretty(ev Event) string {
	var b strings.Builder
	switch ev.Kind {
	case KindRequest:
		r := ev.Request
		fmt.Fprintf(&b, "Request:\n  name: %s\n  status: %d\n  success: %v\n  response_time_ms: %d\n  user: %d\n  error: %s\n", r.Name, r.StatusCode, r.Success, r.ResponseTimeMs, r.User, r.Error)
	case KindTask:
		r := ev.Task
		fmt.Fprintf(&b, "Task:\n  name: %s\n  success: %v\n  run_time_ms: %d\n  user: %d\n", r.Name, r.Success, r.RunTimeMs, r.User)
	case KindError:
		r := ev.Error
		fmt.Fprintf(&b, "Error:\n  name: %s\n  status: %d\n  error: %s\n  user: %d\n", r.Name, r.StatusCode, r.Error, r.User)
	case KindDebug:
		r := ev.Debug
		fmt.Fprintf(&b, "Debug:\n  tag: %s\n  request: %s\n  header: %s\n  body: %s\n", r.Tag, r.Request, r.Header, r.Body)
	}
	b.WriteByte('\n')
	return b.String()
}

func renderJSON(v interface{}, w io.Writer) error {
	enc := json.NewEncoder(w)
	return enc.Encode(v)
}
