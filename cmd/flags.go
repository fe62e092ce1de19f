package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"stampede.dev/stampede/internal/config"
	"stampede.dev/stampede/internal/taskset"
)

// registerAttackFlags binds the full CLI surface from spec §6 onto fs.
func registerAttackFlags(fs *pflag.FlagSet) {
	fs.String(config.Host, "", "target host, e.g. http://example.com")
	fs.Int(config.Users, 1, "number of concurrent simulated users")
	fs.Duration(config.RunTime, 0, "run duration, e.g. 30s, 5m, 1h (0 = unbounded)")
	fs.Float64(config.HatchRate, 1, "users created per second during hatch")
	fs.Int(config.ThrottleRequests, 0, "aggregate requests/second across all users (0 = unthrottled)")
	fs.Bool(config.NoResetMetrics, false, "do not zero metrics at the hatching->running boundary")
	fs.Bool(config.NoTaskMetrics, false, "accepted but has no effect: task metric events are always emitted")
	fs.Duration(config.RunningMetricsEvery, 0, "emit a metrics snapshot to the log every N (0 = disabled)")
	fs.Bool(config.StatusCodes, false, "accepted but has no effect on the report")
	fs.Bool(config.StickyFollow, false, "accepted but has no effect: endpoint labels are always the task's request names")

	fs.String(config.RequestLog, "", "request log file path")
	fs.String(config.RequestFormat, "csv", "request log format: csv|json|raw|pretty")
	fs.String(config.TaskLog, "", "task log file path")
	fs.String(config.TaskFormat, "csv", "task log format: csv|json|raw|pretty")
	fs.String(config.DebugLog, "", "debug log file path")
	fs.String(config.DebugFormat, "raw", "debug log format: csv|json|raw|pretty")
	fs.String(config.ErrorLog, "", "error log file path")
	fs.String(config.ErrorFormat, "csv", "error log format: csv|json|raw|pretty")
	fs.Bool(config.NoDebugBody, false, "omit response bodies from debug records")
	fs.Bool(config.RequestBody, false, "log request bodies in debug records")

	fs.Bool(config.Manager, false, "run as a gaggle manager")
	fs.String(config.ManagerBindHost, "0.0.0.0", "gaggle manager bind host")
	fs.Int(config.ManagerBindPort, 5115, "gaggle manager bind port")
	fs.Int(config.ExpectWorkers, 1, "gaggle manager: number of workers to wait for")
	fs.Bool(config.NoHashCheck, false, "gaggle manager: accept workers with a mismatched task-set fingerprint")
	fs.Bool(config.Worker, false, "run as a gaggle worker")
	fs.String(config.ManagerHost, "127.0.0.1", "gaggle worker: manager host to connect to")
	fs.Int(config.ManagerPort, 5115, "gaggle worker: manager port to connect to")

	fs.String(config.COMitigation, "disabled", "coordinated-omission mitigation: disabled|average|minimum|maximum")
	fs.Int64(config.RandomSeed, 0, "RNG seed (0 = derive from current time)")
	fs.Duration(config.RequestTimeout, 60_000_000_000, "per-request timeout") // 60s

	fs.String(config.MetricsListen, "", "address to expose /metrics on (empty = disabled)")
	fs.String(config.MetricsPath, "/metrics", "prometheus exposition path")
}

// tasksFlag is shared by attack/validate: the comma-separated list of
// registered task-set names to run.
var tasksFlag string

func registerTasksFlag(fs *pflag.FlagSet) {
	fs.StringVar(&tasksFlag, "tasks", "", "comma-separated registered task-set names to run (required)")
}

// buildCollection resolves the --tasks flag into a Collection via the
// global taskset registry populated by the load-test author's own
// registrations (see internal/taskset.Register).
func buildCollection() (*taskset.Collection, error) {
	if tasksFlag == "" {
		return nil, fmt.Errorf("--tasks is required (registered: %s)", strings.Join(taskset.List(), ", "))
	}
	names := strings.Split(tasksFlag, ",")
	sets := make([]*taskset.TaskSet, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		ts, err := taskset.Get(name)
		if err != nil {
			return nil, err
		}
		sets = append(sets, ts)
	}
	return taskset.NewCollection(sets...)
}
