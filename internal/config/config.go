// Package config resolves the finalised run configuration for an attack:
// CLI flags layered over declared programmatic defaults layered over each
// flag's own built-in default, plus an optional YAML/env file read via
// viper that feeds the declared-defaults layer.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Flag keys. Also used as Defaults map keys, so a load-test author writes
// defaults.SetDefault(config.Host, "http://example.com") using the same
// name the CLI registers the flag under.
const (
	Host                = "host"
	Users               = "users"
	RunTime             = "run-time"
	HatchRate           = "hatch-rate"
	ThrottleRequests    = "throttle-requests"
	NoResetMetrics      = "no-reset-metrics"
	NoTaskMetrics       = "no-task-metrics"
	RunningMetricsEvery = "running-metrics"
	StatusCodes         = "status-codes"
	StickyFollow        = "sticky-follow"
	RequestLog          = "request-log"
	RequestFormat       = "request-format"
	TaskLog             = "task-log"
	TaskFormat          = "task-format"
	DebugLog            = "debug-log"
	DebugFormat         = "debug-format"
	ErrorLog            = "error-log"
	ErrorFormat         = "error-format"
	NoDebugBody         = "no-debug-body"
	RequestBody         = "request-body"
	Manager             = "manager"
	ManagerBindHost     = "manager-bind-host"
	ManagerBindPort     = "manager-bind-port"
	ExpectWorkers       = "expect-workers"
	NoHashCheck         = "no-hash-check"
	Worker              = "worker"
	ManagerHost         = "manager-host"
	ManagerPort         = "manager-port"
	COMitigation        = "co-mitigation"
	RandomSeed          = "random-seed"
	RequestTimeout      = "request-timeout"
	MetricsListen       = "metrics-listen"
	MetricsPath         = "metrics-path"
)

// allKeys lists every flag key Load will look for in the YAML/env layer.
var allKeys = []string{
	Host, Users, RunTime, HatchRate, ThrottleRequests, NoResetMetrics,
	NoTaskMetrics, RunningMetricsEvery, StatusCodes, StickyFollow,
	RequestLog, RequestFormat, TaskLog, TaskFormat, DebugLog, DebugFormat,
	ErrorLog, ErrorFormat, NoDebugBody, RequestBody, Manager,
	ManagerBindHost, ManagerBindPort, ExpectWorkers, NoHashCheck, Worker,
	ManagerHost, ManagerPort, COMitigation, RandomSeed, RequestTimeout,
	MetricsListen, MetricsPath,
}

// RunOptions is the fully resolved configuration an attack run is driven by.
type RunOptions struct {
	Host                string
	Users               int
	RunTime             time.Duration
	HatchRate           float64
	ThrottleRequests    int
	NoResetMetrics      bool
	NoTaskMetrics       bool
	RunningMetricsEvery time.Duration
	StatusCodesAsText   bool
	StickyFollow        bool
	RequestLog          string
	RequestFormat       string
	TaskLog             string
	TaskFormat          string
	DebugLog            string
	DebugFormat         string
	ErrorLog            string
	ErrorFormat         string
	NoDebugBody         bool
	RequestBody         bool
	Manager             bool
	ManagerBindHost     string
	ManagerBindPort     int
	ExpectWorkers       int
	NoHashCheck         bool
	Worker              bool
	ManagerHost         string
	ManagerPort         int
	COMitigation        string
	RandomSeed          int64
	RequestTimeout      time.Duration
	MetricsListen       string
	MetricsPath         string
}

// Defaults holds "declared defaults": values a load-test author sets
// programmatically, or that Load reads from a YAML file/environment. They
// sit beneath CLI flags and above each flag's own built-in default.
type Defaults struct {
	values map[string]interface{}
}

// NewDefaults returns an empty Defaults.
func NewDefaults() *Defaults {
	return &Defaults{values: make(map[string]interface{})}
}

// SetDefault records a declared default for key (one of the constants
// above). Returns d so calls can be chained.
func (d *Defaults) SetDefault(key string, value interface{}) *Defaults {
	d.values[key] = value
	return d
}

func (d *Defaults) get(key string) (interface{}, bool) {
	if d == nil {
		return nil, false
	}
	v, ok := d.values[key]
	return v, ok
}

// Load layers a YAML config file (if path is non-empty) and
// STAMPEDE_-prefixed environment variables into a Defaults value, for
// Finalize to merge beneath CLI flags.
func Load(path string) (*Defaults, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix("stampede")
	v.AutomaticEnv()

	d := NewDefaults()
	for _, key := range allKeys {
		if v.IsSet(key) {
			d.SetDefault(key, v.Get(key))
		}
	}
	return d, nil
}

// Finalize resolves RunOptions from a parsed flag set: a flag the operator
// actually passed (fs.Changed) always wins; otherwise a declared default
// from defaults wins; otherwise the flag keeps its own built-in default.
// A key with neither a registered flag nor a declared default keeps its zero
// value, so fs may register only some of the keys.
func Finalize(fs *pflag.FlagSet, defaults *Defaults) (*RunOptions, error) {
	o := &RunOptions{}
	var err error

	has := func(key string) bool {
		if fs.Lookup(key) != nil {
			return true
		}
		_, ok := defaults.get(key)
		return ok
	}

	resolveString := func(key string, dst *string) {
		if err != nil || !has(key) {
			return
		}
		*dst, err = resolveStr(fs, defaults, key)
	}
	resolveBool := func(key string, dst *bool) {
		if err != nil || !has(key) {
			return
		}
		*dst, err = resolveBoolVal(fs, defaults, key)
	}
	resolveInt := func(key string, dst *int) {
		if err != nil || !has(key) {
			return
		}
		*dst, err = resolveIntVal(fs, defaults, key)
	}
	resolveInt64 := func(key string, dst *int64) {
		if err != nil || !has(key) {
			return
		}
		*dst, err = resolveInt64Val(fs, defaults, key)
	}
	resolveFloat := func(key string, dst *float64) {
		if err != nil || !has(key) {
			return
		}
		*dst, err = resolveFloatVal(fs, defaults, key)
	}
	resolveDuration := func(key string, dst *time.Duration) {
		if err != nil || !has(key) {
			return
		}
		*dst, err = resolveDurationVal(fs, defaults, key)
	}

	resolveString(Host, &o.Host)
	resolveInt(Users, &o.Users)
	resolveDuration(RunTime, &o.RunTime)
	resolveFloat(HatchRate, &o.HatchRate)
	resolveInt(ThrottleRequests, &o.ThrottleRequests)
	resolveBool(NoResetMetrics, &o.NoResetMetrics)
	resolveBool(NoTaskMetrics, &o.NoTaskMetrics)
	resolveDuration(RunningMetricsEvery, &o.RunningMetricsEvery)
	resolveBool(StatusCodes, &o.StatusCodesAsText)
	resolveBool(StickyFollow, &o.StickyFollow)
	resolveString(RequestLog, &o.RequestLog)
	resolveString(RequestFormat, &o.RequestFormat)
	resolveString(TaskLog, &o.TaskLog)
	resolveString(TaskFormat, &o.TaskFormat)
	resolveString(DebugLog, &o.DebugLog)
	resolveString(DebugFormat, &o.DebugFormat)
	resolveString(ErrorLog, &o.ErrorLog)
	resolveString(ErrorFormat, &o.ErrorFormat)
	resolveBool(NoDebugBody, &o.NoDebugBody)
	resolveBool(RequestBody, &o.RequestBody)
	resolveBool(Manager, &o.Manager)
	resolveString(ManagerBindHost, &o.ManagerBindHost)
	resolveInt(ManagerBindPort, &o.ManagerBindPort)
	resolveInt(ExpectWorkers, &o.ExpectWorkers)
	resolveBool(NoHashCheck, &o.NoHashCheck)
	resolveBool(Worker, &o.Worker)
	resolveString(ManagerHost, &o.ManagerHost)
	resolveInt(ManagerPort, &o.ManagerPort)
	resolveString(COMitigation, &o.COMitigation)
	resolveInt64(RandomSeed, &o.RandomSeed)
	resolveDuration(RequestTimeout, &o.RequestTimeout)
	resolveString(MetricsListen, &o.MetricsListen)
	resolveString(MetricsPath, &o.MetricsPath)

	if err != nil {
		return nil, fmt.Errorf("config: finalize: %w", err)
	}
	return o, nil
}

func declaredOrFlag(fs *pflag.FlagSet, defaults *Defaults, key string) (interface{}, bool) {
	if !fs.Changed(key) {
		if dv, ok := defaults.get(key); ok {
			return dv, true
		}
	}
	return nil, false
}

func resolveStr(fs *pflag.FlagSet, defaults *Defaults, key string) (string, error) {
	if dv, ok := declaredOrFlag(fs, defaults, key); ok {
		return fmt.Sprint(dv), nil
	}
	return fs.GetString(key)
}

func resolveBoolVal(fs *pflag.FlagSet, defaults *Defaults, key string) (bool, error) {
	if dv, ok := declaredOrFlag(fs, defaults, key); ok {
		switch v := dv.(type) {
		case bool:
			return v, nil
		case string:
			return strconv.ParseBool(v)
		default:
			return false, fmt.Errorf("declared default for %s must be a bool", key)
		}
	}
	return fs.GetBool(key)
}

func resolveIntVal(fs *pflag.FlagSet, defaults *Defaults, key string) (int, error) {
	if dv, ok := declaredOrFlag(fs, defaults, key); ok {
		switch v := dv.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			return int(v), nil
		case string:
			return strconv.Atoi(v)
		default:
			return 0, fmt.Errorf("declared default for %s must be an int", key)
		}
	}
	return fs.GetInt(key)
}

func resolveInt64Val(fs *pflag.FlagSet, defaults *Defaults, key string) (int64, error) {
	if dv, ok := declaredOrFlag(fs, defaults, key); ok {
		switch v := dv.(type) {
		case int64:
			return v, nil
		case int:
			return int64(v), nil
		case float64:
			return int64(v), nil
		case string:
			return strconv.ParseInt(v, 10, 64)
		default:
			return 0, fmt.Errorf("declared default for %s must be an int64", key)
		}
	}
	return fs.GetInt64(key)
}

func resolveFloatVal(fs *pflag.FlagSet, defaults *Defaults, key string) (float64, error) {
	if dv, ok := declaredOrFlag(fs, defaults, key); ok {
		switch v := dv.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case string:
			return strconv.ParseFloat(v, 64)
		default:
			return 0, fmt.Errorf("declared default for %s must be a float64", key)
		}
	}
	return fs.GetFloat64(key)
}

func resolveDurationVal(fs *pflag.FlagSet, defaults *Defaults, key string) (time.Duration, error) {
	if dv, ok := declaredOrFlag(fs, defaults, key); ok {
		switch v := dv.(type) {
		case time.Duration:
			return v, nil
		case string:
			return time.ParseDuration(v)
		case int64:
			return time.Duration(v), nil
		default:
			return 0, fmt.Errorf("declared default for %s must be a duration", key)
		}
	}
	return fs.GetDuration(key)
}
