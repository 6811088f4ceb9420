package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	probe "github.com/TimeWtr/probe_scheduler"
	_const "github.com/TimeWtr/probe_scheduler/const"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

// Duration 以 "90s"、"2m" 这样的字符串书写的时长
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Storage   StorageConfig   `yaml:"storage"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Tracker   TrackerConfig   `yaml:"tracker"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	// Devices 设备ID，顺序即槽位顺序
	Devices []string `yaml:"devices"`
	// ExecutionTimes 覆盖默认的测量执行时长，键为测量类型
	ExecutionTimes map[string]Duration `yaml:"execution_times"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	// RatePerSec 提交接口每秒允许的请求数，0表示不限制
	RatePerSec int `yaml:"rate_per_sec"`
	Burst      int `yaml:"burst"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	// Format json 或 console
	Format string `yaml:"format"`
}

type StorageConfig struct {
	// Driver sqlite 或 postgres
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type SchedulerConfig struct {
	// Policy earliest_start、round_robin 或 priority
	Policy         string   `yaml:"policy"`
	PassSpec       string   `yaml:"pass_spec"`
	LockTimeout    Duration `yaml:"lock_timeout"`
	PersistTimeout Duration `yaml:"persist_timeout"`
}

type TrackerConfig struct {
	Spec         string   `yaml:"spec"`
	InitialDelay Duration `yaml:"initial_delay"`
}

type DispatchConfig struct {
	// Endpoint 设备网关地址，为空时只记录日志
	Endpoint      string   `yaml:"endpoint"`
	Limiter       int64    `yaml:"limiter"`
	CallTimeout   Duration `yaml:"call_timeout"`
	RetryInterval Duration `yaml:"retry_interval"`
	RetryMax      int      `yaml:"retry_max"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:       ":8080",
			RatePerSec: 20,
			Burst:      40,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			DSN:    "probe_scheduler.db",
		},
		Scheduler: SchedulerConfig{
			Policy:         _const.RoundRobinPolicy.String(),
			PassSpec:       _const.DefaultSchedulePassSpec,
			LockTimeout:    Duration(10 * time.Second),
			PersistTimeout: Duration(5 * time.Second),
		},
		Tracker: TrackerConfig{
			Spec:         _const.DefaultTrackerSpec,
			InitialDelay: Duration(_const.DefaultTrackerInitialDelay),
		},
		Dispatch: DispatchConfig{
			Limiter:       _const.DefaultLimiter,
			CallTimeout:   Duration(10 * time.Second),
			RetryInterval: Duration(time.Second),
			RetryMax:      3,
		},
	}
}

// Load 读取配置文件，未出现的字段保留默认值，未知字段报错
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(bytes.NewReader(data))
}

func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if _, ok := _const.ParsePolicyKind(c.Scheduler.Policy); !ok {
		errs = append(errs, fmt.Errorf("scheduler.policy: unknown policy %q", c.Scheduler.Policy))
	}
	if _, err := _const.Parser.Parse(c.Scheduler.PassSpec); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.pass_spec: %w", err))
	}
	if _, err := _const.Parser.Parse(c.Tracker.Spec); err != nil {
		errs = append(errs, fmt.Errorf("tracker.spec: %w", err))
	}
	if c.Tracker.InitialDelay < 0 {
		errs = append(errs, errors.New("tracker.initial_delay: must not be negative"))
	}
	switch c.Storage.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if c.Dispatch.Limiter <= 0 {
		errs = append(errs, errors.New("dispatch.limiter: must be positive"))
	}

	seen := make(map[string]struct{}, len(c.Devices))
	for _, d := range c.Devices {
		if strings.TrimSpace(d) == "" {
			errs = append(errs, errors.New("devices: empty device id"))
			continue
		}
		if _, ok := seen[d]; ok {
			errs = append(errs, fmt.Errorf("devices: duplicate device %q", d))
		}
		seen[d] = struct{}{}
	}

	for k, v := range c.ExecutionTimes {
		if _, ok := _const.ParseMeasurementType(k); !ok {
			errs = append(errs, fmt.Errorf("execution_times: unknown measurement type %q", k))
		}
		if v <= 0 {
			errs = append(errs, fmt.Errorf("execution_times.%s: must be positive", k))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// ExecutionTable 默认执行时长叠加配置中的覆盖项
func (c Config) ExecutionTable() probe.ExecutionTimes {
	res := probe.DefaultExecutionTimes()
	for k, v := range c.ExecutionTimes {
		if typ, ok := _const.ParseMeasurementType(k); ok {
			res[typ] = v.Std()
		}
	}
	return res
}

func (c Config) PolicyKind() _const.PolicyKind {
	kind, _ := _const.ParsePolicyKind(c.Scheduler.Policy)
	return kind
}
