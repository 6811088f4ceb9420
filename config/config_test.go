package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_const "github.com/TimeWtr/probe_scheduler/const"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
server:
  addr: ":9090"
  rate_per_sec: 5
logging:
  level: debug
storage:
  driver: postgres
  dsn: postgres://probe@localhost/probe?sslmode=disable
scheduler:
  policy: priority
  pass_spec: "@every 30s"
  lock_timeout: 3s
tracker:
  spec: "*/2 * * * *"
  initial_delay: 90s
devices: [phone-1, phone-2]
execution_times:
  traceroute: 4m
  tcpthroughput: 90s
dispatch:
  endpoint: http://gateway.local
  retry_max: 5
`

func TestParse(t *testing.T) {
	cfg, err := Parse(strings.NewReader(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 5, cfg.Server.RatePerSec)
	// 未出现的字段保留默认值
	assert.Equal(t, 40, cfg.Server.Burst)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, _const.PriorityPolicy, cfg.PolicyKind())
	assert.Equal(t, 3*time.Second, cfg.Scheduler.LockTimeout.Std())
	assert.Equal(t, 5*time.Second, cfg.Scheduler.PersistTimeout.Std())
	assert.Equal(t, 90*time.Second, cfg.Tracker.InitialDelay.Std())
	assert.Equal(t, []string{"phone-1", "phone-2"}, cfg.Devices)
	assert.Equal(t, 5, cfg.Dispatch.RetryMax)
	assert.Equal(t, time.Second, cfg.Dispatch.RetryInterval.Std())

	table := cfg.ExecutionTable()
	assert.Equal(t, 4*time.Minute, table[_const.TRACEROUTE])
	assert.Equal(t, 90*time.Second, table[_const.TCP])
	assert.Equal(t, time.Minute, table[_const.PING])
}

func TestParseEmptyUsesDefaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, _const.RoundRobinPolicy, cfg.PolicyKind())
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse(strings.NewReader("scheduler:\n  polcy: priority\n"))
	assert.Error(t, err)
}

func TestParseRejectsBadDuration(t *testing.T) {
	_, err := Parse(strings.NewReader("tracker:\n  initial_delay: soon\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "policy", mutate: func(c *Config) { c.Scheduler.Policy = "random" }},
		{name: "pass spec", mutate: func(c *Config) { c.Scheduler.PassSpec = "sometimes" }},
		{name: "tracker spec", mutate: func(c *Config) { c.Tracker.Spec = "" }},
		{name: "driver", mutate: func(c *Config) { c.Storage.Driver = "mongo" }},
		{name: "duplicate device", mutate: func(c *Config) { c.Devices = []string{"a", "a"} }},
		{name: "empty device", mutate: func(c *Config) { c.Devices = []string{" "} }},
		{name: "unknown type", mutate: func(c *Config) { c.ExecutionTimes = map[string]Duration{"udp": Duration(time.Second)} }},
		{name: "zero duration", mutate: func(c *Config) { c.ExecutionTimes = map[string]Duration{"ping": 0} }},
		{name: "limiter", mutate: func(c *Config) { c.Dispatch.Limiter = 0 }},
	}

	require.NoError(t, Default().Validate())
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
