package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagSet(cfg *Config) *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.BindFlags(fs)
	return fs
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "plans", cfg.PlanDir)
	assert.Equal(t, 1, cfg.Parallelism)
	assert.Equal(t, 1, cfg.LoopTimes)
	assert.Equal(t, 30*time.Minute, cfg.DefaultTimeout)
	assert.Equal(t, "godzilla", cfg.Platform)
	assert.Equal(t, 22, cfg.SSHPort)
	assert.Equal(t, 115200, cfg.SerialBaud)
	assert.True(t, cfg.MetricsEnabled)
	assert.Regexp(t, `^\d{8}T\d{6}Z-[0-9a-f]{8}$`, cfg.RunID)
}

func TestResolvePrecedence(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "uut.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
run:
  parallel: 4
  loop_times: 3
  include_tags: smoke, bat
  default_timeout: 5m
uut:
  ip: 10.0.0.5
  cloud_env: dev1
  platform: kamino
  ssh:
    user: admin
logging:
  level: debug
telemetry:
  endpoint: otel-collector:4317
  insecure: true
`), 0o644))
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("UUT_CLOUD_ENV=qa1\nUUT_SSH_PASSWORD=hunter2\n"), 0o644))

	t.Setenv("UUT_LOOP_TIMES", "7")
	t.Setenv("UUT_CLOUD_ENV", "")
	t.Setenv("UUT_SSH_PASSWORD", "")
	cfg := Default()
	fs := newFlagSet(cfg)
	require.NoError(t, fs.Parse([]string{
		"--config", configPath,
		"--env_file", envPath,
		"--uut_ip", "192.168.1.20",
		"--exclude_tags", "slow,ota",
	}))
	os.Unsetenv("UUT_CLOUD_ENV")
	os.Unsetenv("UUT_SSH_PASSWORD")
	require.NoError(t, cfg.Resolve(fs))
	t.Cleanup(func() {
		os.Unsetenv("UUT_CLOUD_ENV")
		os.Unsetenv("UUT_SSH_PASSWORD")
	})

	assert.Equal(t, 4, cfg.Parallelism, "from file")
	assert.Equal(t, 7, cfg.LoopTimes, "env beats file")
	assert.Equal(t, "192.168.1.20", cfg.UUTIP, "flag beats file")
	assert.Equal(t, "qa1", cfg.CloudEnv, "dotenv beats file")
	assert.Equal(t, "hunter2", cfg.SSHPassword)
	assert.Equal(t, "admin", cfg.SSHUser)
	assert.Equal(t, "kamino", cfg.Platform)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5*time.Minute, cfg.DefaultTimeout)
	assert.Equal(t, []string{"smoke", "bat"}, cfg.IncludeTags)
	assert.Equal(t, []string{"slow", "ota"}, cfg.ExcludeTags)
	assert.Equal(t, "192.168.1.20:5555", cfg.AdbSerial)
	assert.Equal(t, "http://192.168.1.20", cfg.RestURL)
	assert.Equal(t, filepath.Join(cfg.ArtifactDir, cfg.RunID, "metrics.prom"), cfg.MetricsPath)
	assert.Equal(t, "otel-collector:4317", cfg.OTelEndpoint)
	assert.True(t, cfg.OTelInsecure)
	assert.Equal(t, "uut-harness", cfg.OTelServiceName)
}

func TestResolveConfigFileFromDotenv(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "uut.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("uut:\n  ip: 10.0.0.9\n  platform: godzilla\n"), 0o644))
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("UUT_CONFIG="+configPath+"\n"), 0o644))

	t.Setenv("UUT_CONFIG", "")
	os.Unsetenv("UUT_CONFIG")
	t.Cleanup(func() { os.Unsetenv("UUT_CONFIG") })
	cfg := Default()
	fs := newFlagSet(cfg)
	require.NoError(t, fs.Parse([]string{"--env_file", envPath}))
	require.NoError(t, cfg.Resolve(fs))

	assert.Equal(t, "10.0.0.9", cfg.UUTIP)
	assert.Equal(t, "godzilla", cfg.Platform)
}

func TestResolveRejectsUnknownPlatform(t *testing.T) {
	cfg := Default()
	fs := newFlagSet(cfg)
	require.NoError(t, fs.Parse([]string{"--platform", "toaster", "--env_file", ""}))
	err := cfg.Resolve(fs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "toaster")
}

func TestResolveInvalidEnv(t *testing.T) {
	t.Setenv("UUT_PARALLEL", "many")
	cfg := Default()
	fs := newFlagSet(cfg)
	require.NoError(t, fs.Parse([]string{"--env_file", ""}))
	err := cfg.Resolve(fs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UUT_PARALLEL")
}

func TestValidateClamps(t *testing.T) {
	cfg := Default()
	cfg.Parallelism = 0
	cfg.LoopTimes = -2
	cfg.Platform = " GRACK "
	cfg.RunID = ""
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.Parallelism)
	assert.Equal(t, 1, cfg.LoopTimes)
	assert.Equal(t, "grack", cfg.Platform)
	assert.NotEmpty(t, cfg.RunID)
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.SSHPassword = "secret"
	cfg.RestToken = "token"
	cfg.OTelHeaders = "authorization=Bearer abc"
	redacted := cfg.Redacted()
	assert.Equal(t, "[REDACTED]", redacted.SSHPassword)
	assert.Equal(t, "[REDACTED]", redacted.RestToken)
	assert.Equal(t, "[REDACTED]", redacted.OTelHeaders)
	assert.Empty(t, redacted.ObjectStoreAzureKey)
	assert.Equal(t, "secret", cfg.SSHPassword)
}

func TestStringListYAML(t *testing.T) {
	fileCfg, err := loadFileConfig(writeTemp(t, "run:\n  capabilities: [adb, ' ssh ']\n"))
	require.NoError(t, err)
	assert.Equal(t, StringList{"adb", "ssh"}, *fileCfg.Run.Capabilities)

	_, err = loadFileConfig(writeTemp(t, "run:\n  capabilities:\n    nested: true\n"))
	assert.Error(t, err)
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "UUT_IP", EnvName("uut_ip"))
	assert.Equal(t, "UUT_OBJECTSTORE_BUCKET", EnvName("objectstore-bucket"))
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
