package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/mcuadros/go-defaults"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes the environment variable of every flag.
const EnvPrefix = "UUT_"

// Config controls the runner and the device under test.
type Config struct {
	ConfigFile string
	EnvFile    string `default:".env"`

	RunID          string
	PlanDir        string `default:"plans"`
	ArtifactDir    string `default:"artifacts"`
	IncludeTags    []string
	ExcludeTags    []string
	Capabilities   []string
	Parallelism    int           `default:"1"`
	LoopTimes      int           `default:"1"`
	DefaultTimeout time.Duration `default:"30m"`
	StopOnFailure  bool

	UUTIP        string
	CloudEnv     string `default:"qa1"`
	Platform     string `default:"godzilla"`
	AdbSerial    string
	AdbPath      string `default:"adb"`
	AdbPort      int    `default:"5555"`
	SSHUser      string `default:"root"`
	SSHPassword  string
	SSHKeyFile   string
	SSHPort      int `default:"22"`
	SerialPort   string
	SerialBaud   int `default:"115200"`
	RestURL      string
	RestToken    string
	RestInsecure bool

	LogFormat      string `default:"console"`
	LogLevel       string `default:"info"`
	MetricsEnabled bool   `default:"true"`
	MetricsPath    string
	LogstashURL    string
	PopcornURL     string
	PopcornProduct string
	Reporter       string

	OTelEndpoint      string
	OTelInsecure      bool
	OTelHeaders       string
	OTelServiceName   string `default:"uut-harness"`
	OTelResourceAttrs string

	ObjectStoreProvider           string
	ObjectStoreBucket             string
	ObjectStorePrefix             string
	ObjectStoreRegion             string
	ObjectStoreEndpoint           string
	ObjectStoreAccessKey          string
	ObjectStoreSecretKey          string
	ObjectStoreSessionToken       string
	ObjectStoreS3PathStyle        bool
	ObjectStoreGCPProject         string
	ObjectStoreGCPCredentialsFile string
	ObjectStoreGCPCredentialsJSON string
	ObjectStoreAzureAccount       string
	ObjectStoreAzureKey           string
	ObjectStoreAzureEndpoint      string
	ObjectStoreAzureSASToken      string

	includeTags  string
	excludeTags  string
	capabilities string
}

// Default returns a config with every default applied and a fresh run ID.
func Default() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.RunID = NewRunID(time.Now())
	return cfg
}

// NewRunID returns a sortable, unique run identifier.
func NewRunID(now time.Time) string {
	return fmt.Sprintf("%s-%s", now.UTC().Format("20060102T150405Z"), uuid.NewString()[:8])
}

// BindFlags registers every setting on fs, using the current values as
// flag defaults.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "path to a YAML config file")
	fs.StringVar(&c.EnvFile, "env_file", c.EnvFile, "dotenv file loaded into the environment when present")

	fs.StringVar(&c.RunID, "run_id", c.RunID, "unique run identifier")
	fs.StringVar(&c.PlanDir, "plan_dir", c.PlanDir, "directory containing test plans")
	fs.StringVar(&c.ArtifactDir, "artifact_dir", c.ArtifactDir, "directory for run artifacts")
	fs.StringVar(&c.includeTags, "include_tags", strings.Join(c.IncludeTags, ","), "comma-separated tag allowlist")
	fs.StringVar(&c.excludeTags, "exclude_tags", strings.Join(c.ExcludeTags, ","), "comma-separated tag denylist")
	fs.StringVar(&c.capabilities, "capabilities", strings.Join(c.Capabilities, ","), "comma-separated capability list (adb, ssh, serial, rest)")
	fs.IntVar(&c.Parallelism, "parallel", c.Parallelism, "max tests run in parallel")
	fs.IntVar(&c.LoopTimes, "loop_times", c.LoopTimes, "iterations per test unless the plan sets loop")
	fs.DurationVar(&c.DefaultTimeout, "default_timeout", c.DefaultTimeout, "per-test timeout unless the plan sets one")
	fs.BoolVar(&c.StopOnFailure, "stop_on_failure", c.StopOnFailure, "stop looping a test after its first failed iteration")

	fs.StringVar(&c.UUTIP, "uut_ip", c.UUTIP, "IP address of the unit under test")
	fs.StringVar(&c.CloudEnv, "cloud_env", c.CloudEnv, "cloud environment the UUT is paired with (dev1, qa1, prod)")
	fs.StringVar(&c.Platform, "platform", c.Platform, "UUT platform: kamino|godzilla|kdp|grack")
	fs.StringVar(&c.AdbSerial, "adb_serial", c.AdbSerial, "adb serial; defaults to uut_ip:adb_port")
	fs.StringVar(&c.AdbPath, "adb_path", c.AdbPath, "path to the adb binary")
	fs.IntVar(&c.AdbPort, "adb_port", c.AdbPort, "adb tcp port")
	fs.StringVar(&c.SSHUser, "ssh_user", c.SSHUser, "ssh user")
	fs.StringVar(&c.SSHPassword, "ssh_password", c.SSHPassword, "ssh password")
	fs.StringVar(&c.SSHKeyFile, "ssh_key", c.SSHKeyFile, "ssh private key file")
	fs.IntVar(&c.SSHPort, "ssh_port", c.SSHPort, "ssh port")
	fs.StringVar(&c.SerialPort, "serial_port", c.SerialPort, "serial console device, e.g. /dev/ttyUSB0")
	fs.IntVar(&c.SerialBaud, "serial_baud", c.SerialBaud, "serial console baud rate")
	fs.StringVar(&c.RestURL, "rest_url", c.RestURL, "device REST API base URL; defaults to http://uut_ip")
	fs.StringVar(&c.RestToken, "rest_token", c.RestToken, "bearer token for the device REST API")
	fs.BoolVar(&c.RestInsecure, "rest_insecure", c.RestInsecure, "skip TLS verification for the device REST API")

	fs.StringVar(&c.LogFormat, "log_format", c.LogFormat, "log format: json|console")
	fs.StringVar(&c.LogLevel, "log_level", c.LogLevel, "log level: debug|info|warn|error")
	fs.BoolVar(&c.MetricsEnabled, "metrics", c.MetricsEnabled, "write a prometheus metrics file")
	fs.StringVar(&c.MetricsPath, "metrics_path", c.MetricsPath, "metrics output path; defaults to the run directory")
	fs.StringVar(&c.LogstashURL, "logstash_url", c.LogstashURL, "logstash HTTP input receiving one document per iteration")
	fs.StringVar(&c.PopcornURL, "popcorn_url", c.PopcornURL, "Popcorn endpoint receiving the run report")
	fs.StringVar(&c.PopcornProduct, "popcorn_product", c.PopcornProduct, "product name reported to Popcorn")
	fs.StringVar(&c.Reporter, "reporter", c.Reporter, "console reporter: table|quiet")

	fs.StringVar(&c.OTelEndpoint, "otel_endpoint", c.OTelEndpoint, "OTLP gRPC endpoint; traces are exported when set")
	fs.BoolVar(&c.OTelInsecure, "otel_insecure", c.OTelInsecure, "disable TLS for the OTLP endpoint")
	fs.StringVar(&c.OTelHeaders, "otel_headers", c.OTelHeaders, "comma-separated key=value headers sent to the OTLP endpoint")
	fs.StringVar(&c.OTelServiceName, "otel_service_name", c.OTelServiceName, "service.name resource attribute")
	fs.StringVar(&c.OTelResourceAttrs, "otel_resource_attrs", c.OTelResourceAttrs, "comma-separated key=value resource attributes")

	fs.StringVar(&c.ObjectStoreProvider, "objectstore_provider", c.ObjectStoreProvider, "artifact upload provider: s3|minio|gcs|azure")
	fs.StringVar(&c.ObjectStoreBucket, "objectstore_bucket", c.ObjectStoreBucket, "bucket or container")
	fs.StringVar(&c.ObjectStorePrefix, "objectstore_prefix", c.ObjectStorePrefix, "key prefix")
	fs.StringVar(&c.ObjectStoreRegion, "objectstore_region", c.ObjectStoreRegion, "region")
	fs.StringVar(&c.ObjectStoreEndpoint, "objectstore_endpoint", c.ObjectStoreEndpoint, "endpoint override")
	fs.StringVar(&c.ObjectStoreAccessKey, "objectstore_access_key", c.ObjectStoreAccessKey, "access key")
	fs.StringVar(&c.ObjectStoreSecretKey, "objectstore_secret_key", c.ObjectStoreSecretKey, "secret key")
	fs.StringVar(&c.ObjectStoreSessionToken, "objectstore_session_token", c.ObjectStoreSessionToken, "session token")
	fs.BoolVar(&c.ObjectStoreS3PathStyle, "objectstore_s3_path_style", c.ObjectStoreS3PathStyle, "use S3 path-style addressing")
	fs.StringVar(&c.ObjectStoreGCPProject, "objectstore_gcp_project", c.ObjectStoreGCPProject, "GCP project ID")
	fs.StringVar(&c.ObjectStoreGCPCredentialsFile, "objectstore_gcp_credentials_file", c.ObjectStoreGCPCredentialsFile, "GCP credentials file")
	fs.StringVar(&c.ObjectStoreGCPCredentialsJSON, "objectstore_gcp_credentials_json", c.ObjectStoreGCPCredentialsJSON, "GCP credentials JSON")
	fs.StringVar(&c.ObjectStoreAzureAccount, "objectstore_azure_account", c.ObjectStoreAzureAccount, "Azure storage account")
	fs.StringVar(&c.ObjectStoreAzureKey, "objectstore_azure_key", c.ObjectStoreAzureKey, "Azure storage key")
	fs.StringVar(&c.ObjectStoreAzureEndpoint, "objectstore_azure_endpoint", c.ObjectStoreAzureEndpoint, "Azure blob endpoint")
	fs.StringVar(&c.ObjectStoreAzureSASToken, "objectstore_azure_sas_token", c.ObjectStoreAzureSASToken, "Azure SAS token")
}

// EnvName returns the environment variable read for a flag.
func EnvName(flagName string) string {
	name := strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
	return EnvPrefix + strings.TrimPrefix(name, EnvPrefix)
}

// Resolve layers the config file, the dotenv file and the environment under
// the flags the user set explicitly, then validates the result.
// Precedence, lowest first: defaults, config file, environment, flags.
// The dotenv file only fills variables not already set, and is loaded first
// so it can name the config file through UUT_CONFIG.
func (c *Config) Resolve(fs *pflag.FlagSet) error {
	explicit := map[string]string{}
	fs.Visit(func(f *pflag.Flag) {
		explicit[f.Name] = f.Value.String()
	})

	if envFile := expandPath(c.EnvFile); envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return errors.Wrapf(err, "load env file %s", envFile)
			}
		}
	}

	configPath := c.ConfigFile
	if configPath == "" {
		configPath = strings.TrimSpace(os.Getenv(EnvName("config")))
	}
	if configPath != "" {
		fileCfg, err := loadFileConfig(configPath)
		if err != nil {
			return errors.Wrapf(err, "load config file %s", configPath)
		}
		if err := applyFileConfig(c, fileCfg); err != nil {
			return err
		}
	}

	var envErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if envErr != nil {
			return
		}
		value, ok := os.LookupEnv(EnvName(f.Name))
		if !ok || strings.TrimSpace(value) == "" {
			return
		}
		if err := f.Value.Set(strings.TrimSpace(value)); err != nil {
			envErr = errors.Wrapf(err, "invalid %s", EnvName(f.Name))
		}
	})
	if envErr != nil {
		return envErr
	}

	for name, value := range explicit {
		if err := fs.Set(name, value); err != nil {
			return errors.Wrapf(err, "invalid --%s", name)
		}
	}

	if tags := splitCSV(c.includeTags); tags != nil {
		c.IncludeTags = tags
	}
	if tags := splitCSV(c.excludeTags); tags != nil {
		c.ExcludeTags = tags
	}
	if caps := splitCSV(c.capabilities); caps != nil {
		c.Capabilities = caps
	}
	return c.Validate()
}

// Validate normalizes derived settings and rejects unusable ones.
func (c *Config) Validate() error {
	if c.Parallelism < 1 {
		c.Parallelism = 1
	}
	if c.LoopTimes < 1 {
		c.LoopTimes = 1
	}
	if strings.TrimSpace(c.RunID) == "" {
		c.RunID = NewRunID(time.Now())
	}
	c.Platform = strings.ToLower(strings.TrimSpace(c.Platform))
	switch c.Platform {
	case "kamino", "godzilla", "kdp", "grack":
	default:
		return errors.Errorf("unknown platform %q", c.Platform)
	}
	c.PlanDir = expandPath(c.PlanDir)
	c.ArtifactDir = expandPath(c.ArtifactDir)
	if c.MetricsPath == "" {
		c.MetricsPath = filepath.Join(c.RunDir(), "metrics.prom")
	}
	if c.AdbSerial == "" && c.UUTIP != "" {
		c.AdbSerial = fmt.Sprintf("%s:%d", c.UUTIP, c.AdbPort)
	}
	if c.RestURL == "" && c.UUTIP != "" {
		c.RestURL = "http://" + c.UUTIP
	}
	return nil
}

// RunDir is the directory artifacts of this run are written to.
func (c *Config) RunDir() string {
	return filepath.Join(c.ArtifactDir, c.RunID)
}

// Redacted returns a copy safe to log or persist.
func (c *Config) Redacted() Config {
	out := *c
	for _, secret := range []*string{
		&out.SSHPassword, &out.RestToken, &out.ObjectStoreSecretKey, &out.ObjectStoreSessionToken,
		&out.ObjectStoreGCPCredentialsJSON, &out.ObjectStoreAzureKey, &out.ObjectStoreAzureSASToken,
		&out.OTelHeaders,
	} {
		if *secret != "" {
			*secret = "[REDACTED]"
		}
	}
	return out
}

func splitCSV(value string) []string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	parts := strings.Split(trimmed, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		item := strings.TrimSpace(part)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
