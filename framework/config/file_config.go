package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig represents the structured YAML configuration.
type FileConfig struct {
	Run         *RunFileConfig         `yaml:"run"`
	UUT         *UUTFileConfig         `yaml:"uut"`
	Logging     *LoggingFileConfig     `yaml:"logging"`
	Report      *ReportFileConfig      `yaml:"report"`
	Objectstore *ObjectstoreFileConfig `yaml:"objectstore"`
	Telemetry   *TelemetryFileConfig   `yaml:"telemetry"`
}

type RunFileConfig struct {
	ID             *string     `yaml:"id"`
	PlanDir        *string     `yaml:"plan_dir"`
	ArtifactDir    *string     `yaml:"artifact_dir"`
	IncludeTags    *StringList `yaml:"include_tags"`
	ExcludeTags    *StringList `yaml:"exclude_tags"`
	Capabilities   *StringList `yaml:"capabilities"`
	Parallel       *int        `yaml:"parallel"`
	LoopTimes      *int        `yaml:"loop_times"`
	DefaultTimeout *string     `yaml:"default_timeout"`
	StopOnFailure  *bool       `yaml:"stop_on_failure"`
}

type UUTFileConfig struct {
	IP       *string           `yaml:"ip"`
	CloudEnv *string           `yaml:"cloud_env"`
	Platform *string           `yaml:"platform"`
	ADB      *ADBFileConfig    `yaml:"adb"`
	SSH      *SSHFileConfig    `yaml:"ssh"`
	Serial   *SerialFileConfig `yaml:"serial"`
	REST     *RESTFileConfig   `yaml:"rest"`
}

type ADBFileConfig struct {
	Serial *string `yaml:"serial"`
	Path   *string `yaml:"path"`
	Port   *int    `yaml:"port"`
}

type SSHFileConfig struct {
	User     *string `yaml:"user"`
	Password *string `yaml:"password"`
	KeyFile  *string `yaml:"key_file"`
	Port     *int    `yaml:"port"`
}

type SerialFileConfig struct {
	Port *string `yaml:"port"`
	Baud *int    `yaml:"baud"`
}

type RESTFileConfig struct {
	URL      *string `yaml:"url"`
	Token    *string `yaml:"token"`
	Insecure *bool   `yaml:"insecure"`
}

type LoggingFileConfig struct {
	Format *string `yaml:"format"`
	Level  *string `yaml:"level"`
}

type ReportFileConfig struct {
	Metrics        *bool   `yaml:"metrics"`
	MetricsPath    *string `yaml:"metrics_path"`
	LogstashURL    *string `yaml:"logstash_url"`
	PopcornURL     *string `yaml:"popcorn_url"`
	PopcornProduct *string `yaml:"popcorn_product"`
	Reporter       *string `yaml:"reporter"`
}

type TelemetryFileConfig struct {
	Endpoint      *string `yaml:"endpoint"`
	Insecure      *bool   `yaml:"insecure"`
	Headers       *string `yaml:"headers"`
	ServiceName   *string `yaml:"service_name"`
	ResourceAttrs *string `yaml:"resource_attrs"`
}

type ObjectstoreFileConfig struct {
	Provider           *string `yaml:"provider"`
	Bucket             *string `yaml:"bucket"`
	Prefix             *string `yaml:"prefix"`
	Region             *string `yaml:"region"`
	Endpoint           *string `yaml:"endpoint"`
	AccessKey          *string `yaml:"access_key"`
	SecretKey          *string `yaml:"secret_key"`
	SessionToken       *string `yaml:"session_token"`
	S3PathStyle        *bool   `yaml:"s3_path_style"`
	GCPProject         *string `yaml:"gcp_project"`
	GCPCredentialsFile *string `yaml:"gcp_credentials_file"`
	GCPCredentialsJSON *string `yaml:"gcp_credentials_json"`
	AzureAccount       *string `yaml:"azure_account"`
	AzureKey           *string `yaml:"azure_key"`
	AzureEndpoint      *string `yaml:"azure_endpoint"`
	AzureSASToken      *string `yaml:"azure_sas_token"`
}

// StringList supports string or list YAML values.
type StringList []string

func (s *StringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*s = splitCSV(value.Value)
		return nil
	case yaml.SequenceNode:
		out := make([]string, 0, len(value.Content))
		for _, node := range value.Content {
			if node.Kind != yaml.ScalarNode {
				return fmt.Errorf("string list must contain only scalars")
			}
			item := strings.TrimSpace(node.Value)
			if item != "" {
				out = append(out, item)
			}
		}
		*s = out
		return nil
	default:
		return fmt.Errorf("string list must be a string or list")
	}
}

func loadFileConfig(path string) (*FileConfig, error) {
	expanded := expandPath(path)
	if expanded == "" {
		return nil, nil
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, err
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyFileConfig(cfg *Config, fileCfg *FileConfig) error {
	if cfg == nil || fileCfg == nil {
		return nil
	}
	if run := fileCfg.Run; run != nil {
		setString(&cfg.RunID, run.ID)
		setPath(&cfg.PlanDir, run.PlanDir)
		setPath(&cfg.ArtifactDir, run.ArtifactDir)
		if run.IncludeTags != nil {
			cfg.IncludeTags = append([]string(nil), (*run.IncludeTags)...)
		}
		if run.ExcludeTags != nil {
			cfg.ExcludeTags = append([]string(nil), (*run.ExcludeTags)...)
		}
		if run.Capabilities != nil {
			cfg.Capabilities = append([]string(nil), (*run.Capabilities)...)
		}
		setInt(&cfg.Parallelism, run.Parallel)
		setInt(&cfg.LoopTimes, run.LoopTimes)
		if run.DefaultTimeout != nil {
			duration, err := time.ParseDuration(strings.TrimSpace(*run.DefaultTimeout))
			if err != nil {
				return fmt.Errorf("invalid run.default_timeout: %w", err)
			}
			cfg.DefaultTimeout = duration
		}
		setBool(&cfg.StopOnFailure, run.StopOnFailure)
	}
	if uut := fileCfg.UUT; uut != nil {
		setString(&cfg.UUTIP, uut.IP)
		setString(&cfg.CloudEnv, uut.CloudEnv)
		setString(&cfg.Platform, uut.Platform)
		if adb := uut.ADB; adb != nil {
			setString(&cfg.AdbSerial, adb.Serial)
			setPath(&cfg.AdbPath, adb.Path)
			setInt(&cfg.AdbPort, adb.Port)
		}
		if ssh := uut.SSH; ssh != nil {
			setString(&cfg.SSHUser, ssh.User)
			setString(&cfg.SSHPassword, ssh.Password)
			setPath(&cfg.SSHKeyFile, ssh.KeyFile)
			setInt(&cfg.SSHPort, ssh.Port)
		}
		if serial := uut.Serial; serial != nil {
			setString(&cfg.SerialPort, serial.Port)
			setInt(&cfg.SerialBaud, serial.Baud)
		}
		if rest := uut.REST; rest != nil {
			setString(&cfg.RestURL, rest.URL)
			setString(&cfg.RestToken, rest.Token)
			setBool(&cfg.RestInsecure, rest.Insecure)
		}
	}
	if logging := fileCfg.Logging; logging != nil {
		setString(&cfg.LogFormat, logging.Format)
		setString(&cfg.LogLevel, logging.Level)
	}
	if report := fileCfg.Report; report != nil {
		setBool(&cfg.MetricsEnabled, report.Metrics)
		setPath(&cfg.MetricsPath, report.MetricsPath)
		setString(&cfg.LogstashURL, report.LogstashURL)
		setString(&cfg.PopcornURL, report.PopcornURL)
		setString(&cfg.PopcornProduct, report.PopcornProduct)
		setString(&cfg.Reporter, report.Reporter)
	}
	if tel := fileCfg.Telemetry; tel != nil {
		setString(&cfg.OTelEndpoint, tel.Endpoint)
		setBool(&cfg.OTelInsecure, tel.Insecure)
		setString(&cfg.OTelHeaders, tel.Headers)
		setString(&cfg.OTelServiceName, tel.ServiceName)
		setString(&cfg.OTelResourceAttrs, tel.ResourceAttrs)
	}
	if obj := fileCfg.Objectstore; obj != nil {
		setString(&cfg.ObjectStoreProvider, obj.Provider)
		setString(&cfg.ObjectStoreBucket, obj.Bucket)
		setString(&cfg.ObjectStorePrefix, obj.Prefix)
		setString(&cfg.ObjectStoreRegion, obj.Region)
		setString(&cfg.ObjectStoreEndpoint, obj.Endpoint)
		setString(&cfg.ObjectStoreAccessKey, obj.AccessKey)
		setString(&cfg.ObjectStoreSecretKey, obj.SecretKey)
		setString(&cfg.ObjectStoreSessionToken, obj.SessionToken)
		setBool(&cfg.ObjectStoreS3PathStyle, obj.S3PathStyle)
		setString(&cfg.ObjectStoreGCPProject, obj.GCPProject)
		setPath(&cfg.ObjectStoreGCPCredentialsFile, obj.GCPCredentialsFile)
		setString(&cfg.ObjectStoreGCPCredentialsJSON, obj.GCPCredentialsJSON)
		setString(&cfg.ObjectStoreAzureAccount, obj.AzureAccount)
		setString(&cfg.ObjectStoreAzureKey, obj.AzureKey)
		setString(&cfg.ObjectStoreAzureEndpoint, obj.AzureEndpoint)
		setString(&cfg.ObjectStoreAzureSASToken, obj.AzureSASToken)
	}
	return nil
}

func setString(dst *string, value *string) {
	if value != nil {
		*dst = strings.TrimSpace(*value)
	}
}

func setPath(dst *string, value *string) {
	if value != nil {
		*dst = expandPath(*value)
	}
}

func setInt(dst *int, value *int) {
	if value != nil {
		*dst = *value
	}
}

func setBool(dst *bool, value *bool) {
	if value != nil {
		*dst = *value
	}
}

func expandPath(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return trimmed
	}
	expanded := os.ExpandEnv(trimmed)
	if strings.HasPrefix(expanded, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			expanded = filepath.Join(home, strings.TrimPrefix(expanded, "~"))
		}
	}
	return expanded
}
