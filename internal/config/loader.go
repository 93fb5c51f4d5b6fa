package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// ErrLoadConfig indicates a failure to read or parse the YAML configuration.
var ErrLoadConfig = errors.New("config load failed")

// ErrValidateConfig indicates that the loaded configuration is invalid.
var ErrValidateConfig = errors.New("configuration validation failed")

const (
	DefaultDataDir    = "/var/lib/jujubackupall"
	DefaultConfigPath = DefaultDataDir + "/config.yaml"
	ExporterName      = "prometheus-juju-backup-all-exporter"
	BackupUsername    = "jujubackup"
	envPrefix         = "JUJU_BACKUP_ALL"
)

// Config represents the top-level YAML configuration file.
type Config struct {
	Include    []string         `mapstructure:"include"    yaml:"include,omitempty"`
	Paths      PathsConfig      `mapstructure:"paths"      yaml:"paths"`
	Backup     BackupConfig     `mapstructure:"backup"     yaml:"backup"`
	Juju       JujuConfig       `mapstructure:"juju"       yaml:"juju"`
	Vault      VaultConfig      `mapstructure:"vault"      yaml:"vault"`
	Exporter   ExporterConfig   `mapstructure:"exporter"   yaml:"exporter"`
	Monitoring MonitoringConfig `mapstructure:"monitoring" yaml:"monitoring"`
}

// PathsConfig holds the host locations the job reads and writes.
type PathsConfig struct {
	DataDir     string `mapstructure:"data_dir"     yaml:"data_dir"`
	ResultsFile string `mapstructure:"results_file" yaml:"results_file"`
	LogFile     string `mapstructure:"log_file"     yaml:"log_file"`
	PIDFile     string `mapstructure:"pid_file"     yaml:"pid_file"`
	Crontab     string `mapstructure:"crontab"      yaml:"crontab"`
	NRPEDir     string `mapstructure:"nrpe_dir"     yaml:"nrpe_dir"`
	Binary      string `mapstructure:"binary"       yaml:"binary,omitempty"`
}

// BackupConfig contains the backup job options.
type BackupConfig struct {
	OutputDirectory           string        `mapstructure:"output_directory"             yaml:"output_directory"`
	User                      string        `mapstructure:"user"                         yaml:"user"`
	Schedule                  string        `mapstructure:"schedule"                     yaml:"schedule"`
	RetentionDays             int           `mapstructure:"retention_days"               yaml:"retention_days"`
	TaskTimeout               time.Duration `mapstructure:"task_timeout"                 yaml:"task_timeout"`
	OverallTimeout            time.Duration `mapstructure:"overall_timeout"              yaml:"overall_timeout"`
	Compress                  bool          `mapstructure:"compress"                     yaml:"compress"`
	Controllers               []string      `mapstructure:"controllers"                  yaml:"controllers,omitempty"`
	ExcludeControllerBackup   bool          `mapstructure:"exclude_controller_backup"    yaml:"exclude_controller_backup"`
	ExcludeClientConfigBackup bool          `mapstructure:"exclude_client_config_backup" yaml:"exclude_client_config_backup"`
	ExcludeCharms             []string      `mapstructure:"exclude_charms"               yaml:"exclude_charms,omitempty"`
	ExcludeModels             []string      `mapstructure:"exclude_models"               yaml:"exclude_models,omitempty"`
}

// JujuConfig describes how to reach the controllers.
type JujuConfig struct {
	Binary        string `mapstructure:"binary"         yaml:"binary"`
	BackupCommand string `mapstructure:"backup_command" yaml:"backup_command"`
	// Controllers and Accounts are the raw contents of controllers.yaml and
	// accounts.yaml written into the juju data directory.
	Controllers string `mapstructure:"controllers" yaml:"controllers,omitempty"`
	Accounts    string `mapstructure:"accounts"    yaml:"accounts,omitempty"`
}

// VaultConfig holds connection settings for HashiCorp Vault. When
// AccountsPath is set, controller accounts are read from Vault instead of
// JujuConfig.Accounts.
type VaultConfig struct {
	Address      string `mapstructure:"address"       yaml:"address,omitempty"`
	RoleID       string `mapstructure:"role_id"       yaml:"role_id,omitempty"`
	RoleName     string `mapstructure:"role_name"     yaml:"role_name,omitempty"`
	AccountsPath string `mapstructure:"accounts_path" yaml:"accounts_path,omitempty"`
}

// ExporterConfig configures the metrics exporter snap.
type ExporterConfig struct {
	Snap       string `mapstructure:"snap"        yaml:"snap,omitempty"`
	Channel    string `mapstructure:"channel"     yaml:"channel"`
	Port       int    `mapstructure:"port"        yaml:"port"`
	Level      string `mapstructure:"level"       yaml:"level"`
	StatsDir   string `mapstructure:"stats_dir"   yaml:"stats_dir"`
	ConfigFile string `mapstructure:"config_file" yaml:"config_file"`
}

// MonitoringConfig configures the NRPE check.
type MonitoringConfig struct {
	ResultsMaxAgeHours int `mapstructure:"results_max_age_hours" yaml:"results_max_age_hours"`
}

// Enabled reports whether accounts come from Vault.
func (v VaultConfig) Enabled() bool { return v.AccountsPath != "" }

// SSHDir is where the backup user's key pair lives.
func (p PathsConfig) SSHDir() string { return filepath.Join(p.DataDir, "ssh") }

// SSHPrivateKey is the private key pushed to the models.
func (p PathsConfig) SSHPrivateKey() string { return filepath.Join(p.SSHDir(), "juju_id_rsa") }

// SSHPublicKey is the public half of SSHPrivateKey.
func (p PathsConfig) SSHPublicKey() string { return p.SSHPrivateKey() + ".pub" }

// CookiesDir holds per-controller macaroon cookie jars.
func (p PathsConfig) CookiesDir() string { return filepath.Join(p.DataDir, "cookies") }

// ExporterState records the exporter settings applied last.
func (p PathsConfig) ExporterState() string { return filepath.Join(p.DataDir, "exporter-state.yaml") }

// ScrapeJobs is where the exporter scrape targets are published.
func (p PathsConfig) ScrapeJobs() string { return filepath.Join(p.DataDir, "scrape_jobs.json") }

func setDefaults(v *viper.Viper) {
	v.SetDefault("paths.data_dir", DefaultDataDir)
	v.SetDefault("paths.results_file", DefaultDataDir+"/auto_backup_results.json")
	v.SetDefault("paths.log_file", DefaultDataDir+"/auto_backup.log")
	v.SetDefault("paths.pid_file", "/tmp/auto_backup.pid")
	v.SetDefault("paths.crontab", "/etc/cron.d/juju-backup-all")
	v.SetDefault("paths.nrpe_dir", "/etc/nagios/nrpe.d")

	v.SetDefault("backup.output_directory", "/opt/backups")
	v.SetDefault("backup.user", BackupUsername)
	v.SetDefault("backup.schedule", "30 4 * * *")
	v.SetDefault("backup.retention_days", 30)
	v.SetDefault("backup.task_timeout", 10*time.Minute)
	v.SetDefault("backup.overall_timeout", time.Duration(0))
	v.SetDefault("backup.compress", false)

	v.SetDefault("juju.binary", "juju")
	v.SetDefault("juju.backup_command", "juju-backup-all")

	v.SetDefault("exporter.channel", "latest/stable")
	v.SetDefault("exporter.port", 10000)
	v.SetDefault("exporter.level", "INFO")
	v.SetDefault("exporter.stats_dir", "/var/snap/"+ExporterName+"/common")
	v.SetDefault("exporter.config_file", "/var/snap/"+ExporterName+"/current/config.yaml")

	v.SetDefault("monitoring.results_max_age_hours", 25)
}

// Default returns the configuration used when no file is given.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	_ = v.Unmarshal(&c)
	return c
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// FromEnv builds and validates the configuration from the defaults and the
// JUJU_BACKUP_ALL_* environment, without a file.
func FromEnv() (Config, error) {
	var c Config
	if err := newViper().UnmarshalExact(&c); err != nil {
		return Config{}, fmt.Errorf("%w: unmarshal config: %v", ErrLoadConfig, err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Load reads the configuration from the given YAML file using Viper,
// merges any included files, and unmarshals into the Config struct.
func (c *Config) Load(path string) error {
	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Read base configuration
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("%w: read base config %s: %v", ErrLoadConfig, path, err)
	}

	// Merge include files (if any)
	for _, inc := range v.GetStringSlice("include") {
		data, err := os.ReadFile(inc)
		if err != nil {
			return fmt.Errorf("%w: read include %s: %v", ErrLoadConfig, inc, err)
		}
		if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
			return fmt.Errorf("%w: merge include %s: %v", ErrLoadConfig, inc, err)
		}
	}

	// Unmarshal into the Config struct
	if err := v.UnmarshalExact(c); err != nil {
		return fmt.Errorf("%w: unmarshal config: %v", ErrLoadConfig, err)
	}

	return nil
}

// LoadFile is a convenience wrapper around Load and Validate.
func LoadFile(path string) (Config, error) {
	var c Config
	if err := c.Load(path); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	var errs []error
	if c.Paths.DataDir == "" {
		errs = append(errs, errors.New("paths.data_dir is required"))
	}
	if c.Paths.ResultsFile == "" {
		errs = append(errs, errors.New("paths.results_file is required"))
	}
	if c.Paths.PIDFile == "" {
		errs = append(errs, errors.New("paths.pid_file is required"))
	}
	if c.Backup.OutputDirectory == "" {
		errs = append(errs, errors.New("backup.output_directory is required"))
	}
	if c.Backup.User == "" {
		errs = append(errs, errors.New("backup.user is required"))
	}
	if _, err := cron.ParseStandard(c.Backup.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("backup.schedule %q: %v", c.Backup.Schedule, err))
	}
	if c.Backup.RetentionDays < 0 {
		errs = append(errs, errors.New("backup.retention_days must not be negative"))
	}
	if c.Backup.TaskTimeout < 0 {
		errs = append(errs, errors.New("backup.task_timeout must not be negative"))
	}
	if c.Backup.OverallTimeout < 0 {
		errs = append(errs, errors.New("backup.overall_timeout must not be negative"))
	}
	if c.Exporter.Port <= 0 || c.Exporter.Port > 65535 {
		errs = append(errs, fmt.Errorf("exporter.port %d out of range", c.Exporter.Port))
	}
	if c.Monitoring.ResultsMaxAgeHours < 0 {
		errs = append(errs, errors.New("monitoring.results_max_age_hours must not be negative"))
	}
	if c.Vault.Enabled() && c.Vault.Address == "" && os.Getenv("VAULT_ADDR") == "" {
		errs = append(errs, errors.New("vault.address is required when vault.accounts_path is set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", ErrValidateConfig, errors.Join(errs...))
	}
	return nil
}
