package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/kebairia/jujubackup/internal/config"
	"github.com/kebairia/jujubackup/internal/logger"
	"github.com/kebairia/jujubackup/internal/operations"
)

var (
	// ConfigFile is the path to the YAML configuration.
	ConfigFile string
	// Debug enables debug logging.
	Debug bool

	// rootCmd is the base command for juju-backup-all.
	rootCmd = &cobra.Command{
		Use:   "juju-backup-all",
		Short: "Scheduled backups of juju controllers and their models",
		Long: `juju-backup-all installs and runs a scheduled job that backs up
juju controllers, their client configuration and hosted databases, records
the results and reports their health to monitoring.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initLogger(zapcore.InfoLevel)
		},
	}
)

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// ExitCode maps an Execute error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	return 1
}

// Execute runs the root command.
func Execute() error {
	defer logger.Cleanup()
	err := rootCmd.Execute()
	var exit *exitError
	if err != nil && !(errors.As(err, &exit) && exit.err == nil) {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
	}
	return err
}

// initLogger sets up the global logger. level applies unless --debug is set.
func initLogger(level zapcore.Level) error {
	_, err := logger.Init(logger.WithDebug(Debug, level))
	return err
}

// loadConfig reads ConfigFile. The defaults and the environment are used
// when the default configuration file does not exist.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	if _, err := os.Stat(ConfigFile); err != nil && !cmd.Flags().Changed("config") && errors.Is(err, os.ErrNotExist) {
		return config.FromEnv()
	}
	return config.LoadFile(ConfigFile)
}

func newManager(cmd *cobra.Command) (*operations.OperationManager, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return operations.NewOperationManager(cfg,
		operations.WithLogger(logger.Global()),
		operations.WithConfigPath(ConfigFile),
	), nil
}

func init() {
	rootCmd.PersistentFlags().
		StringVarP(&ConfigFile, "config", "c", config.DefaultConfigPath, "path to YAML config file")
	rootCmd.PersistentFlags().
		BoolVar(&Debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(configureCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(pushKeysCmd)
	rootCmd.AddCommand(exporterCmd)
}
