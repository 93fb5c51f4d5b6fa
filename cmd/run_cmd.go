package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/collections/set"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/kebairia/jujubackup/internal/operations"
)

var (
	purgeDays          int
	taskTimeoutSeconds int
	omitModels         []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduled backup once",
	Long: `run performs one guarded backup of every configured controller,
writes the results file and the exporter statistics, and exits non-zero when
the backup failed or another run is in progress. Only errors are logged
unless --debug is given.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initLogger(zapcore.ErrorLevel)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		om, err := newManager(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return om.RunBackup(ctx, runOptions(om.Config().Backup.TaskTimeout))
	},
}

func runOptions(defaultTimeout time.Duration) operations.RunOptions {
	timeout := defaultTimeout
	if taskTimeoutSeconds > 0 {
		timeout = time.Duration(taskTimeoutSeconds) * time.Second
	}
	return operations.RunOptions{
		Omit:          set.NewStrings(omitModels...),
		RetentionDays: purgeDays,
		TaskTimeout:   timeout,
	}
}

func init() {
	runCmd.Flags().
		IntVar(&purgeDays, "purge", 0, "remove backups older than this many days (0 keeps everything)")
	runCmd.Flags().
		IntVar(&taskTimeoutSeconds, "task-timeout", 0, "timeout in seconds for each backup task")
	runCmd.Flags().
		StringArrayVar(&omitModels, "omit-model", nil, "model to leave out of this run (repeatable)")
}
