package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/collections/set"
	"github.com/spf13/cobra"
)

var backupOmitModels []string

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Back up all controllers now and print the results",
	Long: `backup runs an on-demand backup without the run marker and prints
the results document. The results file used by monitoring is left untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		om, err := newManager(cmd)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		doc, err := om.PerformBackup(ctx, set.NewStrings(backupOmitModels...))
		if err != nil {
			return err
		}
		return printJSON(cmd, doc)
	},
}

var pushKeysCmd = &cobra.Command{
	Use:   "push-ssh-keys",
	Short: "Authorize the backup user's SSH key on every model",
	RunE: func(cmd *cobra.Command, args []string) error {
		om, err := newManager(cmd)
		if err != nil {
			return err
		}
		report, err := om.PushKeys(cmd.Context())
		if err != nil {
			return err
		}
		if err := printJSON(cmd, report); err != nil {
			return err
		}
		if !report.OK() {
			return fmt.Errorf("ssh key push failed for %d target(s)", len(report.Failed))
		}
		return nil
	},
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Create the backup user, directories, SSH key pair and NRPE check",
	RunE: func(cmd *cobra.Command, args []string) error {
		om, err := newManager(cmd)
		if err != nil {
			return err
		}
		return om.Install(cmd.Context())
	},
}

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write the juju client files and install the crontab",
	RunE: func(cmd *cobra.Command, args []string) error {
		om, err := newManager(cmd)
		if err != nil {
			return err
		}
		return om.Reconfigure(cmd.Context())
	},
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	backupCmd.Flags().
		StringArrayVar(&backupOmitModels, "omit-model", nil, "model to leave out (repeatable)")
}
