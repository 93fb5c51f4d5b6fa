package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/kebairia/jujubackup/internal/config"
	"github.com/kebairia/jujubackup/internal/health"
)

var (
	resultsFile   string
	maxAgeInHours int
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the backup results file (Nagios plugin)",
	Long: `check inspects the backup results file, prints "<SEVERITY>: <message>"
and exits with the Nagios code of the severity.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		code := runCheck(cmd.OutOrStdout(), health.NewEvaluator(), resultsFile, maxAgeInHours)
		if code != 0 {
			return &exitError{code: code}
		}
		return nil
	},
}

func runCheck(w io.Writer, ev *health.Evaluator, path string, maxAgeHours int) int {
	result := ev.Evaluate(path, time.Duration(maxAgeHours)*time.Hour)
	fmt.Fprintln(w, result.Line())
	return result.Severity.ExitCode()
}

func init() {
	checkCmd.Flags().
		StringVarP(&resultsFile, "backup-results-file", "f", config.DefaultDataDir+"/auto_backup_results.json", "path to the backup results file")
	checkCmd.Flags().
		IntVarP(&maxAgeInHours, "backup-results-max-age", "a", 25, "maximum age of the results file in hours (0 disables)")
}
