package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/moat-sh/moat/internal/errors"
	"github.com/moat-sh/moat/internal/logs"
	"github.com/moat-sh/moat/internal/ui"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View and manage run logs",
	Long: `List and clean the per-run log files.

Every deploy, check and cleanup run writes a raw log and a JSON
summary to the configured log directory.

Commands:
  moat logs                 List recent run logs
  moat logs clean --keep 10 Keep only the 10 most recent runs
  moat logs clean --older 7d  Delete runs older than duration
  moat logs clean --all     Delete all run logs`,
	RunE: runLogsList,
}

var logsCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean up old run logs",
	RunE:  runLogsClean,
}

var (
	logsCleanAll   bool
	logsCleanOlder string
	logsCleanKeep  int
)

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.AddCommand(logsCleanCmd)

	logsCleanCmd.Flags().BoolVar(&logsCleanAll, "all", false, "delete all run logs")
	logsCleanCmd.Flags().StringVar(&logsCleanOlder, "older", "", "delete runs older than duration (e.g., 7d, 24h)")
	logsCleanCmd.Flags().IntVar(&logsCleanKeep, "keep", 0, "keep only the N most recent runs")
}

func runLogsList(cmd *cobra.Command, args []string) error {
	cfg, err := requireConfig()
	if err != nil {
		return err
	}

	runs, err := logs.List(cfg.Deploy.LogDir)
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("No run logs found.")
		fmt.Printf("Logs are written to: %s\n", cfg.Deploy.LogDir)
		return nil
	}

	mutedStyle := lipgloss.NewStyle().Foreground(ui.ColorMuted)
	boldStyle := lipgloss.NewStyle().Bold(true)

	fmt.Println("Recent runs:")
	var total int64
	for _, r := range runs {
		fmt.Printf("  %s  %s  %s\n",
			boldStyle.Render(r.Name),
			mutedStyle.Render(formatSize(r.Size)),
			mutedStyle.Render(formatAge(time.Since(r.ModTime))),
		)
		total += r.Size
	}
	fmt.Printf("\nTotal: %d runs, %s\n", len(runs), formatSize(total))
	return nil
}

func runLogsClean(cmd *cobra.Command, args []string) error {
	cfg, err := requireConfig()
	if err != nil {
		return err
	}
	dir := cfg.Deploy.LogDir

	switch {
	case logsCleanAll:
		if err := logs.CleanAll(dir); err != nil {
			return err
		}
	case logsCleanOlder != "":
		age, err := parseDurationWithDays(logsCleanOlder)
		if err != nil {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Invalid duration '%s'", logsCleanOlder),
				"Use a format like '7d' for days or '24h' for hours")
		}
		if err := logs.CleanByAge(dir, age); err != nil {
			return err
		}
	case logsCleanKeep > 0:
		if err := logs.CleanByRuns(dir, logsCleanKeep); err != nil {
			return err
		}
	default:
		return errors.New(errors.ErrConfig,
			"Nothing to clean",
			"Pass --all, --older <duration>, or --keep <n>")
	}

	fmt.Println("Done.")
	return nil
}

// parseDurationWithDays parses a duration string that may use a 'd'
// suffix for days, which time.ParseDuration does not accept.
func parseDurationWithDays(s string) (time.Duration, error) {
	if len(s) > 1 && s[len(s)-1] == 'd' {
		days, err := strconv.Atoi(s[:len(s)-1])
		if err != nil {
			return 0, err
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

func formatAge(age time.Duration) string {
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(age.Hours()/24))
	}
}

func formatSize(n int64) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%dB", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1fKB", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1fMB", float64(n)/(1024*1024))
	}
}
