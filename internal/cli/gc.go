package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	gcArchiveThreshold float64
	gcDeleteThreshold  float64
	gcMaxAgeDays       int
	gcMaxArtifacts     int
	gcDryRun           bool
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Garbage-collect low-trust artifacts",
}

var gcRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one sweep under the configured policy",
	RunE:  runGC,
}

var gcLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Show recent sweeps",
	RunE:  runGCLog,
}

func runGC(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	policy := cfg.GC.SweepPolicy()
	if cmd.Flags().Changed("archive-threshold") {
		policy.ArchiveThreshold = gcArchiveThreshold
	}
	if cmd.Flags().Changed("delete-threshold") {
		policy.DeleteThreshold = gcDeleteThreshold
	}
	if cmd.Flags().Changed("max-age-days") {
		policy.MaxAge = time.Duration(gcMaxAgeDays) * 24 * time.Hour
	}
	if cmd.Flags().Changed("max-artifacts") {
		policy.MaxArtifacts = gcMaxArtifacts
	}
	policy.DryRun = gcDryRun

	b, closeDB, err := openBank()
	if err != nil {
		return err
	}
	defer closeDB()

	entry, err := b.GarbageCollect(context.Background(), policy)
	if err != nil {
		return err
	}

	verb := "swept"
	if entry.DryRun {
		verb = "would sweep"
	}
	fmt.Printf("%s %d artifacts: %d archived, %d deleted (%s)\n",
		verb, entry.Scanned, entry.Archived, entry.Deleted, entry.Duration.Truncate(time.Millisecond))
	return nil
}

func runGCLog(cmd *cobra.Command, args []string) error {
	b, closeDB, err := openBank()
	if err != nil {
		return err
	}
	defer closeDB()

	runs, err := b.DB.RecentGCRuns(0)
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("No sweeps recorded.")
		return nil
	}

	for _, r := range runs {
		note := ""
		if r.DryRun {
			note = " (dry run)"
		}
		fmt.Printf("%s  %s: scanned %d, archived %d, deleted %d%s\n",
			r.CreatedAt.Format(time.RFC3339), r.Policy, r.Scanned, r.Archived, r.Deleted, note)
	}
	return nil
}

func init() {
	gcCmd.AddCommand(gcRunCmd)
	gcCmd.AddCommand(gcLogCmd)

	gcRunCmd.Flags().Float64Var(&gcArchiveThreshold, "archive-threshold", 0.2, "archive below this trust")
	gcRunCmd.Flags().Float64Var(&gcDeleteThreshold, "delete-threshold", 0.1, "delete below this trust")
	gcRunCmd.Flags().IntVar(&gcMaxAgeDays, "max-age-days", 0, "archive anything older than this")
	gcRunCmd.Flags().IntVar(&gcMaxArtifacts, "max-artifacts", 0, "evict the lowest-ranked artifacts beyond this count")
	gcRunCmd.Flags().BoolVar(&gcDryRun, "dry-run", false, "report what would happen without mutating")
}
