package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store-wide statistics",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	b, closeDB, err := openBank()
	if err != nil {
		return err
	}
	defer closeDB()

	stats, err := b.DB.CollectStats()
	if err != nil {
		return err
	}

	fmt.Printf("artifacts: %d total, %d live, %d archived, %d deleted\n",
		stats.Total, stats.Live, stats.Archived, stats.Deleted)
	fmt.Printf("avg trust (live): %.3f\n", stats.AvgTrust)

	if len(stats.ByCategory) > 0 {
		cats := make([]string, 0, len(stats.ByCategory))
		for c := range stats.ByCategory {
			cats = append(cats, c)
		}
		sort.Strings(cats)
		fmt.Println("by category:")
		for _, c := range cats {
			fmt.Printf("  %-12s %d\n", c, stats.ByCategory[c])
		}
	}
	return nil
}
