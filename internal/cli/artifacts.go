package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/opslayer/membank/internal/model"
)

var (
	storeLoop       string
	storeComponent  string
	storeCategory   string
	storeDomain     string
	storeTags       []string
	storeConfidence float64
	storeImportance float64
	storePayload    string
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Store a producer output",
	Long:  "Store one producer output as a scored artifact. The payload comes from --payload, or from stdin when --payload is '-'.",
	RunE:  runStore,
}

func runStore(cmd *cobra.Command, args []string) error {
	payload := []byte(storePayload)
	if storePayload == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		payload = data
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return fmt.Errorf("payload is not valid json")
	}

	b, closeDB, err := openBank()
	if err != nil {
		return err
	}
	defer closeDB()

	ref, err := b.Store(context.Background(), &model.ProducerOutput{
		LoopID:     storeLoop,
		Component:  storeComponent,
		Category:   model.Category(storeCategory),
		Payload:    payload,
		Tags:       storeTags,
		Domain:     storeDomain,
		Importance: storeImportance,
		Confidence: storeConfidence,
	})
	if err != nil {
		if ref != nil {
			fmt.Fprintf(os.Stderr, "flagged for review: %v\n", err)
			fmt.Println(ref.Reference)
			return nil
		}
		return err
	}

	fmt.Println(ref.Reference)
	return nil
}

var (
	readComponent string
	readCategory  string
	readLoop      string
	readDomain    string
	readTag       string
	readMinTrust  float64
	readLimit     int
)

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Read ranked artifacts",
	Long:  "Read the top-k artifacts by composite rank, after trust decay and the --min-trust floor.",
	RunE:  runRead,
}

func runRead(cmd *cobra.Command, args []string) error {
	b, closeDB, err := openBank()
	if err != nil {
		return err
	}
	defer closeDB()

	hits, err := b.Read(context.Background(), model.Query{
		Component: readComponent,
		Category:  model.Category(readCategory),
		LoopID:    readLoop,
		Domain:    readDomain,
		Tag:       readTag,
		MinTrust:  readMinTrust,
		K:         readLimit,
	})
	if err != nil {
		return err
	}

	if len(hits) == 0 {
		fmt.Println("No artifacts found.")
		return nil
	}

	for i, h := range hits {
		fmt.Printf("%d. [rank %.3f, trust %.3f] %s\n", i+1, h.Rank, h.Trust, h.Ref)
		fmt.Printf("   %s/%s, stored %s\n", h.Component, h.Category, h.CreatedAt.Format(time.RFC3339))
		if len(h.Payload) > 0 {
			payload := string(h.Payload)
			if len(payload) > 200 {
				payload = payload[:200] + "..."
			}
			fmt.Printf("   %s\n", payload)
		}
		fmt.Println()
	}
	return nil
}

var feedbackReason string

var feedbackCmd = &cobra.Command{
	Use:   "feedback [ref] [success|failure]",
	Short: "Report an artifact's outcome after use",
	Args:  cobra.ExactArgs(2),
	RunE:  runFeedback,
}

func runFeedback(cmd *cobra.Command, args []string) error {
	b, closeDB, err := openBank()
	if err != nil {
		return err
	}
	defer closeDB()

	trust, err := b.UpdateTrust(context.Background(), args[0], model.Outcome(args[1]), feedbackReason)
	if err != nil {
		return err
	}

	fmt.Printf("%s trust -> %.3f\n", args[0], trust)
	return nil
}

var historyCmd = &cobra.Command{
	Use:   "history [ref]",
	Short: "Show an artifact's trust ledger",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	b, closeDB, err := openBank()
	if err != nil {
		return err
	}
	defer closeDB()

	events, err := b.TrustHistory(context.Background(), args[0])
	if err != nil {
		return err
	}

	if len(events) == 0 {
		fmt.Println("No trust events recorded.")
		return nil
	}

	for _, ev := range events {
		line := fmt.Sprintf("%s  %-14s %.3f -> %.3f", ev.CreatedAt.Format(time.RFC3339), ev.Kind, ev.TrustBefore, ev.TrustAfter)
		if ev.Reason != "" {
			line += "  " + ev.Reason
		}
		fmt.Println(line)
	}
	return nil
}

func init() {
	storeCmd.Flags().StringVar(&storeLoop, "loop", "", "loop id (required)")
	storeCmd.Flags().StringVar(&storeComponent, "component", "", "producing component (required)")
	storeCmd.Flags().StringVar(&storeCategory, "category", "", "output category: "+strings.Join(categoryNames(), ", "))
	storeCmd.Flags().StringVar(&storeDomain, "domain", "", "domain tag")
	storeCmd.Flags().StringSliceVar(&storeTags, "tag", nil, "tags (repeatable)")
	storeCmd.Flags().Float64Var(&storeConfidence, "confidence", 0.5, "producer confidence in [0,1]")
	storeCmd.Flags().Float64Var(&storeImportance, "importance", 0, "importance in [0,1]")
	storeCmd.Flags().StringVar(&storePayload, "payload", "", "json payload, or '-' for stdin")

	readCmd.Flags().StringVar(&readComponent, "component", "", "filter by component")
	readCmd.Flags().StringVar(&readCategory, "category", "", "filter by category")
	readCmd.Flags().StringVar(&readLoop, "loop", "", "filter by loop id")
	readCmd.Flags().StringVar(&readDomain, "domain", "", "filter by domain")
	readCmd.Flags().StringVar(&readTag, "tag", "", "filter by tag")
	readCmd.Flags().Float64Var(&readMinTrust, "min-trust", 0, "minimum current trust")
	readCmd.Flags().IntVarP(&readLimit, "limit", "n", 10, "maximum number of results")

	feedbackCmd.Flags().StringVar(&feedbackReason, "reason", "", "why the artifact helped or hurt")
}

func categoryNames() []string {
	names := make([]string, 0, len(model.ValidCategories))
	for c := range model.ValidCategories {
		names = append(names, string(c))
	}
	sort.Strings(names)
	return names
}
