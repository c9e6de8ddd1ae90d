package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jarrod-lowe/inboxd/internal/display"
	"github.com/jarrod-lowe/inboxd/internal/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "show attachment extraction and triage counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		extraction, err := storage.ExtractionStats(ctx, db)
		if err != nil {
			return err
		}
		triage, err := storage.TriageStats(ctx, db, time.Now().Add(-7*24*time.Hour))
		if err != nil {
			return err
		}

		fmt.Println(display.Bold.Render("attachments (extraction status)"))
		for status, count := range extraction {
			fmt.Println("  " + display.StatRow(status, count))
		}

		fmt.Println(display.Bold.Render("triage (last 7 days, by category)"))
		for category, count := range triage {
			fmt.Println("  " + display.StatRow(category, count))
		}

		facts, err := storage.FactStats(ctx, db)
		if err != nil {
			return err
		}
		fmt.Println(display.Bold.Render("facts (active, by type)"))
		for factType, count := range facts {
			fmt.Println("  " + display.StatRow(factType, count))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
