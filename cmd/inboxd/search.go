package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jarrod-lowe/inboxd/internal/collaborators"
	"github.com/jarrod-lowe/inboxd/internal/display"
	"github.com/jarrod-lowe/inboxd/internal/search"
	"github.com/jarrod-lowe/inboxd/internal/storage"
)

var (
	searchMode     string
	searchLimit    int
	searchMessages bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "search indexed email and attachment content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if searchMessages {
			hits, err := storage.SearchMessagesFTS(cmd.Context(), db, args[0], searchLimit)
			if err != nil {
				return err
			}
			if len(hits) == 0 {
				fmt.Println(display.Muted.Render("no matches"))
				return nil
			}
			for _, h := range hits {
				fmt.Printf("%s  %s\n", display.Bold.Render(h.Subject), display.Muted.Render(h.Sender))
			}
			return nil
		}

		mode := search.Mode(searchMode)
		switch mode {
		case search.ModeFTS, search.ModeVector, search.ModeHybrid:
		default:
			return fmt.Errorf("search: unknown mode %q (want fts, vector, or hybrid)", searchMode)
		}

		s := search.New(db, collaborators.UnconfiguredEmbedding{})
		results, err := s.Search(cmd.Context(), args[0], searchLimit, mode)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println(display.Muted.Render("no matches"))
			return nil
		}
		for _, r := range results {
			fmt.Printf("%s  %s\n", display.Bold.Render(r.EmailSubject), display.Muted.Render(r.EmailSender))
			fmt.Printf("  %s\n", r.ContentPreview)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchMode, "mode", "hybrid", "search mode: fts, vector, or hybrid")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "maximum results")
	searchCmd.Flags().BoolVar(&searchMessages, "messages", false, "search whole messages instead of chunks")
	rootCmd.AddCommand(searchCmd)
}
