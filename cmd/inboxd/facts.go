package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jarrod-lowe/inboxd/internal/display"
	"github.com/jarrod-lowe/inboxd/internal/storage"
)

var factsCmd = &cobra.Command{
	Use:   "facts <conversation-id>",
	Short: "list active structured facts recorded for a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		found, err := storage.FactsByConversation(ctx, db, args[0])
		if err != nil {
			return err
		}
		if len(found) == 0 {
			fmt.Println(display.Muted.Render("no facts recorded"))
			return nil
		}
		for _, f := range found {
			fmt.Printf("%s  %s\n", display.Bold.Render(f.FactType), f.Content)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(factsCmd)
}
