package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jarrod-lowe/inboxd/internal/alerts"
	"github.com/jarrod-lowe/inboxd/internal/collaborators"
	"github.com/jarrod-lowe/inboxd/internal/trigger"
)

var (
	ruleEventType string
	ruleChannel   string
	ruleTarget    string
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "manage alert rules",
}

var rulesAddCmd = &cobra.Command{
	Use:   "add <name> <description>",
	Short: "compile a natural-language description into an alert rule",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		emitter, err := trigger.New(db, cfg.TriggerOutboxDir)
		if err != nil {
			return err
		}
		engine := alerts.New(db, emitter, collaborators.UnconfiguredRuleParser{}, collaborators.UnconfiguredSemanticMatcher{}, cfg, log)
		var routing *alerts.RuleRouting
		if ruleChannel != "" {
			routing = &alerts.RuleRouting{Channel: ruleChannel, Target: ruleTarget}
		}
		id, err := engine.CreateRule(cmd.Context(), args[0], args[1], ruleEventType, nil, routing)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

func init() {
	rulesAddCmd.Flags().StringVar(&ruleEventType, "event-type", "", "restrict the rule to one event type (defaults to what the parser infers)")
	rulesAddCmd.Flags().StringVar(&ruleChannel, "channel", "", "routing channel for this rule's triggers")
	rulesAddCmd.Flags().StringVar(&ruleTarget, "target", "", "routing target within the channel")
	rulesCmd.AddCommand(rulesAddCmd)
	rootCmd.AddCommand(rulesCmd)
}
