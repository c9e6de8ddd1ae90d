package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jarrod-lowe/inboxd/internal/alerts"
	"github.com/jarrod-lowe/inboxd/internal/attachment"
	"github.com/jarrod-lowe/inboxd/internal/chunker"
	"github.com/jarrod-lowe/inboxd/internal/collaborators"
	"github.com/jarrod-lowe/inboxd/internal/embedder"
	"github.com/jarrod-lowe/inboxd/internal/facts"
	"github.com/jarrod-lowe/inboxd/internal/replicator"
	"github.com/jarrod-lowe/inboxd/internal/storage"
	"github.com/jarrod-lowe/inboxd/internal/trigger"
	"github.com/jarrod-lowe/inboxd/internal/triage"
	"github.com/jarrod-lowe/inboxd/internal/wm"
	"github.com/jarrod-lowe/inboxd/internal/wmengine"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the mailbox sync, triage, and working-memory maintenance loops",
	Long:  "serve runs until signaled: a sync loop, a triage/working-memory pipeline, an attachment worker pool, an embedder pass, a working-memory maintenance ticker, and the weekly-digest/follow-up schedules.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// runServe wires every long-running task named in the concurrency model and
// blocks until ctx is canceled (SIGINT/SIGTERM), draining in-flight
// transactions before returning. No new work is admitted once a shutdown
// signal arrives.
func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	graphClient := collaborators.UnconfiguredGraph{}
	classifier := collaborators.UnconfiguredClassifier{}
	analyzer := collaborators.UnconfiguredAnalyzer{}
	ruleParser := collaborators.UnconfiguredRuleParser{}
	semanticMatcher := collaborators.UnconfiguredSemanticMatcher{}
	factExtractor := collaborators.UnconfiguredFactExtractor{}
	embedClient := collaborators.UnconfiguredEmbedding{}
	log.Warn("serve: running with unconfigured collaborators; Graph, LLM, and embedding calls will fail until a real adapter is wired in")

	repl := replicator.New(graphClient, db, log)
	emitter, err := trigger.New(db, cfg.TriggerOutboxDir)
	if err != nil {
		return err
	}
	organizer := triage.New(graphClient, classifier, db, emitter, cfg, log)
	updater := wm.New(analyzer, db, cfg.DelegatedUser, log)
	factsExtractor := facts.New(factExtractor, db, log)
	extractor := attachment.New(graphClient, db, log, cfg.AttachmentCLIPath, cfg.AttachmentWorkers)
	chunk := chunker.New(db)
	embed := embedder.New(embedClient, db, log, cfg.EmbeddingBatchSize)
	engine := wmengine.New(db, emitter, cfg, log)
	alertEngine := alerts.New(db, emitter, ruleParser, semanticMatcher, cfg, log)

	var wg sync.WaitGroup
	loops := []struct {
		name     string
		interval time.Duration
		run      func(context.Context)
	}{
		{"sync", cfg.PollInterval, func(ctx context.Context) { runSyncPass(ctx, repl, organizer, updater, factsExtractor, chunk, alertEngine) }},
		{"attachments", cfg.PollInterval, func(ctx context.Context) { runAttachmentPass(ctx, extractor, chunk) }},
		{"embedder", cfg.PollInterval, func(ctx context.Context) { runEmbedderPass(ctx, embed) }},
		{"wmengine", cfg.WMEngineInterval, func(ctx context.Context) { runWMEnginePass(ctx, engine) }},
		{"followup", cfg.PollInterval, func(ctx context.Context) { runFollowUpPass(ctx, organizer) }},
		{"digest", cfg.PollInterval, func(ctx context.Context) { runWeeklyDigestPass(ctx, organizer) }},
	}
	for _, l := range loops {
		wg.Add(1)
		go func(name string, interval time.Duration, run func(context.Context)) {
			defer wg.Done()
			runLoop(ctx, name, interval, run)
		}(l.name, l.interval, l.run)
	}

	log.Info("serve: started", "poll_interval", cfg.PollInterval, "wm_engine_interval", cfg.WMEngineInterval)
	<-ctx.Done()
	log.Info("serve: shutdown signal received, draining in-flight work")
	wg.Wait()
	log.Info("serve: stopped")
	return nil
}

// runLoop runs fn immediately, then on every tick of interval, until ctx is
// canceled. It never admits a new tick while ctx is already done.
func runLoop(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	fn(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			fn(ctx)
		}
	}
}

// runSyncPass mirrors the mailbox, then triages and updates working memory
// for every message the sync pass touched, in the order the concurrency
// model requires: triage completes before the working-memory update.
func runSyncPass(ctx context.Context, repl *replicator.Replicator, organizer *triage.Organizer, updater *wm.Updater, factsExtractor *facts.Extractor, chunk *chunker.Chunker, alertEngine *alerts.Engine) {
	summary, err := repl.SyncAllFolders(ctx, replicator.SyncOptions{FetchBody: true})
	if err != nil {
		log.ErrorContext(ctx, "serve: sync pass failed", "error", err)
		return
	}
	if summary.MessagesUpdated > 0 {
		log.InfoContext(ctx, "serve: sync complete", "folders", summary.FoldersSynced, "updated", summary.MessagesUpdated, "deleted", summary.MessagesDeleted)
	}

	results, err := organizer.ProcessPending(ctx, 100)
	if err != nil {
		log.ErrorContext(ctx, "serve: triage pass failed", "error", err)
		return
	}
	for _, r := range results {
		m, err := storage.GetMessage(ctx, db, r.MessageID)
		if err != nil || m == nil {
			log.ErrorContext(ctx, "serve: load triaged message failed", "message_id", r.MessageID, "error", err)
			continue
		}
		if err := updater.Update(ctx, *m, r.IsCC); err != nil {
			log.ErrorContext(ctx, "serve: working memory update failed", "message_id", r.MessageID, "error", err)
		}
		if err := factsExtractor.Extract(ctx, *m); err != nil {
			log.ErrorContext(ctx, "serve: fact extraction failed", "message_id", r.MessageID, "error", err)
		}
		if err := chunk.ChunkMessage(ctx, *m); err != nil {
			log.ErrorContext(ctx, "serve: chunk message failed", "message_id", r.MessageID, "error", err)
		}

		event := alerts.Event{
			Type:       "email_received",
			ID:         m.ID,
			Sender:     m.Sender,
			Recipients: append(append([]string{}, m.ToEmails...), m.CCEmails...),
			Subject:    m.Subject,
			Body:       m.BodyText,
			Categories: []string{m.Category},
			Summary:    m.Subject,
		}
		if _, err := alertEngine.Evaluate(ctx, event); err != nil {
			log.ErrorContext(ctx, "serve: alert rule evaluation failed", "message_id", r.MessageID, "error", err)
		}
	}
}

// runAttachmentPass extracts pending attachments, bounded by the
// extractor's own worker semaphore, then chunks anything newly extracted.
func runAttachmentPass(ctx context.Context, extractor *attachment.Extractor, chunk *chunker.Chunker) {
	stats, err := extractor.ProcessPending(ctx, 50)
	if err != nil {
		log.ErrorContext(ctx, "serve: attachment extraction failed", "error", err)
		return
	}
	if stats.Success+stats.Failed+stats.Unsupported > 0 {
		log.InfoContext(ctx, "serve: attachment extraction complete", "success", stats.Success, "failed", stats.Failed, "unsupported", stats.Unsupported)
	}

	pending, err := storage.ExtractedUnchunked(ctx, db, 50)
	if err != nil {
		log.ErrorContext(ctx, "serve: load unchunked attachments failed", "error", err)
		return
	}
	for _, a := range pending {
		if err := chunk.ChunkAttachment(ctx, a.ID, a.ExtractedText); err != nil {
			log.ErrorContext(ctx, "serve: chunk attachment failed", "attachment_id", a.ID, "error", err)
		}
	}
}

// runEmbedderPass encodes pending chunks in sequential, memory-bounded
// batches. The embedding model is a single in-process resource; the
// embedder serializes its own batches internally.
func runEmbedderPass(ctx context.Context, embed *embedder.Embedder) {
	result, err := embed.EmbedPending(ctx, 500, nil)
	if err != nil {
		log.ErrorContext(ctx, "serve: embedding pass failed", "error", err)
		return
	}
	if result.Processed > 0 {
		log.InfoContext(ctx, "serve: embedding pass complete", "encoded", result.Processed, "failed", result.Failed)
	}
}

// runWMEnginePass runs one maintenance cycle. The engine guards its own
// re-entrancy, so a slow cycle overrunning its tick is a silent no-op here.
func runWMEnginePass(ctx context.Context, engine *wmengine.Engine) {
	report, err := engine.RunCycle(ctx)
	if err != nil {
		log.ErrorContext(ctx, "serve: working memory maintenance cycle failed", "error", err)
		return
	}
	log.InfoContext(ctx, "serve: working memory maintenance cycle complete",
		"stale", report.ThreadsMarkedStale, "escalated", report.ThreadsEscalated,
		"observations_pruned", report.ObservationsPruned, "nudges", report.NudgesEmitted)
}

// runWeeklyDigestPass checks, every sync cycle, whether it's time to emit
// the weekly digest trigger; the dedupe ledger keeps this idempotent even
// though the check runs far more often than it actually fires.
func runWeeklyDigestPass(ctx context.Context, organizer *triage.Organizer) {
	sent, err := organizer.WeeklyDigest(ctx, time.Now().UTC())
	if err != nil {
		log.ErrorContext(ctx, "serve: weekly digest failed", "error", err)
		return
	}
	if sent {
		log.InfoContext(ctx, "serve: weekly digest emitted")
	}
}

func runFollowUpPass(ctx context.Context, organizer *triage.Organizer) {
	n, err := organizer.FollowUp(ctx)
	if err != nil {
		log.ErrorContext(ctx, "serve: follow-up pass failed", "error", err)
		return
	}
	if n > 0 {
		log.InfoContext(ctx, "serve: follow-up pass complete", "flagged", n)
	}
}
