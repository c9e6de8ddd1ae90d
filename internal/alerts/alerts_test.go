package alerts

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jarrod-lowe/inboxd/internal/config"
	"github.com/jarrod-lowe/inboxd/internal/llm"
	"github.com/jarrod-lowe/inboxd/internal/storage"
	"github.com/jarrod-lowe/inboxd/internal/trigger"
)

type fakeParser struct {
	conditions llm.ParsedConditions
	err        error
}

func (f *fakeParser) ParseRule(ctx context.Context, description string) (llm.ParsedConditions, error) {
	return f.conditions, f.err
}

type fakeSemantic struct {
	match bool
	err   error
}

func (f *fakeSemantic) Match(ctx context.Context, query, summary string) (bool, error) {
	return f.match, f.err
}

func testEngine(t *testing.T, parser llm.RuleParser, semantic llm.SemanticMatcher) (*Engine, *storage.DB) {
	t.Helper()
	db, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "t.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	em, err := trigger.New(db, filepath.Join(t.TempDir(), "outbox"))
	require.NoError(t, err)

	cfg := &config.Config{DelegatedUser: "user@acme.com"}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(db, em, parser, semantic, cfg, log), db
}

func TestCreateRuleAndEvaluateSenderGlobMatch(t *testing.T) {
	ctx := context.Background()
	parser := &fakeParser{conditions: llm.ParsedConditions{
		EventTypes: []string{"email_received"}, SenderPatterns: []string{"*@bigclient.com"}, MatchMode: "any",
	}}
	e, _ := testEngine(t, parser, nil)

	ruleID, err := e.CreateRule(ctx, "vip client email", "alert me when bigclient emails", "email_received", nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, ruleID)

	n, err := e.Evaluate(ctx, Event{Type: "email_received", ID: "msg-1", Sender: "alice@bigclient.com"})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n2, err := e.Evaluate(ctx, Event{Type: "email_received", ID: "msg-2", Sender: "nobody@other.com"})
	require.NoError(t, err)
	require.Equal(t, 0, n2)
}

func TestEvaluateUniquenessPreventsRefiringSameEvent(t *testing.T) {
	ctx := context.Background()
	parser := &fakeParser{conditions: llm.ParsedConditions{SenderPatterns: []string{"*"}, MatchMode: "any"}}
	e, _ := testEngine(t, parser, nil)

	_, err := e.CreateRule(ctx, "any sender", "anything", "email_received", nil, nil)
	require.NoError(t, err)

	n1, err := e.Evaluate(ctx, Event{Type: "email_received", ID: "msg-1", Sender: "a@b.com"})
	require.NoError(t, err)
	require.Equal(t, 1, n1)

	n2, err := e.Evaluate(ctx, Event{Type: "email_received", ID: "msg-1", Sender: "a@b.com"})
	require.NoError(t, err)
	require.Equal(t, 0, n2)
}

func TestEvaluateRequiresSemanticMatchWithNoMatcherNeverFires(t *testing.T) {
	ctx := context.Background()
	parser := &fakeParser{conditions: llm.ParsedConditions{
		SenderPatterns: []string{"*"}, MatchMode: "any", RequiresSemanticMatch: true, SemanticQuery: "about budget cuts",
	}}
	e, _ := testEngine(t, parser, nil)

	_, err := e.CreateRule(ctx, "semantic rule", "matches budget cuts", "email_received", nil, nil)
	require.NoError(t, err)

	n, err := e.Evaluate(ctx, Event{Type: "email_received", ID: "msg-1", Sender: "a@b.com", Summary: "talks about budget cuts"})
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestEvaluateSemanticMatchFires(t *testing.T) {
	ctx := context.Background()
	parser := &fakeParser{conditions: llm.ParsedConditions{
		SenderPatterns: []string{"*"}, MatchMode: "any", RequiresSemanticMatch: true, SemanticQuery: "about budget cuts",
	}}
	e, _ := testEngine(t, parser, &fakeSemantic{match: true})

	_, err := e.CreateRule(ctx, "semantic rule", "matches budget cuts", "email_received", nil, nil)
	require.NoError(t, err)

	n, err := e.Evaluate(ctx, Event{Type: "email_received", ID: "msg-1", Sender: "a@b.com", Summary: "talks about budget cuts"})
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestEvaluateMatchModeAllRequiresEveryCheck(t *testing.T) {
	ctx := context.Background()
	parser := &fakeParser{conditions: llm.ParsedConditions{
		SenderPatterns: []string{"*@bigclient.com"}, UrgencyLevels: []string{"immediate"}, MatchMode: "all",
	}}
	e, _ := testEngine(t, parser, nil)

	_, err := e.CreateRule(ctx, "urgent bigclient", "urgent emails from bigclient", "email_received", nil, nil)
	require.NoError(t, err)

	n1, err := e.Evaluate(ctx, Event{Type: "email_received", ID: "msg-1", Sender: "a@bigclient.com", Urgency: "someday"})
	require.NoError(t, err)
	require.Equal(t, 0, n1)

	n2, err := e.Evaluate(ctx, Event{Type: "email_received", ID: "msg-2", Sender: "a@bigclient.com", Urgency: "immediate"})
	require.NoError(t, err)
	require.Equal(t, 1, n2)
}
