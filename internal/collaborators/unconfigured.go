// Package collaborators provides "unconfigured" placeholder
// implementations of the engine's external collaborator contracts
// (graph.Client, the llm interfaces, embedding.Client). A real deployment
// wires its own Graph/Bedrock/OpenAI/local-model adapters in their place;
// these stand in so cmd/inboxd's daemon wiring compiles and runs its
// storage-only paths (search, admin, status) without one.
package collaborators

import (
	"context"
	"errors"
	"io"

	"github.com/jarrod-lowe/inboxd/internal/graph"
	"github.com/jarrod-lowe/inboxd/internal/llm"
)

// ErrUnconfigured is returned by every method of the unconfigured
// collaborator stand-ins.
var ErrUnconfigured = errors.New("collaborators: no implementation configured for this deployment")

// UnconfiguredGraph is a graph.Client that refuses every call. Swap in a
// real Microsoft Graph adapter before running a live sync.
type UnconfiguredGraph struct{}

func (UnconfiguredGraph) ListFolders(ctx context.Context) ([]graph.Folder, error) {
	return nil, ErrUnconfigured
}
func (UnconfiguredGraph) FullSync(ctx context.Context, folderID string, fetchBody bool, pageToken string) (graph.Page, error) {
	return graph.Page{}, ErrUnconfigured
}
func (UnconfiguredGraph) DeltaSync(ctx context.Context, folderID, deltaLink string, fetchBody bool) (graph.Page, error) {
	return graph.Page{}, ErrUnconfigured
}
func (UnconfiguredGraph) ListAttachments(ctx context.Context, messageID string) ([]graph.AttachmentMeta, error) {
	return nil, ErrUnconfigured
}
func (UnconfiguredGraph) DownloadAttachment(ctx context.Context, messageID, attachmentID string) (io.ReadCloser, error) {
	return nil, ErrUnconfigured
}
func (UnconfiguredGraph) UpdateMessage(ctx context.Context, messageID string, update graph.MessageUpdate) error {
	return ErrUnconfigured
}
func (UnconfiguredGraph) Move(ctx context.Context, messageID, folderName string) error {
	return ErrUnconfigured
}
func (UnconfiguredGraph) Delete(ctx context.Context, messageID string) error {
	return ErrUnconfigured
}

// UnconfiguredClassifier is an llm.Classifier that refuses every call.
type UnconfiguredClassifier struct{}

func (UnconfiguredClassifier) Classify(ctx context.Context, tc llm.TriageContext) (llm.TriageVerdict, error) {
	return llm.TriageVerdict{}, ErrUnconfigured
}

// UnconfiguredAnalyzer is an llm.Analyzer that refuses every call.
type UnconfiguredAnalyzer struct{}

func (UnconfiguredAnalyzer) Analyze(ctx context.Context, ac llm.AnalysisContext) (llm.EmailAnalysis, error) {
	return llm.EmailAnalysis{}, ErrUnconfigured
}

// UnconfiguredRuleParser is an llm.RuleParser that refuses every call.
type UnconfiguredRuleParser struct{}

func (UnconfiguredRuleParser) ParseRule(ctx context.Context, description string) (llm.ParsedConditions, error) {
	return llm.ParsedConditions{}, ErrUnconfigured
}

// UnconfiguredSemanticMatcher is an llm.SemanticMatcher that refuses every call.
type UnconfiguredSemanticMatcher struct{}

func (UnconfiguredSemanticMatcher) Match(ctx context.Context, query, eventSummary string) (bool, error) {
	return false, ErrUnconfigured
}

// UnconfiguredFactExtractor is an llm.FactExtractor that refuses every call.
type UnconfiguredFactExtractor struct{}

func (UnconfiguredFactExtractor) ExtractFacts(ctx context.Context, conversationID, body string) ([]llm.ExtractedFact, error) {
	return nil, ErrUnconfigured
}

// UnconfiguredEmbedding is an embedding.Client that refuses every call.
type UnconfiguredEmbedding struct{}

func (UnconfiguredEmbedding) Encode(ctx context.Context, text string) ([]float32, error) {
	return nil, ErrUnconfigured
}
func (UnconfiguredEmbedding) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, ErrUnconfigured
}
func (UnconfiguredEmbedding) Dimension(ctx context.Context) (int, error) {
	return 0, ErrUnconfigured
}
