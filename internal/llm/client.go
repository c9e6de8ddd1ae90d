// Package llm declares the abstract LLM collaborator contracts: classify,
// analyze, parse_rule, semantic_match, and extract_facts. No concrete model
// SDK is imported here — callers supply an implementation (Bedrock,
// OpenAI, a local model server) behind these interfaces.
package llm

import "context"

// TriageContext is everything the classifier sees about a message.
type TriageContext struct {
	Subject     string
	Sender      string
	Preview     string
	IsVIPSender bool
	FolderMode  bool // true: legacy folder-destination mode, false: Outlook categories mode
}

// TriageVerdict is the classifier's decision for one message.
type TriageVerdict struct {
	Category          string   // Urgent|Action Required|FYI|Newsletters|... (categories mode) or a folder name (folder mode)
	Reason            string
	Action            string   // move|delete|mark_important|none
	OutlookCategories []string // multi-label set from the configured taxonomy (categories mode)
	DestinationFolder string   // only meaningful in folder mode
	Urgency           string   // immediate|today|this_week|someday
	Labels            map[string]float64
	RequiresReply     bool
	ReplyReason       string
	IsAvailabilityReq bool
	Availability      *AvailabilityRequest
	Confidence        float64
}

// AvailabilityRequest is the classifier's read of a scheduling ask: the
// window and duration being requested plus any stated constraints.
type AvailabilityRequest struct {
	WindowStart   string // RFC3339, empty if not stated
	WindowEnd     string
	DurationMins  int
	Timezone      string
	Constraints   []string
	ProposedSlots []string
}

// Classifier triages a message into a category/folder plus structured labels.
type Classifier interface {
	Classify(ctx context.Context, tc TriageContext) (TriageVerdict, error)
}

// AnalysisContext is the content handed to the working-memory analyzer.
type AnalysisContext struct {
	ConversationID string
	Subject        string
	Sender         string
	Body           string // truncated to a bounded length before the call
	IsCC           bool
}

// EmailAnalysis is the working-memory analyzer's structured output. The
// zero value is the safe fallback used when the LLM call fails.
type EmailAnalysis struct {
	EmailType           string // newsletter|automated|transactional|direct
	ThreadSummary       string // 1-3 sentences
	KeyPoints           []string
	PendingQuestions    []string
	NeedsReply          bool
	SuggestedUrgency    string // immediate|today|this_week|someday
	DecisionsRequested  []DecisionExtract
	Commitments         []CommitmentExtract
	Observations        []ObservationExtract
	Projects            []string // strict: named initiatives only, not products/vendors/newsletters
	ExtractedNewContent string   // body with quoted replies/signature/disclaimers stripped
	SignatureBlock      string
	SuggestedAction      string // keep|archive|delete
}

// DecisionExtract is one pending decision the analyzer found.
type DecisionExtract struct {
	Question  string
	Context   string
	Options   []string
	Deadline  string // RFC3339, empty if not stated
	Urgency   string
	Source    string
	Requester string
}

// CommitmentExtract is one commitment the analyzer found in a message.
type CommitmentExtract struct {
	Description string
	ToWhom      string
	OwnerEmail  string
	DueBy       string // RFC3339, empty if no date was stated
}

// ObservationExtract is one working-memory observation the analyzer found.
type ObservationExtract struct {
	Type       string // project_mention|decision_made|deadline_mentioned|person_introduced|status_update|meeting_scheduled|commitment_made|context_learned
	Content    string
	Importance string
	Confidence float64
}

// Analyzer performs the working-memory content analysis of a single message.
type Analyzer interface {
	Analyze(ctx context.Context, ac AnalysisContext) (EmailAnalysis, error)
}

// ParsedConditions is a rule's compiled, typed matching logic — the
// structured condition set a RuleParser produces from a natural-language
// rule description.
type ParsedConditions struct {
	EventTypes        []string // email_received|email_sent|wm_thread|wm_commitment|wm_decision
	SenderPatterns    []string // glob patterns, matched case-insensitively
	RecipientPatterns []string
	SubjectKeywords   []string
	BodyKeywords      []string
	UrgencyLevels     []string
	Labels            []string
	Categories        []string
	WMTypes           []string // thread|commitment|decision subtype filter
	OverdueOnly       bool
	MatchMode             string // any|all
	RequiresSemanticMatch bool
	SemanticQuery         string // non-empty: also requires a semantic_match pass
}

// RuleParser compiles a natural-language alert rule description into
// typed conditions.
type RuleParser interface {
	ParseRule(ctx context.Context, description string) (ParsedConditions, error)
}

// SemanticMatcher judges whether an event semantically matches a
// free-text query the fast boolean matcher can't express.
type SemanticMatcher interface {
	Match(ctx context.Context, query string, eventSummary string) (bool, error)
}

// FactExtractor pulls structured facts (amounts, dates, decisions,
// commitments, preferences, ...) out of message content.
type FactExtractor interface {
	ExtractFacts(ctx context.Context, conversationID, body string) ([]ExtractedFact, error)
}

// ExtractedFact is one fact pulled from a message by the LLM.
type ExtractedFact struct {
	FactType         string // tax_id|amount|address|phone|deadline|person_name|company_name|contract_number|decision|commitment|action_item|preference|relationship|pattern|other
	Content          string
	Context          string
	EntityNormalized string // canonical form of the entity, when the extractor can produce one
	Confidence       float64
	DueDate          string // RFC3339, empty unless the fact carries a date
}
