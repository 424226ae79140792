// Package pipeline implements the turn-processing orchestrator: a directed
// graph of steps over a shared turn record, with short-circuit triage, a
// bounded LLM-with-tools reasoning loop, fail-open quality gates, and a
// concurrent session-memory update.
package pipeline

import (
	"github.com/kletsmajoor/klets/pkg/llms"
	"github.com/kletsmajoor/klets/pkg/retrieval"
	"github.com/kletsmajoor/klets/pkg/session"
)

// MaxToolRounds caps the reasoning loop: at most this many tool rounds,
// so the model is invoked at most MaxToolRounds+1 times per turn.
const MaxToolRounds = 3

// Attribution markers distinguishing user and assistant statements in the
// rolling summary.
const (
	MarkerUser      = "[§USR]"
	MarkerAssistant = "[§BOT]"
)

// FallbackApology is substituted when the loop exits without any
// non-empty assistant text.
const FallbackApology = "Ik kon geen antwoord genereren op basis van de beschikbare informatie."

// Route is the triage outcome.
type Route string

const (
	RouteLLM          Route = "llm"
	RouteFAQ          Route = "faq"
	RouteMCP          Route = "mcp"
	RouteGatherParams Route = "mcp_gather_params"
	RouteBlocked      Route = "blocked"
	RouteIrrelevant   Route = "irrelevant"
	RouteChitchat     Route = "chitchat"
)

// FAQResult captures a FAQ hit in the triage sub-record.
type FAQResult struct {
	FAQID            string                      `json:"faq_id"`
	Category         string                      `json:"category"`
	MatchedQuestion  string                      `json:"matched_question"`
	Answer           string                      `json:"answer,omitempty"`
	Score            float32                     `json:"score"`
	RelatedQuestions []string                    `json:"related_questions,omitempty"`
	Sources          []retrieval.SourceReference `json:"-"`
}

// BridgeIntent is a detected rule-execution request: which law to run and
// the parameters collected so far.
type BridgeIntent struct {
	Topic      string         `json:"topic"`
	Service    string         `json:"service,omitempty"`
	Law        string         `json:"law,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Triage is the triage sub-record. Once SkipLLM is set, later checks must
// not touch Route or EarlyResponse.
type Triage struct {
	Route         Route      `json:"route"`
	SkipLLM       bool       `json:"skip_llm"`
	EarlyResponse string     `json:"early_response,omitempty"`
	Log           []string   `json:"triage_log"`
	FAQMatch      *FAQResult `json:"faq_match,omitempty"`
	FAQSuggestion *FAQResult `json:"faq_suggestion,omitempty"`

	BridgeQuery        string                 `json:"mcp_query,omitempty"`
	BridgeIntent       *BridgeIntent          `json:"mcp_intent,omitempty"`
	PendingIntent      *session.PendingIntent `json:"-"`
	ClearPendingIntent bool                   `json:"-"`
}

func defaultTriage() Triage {
	return Triage{Route: RouteLLM}
}

// alreadyDecided reports whether an earlier check short-circuited.
func (t Triage) alreadyDecided() bool {
	return t.SkipLLM
}

// Evaluation is the answer-quality scorecard, all scores in [0,1]. A nil
// score means the judge did not report that metric; absent metrics never
// count against the thresholds.
type Evaluation struct {
	Overall          *float64 `json:"overall,omitempty"`
	Relevance        *float64 `json:"relevance,omitempty"`
	Tone             *float64 `json:"tone,omitempty"`
	PolicyCompliance *float64 `json:"policy_compliance,omitempty"`
	Groundedness     *float64 `json:"groundedness,omitempty"`
	Completeness     *float64 `json:"completeness,omitempty"`
	Notes            []string `json:"notes,omitempty"`
}

// RefineDecision records why (or why not) the answer should be refined.
type RefineDecision struct {
	ShouldRefine bool               `json:"should_refine"`
	Reasons      []string           `json:"reasons"`
	Thresholds   Thresholds         `json:"thresholds"`
	ScoresUsed   map[string]float64 `json:"scores_used"`
}

// SourceValidation is the groundedness verdict.
type SourceValidation struct {
	Grounded   bool     `json:"grounded"`
	Issues     []string `json:"issues"`
	Confidence float64  `json:"confidence"`
}

// ToneValidation records whether the answer was rewritten for tone.
type ToneValidation struct {
	Appropriate  bool     `json:"appropriate"`
	OriginalText string   `json:"original_text,omitempty"`
	Adjustments  []string `json:"adjustments,omitempty"`
}

// GuardrailResult is the output-safety verdict.
type GuardrailResult struct {
	Safe         bool     `json:"safe"`
	Issues       []string `json:"issues"`
	OriginalText string   `json:"original_text,omitempty"`
}

// Output groups the answer fields written together once the draft is
// settled (by bundle_sources, the triage bundle, or the bridge call).
type Output struct {
	AssistantText string
	ExchangeID    string
	UniqueSources []retrieval.SourceReference
	SourceIDs     []string
}

// State is the turn record. Every field is input-only, written once by
// its producing node, or accumulated by a declared reducer (Messages
// appends, Sources concatenates).
type State struct {
	// Input, set at invocation.
	Message     string
	SessionID   string
	UserContext map[string]string
	UseMemory   bool

	// Session, set by load_session.
	Session *session.Memory

	// Reasoning loop working fields.
	Messages   []llms.Message
	Sources    []retrieval.SourceReference
	ToolRounds int

	Triage Triage

	// Output fields.
	AssistantText string
	AnswerBefore  string
	ExchangeID    string
	UniqueSources []retrieval.SourceReference
	SourceIDs     []string

	// Quality pipeline sub-records.
	Evaluation       *Evaluation
	EvaluationBefore *Evaluation
	RefineDecision   *RefineDecision
	RefinedOnce      bool
	SourceValidation *SourceValidation
	ToneValidation   *ToneValidation
	OutputGuardrail  *GuardrailResult

	MemoryPersisted bool
	Response        *Response
}

// Update is a node's typed partial result. Nil/zero fields leave the
// state untouched; each non-zero field is merged by its declared reducer.
type Update struct {
	Session *session.Memory

	// PromptReset replaces the message history and clears the loop
	// accumulators; set only by build_prompt.
	PromptReset bool
	Messages    []llms.Message              // append
	Sources     []retrieval.SourceReference // concatenate
	RoundDone   bool                        // increments ToolRounds

	Triage *Triage

	Output        *Output
	AssistantText *string // overwrite text only, keeping sources/ids
	AnswerBefore  *string

	Evaluation       *Evaluation
	EvaluationBefore *Evaluation
	RefineDecision   *RefineDecision
	RefinedOnce      bool // set-only
	SourceValidation *SourceValidation
	ToneValidation   *ToneValidation
	OutputGuardrail  *GuardrailResult

	MemoryPersisted *bool
	Response        *Response
}

func reduce(s State, u Update) State {
	if u.Session != nil {
		s.Session = u.Session
	}
	if u.PromptReset {
		s.Messages = nil
		s.Sources = nil
		s.ToolRounds = 0
	}
	if len(u.Messages) > 0 {
		s.Messages = append(s.Messages, u.Messages...)
	}
	if len(u.Sources) > 0 {
		s.Sources = append(s.Sources, u.Sources...)
	}
	if u.RoundDone {
		s.ToolRounds++
	}
	if u.Triage != nil {
		s.Triage = *u.Triage
	}
	if u.Output != nil {
		s.AssistantText = u.Output.AssistantText
		s.ExchangeID = u.Output.ExchangeID
		s.UniqueSources = u.Output.UniqueSources
		s.SourceIDs = u.Output.SourceIDs
	}
	if u.AssistantText != nil {
		s.AssistantText = *u.AssistantText
	}
	if u.AnswerBefore != nil {
		s.AnswerBefore = *u.AnswerBefore
	}
	if u.Evaluation != nil {
		s.Evaluation = u.Evaluation
	}
	if u.EvaluationBefore != nil {
		s.EvaluationBefore = u.EvaluationBefore
	}
	if u.RefineDecision != nil {
		s.RefineDecision = u.RefineDecision
	}
	if u.RefinedOnce {
		s.RefinedOnce = true
	}
	if u.SourceValidation != nil {
		s.SourceValidation = u.SourceValidation
	}
	if u.ToneValidation != nil {
		s.ToneValidation = u.ToneValidation
	}
	if u.OutputGuardrail != nil {
		s.OutputGuardrail = u.OutputGuardrail
	}
	if u.MemoryPersisted != nil {
		s.MemoryPersisted = *u.MemoryPersisted
	}
	if u.Response != nil {
		s.Response = u.Response
	}
	return s
}
