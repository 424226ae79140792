package pipeline

import (
	"context"
	"log/slog"
)

// Request is the turn entry point's input.
type Request struct {
	Message     string            `json:"message"`
	SessionID   string            `json:"session_id,omitempty"`
	UserContext map[string]string `json:"user_context,omitempty"`
	UseMemory   *bool             `json:"use_memory,omitempty"`
}

// KnowledgeSource is a compact source citation in the response.
type KnowledgeSource struct {
	Title        string  `json:"title"`
	DocumentID   string  `json:"document_id"`
	Score        float64 `json:"relevance_score"`
	URL          string  `json:"url"`
	SectionTitle string  `json:"section_title,omitempty"`
}

// Validation bundles the quality sub-records for the caller.
type Validation struct {
	Sources         *SourceValidation `json:"sources,omitempty"`
	Tone            *ToneValidation   `json:"tone,omitempty"`
	OutputGuardrail *GuardrailResult  `json:"output_guardrail,omitempty"`
}

// Response is the structured turn result.
type Response struct {
	MainAnswer       string            `json:"main_answer"`
	ResponseType     string            `json:"response_type"`
	ConfidenceLevel  string            `json:"confidence_level"`
	Complexity       string            `json:"complexity"`
	KnowledgeSources []KnowledgeSource `json:"knowledge_sources"`
	SessionID        string            `json:"session_id"`
	ExchangeID       string            `json:"exchange_id"`
	Validation       Validation        `json:"validation"`
	Triage           Triage            `json:"triage"`
	MemoryPersisted  bool              `json:"memory_persisted"`
	ProcessingTimeMS int64             `json:"processing_time_ms"`
	Error            string            `json:"error,omitempty"`
}

// formatResponse is the terminal node: it materializes the structured
// response from the turn record.
func (o *Orchestrator) formatResponse(ctx context.Context, s State) (Update, error) {
	sources := make([]KnowledgeSource, 0, len(s.UniqueSources))
	for _, src := range s.UniqueSources {
		sources = append(sources, KnowledgeSource{
			Title:        src.Title,
			DocumentID:   src.DocumentID,
			Score:        src.Score,
			URL:          src.URL,
			SectionTitle: src.SectionTitle,
		})
	}

	sessionID := s.SessionID
	if s.Session != nil {
		sessionID = s.Session.SessionID
	}

	resp := &Response{
		MainAnswer:       s.AssistantText,
		ResponseType:     "direct_answer",
		ConfidenceLevel:  "medium",
		Complexity:       "moderate",
		KnowledgeSources: sources,
		SessionID:        sessionID,
		ExchangeID:       s.ExchangeID,
		Validation: Validation{
			Sources:         s.SourceValidation,
			Tone:            s.ToneValidation,
			OutputGuardrail: s.OutputGuardrail,
		},
		Triage:          s.Triage,
		MemoryPersisted: s.MemoryPersisted,
	}

	slog.Info("turn finished",
		"session", sessionID,
		"route", s.Triage.Route,
		"answer_chars", len(s.AssistantText),
		"sources", len(sources))
	return Update{Response: resp}, nil
}
