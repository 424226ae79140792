package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/kletsmajoor/klets/pkg/llms"
	"github.com/kletsmajoor/klets/pkg/retrieval"
	"github.com/kletsmajoor/klets/pkg/tools"
)

func newExchangeID() string {
	return "ex-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// callModel invokes the model with the bound tools. A provider failure is
// absorbed: an empty assistant message lets the loop exit and the bundle
// step substitute the fallback apology.
func (o *Orchestrator) callModel(ctx context.Context, s State) (Update, error) {
	slog.Info("calling model",
		"round", s.ToolRounds+1,
		"max_rounds", o.cfg.MaxToolRounds,
		"messages", len(s.Messages))

	completion, err := o.llm.Generate(ctx, s.Messages, o.registry.Definitions())
	if err != nil {
		slog.Error("model call failed", "error", err)
		return Update{Messages: []llms.Message{llms.AssistantMessage("")}}, nil
	}

	msg := llms.Message{
		Role:      llms.RoleAssistant,
		Content:   completion.Text,
		ToolCalls: completion.ToolCalls,
	}
	return Update{Messages: []llms.Message{msg}}, nil
}

// routeAfterModel continues the loop while the model keeps requesting
// tools and rounds remain.
func (o *Orchestrator) routeAfterModel(s State) string {
	if len(s.Messages) == 0 {
		return "bundle_sources"
	}
	last := s.Messages[len(s.Messages)-1]
	if last.Role == llms.RoleAssistant && len(last.ToolCalls) > 0 && s.ToolRounds < o.cfg.MaxToolRounds {
		return "execute_tools"
	}
	return "bundle_sources"
}

// executeTools runs every tool call from the last assistant message and
// appends the results as tool messages. Each tool returns its sources
// explicitly; they concatenate into the turn's source accumulator.
func (o *Orchestrator) executeTools(ctx context.Context, s State) (Update, error) {
	last := s.Messages[len(s.Messages)-1]
	turn := &tools.Turn{SessionID: s.SessionID, Memory: s.Session}

	var msgs []llms.Message
	var sources []retrieval.SourceReference

	for _, call := range last.ToolCalls {
		slog.Info("executing tool", "tool", call.Name)

		result, err := o.registry.Execute(ctx, call.Name, call.Arguments, turn)
		if err != nil {
			slog.Warn("tool failed", "tool", call.Name, "error", err)
			msgs = append(msgs, llms.ToolMessage(call.ID, fmt.Sprintf("Fout bij uitvoeren van %s: %v", call.Name, err)))
			continue
		}
		msgs = append(msgs, llms.ToolMessage(call.ID, result.Content))
		sources = append(sources, result.Sources...)
	}

	// One round is one batch of tool executions.
	return Update{Messages: msgs, Sources: sources, RoundDone: true}, nil
}

// bundleSources closes the loop: pick the last non-empty assistant text
// as the draft answer, deduplicate the accumulated sources by document id
// (first seen wins), and mint the exchange id.
func (o *Orchestrator) bundleSources(ctx context.Context, s State) (Update, error) {
	var text string
	for i := len(s.Messages) - 1; i >= 0; i-- {
		msg := s.Messages[i]
		if msg.Role == llms.RoleAssistant && strings.TrimSpace(msg.Content) != "" {
			text = msg.Content
			break
		}
	}
	if text == "" {
		slog.Warn("no assistant text after reasoning loop, using fallback")
		text = FallbackApology
	}

	unique := retrieval.DedupeSources(s.Sources)
	out := &Output{
		AssistantText: text,
		ExchangeID:    newExchangeID(),
		UniqueSources: unique,
		SourceIDs:     retrieval.SourceIDs(unique),
	}

	slog.Info("reasoning loop bundled",
		"answer_chars", len(text),
		"sources", len(unique),
		"exchange_id", out.ExchangeID)
	return Update{Output: out}, nil
}

// bundleTriage mirrors bundleSources for the triage early-exit path so
// the memory and response steps work unchanged. FAQ matches contribute
// their pre-defined sources.
func (o *Orchestrator) bundleTriage(ctx context.Context, s State) (Update, error) {
	out := &Output{
		AssistantText: s.Triage.EarlyResponse,
		ExchangeID:    newExchangeID(),
	}

	if s.Triage.FAQMatch != nil {
		for i, src := range s.Triage.FAQMatch.Sources {
			if src.DocumentID == "" {
				src.DocumentID = fmt.Sprintf("faq-src-%d", i)
			}
			if src.Score == 0 {
				src.Score = 0.9
			}
			out.UniqueSources = append(out.UniqueSources, src)
		}
		out.SourceIDs = retrieval.SourceIDs(out.UniqueSources)
	}

	slog.Info("triage early response bundled",
		"route", s.Triage.Route,
		"sources", len(out.UniqueSources))
	return Update{Output: out}, nil
}
