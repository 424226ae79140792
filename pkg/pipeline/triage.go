package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kletsmajoor/klets/pkg/faq"
)

// Canned early responses for the triage routes. Opaque user-facing text.
const (
	blockedResponse = "Ik kan dit verzoek niet verwerken."

	irrelevantResponse = "Sorry, ik kan alleen vragen beantwoorden over gemeentelijke " +
		"onderwerpen. Kan ik je ergens anders mee helpen?"

	chitchatResponse = "Hallo! Ik ben Klets, de AI-assistent voor gemeentelijke " +
		"onderwerpen. Stel gerust je vraag."
)

// maxRelatedSuggestions caps the related-question list appended to a FAQ
// early answer.
const maxRelatedSuggestions = 4

// guardrailInput is the first triage check: is the message allowed at
// all? The current policy passes everything through; a real policy must
// honor the same contract (blocked route + skip + early response).
func (o *Orchestrator) guardrailInput(ctx context.Context, s State) (Update, error) {
	triage := defaultTriage()
	if !o.cfg.InputGuardrail {
		triage.Log = append(triage.Log, "guardrail_input: DISABLED")
		return Update{Triage: &triage}, nil
	}

	triage.Log = append(triage.Log, "guardrail_input: PASS")
	slog.Debug("input allowed", "session", s.SessionID)
	return Update{Triage: &triage}, nil
}

// triageRelevance rejects off-domain messages. Placeholder policy: pass.
func (o *Orchestrator) triageRelevance(ctx context.Context, s State) (Update, error) {
	if s.Triage.alreadyDecided() {
		return Update{}, nil
	}
	triage := s.Triage
	triage.Log = append(triage.Log, "triage_relevance: PASS")
	return Update{Triage: &triage}, nil
}

// triageFAQ consults the semantic match index. Exact matches short-circuit
// with the canonical answer; suggest matches ride along as a hint for the
// reasoning loop.
func (o *Orchestrator) triageFAQ(ctx context.Context, s State) (Update, error) {
	if s.Triage.alreadyDecided() {
		return Update{}, nil
	}
	triage := s.Triage

	if o.faqIndex == nil {
		triage.Log = append(triage.Log, "triage_faq: NO SERVICE")
		return Update{Triage: &triage}, nil
	}

	match, decision, err := o.faqIndex.BestMatch(ctx, s.Message)
	if err != nil {
		// Fail-open: an index error must not block the turn.
		slog.Warn("FAQ match failed", "error", err)
		triage.Log = append(triage.Log, "triage_faq: ERROR")
		return Update{Triage: &triage}, nil
	}

	switch decision {
	case faq.DecisionExact:
		triage.Route = RouteFAQ
		triage.SkipLLM = true
		triage.EarlyResponse = faqEarlyResponse(match)
		triage.FAQMatch = &FAQResult{
			FAQID:            match.FAQID,
			Category:         match.Category,
			MatchedQuestion:  match.MatchedQuestion,
			Score:            match.Score,
			RelatedQuestions: match.RelatedQuestions,
			Sources:          match.Sources,
		}
		triage.Log = append(triage.Log,
			fmt.Sprintf("triage_faq: EXACT (%s, score=%.3f) -> skip LLM", match.FAQID, match.Score))
		slog.Info("exact FAQ match", "faq", match.FAQID, "score", match.Score)

	case faq.DecisionSuggest:
		triage.FAQSuggestion = &FAQResult{
			FAQID:           match.FAQID,
			Category:        match.Category,
			MatchedQuestion: match.MatchedQuestion,
			Answer:          match.Answer,
			Score:           match.Score,
		}
		triage.Log = append(triage.Log,
			fmt.Sprintf("triage_faq: SUGGEST (%s, score=%.3f)", match.FAQID, match.Score))

	default:
		triage.Log = append(triage.Log, "triage_faq: NO MATCH")
	}
	return Update{Triage: &triage}, nil
}

// triageIntent is the terminal triage check: whatever is still undecided
// goes to the reasoning loop.
func (o *Orchestrator) triageIntent(ctx context.Context, s State) (Update, error) {
	if s.Triage.alreadyDecided() {
		return Update{}, nil
	}
	triage := s.Triage
	triage.Route = RouteLLM
	triage.Log = append(triage.Log, "triage_intent: ROUTE -> llm")
	return Update{Triage: &triage}, nil
}

// routeAfterTriage is the conditional edge after the triage chain.
func routeAfterTriage(s State) string {
	if s.Triage.SkipLLM {
		switch s.Triage.Route {
		case RouteMCP:
			return "call_bridge"
		case RouteGatherParams:
			return "gather_params"
		default:
			return "bundle_triage"
		}
	}
	return "build_prompt"
}

func faqEarlyResponse(match *faq.Match) string {
	text := match.Answer
	related := match.RelatedQuestions
	if len(related) > maxRelatedSuggestions {
		related = related[:maxRelatedSuggestions]
	}
	if len(related) > 0 {
		text += "\n\nMisschien wil je ook weten:"
		for _, q := range related {
			text += "\n- " + q
		}
	}
	return text
}
