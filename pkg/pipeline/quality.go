package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/kletsmajoor/klets/pkg/llms"
	"github.com/kletsmajoor/klets/pkg/retrieval"
)

// evaluateAnswer scores the draft on five metrics. Observational and
// strictly fail-open: any failure leaves the state untouched.
func (o *Orchestrator) evaluateAnswer(ctx context.Context, s State) (Update, error) {
	if !o.cfg.EvaluateAnswer {
		return Update{}, nil
	}

	if strings.TrimSpace(s.AssistantText) == "" {
		return Update{Evaluation: &Evaluation{Notes: []string{"Empty response"}}}, nil
	}

	prompt := fmt.Sprintf(`Beoordeel dit antwoord van een overheids-AI-assistent in context.

VRAAG:
%s

BRONNEN (indien aanwezig):
%s

ANTWOORD:
%s

Geef scores van 0.0 (slecht) tot 1.0 (uitstekend) voor:
- relevance
- tone
- policy_compliance (beleidsmatige/ethische kaders)
- groundedness (mate waarin het antwoord is gebaseerd op bronnen)
- completeness

Geef ook een overall score (0.0-1.0) en maximaal 3 korte notes.

Antwoord ALLEEN met valid JSON, bijv:
{"overall": 0.78, "relevance": 0.8, "tone": 0.9, "policy_compliance": 0.85, "groundedness": 0.6, "completeness": 0.7, "notes": ["Kort en duidelijk", "Mist een concrete stap"]}`,
		s.Message, sourcesBlock(s.UniqueSources), truncate(s.AssistantText, 2000))

	completion, err := o.llm.Generate(ctx,
		[]llms.Message{
			llms.SystemMessage("Je beoordeelt antwoorden. Antwoord alleen met JSON."),
			llms.UserMessage(prompt),
		}, nil,
		llms.WithTemperature(0.1), llms.WithMaxTokens(200))
	if err != nil {
		slog.Warn("answer evaluation failed", "error", err)
		return Update{}, nil
	}

	var eval Evaluation
	if err := llms.DecodeJSON(completion.Text, &eval); err != nil {
		slog.Warn("answer evaluation returned malformed JSON", "error", err)
		return Update{}, nil
	}

	slog.Info("answer evaluated",
		"overall", formatScore(eval.Overall),
		"relevance", formatScore(eval.Relevance),
		"groundedness", formatScore(eval.Groundedness),
		"completeness", formatScore(eval.Completeness))
	return Update{Evaluation: &eval}, nil
}

// routeAfterEvaluate sends the first pass through the quality gate; the
// post-refinement pass goes straight to the validators.
func routeAfterEvaluate(s State) string {
	if s.RefinedOnce {
		return "validate_sources"
	}
	return "quality_gate"
}

// qualityGate computes the refine decision from the evaluation and any
// validator flags.
func (o *Orchestrator) qualityGate(ctx context.Context, s State) (Update, error) {
	if s.RefinedOnce {
		return Update{}, nil
	}

	decision := o.decideRefine(s.Evaluation, s.SourceValidation, s.ToneValidation)
	if decision.ShouldRefine {
		slog.Info("quality gate requests refinement", "reasons", decision.Reasons)
	}
	return Update{RefineDecision: decision, EvaluationBefore: s.Evaluation}, nil
}

// decideRefine computes per-metric deficits against the configured
// thresholds; validator "not grounded"/"inappropriate tone" flags count
// as additional deficits.
func (o *Orchestrator) decideRefine(eval *Evaluation, sv *SourceValidation, tv *ToneValidation) *RefineDecision {
	th := o.cfg.Thresholds
	decision := &RefineDecision{
		Thresholds: th,
		Reasons:    []string{},
		ScoresUsed: map[string]float64{},
	}
	if eval != nil {
		for name, score := range map[string]*float64{
			"relevance":         eval.Relevance,
			"groundedness":      eval.Groundedness,
			"completeness":      eval.Completeness,
			"tone":              eval.Tone,
			"policy_compliance": eval.PolicyCompliance,
		} {
			if score != nil {
				decision.ScoresUsed[name] = *score
			}
		}

		if eval.Relevance != nil && *eval.Relevance < th.Relevance {
			decision.Reasons = append(decision.Reasons, "Low relevance to the user question")
		}
		if eval.Groundedness != nil && *eval.Groundedness < th.Groundedness {
			decision.Reasons = append(decision.Reasons, "Answer not sufficiently grounded in sources")
		} else if sv != nil && !sv.Grounded {
			decision.Reasons = append(decision.Reasons, "Source validation flagged grounding issues")
		}
		if eval.Completeness != nil && *eval.Completeness < th.Completeness {
			decision.Reasons = append(decision.Reasons, "Answer seems incomplete for the user need")
		}
		if eval.Tone != nil && *eval.Tone < th.Tone {
			decision.Reasons = append(decision.Reasons, "Tone is not aligned with public-sector guidelines")
		} else if tv != nil && !tv.Appropriate {
			decision.Reasons = append(decision.Reasons, "Tone validation flagged issues")
		}
		if eval.PolicyCompliance != nil && *eval.PolicyCompliance < th.PolicyCompliance {
			decision.Reasons = append(decision.Reasons, "Potential policy/ethics compliance risks")
		}
	}

	decision.ShouldRefine = len(decision.Reasons) > 0
	return decision
}

// routeAfterQualityGate refines at most once; disabled refinement skips
// straight to the validators.
func (o *Orchestrator) routeAfterQualityGate(s State) string {
	if s.RefinedOnce || !o.cfg.RefineAnswer {
		return "validate_sources"
	}
	if s.RefineDecision != nil && s.RefineDecision.ShouldRefine {
		return "refine_answer"
	}
	return "validate_sources"
}

// refineAnswer rewrites the draft once, driven by the deficit reasons.
// Any failure keeps the draft but still marks RefinedOnce so the loop
// terminates.
func (o *Orchestrator) refineAnswer(ctx context.Context, s State) (Update, error) {
	if s.RefinedOnce || s.RefineDecision == nil || !s.RefineDecision.ShouldRefine {
		return Update{}, nil
	}

	answerBefore := s.AssistantText
	eval := s.Evaluation
	if eval == nil {
		eval = &Evaluation{}
	}

	prompt := fmt.Sprintf(`Je bent een kwaliteitsassistent voor de overheid.
Verbeter het antwoord op basis van de signalen hieronder.

VRAAG:
%s

HUIDIG ANTWOORD:
%s

SIGNAAL (problemen):
- %s

SCORES (0-1):
- relevance: %s
- groundedness: %s
- completeness: %s
- tone: %s
- policy_compliance: %s

BRONNEN (indien aanwezig):
%s

INSTRUCTIES:
- Antwoord in het Nederlands.
- Focus op de vraag; verwijder irrelevante details.
- Gebruik alleen informatie die in de bronnen staat als je bronnen hebt.
- Verbeter volledigheid met concrete stappen.
- Houd een neutrale, formele overheids-toon.
- Vermijd politiek advies of speculatie.

Geef alleen het verbeterde antwoord terug.`,
		s.Message, s.AssistantText, strings.Join(s.RefineDecision.Reasons, "\n- "),
		formatScore(eval.Relevance), formatScore(eval.Groundedness), formatScore(eval.Completeness),
		formatScore(eval.Tone), formatScore(eval.PolicyCompliance),
		sourcesBlock(s.UniqueSources))

	completion, err := o.llm.Generate(ctx,
		[]llms.Message{
			llms.SystemMessage("Je verbetert overheidsantwoorden. Antwoord alleen met het verbeterde antwoord."),
			llms.UserMessage(prompt),
		}, nil,
		llms.WithTemperature(0.2), llms.WithMaxTokens(2000))
	if err != nil || strings.TrimSpace(completion.Text) == "" {
		slog.Warn("refinement failed, keeping draft", "error", err)
		return Update{RefinedOnce: true, AnswerBefore: &answerBefore}, nil
	}

	text := strings.TrimSpace(completion.Text)
	slog.Info("answer refined", "chars", len(text))
	return Update{AssistantText: &text, RefinedOnce: true, AnswerBefore: &answerBefore}, nil
}

func sourcesBlock(sources []retrieval.SourceReference) string {
	var lines []string
	for i, src := range sources {
		if i == 5 {
			break
		}
		title := src.Title
		if title == "" {
			title = "Zonder titel"
		}
		lines = append(lines, fmt.Sprintf("[%d] %s: %s", i+1, title, src.Snippet))
	}
	if len(lines) == 0 {
		return "Geen bronnen beschikbaar."
	}
	return strings.Join(lines, "\n")
}

func formatScore(score *float64) string {
	if score == nil {
		return "onbekend"
	}
	return fmt.Sprintf("%.2f", *score)
}

// truncate cuts s to at most n bytes without splitting a UTF-8 rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
