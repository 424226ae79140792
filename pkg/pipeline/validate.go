package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kletsmajoor/klets/pkg/llms"
)

const guardrailReplacedMsg = "Er is een fout opgetreden bij het genereren van het antwoord. " +
	"Probeer het opnieuw."

const bsnRedaction = "[BSN verwijderd]"

// leakMarkers are system-prompt fragments that must never reach the user.
var leakMarkers = []string{"KERNREGEL", "TOOL-KEUZE", "GEHEUGEN:", MarkerUser, MarkerAssistant}

// validateSources asks whether the draft's claims are backed by the
// retrieved sources. With no sources there is nothing to validate and the
// answer counts as grounded. Malformed judge output degrades to grounded
// with zero confidence.
func (o *Orchestrator) validateSources(ctx context.Context, s State) (Update, error) {
	if !o.cfg.ValidateSources {
		return Update{}, nil
	}

	if len(s.UniqueSources) == 0 {
		return Update{SourceValidation: &SourceValidation{Grounded: true, Issues: []string{}, Confidence: 1.0}}, nil
	}

	prompt := fmt.Sprintf(`Controleer of het antwoord van de assistent wordt ondersteund door de bronnen.

BRONNEN:
%s

ANTWOORD:
%s

Beoordeel:
1. Worden de feitelijke claims in het antwoord ondersteund door de bronnen?
2. Bevat het antwoord informatie die NIET in de bronnen staat (hallucination)?
3. Zijn er bronnen genegeerd die relevant waren?

Antwoord ALLEEN met valid JSON:
{"grounded": true, "issues": [], "confidence": 0.95}`,
		sourcesBlock(s.UniqueSources), truncate(s.AssistantText, 1500))

	result := &SourceValidation{Grounded: true, Issues: []string{}, Confidence: 0.0}

	completion, err := o.llm.Generate(ctx,
		[]llms.Message{
			llms.SystemMessage("Je valideert antwoorden tegen bronnen. Antwoord alleen met JSON."),
			llms.UserMessage(prompt),
		}, nil,
		llms.WithTemperature(0.1), llms.WithMaxTokens(200))
	if err != nil {
		slog.Warn("source validation failed", "error", err)
		return Update{SourceValidation: result}, nil
	}
	if err := llms.DecodeJSON(completion.Text, result); err != nil {
		slog.Warn("source validation returned malformed JSON", "error", err)
		result = &SourceValidation{Grounded: true, Issues: []string{}, Confidence: 0.0}
	}

	slog.Info("sources validated", "grounded", result.Grounded, "confidence", result.Confidence)
	return Update{SourceValidation: result}, nil
}

// validateTone rewrites the answer to B1-level Dutch. On any failure the
// original text stands.
func (o *Orchestrator) validateTone(ctx context.Context, s State) (Update, error) {
	if !o.cfg.ValidateTone {
		return Update{}, nil
	}
	if strings.TrimSpace(s.AssistantText) == "" {
		return Update{ToneValidation: &ToneValidation{Appropriate: true}}, nil
	}

	prompt := fmt.Sprintf(`Herschrijf het onderstaande antwoord naar B1-niveau (Makkelijker Nederlands).

SCHRIJFWIJZER B1-NIVEAU:

Zinsbouw:
- Houd zinnen kort en bondig (gemiddeld 10-15 woorden).
- Vermijd complexe samengestelde zinnen.
- Vermijd de tangconstructie: zet bij elkaar horende woorden (zoals werkwoorden) niet te ver uit elkaar.

Structuur:
- Gebruik korte alinea's en betekenisvolle tussenkoppen om de tekst scanbaar te maken.
- Gebruik bullet points of genummerde lijsten voor voorwaarden of opsommingen.

Stijl:
- Schrijf in de actieve vorm ("U betaalt binnen 14 dagen" in plaats van "De betaling dient binnen 14 dagen te geschieden").
- Spreek de lezer direct aan met 'u'.
- Vermijd vakjargon, moeilijke woorden en clichés. Gebruik alledaagse taal.
- Beperk hulpwerkwoorden zoals 'zullen', 'kunnen', 'moeten', 'zouden'.
- Vermijd 'er' en 'echter' aan het begin van zinnen.
- Vermijd overbodige woorden.

Verder:
- Behoud ALLE feitelijke informatie — laat niets weg.
- Behoud markdown-opmaak (##, ###, opsommingen).
- Geen afsluitende vragen ("Wil je meer weten?", "Kan ik u ergens mee helpen?").
- Antwoord alleen met de herschreven tekst, geen uitleg.

ORIGINEEL ANTWOORD:
%s`, s.AssistantText)

	completion, err := o.llm.Generate(ctx,
		[]llms.Message{
			llms.SystemMessage("Je herschrijft teksten naar B1-niveau (Makkelijker Nederlands). " +
				"Geef alleen de herschreven tekst terug, niets anders."),
			llms.UserMessage(prompt),
		}, nil,
		llms.WithTemperature(0.3), llms.WithMaxTokens(2500))
	if err != nil || strings.TrimSpace(completion.Text) == "" {
		slog.Warn("tone rewrite failed, keeping original", "error", err)
		return Update{ToneValidation: &ToneValidation{Appropriate: true}}, nil
	}

	rewritten := strings.TrimSpace(completion.Text)
	slog.Info("answer rewritten for tone", "before", len(s.AssistantText), "after", len(rewritten))
	return Update{
		AssistantText: &rewritten,
		ToneValidation: &ToneValidation{
			Appropriate:  false,
			OriginalText: s.AssistantText,
			Adjustments:  []string{"Herschreven naar B1-niveau"},
		},
	}, nil
}

// guardrailOutput is the last gate before memory and response, on every
// path. It replaces answers that leak prompt internals and scrubs BSNs.
func (o *Orchestrator) guardrailOutput(ctx context.Context, s State) (Update, error) {
	if !o.cfg.OutputGuardrail {
		return Update{OutputGuardrail: &GuardrailResult{Safe: true, Issues: []string{}}}, nil
	}

	text := s.AssistantText

	for _, marker := range leakMarkers {
		if strings.Contains(text, marker) {
			slog.Warn("system prompt leakage detected, replacing answer")
			replaced := guardrailReplacedMsg
			return Update{
				AssistantText: &replaced,
				OutputGuardrail: &GuardrailResult{
					Safe:         false,
					Issues:       []string{"system_prompt_leakage"},
					OriginalText: text,
				},
			}, nil
		}
	}

	if cleaned := bsnPattern.ReplaceAllString(text, bsnRedaction); cleaned != text {
		slog.Warn("BSN scrubbed from response")
		return Update{
			AssistantText: &cleaned,
			OutputGuardrail: &GuardrailResult{
				Safe:         true,
				Issues:       []string{"pii_removed"},
				OriginalText: text,
			},
		}, nil
	}

	return Update{OutputGuardrail: &GuardrailResult{Safe: true, Issues: []string{}}}, nil
}
