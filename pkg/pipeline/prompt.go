package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kletsmajoor/klets/pkg/llms"
)

const systemPrompt = `Je bent Klets, AI-assistent voor Nederlandse overheden. Antwoord in het Nederlands.

KERNREGEL: Baseer je antwoord op de tool-resultaten van search_knowledge_base. Citeer specifieke feiten, datums en artikelnummers uit de gevonden documenten. Verzin niets. Als de gevonden documenten geen antwoord geven op de specifieke vraag van de gebruiker, zeg dan eerlijk dat je de gevraagde informatie niet hebt kunnen vinden in de kennisbank.

TOOL-KEUZE:
- Nieuwe feitelijke vraag → gebruik search_knowledge_base.
- Vraag over bronnen, URLs, documenten van een eerder antwoord → gebruik lookup_past_conversation (om het exchange_id te vinden) en daarna retrieve_past_answer (om de volledige bronnen inclusief URLs op te halen). Gebruik NIET search_knowledge_base voor dit soort meta-vragen.
- Verwijzing naar iets specifieks dat eerder in het gesprek is besproken → gebruik lookup_past_conversation met het onderwerp als zoekterm.

GEHEUGEN:
- Hieronder staat "Wat je AL hebt beantwoord" met een SAMENVATTING van vorige antwoorden.
- Je ziet ook welke bronnen je al hebt geciteerd.
- Je kunt lookup_past_conversation gebruiken om een exchange_id te vinden, en retrieve_past_answer om de volledige tekst op te halen als je die nodig hebt.

BELANGRIJK – GEEN HERHALING:
- Bekijk de "Eerdere vragen" sectie hieronder. De "answer_summary" toont wat je AL hebt gezegd.
- HERHAAL NIET wat in de answer_summary staat. De gebruiker kan je vorige antwoord nog zien.
- Bij "vertel me meer" of vervolgvragen: geef ALLEEN NIEUWE informatie uit de bronnen.
- Begin NOOIT met dezelfde definitie of uitleg die je eerder gaf.
- Start vervolgantwoorden met iets als: "Aanvullend op wat ik eerder noemde..." of "Daarnaast is belangrijk dat..."
- Haal je eerdere antwoord ALLEEN op via retrieve_past_answer als je een specifiek feit moet verifiëren — niet om te kopiëren.

STIJL:
- Wees concreet. Noem datums, artikelnummers, namen als die in de bronnen staan.
- Gebruik markdown headers (##, ###) en opsommingen om het antwoord te structureren.
- Gebruik korte alinea's (2-4 zinnen) met een witregel ertussen. Geen lange lappen tekst.
- Blijf zo dicht mogelijk bij de originele formulering uit de bronnen. Parafraseer alleen waar nodig voor leesbaarheid.

ANTWOORDLENGTE:
- Geef een volledig en informatief antwoord met alle relevante details uit de bronnen.
- Citeer concrete feiten, datums, artikelnummers en namen uit de documenten.
- Structureer lange antwoorden met headers en opsommingen voor leesbaarheid.`

// assistantPlaceholder stands in for prior assistant turns in the
// history so the model knows it answered without having copy-paste
// material at hand.
const assistantPlaceholder = "[Antwoord gegeven]"

const qaIndexWindow = 10
const citedSourceIDCap = 10

// buildPrompt assembles the layered prompt: system instructions, the
// rolling summary, the compacted Q&A index with already-cited source ids,
// the optional FAQ suggestion, user context, the recent user messages,
// and finally the current message. It also resets the loop accumulators.
func (o *Orchestrator) buildPrompt(ctx context.Context, s State) (Update, error) {
	parts := []string{systemPrompt}

	if s.UseMemory && s.Session != nil {
		if s.Session.Summary != "" {
			parts = append(parts, "\n## Sessie-samenvatting\n"+s.Session.Summary)
		}

		if len(s.Session.QAIndex) > 0 {
			index := s.Session.QAIndex
			if len(index) > qaIndexWindow {
				index = index[len(index)-qaIndexWindow:]
			}
			var lines []string
			var citedIDs []string
			for _, entry := range index {
				citedIDs = append(citedIDs, entry.SourceIDs...)
				lines = append(lines, fmt.Sprintf("- [%s] Vraag: %s → Antwoord: %s",
					entry.ExchangeID, entry.QuestionSummary, entry.AnswerSummary))
			}
			parts = append(parts, "\n## Wat je AL hebt beantwoord (NIET HERHALEN)\n"+strings.Join(lines, "\n"))

			if unique := dedupeStrings(citedIDs); len(unique) > 0 {
				if len(unique) > citedSourceIDCap {
					unique = unique[:citedSourceIDCap]
				}
				parts = append(parts, "\n## Bronnen die je AL hebt geciteerd\n"+
					"Als dezelfde bronnen terugkomen in search_knowledge_base, "+
					"focus dan op ANDERE informatie uit die bronnen.\n"+
					"Gebruikte bron-IDs: "+strings.Join(unique, ", "))
			}
		}
	}

	if sugg := s.Triage.FAQSuggestion; sugg != nil {
		parts = append(parts, fmt.Sprintf(
			"\n## Mogelijk relevante FAQ (score %.2f)\nVraag: %s\nAntwoord: %s\n"+
				"Gebruik dit alleen als het echt aansluit op de vraag van de gebruiker.",
			sugg.Score, sugg.MatchedQuestion, sugg.Answer))
	}

	if len(s.UserContext) > 0 {
		var pairs []string
		for k, v := range s.UserContext {
			if v != "" {
				pairs = append(pairs, k+": "+v)
			}
		}
		if len(pairs) > 0 {
			parts = append(parts, "\n## Gebruikerscontext\n"+strings.Join(pairs, ", "))
		}
	}

	msgs := []llms.Message{llms.SystemMessage(strings.Join(parts, "\n"))}

	// Only prior user messages go into the history; assistant turns are
	// replaced by a placeholder so the model retrieves rather than
	// copy-pastes its earlier answers.
	if s.UseMemory && s.Session != nil {
		for _, stored := range s.Session.RecentMessages {
			if stored.Role != "user" || strings.TrimSpace(stored.Content) == "" {
				continue
			}
			msgs = append(msgs,
				llms.UserMessage(stored.Content),
				llms.AssistantMessage(assistantPlaceholder))
		}
	}

	msgs = append(msgs, llms.UserMessage(s.Message))

	slog.Debug("prompt built", "messages", len(msgs), "memory", s.UseMemory)
	return Update{PromptReset: true, Messages: msgs}, nil
}

func dedupeStrings(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
