package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kletsmajoor/klets/pkg/llms"
	"github.com/kletsmajoor/klets/pkg/session"
)

// loadSession fetches the session record, creating a fresh one when the
// id is unknown, empty, or memory is off. Never fails the turn.
func (o *Orchestrator) loadSession(ctx context.Context, s State) (Update, error) {
	if s.UseMemory && s.SessionID != "" && o.store.Exists(s.SessionID) {
		mem, err := o.store.Load(s.SessionID)
		if err == nil {
			slog.Info("session loaded",
				"session", mem.SessionID,
				"messages", mem.MessageCount,
				"qa_entries", len(mem.QAIndex))
			return Update{Session: mem}, nil
		}
		slog.Warn("session load failed, creating fresh", "session", s.SessionID, "error", err)
	}

	mem, err := o.store.Create()
	if err != nil {
		// Required step: fall back to an unpersisted in-memory record.
		slog.Error("session create failed, using transient record", "error", err)
		mem = session.NewMemory(s.SessionID)
	}
	slog.Info("session created", "session", mem.SessionID, "memory", s.UseMemory)
	return Update{Session: mem}, nil
}

// routeAfterGuardrail skips the memory update when memory is off.
func routeAfterGuardrail(s State) string {
	if s.UseMemory {
		return "update_memory"
	}
	return "format_response"
}

// updateMemory folds the exchange into the session record: full-answer
// archive, message counter, recent window, and the two model-generated
// artifacts (Q&A index entry and rolling summary) produced concurrently.
// Either generation failing independently falls back to a locally derived
// entry or keeps the prior summary.
func (o *Orchestrator) updateMemory(ctx context.Context, s State) (Update, error) {
	if s.Session == nil {
		return Update{}, nil
	}
	sess := s.Session.Clone()

	sess.FullAnswers[s.ExchangeID] = session.FullAnswer{
		Text:    s.AssistantText,
		Sources: s.UniqueSources,
	}
	sess.MessageCount++
	sess.AppendRecentPair(s.Message, s.AssistantText)

	var entry *session.QAIndexEntry
	var summary string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		e, err := o.generateQAEntry(gctx, s)
		if err != nil {
			slog.Warn("QA entry generation failed, using local fallback", "error", err)
			return nil
		}
		entry = e
		return nil
	})
	g.Go(func() error {
		text, err := o.updateSummary(gctx, sess.Summary, s.Message, s.AssistantText)
		if err != nil {
			slog.Warn("summary update failed, keeping prior summary", "error", err)
			return nil
		}
		summary = text
		return nil
	})
	_ = g.Wait()

	if entry == nil {
		entry = &session.QAIndexEntry{
			ExchangeID:      s.ExchangeID,
			QuestionSummary: truncate(s.Message, 100),
			AnswerSummary:   truncate(s.AssistantText, 100),
			SourceIDs:       s.SourceIDs,
			UserIntent:      session.IntentQuestion,
			Timestamp:       time.Now().UTC(),
		}
	}
	sess.QAIndex = append(sess.QAIndex, *entry)
	if summary != "" {
		sess.Summary = summary
	}

	slog.Info("memory updated",
		"session", sess.SessionID,
		"qa_entries", len(sess.QAIndex),
		"summary_chars", len(sess.Summary))
	return Update{Session: sess}, nil
}

type qaEntryJSON struct {
	QuestionSummary string   `json:"question_summary"`
	AnswerSummary   string   `json:"answer_summary"`
	Topics          []string `json:"topics"`
	UserIntent      string   `json:"user_intent"`
	Verified        bool     `json:"verified"`
}

func (o *Orchestrator) generateQAEntry(ctx context.Context, s State) (*session.QAIndexEntry, error) {
	prompt := fmt.Sprintf(`Analyseer deze Q&A uitwisseling en maak een compacte samenvatting.

%s: %s
%s: %s

Bepaal:
- user_intent: wat deed de gebruiker?
  "question" = stelde een vraag
  "assumption" = beweerde iets / maakte een aanname
  "verified" = deelde informatie die de assistent heeft bevestigd
  "preference" = gaf een voorkeur/wens aan (bijv. "ik wil alleen X")
  "correction" = corrigeerde de assistent
- verified: heeft de assistent het antwoord gebaseerd op de kennisbank? (true/false)

Antwoord ALLEEN met valid JSON (geen markdown, geen uitleg):
{"question_summary": "korte samenvatting vraag", "answer_summary": "korte samenvatting antwoord", "topics": ["topic1", "topic2"], "user_intent": "question", "verified": false}`,
		MarkerUser, truncate(s.Message, 500),
		MarkerAssistant, truncate(s.AssistantText, 500))

	completion, err := o.llm.Generate(ctx,
		[]llms.Message{
			llms.SystemMessage("Je maakt compacte samenvattingen. Antwoord alleen met valid JSON."),
			llms.UserMessage(prompt),
		}, nil,
		llms.WithTemperature(0.1), llms.WithMaxTokens(200))
	if err != nil {
		return nil, err
	}

	var parsed qaEntryJSON
	if err := llms.DecodeJSON(completion.Text, &parsed); err != nil {
		return nil, fmt.Errorf("malformed QA entry JSON: %w", err)
	}

	intent := session.IntentQuestion
	if session.ValidIntent(parsed.UserIntent) {
		intent = session.UserIntent(parsed.UserIntent)
	}
	if parsed.QuestionSummary == "" {
		parsed.QuestionSummary = truncate(s.Message, 100)
	}
	if parsed.AnswerSummary == "" {
		parsed.AnswerSummary = truncate(s.AssistantText, 100)
	}

	return &session.QAIndexEntry{
		ExchangeID:      s.ExchangeID,
		QuestionSummary: parsed.QuestionSummary,
		AnswerSummary:   parsed.AnswerSummary,
		Topics:          parsed.Topics,
		SourceIDs:       s.SourceIDs,
		UserIntent:      intent,
		Verified:        parsed.Verified,
		Timestamp:       time.Now().UTC(),
	}, nil
}

func (o *Orchestrator) updateSummary(ctx context.Context, current, question, answer string) (string, error) {
	currentBlock := current
	if currentBlock == "" {
		currentBlock = "(geen – dit is het eerste bericht)"
	}

	prompt := fmt.Sprintf(`Update de sessie-samenvatting met de laatste uitwisseling.
Houd het onder 200 woorden.

BELANGRIJK: Markeer duidelijk de BRON van informatie:
- %[1]s = uitspraken van de gebruiker (hun woorden, NIET per se waar)
- %[2]s = antwoorden van de assistent (gebaseerd op kennisbank)

Gebruik deze markers in de samenvatting. Voorbeeld:
"%[1]s Gebruiker vroeg naar GDPR. %[2]s Assistent legde uit dat DPIA verplicht is. %[1]s Gebruiker gaf aan alleen interesse te hebben in bewaartermijnen."

Focus op: gebruikersvoorkeuren, besluiten, en geverifieerde feiten.

Huidige samenvatting:
%[3]s

Nieuwe uitwisseling:
%[1]s %[4]s
%[2]s %[5]s

Geef ALLEEN de bijgewerkte samenvatting terug, geen uitleg.`,
		MarkerUser, MarkerAssistant, currentBlock,
		truncate(question, 300), truncate(answer, 300))

	completion, err := o.llm.Generate(ctx,
		[]llms.Message{
			llms.SystemMessage("Je werkt sessie-samenvattingen bij. Maak altijd duidelijk onderscheid " +
				"tussen wat de gebruiker zei en wat de assistent antwoordde. " +
				"Antwoord alleen met de samenvatting."),
			llms.UserMessage(prompt),
		}, nil,
		llms.WithTemperature(0.1), llms.WithMaxTokens(300))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(completion.Text), nil
}

// saveSession persists the record, applying any pending-intent changes
// from the triage chain first. A failed save is logged and surfaced
// through the MemoryPersisted flag rather than failing the turn.
func (o *Orchestrator) saveSession(ctx context.Context, s State) (Update, error) {
	if s.Session == nil {
		persisted := false
		return Update{MemoryPersisted: &persisted}, nil
	}
	sess := s.Session

	if s.Triage.ClearPendingIntent && sess.PendingIntent != nil {
		sess = sess.Clone()
		sess.PendingIntent = nil
		slog.Debug("pending bridge intent cleared", "session", sess.SessionID)
	}

	persisted := true
	if err := o.store.Save(sess); err != nil {
		slog.Error("session save failed", "session", sess.SessionID, "error", err)
		persisted = false
	} else {
		slog.Info("session saved",
			"session", sess.SessionID,
			"qa_entries", len(sess.QAIndex),
			"full_answers", len(sess.FullAnswers))
	}
	return Update{Session: sess, MemoryPersisted: &persisted}, nil
}
