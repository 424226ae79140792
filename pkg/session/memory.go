// Package session holds the persistent per-conversation memory model and its
// stores.
package session

import (
	"encoding/json"
	"time"

	"github.com/kletsmajoor/klets/pkg/retrieval"
)

// RecentPairLimit bounds the recent-messages window to the last 5 complete
// user/assistant pairs (10 entries).
const RecentPairLimit = 5

// UserIntent classifies what the user was doing in an exchange.
type UserIntent string

const (
	IntentQuestion   UserIntent = "question"
	IntentAssumption UserIntent = "assumption"
	IntentVerified   UserIntent = "verified"
	IntentPreference UserIntent = "preference"
	IntentCorrection UserIntent = "correction"
)

// ValidIntent reports whether s is a known intent label.
func ValidIntent(s string) bool {
	switch UserIntent(s) {
	case IntentQuestion, IntentAssumption, IntentVerified, IntentPreference, IntentCorrection:
		return true
	}
	return false
}

// QAIndexEntry is a compact summary of a single exchange.
type QAIndexEntry struct {
	ExchangeID      string     `json:"exchange_id"`
	QuestionSummary string     `json:"question_summary"`
	AnswerSummary   string     `json:"answer_summary"`
	Topics          []string   `json:"topics"`
	SourceIDs       []string   `json:"source_ids"`
	UserIntent      UserIntent `json:"user_intent"`
	Verified        bool       `json:"verified"`
	Timestamp       time.Time  `json:"timestamp"`
}

// StoredMessage is one entry of the recent-messages window.
type StoredMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// FullAnswer is an archived answer with its sources. Early deployments stored
// archive values as bare strings; UnmarshalJSON migrates those on load.
type FullAnswer struct {
	Text    string                      `json:"text"`
	Sources []retrieval.SourceReference `json:"sources"`
}

func (f *FullAnswer) UnmarshalJSON(data []byte) error {
	var legacy string
	if err := json.Unmarshal(data, &legacy); err == nil {
		f.Text = legacy
		f.Sources = nil
		return nil
	}

	type alias FullAnswer
	var full alias
	if err := json.Unmarshal(data, &full); err != nil {
		return err
	}
	*f = FullAnswer(full)
	return nil
}

// PendingIntent carries a partially collected rule-execution request across
// turns.
type PendingIntent struct {
	Topic      string            `json:"topic"`
	Parameters map[string]string `json:"parameters"`
}

// Memory is the persistent session state, one record per conversation.
type Memory struct {
	SessionID      string                `json:"session_id"`
	Summary        string                `json:"summary"`
	QAIndex        []QAIndexEntry        `json:"qa_index"`
	FullAnswers    map[string]FullAnswer `json:"full_answers"`
	RecentMessages []StoredMessage       `json:"recent_messages"`
	PendingIntent  *PendingIntent        `json:"pending_intent,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
	MessageCount   int                   `json:"message_count"`
}

// NewMemory builds an empty session record.
func NewMemory(sessionID string) *Memory {
	now := time.Now().UTC()
	return &Memory{
		SessionID:   sessionID,
		FullAnswers: make(map[string]FullAnswer),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone deep-copies the record so a turn can mutate its working copy without
// racing other turns on the same session.
func (m *Memory) Clone() *Memory {
	if m == nil {
		return nil
	}
	out := *m
	out.QAIndex = make([]QAIndexEntry, len(m.QAIndex))
	copy(out.QAIndex, m.QAIndex)
	out.RecentMessages = make([]StoredMessage, len(m.RecentMessages))
	copy(out.RecentMessages, m.RecentMessages)
	out.FullAnswers = make(map[string]FullAnswer, len(m.FullAnswers))
	for k, v := range m.FullAnswers {
		out.FullAnswers[k] = v
	}
	if m.PendingIntent != nil {
		pending := PendingIntent{
			Topic:      m.PendingIntent.Topic,
			Parameters: make(map[string]string, len(m.PendingIntent.Parameters)),
		}
		for k, v := range m.PendingIntent.Parameters {
			pending.Parameters[k] = v
		}
		out.PendingIntent = &pending
	}
	return &out
}

// AppendRecentPair records a completed user/assistant pair and trims the
// window. Pairs with an empty assistant side are dropped, never stored
// partially.
func (m *Memory) AppendRecentPair(user, assistant string) {
	if assistant == "" {
		return
	}
	m.RecentMessages = append(m.RecentMessages,
		StoredMessage{Role: "user", Content: user},
		StoredMessage{Role: "assistant", Content: assistant},
	)
	if limit := RecentPairLimit * 2; len(m.RecentMessages) > limit {
		m.RecentMessages = m.RecentMessages[len(m.RecentMessages)-limit:]
	}
}
