package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/kletsmajoor/klets/pkg/llms"
	"github.com/kletsmajoor/klets/pkg/mcp"
	"github.com/kletsmajoor/klets/pkg/session"
)

// BridgePrefix marks an explicit rule-execution command.
const BridgePrefix = "mcp:"

// BridgeNotConfiguredMsg is returned when no rule-execution endpoint is
// configured.
const BridgeNotConfiguredMsg = "De MCP-service is momenteel niet geconfigureerd. " +
	"Probeer het later opnieuw of stel je vraag zonder het mcp: prefix."

const bridgeErrorMsg = "Er ging iets mis bij het uitvoeren van de wetgevingscheck. " +
	"Probeer het later opnieuw."

const gatherBSNQuestion = "Om dit voor je na te kijken heb ik je burgerservicenummer (BSN) nodig. " +
	"Wat is je BSN? (9 cijfers)"

const bridgeFormatSystemPrompt = `Je bent een vriendelijke Nederlandse overheidsassistent die resultaten van wetgevingsberekeningen uitlegt.

Je taak is om de ruwe data van RegelRecht (machine-uitvoerbare wetgeving) om te zetten naar een duidelijk, begrijpelijk antwoord in het Nederlands.

Richtlijnen:
- Schrijf in duidelijk, eenvoudig Nederlands (B1 taalniveau)
- Gebruik bullet points voor lijsten
- Bij eligibility checks: leg duidelijk uit of iemand recht heeft en waarom
- Bij bedragen: toon bedragen in euro's (deel door 100 als nodig, bijv. 183424 = €1.834,24)
- Bij wettenlijsten: groepeer logisch en geef korte beschrijvingen
- Wees vriendelijk en behulpzaam
- Eindig met een suggestie voor een vervolgvraag indien relevant

Antwoord ALLEEN met de geformatteerde uitleg, geen inleiding zoals "Hier is het antwoord".`

const lawListTopic = "wettenlijst"

var bsnPattern = regexp.MustCompile(`\b(\d{9})\b`)

// eligibilityTopics maps a keyword to the service/law pair the bridge
// expects. Every eligibility check requires a BSN.
var eligibilityTopics = []struct {
	keyword string
	topic   string
	service string
	law     string
}{
	{"zorgtoeslag", "zorgtoeslag", "TOESLAGEN", "zorgtoeslagwet"},
	{"huurtoeslag", "huurtoeslag", "TOESLAGEN", "wet_op_de_huurtoeslag"},
	{"aow", "aow", "SVB", "algemene_ouderdomswet"},
	{"ouderdom", "aow", "SVB", "algemene_ouderdomswet"},
	{"bijstand", "bijstand", "GEMEENTE_AMSTERDAM", "participatiewet/bijstand"},
}

var lawListKeywords = []string{"welke wetten", "beschikbare wetten", "available laws", "lijst", "wetten"}

func intentForTopic(topic string) *BridgeIntent {
	if topic == lawListTopic {
		return &BridgeIntent{Topic: lawListTopic}
	}
	for _, t := range eligibilityTopics {
		if t.topic == topic {
			return &BridgeIntent{Topic: t.topic, Service: t.service, Law: t.law}
		}
	}
	return nil
}

// detectIntent parses a bridge query into an intent. Defaults to the law
// list when nothing more specific matches.
func detectIntent(query string) *BridgeIntent {
	lower := strings.ToLower(query)
	for _, t := range eligibilityTopics {
		if strings.Contains(lower, t.keyword) {
			return &BridgeIntent{Topic: t.topic, Service: t.service, Law: t.law}
		}
	}
	for _, kw := range lawListKeywords {
		if strings.Contains(lower, kw) {
			return &BridgeIntent{Topic: lawListTopic}
		}
	}
	return &BridgeIntent{Topic: lawListTopic}
}

// triageBridge detects rule-execution requests: an explicit "mcp:" prefix,
// or a continuation of a pending parameter-gathering exchange. When the
// detected topic needs a BSN that is not yet available, the turn routes to
// the gather-parameters node instead of the bridge.
func (o *Orchestrator) triageBridge(ctx context.Context, s State) (Update, error) {
	if s.Triage.alreadyDecided() {
		return Update{}, nil
	}
	triage := s.Triage

	var intent *BridgeIntent
	query := strings.TrimSpace(s.Message)

	switch {
	case strings.HasPrefix(strings.ToLower(query), BridgePrefix):
		query = strings.TrimSpace(query[len(BridgePrefix):])
		intent = detectIntent(query)
		triage.Log = append(triage.Log, fmt.Sprintf("triage_mcp: PREFIX (topic=%s)", intent.Topic))

	case s.Session != nil && s.Session.PendingIntent != nil && bsnPattern.MatchString(query):
		// The user is answering an earlier clarifying question.
		intent = intentForTopic(s.Session.PendingIntent.Topic)
		if intent == nil {
			triage.Log = append(triage.Log, "triage_mcp: PENDING TOPIC UNKNOWN")
			return Update{Triage: &triage}, nil
		}
		triage.Log = append(triage.Log, fmt.Sprintf("triage_mcp: PENDING CONTINUED (topic=%s)", intent.Topic))

	default:
		return Update{}, nil
	}

	// Merge parameters: pending first, then anything in this message.
	params := map[string]any{}
	if s.Session != nil && s.Session.PendingIntent != nil {
		for k, v := range s.Session.PendingIntent.Parameters {
			params[k] = v
		}
	}
	if m := bsnPattern.FindString(query); m != "" {
		params["BSN"] = m
	}
	intent.Parameters = params

	triage.BridgeQuery = query
	triage.BridgeIntent = intent
	triage.SkipLLM = true

	if intent.Topic != lawListTopic {
		if _, ok := params["BSN"]; !ok {
			triage.Route = RouteGatherParams
			triage.EarlyResponse = gatherBSNQuestion
			triage.PendingIntent = &session.PendingIntent{
				Topic:      intent.Topic,
				Parameters: stringParams(params),
			}
			triage.Log = append(triage.Log, "triage_mcp: MISSING BSN -> gather_params")
			slog.Info("bridge intent needs parameters", "topic", intent.Topic)
			return Update{Triage: &triage}, nil
		}
	}

	triage.Route = RouteMCP
	triage.ClearPendingIntent = true
	triage.Log = append(triage.Log, "triage_mcp: ROUTE -> mcp")
	return Update{Triage: &triage}, nil
}

func stringParams(params map[string]any) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = fmt.Sprint(v)
	}
	return out
}

// callBridge invokes the rule-execution bridge and stores its raw output
// as the draft answer. No endpoint configured yields the fixed fallback.
func (o *Orchestrator) callBridge(ctx context.Context, s State) (Update, error) {
	out := &Output{ExchangeID: newExchangeID()}

	if o.bridge == nil {
		slog.Warn("bridge not configured")
		out.AssistantText = BridgeNotConfiguredMsg
		return Update{Output: out}, nil
	}

	intent := s.Triage.BridgeIntent
	if intent == nil {
		intent = &BridgeIntent{Topic: lawListTopic}
	}

	var text string
	var err error
	if intent.Topic == lawListTopic {
		text, err = mcp.ListLaws(ctx, o.bridge)
	} else {
		text, err = mcp.CheckEligibility(ctx, o.bridge, intent.Service, intent.Law, intent.Parameters)
	}
	if err != nil {
		slog.Warn("bridge call failed", "topic", intent.Topic, "error", err)
		out.AssistantText = bridgeErrorMsg
		return Update{Output: out}, nil
	}
	if strings.TrimSpace(text) == "" {
		out.AssistantText = "Geen resultaat gevonden."
		return Update{Output: out}, nil
	}

	out.AssistantText = text
	return Update{Output: out}, nil
}

// formatBridge rewrites the raw bridge output into friendly Dutch via the
// model, falling back to a local rendering when the model call fails.
func (o *Orchestrator) formatBridge(ctx context.Context, s State) (Update, error) {
	if s.Triage.Route != RouteMCP || s.AssistantText == "" || s.AssistantText == BridgeNotConfiguredMsg {
		return Update{}, nil
	}

	prompt := fmt.Sprintf(`Gebruikersvraag: %s

Ruwe data van RegelRecht (machine-uitvoerbare wetgeving):
%s

Formuleer een duidelijk, vriendelijk antwoord in het Nederlands voor de burger.`,
		s.Triage.BridgeQuery, s.AssistantText)

	completion, err := o.llm.Generate(ctx,
		[]llms.Message{
			llms.SystemMessage(bridgeFormatSystemPrompt),
			llms.UserMessage(prompt),
		}, nil)
	if err != nil || strings.TrimSpace(completion.Text) == "" {
		slog.Warn("bridge formatting via model failed, using local rendering", "error", err)
		if local := renderBridgeResult(s.AssistantText); local != "" {
			return Update{AssistantText: &local}, nil
		}
		return Update{}, nil
	}

	return Update{AssistantText: &completion.Text}, nil
}

// renderBridgeResult is the local fallback formatter for bridge JSON.
func renderBridgeResult(raw string) string {
	var list []map[string]any
	if err := json.Unmarshal([]byte(raw), &list); err == nil {
		lines := []string{"Beschikbare wetten in RegelRecht:"}
		for _, item := range list {
			name, _ := item["name"].(string)
			if name == "" {
				name, _ = item["law"].(string)
			}
			svc, _ := item["service"].(string)
			line := "- " + name
			if svc != "" {
				line += " (" + svc + ")"
			}
			if desc, _ := item["description"].(string); desc != "" {
				line += ": " + desc
			}
			lines = append(lines, line)
		}
		return strings.Join(lines, "\n")
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err == nil {
		if eligible, ok := obj["eligible"].(bool); ok {
			verdict := "Nee"
			if eligible {
				verdict = "Ja"
			}
			pretty, _ := json.MarshalIndent(obj, "", "  ")
			return fmt.Sprintf("Recht op regeling: %s\n\n```json\n%s\n```", verdict, pretty)
		}
		pretty, _ := json.MarshalIndent(obj, "", "  ")
		return fmt.Sprintf("```json\n%s\n```", pretty)
	}

	return ""
}

// gatherParams emits the clarifying question and stamps the pending
// intent onto the session so the next turn can continue the request.
// This path bypasses the reasoning loop and the quality pipeline.
func (o *Orchestrator) gatherParams(ctx context.Context, s State) (Update, error) {
	out := &Output{
		AssistantText: s.Triage.EarlyResponse,
		ExchangeID:    newExchangeID(),
	}

	var sess *session.Memory
	if s.Session != nil && s.Triage.PendingIntent != nil {
		sess = s.Session.Clone()
		sess.PendingIntent = s.Triage.PendingIntent
		slog.Info("pending bridge intent stored", "topic", s.Triage.PendingIntent.Topic)
	}

	return Update{Output: out, Session: sess}, nil
}
