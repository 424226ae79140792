package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/kletsmajoor/klets/pkg/faq"
	"github.com/kletsmajoor/klets/pkg/graph"
	"github.com/kletsmajoor/klets/pkg/llms"
	"github.com/kletsmajoor/klets/pkg/mcp"
	"github.com/kletsmajoor/klets/pkg/retrieval"
	"github.com/kletsmajoor/klets/pkg/session"
	"github.com/kletsmajoor/klets/pkg/tools"
)

// Deps are the orchestrator's collaborators. FAQIndex and Bridge are
// optional: a nil index disables FAQ triage, a nil bridge yields the
// fixed not-configured answer on the mcp route.
type Deps struct {
	LLM       llms.Provider
	Retrieval retrieval.Service
	Store     session.Store
	FAQIndex  *faq.Index
	Bridge    mcp.Bridge
}

// Orchestrator runs one compiled turn graph. Safe for concurrent turns;
// the session store is the only shared mutable resource.
type Orchestrator struct {
	llm      llms.Provider
	store    session.Store
	faqIndex *faq.Index
	bridge   mcp.Bridge
	registry *tools.Registry
	cfg      Config
	graph    *graph.Graph[State, Update]
}

// New builds the orchestrator and compiles the turn graph.
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	if deps.LLM == nil {
		return nil, fmt.Errorf("pipeline requires an LLM provider")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("pipeline requires a session store")
	}
	cfg.SetDefaults()

	registry := tools.NewRegistry()
	if deps.Retrieval != nil {
		if err := registry.Register(&tools.SearchKnowledgeBase{Service: deps.Retrieval}); err != nil {
			return nil, err
		}
	}
	if err := registry.Register(&tools.RetrievePastAnswer{}); err != nil {
		return nil, err
	}
	if err := registry.Register(&tools.LookupPastConversation{}); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		llm:      deps.LLM,
		store:    deps.Store,
		faqIndex: deps.FAQIndex,
		bridge:   deps.Bridge,
		registry: registry,
		cfg:      cfg,
	}

	g, err := o.buildGraph()
	if err != nil {
		return nil, err
	}
	o.graph = g
	return o, nil
}

func (o *Orchestrator) buildGraph() (*graph.Graph[State, Update], error) {
	return graph.NewBuilder(reduce).
		AddNode("load_session", o.loadSession).
		AddNode("guardrail_input", o.guardrailInput).
		AddNode("triage_mcp", o.triageBridge).
		AddNode("triage_relevance", o.triageRelevance).
		AddNode("triage_faq", o.triageFAQ).
		AddNode("triage_intent", o.triageIntent).
		AddNode("build_prompt", o.buildPrompt).
		AddNode("call_model", o.callModel).
		AddNode("execute_tools", o.executeTools).
		AddNode("bundle_sources", o.bundleSources).
		AddNode("bundle_triage", o.bundleTriage).
		AddNode("evaluate_answer", o.evaluateAnswer).
		AddNode("quality_gate", o.qualityGate).
		AddNode("refine_answer", o.refineAnswer).
		AddNode("validate_sources", o.validateSources).
		AddNode("validate_tone", o.validateTone).
		AddNode("guardrail_output", o.guardrailOutput).
		AddNode("call_bridge", o.callBridge).
		AddNode("format_bridge", o.formatBridge).
		AddNode("gather_params", o.gatherParams).
		AddNode("update_memory", o.updateMemory).
		AddNode("save_session", o.saveSession).
		AddNode("format_response", o.formatResponse).
		SetEntry("load_session").
		AddEdge("load_session", "guardrail_input").
		AddEdge("guardrail_input", "triage_mcp").
		AddEdge("triage_mcp", "triage_relevance").
		AddEdge("triage_relevance", "triage_faq").
		AddEdge("triage_faq", "triage_intent").
		AddConditionalEdges("triage_intent", routeAfterTriage, map[string]string{
			"build_prompt":  "build_prompt",
			"bundle_triage": "bundle_triage",
			"call_bridge":   "call_bridge",
			"gather_params": "gather_params",
		}).
		AddEdge("build_prompt", "call_model").
		AddConditionalEdges("call_model", o.routeAfterModel, map[string]string{
			"execute_tools":  "execute_tools",
			"bundle_sources": "bundle_sources",
		}).
		AddEdge("execute_tools", "call_model").
		AddEdge("bundle_sources", "evaluate_answer").
		AddConditionalEdges("evaluate_answer", routeAfterEvaluate, map[string]string{
			"quality_gate":     "quality_gate",
			"validate_sources": "validate_sources",
		}).
		AddConditionalEdges("quality_gate", o.routeAfterQualityGate, map[string]string{
			"refine_answer":    "refine_answer",
			"validate_sources": "validate_sources",
		}).
		AddEdge("refine_answer", "evaluate_answer").
		AddEdge("validate_sources", "validate_tone").
		AddEdge("validate_tone", "guardrail_output").
		AddEdge("bundle_triage", "guardrail_output").
		AddEdge("call_bridge", "format_bridge").
		AddEdge("format_bridge", "guardrail_output").
		AddConditionalEdges("guardrail_output", routeAfterGuardrail, map[string]string{
			"update_memory":   "update_memory",
			"format_response": "format_response",
		}).
		AddEdge("gather_params", "save_session").
		AddEdge("update_memory", "save_session").
		AddEdge("save_session", "format_response").
		AddEdge("format_response", graph.End).
		Compile()
}

// Process runs one turn through the graph and returns the structured
// response, stamped with the processing time.
func (o *Orchestrator) Process(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	useMemory := true
	if req.UseMemory != nil {
		useMemory = *req.UseMemory
	}

	state := State{
		Message:     req.Message,
		SessionID:   req.SessionID,
		UserContext: req.UserContext,
		UseMemory:   useMemory,
		Triage:      defaultTriage(),
	}

	final, err := o.graph.Run(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("turn failed: %w", err)
	}
	if final.Response == nil {
		return nil, fmt.Errorf("turn produced no response")
	}

	final.Response.ProcessingTimeMS = time.Since(start).Milliseconds()
	return final.Response, nil
}
