package pipeline

// Thresholds are the per-metric minimums below which the quality gate
// requests a refinement pass.
type Thresholds struct {
	Relevance        float64 `yaml:"relevance" json:"relevance"`
	Groundedness     float64 `yaml:"groundedness" json:"groundedness"`
	Completeness     float64 `yaml:"completeness" json:"completeness"`
	Tone             float64 `yaml:"tone" json:"tone"`
	PolicyCompliance float64 `yaml:"policy_compliance" json:"policy_compliance"`
}

// Config declares which optional steps are active and their tuning. A
// single struct passed once at orchestrator construction; there are no
// per-step globals.
type Config struct {
	MaxToolRounds int `yaml:"max_tool_rounds"`

	InputGuardrail  bool `yaml:"input_guardrail"`
	EvaluateAnswer  bool `yaml:"evaluate_answer"`
	RefineAnswer    bool `yaml:"refine_answer"`
	ValidateSources bool `yaml:"validate_sources"`
	ValidateTone    bool `yaml:"validate_tone"`
	OutputGuardrail bool `yaml:"output_guardrail"`

	Thresholds Thresholds `yaml:"thresholds"`
}

// DefaultConfig enables every step with the standard thresholds.
func DefaultConfig() Config {
	cfg := Config{
		InputGuardrail:  true,
		EvaluateAnswer:  true,
		RefineAnswer:    true,
		ValidateSources: true,
		ValidateTone:    true,
		OutputGuardrail: true,
	}
	cfg.SetDefaults()
	return cfg
}

func (c *Config) SetDefaults() {
	if c.MaxToolRounds == 0 {
		c.MaxToolRounds = MaxToolRounds
	}
	if c.Thresholds.Relevance == 0 {
		c.Thresholds.Relevance = 0.6
	}
	if c.Thresholds.Groundedness == 0 {
		c.Thresholds.Groundedness = 0.6
	}
	if c.Thresholds.Completeness == 0 {
		c.Thresholds.Completeness = 0.5
	}
	if c.Thresholds.Tone == 0 {
		c.Thresholds.Tone = 0.6
	}
	if c.Thresholds.PolicyCompliance == 0 {
		c.Thresholds.PolicyCompliance = 0.6
	}
}
