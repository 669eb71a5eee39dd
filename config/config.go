// Package config loads declarative group settings from YAML.
//
// A file describes the session limits, the group fallback, seed context
// variables, logging and the handoff rules of each agent by name. Agents
// themselves (models, tools, nested chats) are built in code; ApplyHandoffs
// attaches the declared rules to them.
//
//	cfg, err := config.Load("group.yaml")
//	if err != nil { ... }
//	if err := cfg.ApplyHandoffs(triage, billing); err != nil { ... }
//	res, err := group.Run(ctx, triage, agents, msgs, cfg.SessionOptions())
//
// Priority: defaults, then the file, then GROUPMESH_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/groupmesh/agent"
	"github.com/hupe1980/groupmesh/condition"
	"github.com/hupe1980/groupmesh/group"
	"github.com/hupe1980/groupmesh/handoff"
	"github.com/hupe1980/groupmesh/logging"
	"github.com/hupe1980/groupmesh/target"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GROUPMESH"

var (
	// ErrInvalid marks a configuration that failed validation.
	ErrInvalid = errors.New("invalid config")
	// ErrUnknownAgent is returned when rules are declared for an agent that
	// was not passed to ApplyHandoffs.
	ErrUnknownAgent = errors.New("unknown agent in config")
)

// Config is the complete file layout.
type Config struct {
	MaxRounds int `yaml:"max_rounds"`
	// ExcludeTransitMessage defaults to true when omitted.
	ExcludeTransitMessage *bool                  `yaml:"exclude_transit_message"`
	ToolParallelism       int                    `yaml:"tool_parallelism"`
	AfterWork             *AfterWorkConfig       `yaml:"after_work"`
	ContextVariables      map[string]any         `yaml:"context_variables"`
	Logging               LoggingConfig          `yaml:"logging"`
	Redis                 RedisConfig            `yaml:"redis"`
	Agents                map[string]AgentConfig `yaml:"agents"`
}

// LoggingConfig selects level and format of the MeshLogger.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is json or text.
	Format string `yaml:"format"`
}

// RedisConfig points the transcript store at a Redis server.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// TargetConfig names a transition target: a group agent or a policy.
type TargetConfig struct {
	Agent  string `yaml:"agent"`
	Policy string `yaml:"policy"`
}

// GateConfig is an availability gate: a truthy variable or an expression.
type GateConfig struct {
	Variable   string `yaml:"variable"`
	Expression string `yaml:"expression"`
}

// ContextRuleConfig declares a rule evaluated against the context store.
type ContextRuleConfig struct {
	TargetConfig `yaml:",inline"`
	Variable     string      `yaml:"variable"`
	Expression   string      `yaml:"expression"`
	Available    *GateConfig `yaml:"available"`
}

// ReasoningRuleConfig declares a rule offered to the agent as an action.
type ReasoningRuleConfig struct {
	TargetConfig `yaml:",inline"`
	Prompt       string `yaml:"prompt"`
	// ContextPrompt is a template with {var} placeholders.
	ContextPrompt string      `yaml:"context_prompt"`
	Available     *GateConfig `yaml:"available"`
}

// AfterWorkConfig declares a fallback.
type AfterWorkConfig struct {
	TargetConfig     `yaml:",inline"`
	SelectionMessage string `yaml:"selection_message"`
	// ContextSelectionMessage is a template with {var} placeholders.
	ContextSelectionMessage string `yaml:"context_selection_message"`
}

// AgentConfig holds the declared handoffs of one agent.
type AgentConfig struct {
	ContextConditions   []ContextRuleConfig   `yaml:"context_conditions"`
	ReasoningConditions []ReasoningRuleConfig `yaml:"reasoning_conditions"`
	AfterWork           *AfterWorkConfig      `yaml:"after_work"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		MaxRounds:       group.DefaultMaxRounds,
		ToolParallelism: 1,
		Logging:         LoggingConfig{Level: "info", Format: "json"},
		Redis:           RedisConfig{Addr: "localhost:6379", KeyPrefix: "groupmesh:session:"},
	}
}

// Load reads and parses a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults, applies environment overrides and
// validates the result. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv(EnvPrefix + "_MAX_ROUNDS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s_MAX_ROUNDS: %w", ErrInvalid, EnvPrefix, err)
		}
		c.MaxRounds = n
	}
	if v, ok := os.LookupEnv(EnvPrefix + "_LOG_LEVEL"); ok {
		c.Logging.Level = v
	}
	if v, ok := os.LookupEnv(EnvPrefix + "_REDIS_ADDR"); ok {
		c.Redis.Addr = v
	}
	return nil
}

// Validate checks limits, log settings and every declared rule.
func (c *Config) Validate() error {
	if c.MaxRounds < 1 {
		return fmt.Errorf("%w: max_rounds must be positive, got %d", ErrInvalid, c.MaxRounds)
	}
	if c.ToolParallelism < 0 {
		return fmt.Errorf("%w: tool_parallelism must not be negative", ErrInvalid)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: logging: %w", ErrInvalid, err)
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("%w: logging: unknown format %q", ErrInvalid, c.Logging.Format)
	}

	if c.AfterWork != nil {
		if _, err := c.AfterWork.build(); err != nil {
			return fmt.Errorf("%w: after_work: %w", ErrInvalid, err)
		}
	}

	for name, ac := range c.Agents {
		if _, err := ac.rules(); err != nil {
			return fmt.Errorf("%w: agent %s: %w", ErrInvalid, name, err)
		}
	}
	return nil
}

// ApplyHandoffs attaches the declared rules to the matching agents. Every
// agent named in the file must be among agents.
func (c *Config) ApplyHandoffs(agents ...agent.Agent) error {
	byName := make(map[string]agent.Agent, len(agents))
	for _, a := range agents {
		byName[a.Name()] = a
	}

	for name, ac := range c.Agents {
		a, ok := byName[name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownAgent, name)
		}
		rules, err := ac.rules()
		if err != nil {
			return fmt.Errorf("%w: agent %s: %w", ErrInvalid, name, err)
		}
		if err := a.Handoffs().Add(rules...); err != nil {
			return fmt.Errorf("agent %s: %w", name, err)
		}
	}
	return nil
}

// SessionOptions returns a group option applying the file's session settings.
func (c *Config) SessionOptions() func(o *group.Options) {
	return func(o *group.Options) {
		o.MaxRounds = c.MaxRounds
		if c.ExcludeTransitMessage != nil {
			o.ExcludeTransitMessage = *c.ExcludeTransitMessage
		}
		if c.ToolParallelism > 0 {
			o.ToolParallelism = c.ToolParallelism
		}
		if c.AfterWork != nil {
			// Validated in Parse.
			aw, _ := c.AfterWork.build()
			o.AfterWork = aw
		}
		if len(c.ContextVariables) > 0 {
			o.ContextVariables = c.ContextVariables
		}
		o.Logger = c.Logger()
	}
}

// Logger builds a MeshLogger from the logging section.
func (c *Config) Logger() logging.Logger {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		level = logging.LogLevelInfo
	}
	cfg := logging.DefaultLoggerConfig()
	cfg.Level = level
	if c.Logging.Format != "" {
		cfg.Format = c.Logging.Format
	}
	cfg.Component = "group"
	return logging.NewLogger(cfg)
}

func (t TargetConfig) build() (target.Target, error) {
	switch {
	case t.Agent != "" && t.Policy != "":
		return nil, errors.New("target sets both agent and policy")
	case t.Agent != "":
		return target.ToName(t.Agent), nil
	case t.Policy != "":
		p, err := target.ParsePolicy(t.Policy)
		if err != nil {
			return nil, err
		}
		return target.ToPolicy(p), nil
	}
	return nil, errors.New("target needs an agent or a policy")
}

func (g *GateConfig) build() (condition.AvailableGate, error) {
	if g == nil {
		return nil, nil
	}
	switch {
	case g.Variable != "" && g.Expression != "":
		return nil, errors.New("gate sets both variable and expression")
	case g.Variable != "":
		return condition.NamedGate{Variable: g.Variable}, nil
	case g.Expression != "":
		expr, err := condition.ParseExpression(g.Expression)
		if err != nil {
			return nil, err
		}
		return condition.ExpressionGate{Expression: expr}, nil
	}
	return nil, errors.New("gate needs a variable or an expression")
}

func (r ContextRuleConfig) build() (*handoff.ContextRule, error) {
	t, err := r.TargetConfig.build()
	if err != nil {
		return nil, err
	}

	var cond condition.ContextCondition
	switch {
	case r.Variable != "" && r.Expression != "":
		return nil, errors.New("context condition sets both variable and expression")
	case r.Variable != "":
		cond = condition.Named(r.Variable)
	case r.Expression != "":
		expr, err := condition.Expr(r.Expression)
		if err != nil {
			return nil, err
		}
		cond = expr
	default:
		return nil, errors.New("context condition needs a variable or an expression")
	}

	gate, err := r.Available.build()
	if err != nil {
		return nil, err
	}
	return handoff.NewContextRule(t, cond).WithAvailable(gate), nil
}

func (r ReasoningRuleConfig) build() (*handoff.ReasoningRule, error) {
	t, err := r.TargetConfig.build()
	if err != nil {
		return nil, err
	}

	var cond condition.ReasoningCondition
	switch {
	case r.Prompt != "" && r.ContextPrompt != "":
		return nil, errors.New("reasoning condition sets both prompt and context_prompt")
	case r.Prompt != "":
		cond = condition.StringPrompt{Text: r.Prompt}
	case r.ContextPrompt != "":
		cond = condition.ContextStrPrompt{Template: condition.ContextStr{Template: r.ContextPrompt}}
	default:
		return nil, errors.New("reasoning condition needs a prompt")
	}

	gate, err := r.Available.build()
	if err != nil {
		return nil, err
	}
	return handoff.NewReasoningRule(t, cond).WithAvailable(gate), nil
}

func (a *AfterWorkConfig) build() (*handoff.AfterWork, error) {
	t, err := a.TargetConfig.build()
	if err != nil {
		return nil, err
	}
	aw := handoff.NewAfterWork(t)
	switch {
	case a.SelectionMessage != "" && a.ContextSelectionMessage != "":
		return nil, errors.New("after_work sets both selection_message and context_selection_message")
	case a.SelectionMessage != "":
		aw.WithSelectionMessage(handoff.StringSelectionMessage{Text: a.SelectionMessage})
	case a.ContextSelectionMessage != "":
		aw.WithSelectionMessage(handoff.ContextStrSelectionMessage{
			Template: condition.ContextStr{Template: a.ContextSelectionMessage},
		})
	}
	return aw, nil
}

func (ac AgentConfig) rules() ([]handoff.Rule, error) {
	rules := make([]handoff.Rule, 0, len(ac.ContextConditions)+len(ac.ReasoningConditions)+1)
	for i, rc := range ac.ContextConditions {
		r, err := rc.build()
		if err != nil {
			return nil, fmt.Errorf("context_conditions[%d]: %w", i, err)
		}
		rules = append(rules, r)
	}
	for i, rc := range ac.ReasoningConditions {
		r, err := rc.build()
		if err != nil {
			return nil, fmt.Errorf("reasoning_conditions[%d]: %w", i, err)
		}
		rules = append(rules, r)
	}
	if ac.AfterWork != nil {
		aw, err := ac.AfterWork.build()
		if err != nil {
			return nil, fmt.Errorf("after_work: %w", err)
		}
		rules = append(rules, aw)
	}
	return rules, nil
}
