package internal

import (
	"fmt"
	"log"
	"strings"

	"github.com/Knetic/govaluate"
	"gopkg.in/yaml.v3"
)

// Rule routes matching events to extra topics, optionally on a subset of
// the configured drivers.
type Rule struct {
	When    string   `yaml:"when"`
	Emit    EmitList `yaml:"emit"`
	Drivers []string `yaml:"drivers"`
}

// EmitList accepts a single topic or a list of topics.
type EmitList []string

func (e *EmitList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*e = EmitList{value.Value}
		return nil
	case yaml.SequenceNode:
		var topics []string
		if err := value.Decode(&topics); err != nil {
			return err
		}
		*e = topics
		return nil
	default:
		return fmt.Errorf("emit must be a string or a list of strings")
	}
}

// RuleMatch is a topic selected by a rule.
type RuleMatch struct {
	Topic   string
	Drivers []string
}

type compiledRule struct {
	when    string
	emit    []string
	drivers []string
	expr    *govaluate.EvaluableExpression
}

type RuleEngine struct {
	rules  []compiledRule
	strict bool
	logger *log.Logger
}

var ruleFunctions = map[string]govaluate.ExpressionFunction{
	// contains(haystack, needle) matches an element of an array or a
	// substring of a string. govaluate spreads array parameters into the
	// argument list, so every argument but the last is the haystack.
	"contains": func(args ...interface{}) (interface{}, error) {
		if len(args) < 1 {
			return nil, fmt.Errorf("contains expects a haystack and a needle")
		}
		needle := args[len(args)-1]
		haystack := args[:len(args)-1]
		if len(haystack) == 1 {
			switch typed := haystack[0].(type) {
			case []interface{}:
				haystack = typed
			case string:
				s, ok := needle.(string)
				return ok && strings.Contains(typed, s), nil
			}
		}
		for _, item := range haystack {
			if item == needle {
				return true, nil
			}
		}
		return false, nil
	},
	"hasPrefix": func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("hasPrefix expects 2 arguments")
		}
		s, ok1 := args[0].(string)
		prefix, ok2 := args[1].(string)
		return ok1 && ok2 && strings.HasPrefix(s, prefix), nil
	},
}

func NewRuleEngine(cfg RulesConfig) (*RuleEngine, error) {
	rules := make([]compiledRule, 0, len(cfg.Rules))
	for i, rule := range cfg.Rules {
		expr, err := govaluate.NewEvaluableExpressionWithFunctions(rule.When, ruleFunctions)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, compiledRule{when: rule.When, emit: rule.Emit, drivers: rule.Drivers, expr: expr})
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &RuleEngine{rules: rules, strict: cfg.Strict, logger: logger}, nil
}

// Evaluate returns the topics of every rule matching the event. Rule
// parameters are the flattened payload keys plus provider, event, raw_type
// and project. Dotted keys are referenced as [object_attributes.state].
func (r *RuleEngine) Evaluate(event Event) []RuleMatch {
	return r.EvaluateWithLogger(event, r.logger)
}

func (r *RuleEngine) EvaluateWithLogger(event Event, logger *log.Logger) []RuleMatch {
	if r == nil || len(r.rules) == 0 {
		return nil
	}
	if logger == nil {
		logger = r.logger
	}

	params := make(map[string]interface{}, len(event.Data)+4)
	for key, value := range event.Data {
		params[key] = value
	}
	params["provider"] = event.Provider
	params["event"] = event.Name
	params["raw_type"] = event.RawType
	params["project"] = event.Project

	matches := make([]RuleMatch, 0, 1)
	for _, rule := range r.rules {
		result, err := rule.expr.Evaluate(params)
		if err != nil {
			if r.strict {
				logger.Printf("rule %q eval failed: %v", rule.when, err)
			}
			continue
		}
		if ok, _ := result.(bool); !ok {
			continue
		}
		for _, topic := range rule.emit {
			matches = append(matches, RuleMatch{Topic: topic, Drivers: rule.drivers})
		}
	}
	return matches
}
