package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// RuleDefinition is the declarative form of a PatternRule accepted by the API
// and by rule files.
type RuleDefinition struct {
	Field      string   `json:"field" yaml:"field"`
	Name       string   `json:"name" yaml:"name"`
	Patterns   []string `json:"patterns" yaml:"patterns"`
	Validators []string `json:"validators,omitempty" yaml:"validators,omitempty"`
	Priority   int      `json:"priority,omitempty" yaml:"priority,omitempty"`
}

const definitionSchemaURL = "rule-definition.json"

const definitionSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"additionalProperties": false,
	"required": ["field", "name", "patterns"],
	"properties": {
		"field": {"type": "string", "pattern": "^[A-Za-z][A-Za-z0-9_]{0,63}$"},
		"name": {"type": "string", "minLength": 1, "maxLength": 64},
		"patterns": {
			"type": "array",
			"minItems": 1,
			"items": {"type": "string", "minLength": 1}
		},
		"validators": {
			"type": "array",
			"items": {"type": "string"}
		},
		"priority": {"type": "integer", "minimum": 1, "maximum": 10}
	}
}`

var definitionValidator = jsonschema.MustCompileString(definitionSchemaURL, definitionSchema)

// ParseDefinition validates a JSON rule definition against the schema and decodes it
func ParseDefinition(data []byte) (RuleDefinition, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return RuleDefinition{}, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if err := definitionValidator.Validate(doc); err != nil {
		return RuleDefinition{}, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}

	var def RuleDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return RuleDefinition{}, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return def, nil
}

// Compile turns a definition into a PatternRule
func (d RuleDefinition) Compile() (PatternRule, error) {
	rule := PatternRule{Name: d.Name, Priority: d.Priority}
	for _, p := range d.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return PatternRule{}, fmt.Errorf("%w: pattern %q: %v", ErrInvalidRule, p, err)
		}
		rule.Patterns = append(rule.Patterns, re)
	}
	for _, name := range d.Validators {
		v, ok := namedValidators[name]
		if !ok {
			return PatternRule{}, fmt.Errorf("%w: unknown validator %q", ErrInvalidRule, name)
		}
		rule.Validators = append(rule.Validators, v)
	}
	return rule, nil
}

// AddDefinition compiles and registers a declarative rule
func (e *Engine) AddDefinition(def RuleDefinition) error {
	rule, err := def.Compile()
	if err != nil {
		return err
	}
	return e.AddCustomRule(def.Field, rule)
}

// ruleFile is the YAML layout of a rules file
type ruleFile struct {
	Rules []map[string]any `yaml:"rules"`
}

// LoadDefinitions reads a YAML rules file and registers every definition in it.
// It returns the number of rules added.
func (e *Engine) LoadDefinitions(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read rules file: %w", err)
	}

	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("failed to parse rules file: %w", err)
	}

	for i, raw := range file.Rules {
		doc, err := json.Marshal(raw)
		if err != nil {
			return i, fmt.Errorf("rule %d: %w", i, err)
		}
		def, err := ParseDefinition(doc)
		if err != nil {
			return i, fmt.Errorf("rule %d: %w", i, err)
		}
		if err := e.AddDefinition(def); err != nil {
			return i, fmt.Errorf("rule %d: %w", i, err)
		}
	}
	return len(file.Rules), nil
}

// ValidatorNames lists the validators a definition may reference
func ValidatorNames() []string {
	names := make([]string, 0, len(namedValidators))
	for n := range namedValidators {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Definitions describes the registered rules for listing. Pattern sources are
// reported as written.
func (e *Engine) Definitions() []RuleDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()

	fields := make([]string, 0, len(e.rules))
	for f := range e.rules {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var defs []RuleDefinition
	for _, f := range fields {
		for _, r := range e.rules[f] {
			d := RuleDefinition{Field: f, Name: r.Name, Priority: r.Priority}
			for _, p := range r.Patterns {
				d.Patterns = append(d.Patterns, p.String())
			}
			defs = append(defs, d)
		}
	}
	return defs
}
