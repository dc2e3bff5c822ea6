package policy

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gowebpki/jcs"
	"gopkg.in/yaml.v3"
)

// Wildcard matches every action in an allow or deny list.
const Wildcard = "*"

// Decision reasons.
const (
	ReasonUnavailable = "policy unavailable"
	ReasonDenyList    = "denied by policy deny list"
	ReasonAllowed     = "allowed"
	ReasonNotAllowed  = "action not allowed in environment"
)

// Document load errors. The engine reports err.Error() as the policy diagnostic.
var (
	ErrParse               = errors.New("failed to parse policy document")
	ErrNotObject           = errors.New("policy document must be an object")
	ErrMissingEnvironments = errors.New("policy document must define 'environments' object")
	ErrInvalid             = errors.New("invalid policy document")
)

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// RuleSet is the allow/deny configuration for one environment.
type RuleSet struct {
	Allow      []string    `yaml:"allow" json:"allow"`
	Deny       []string    `yaml:"deny" json:"deny"`
	Conditions []Condition `yaml:"conditions,omitempty" json:"conditions,omitempty"`
}

// Document is a parsed, validated policy document.
type Document struct {
	// Version is an int or string, nil when absent or of another type.
	Version      any                `json:"version"`
	Environments map[string]RuleSet `json:"environments"`
	// Hash is the sha256 of the canonical (RFC 8785) JSON form.
	Hash string `json:"-"`

	index map[string]ruleIndex
}

type ruleIndex struct {
	allow      actionSet
	deny       actionSet
	conditions []*compiledCondition
}

type rawDocument struct {
	Version      any                 `yaml:"version"`
	Environments map[string]*RuleSet `yaml:"environments"`
}

// ParseDocument parses YAML (or JSON) policy content.
func ParseDocument(data []byte) (*Document, error) {
	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	top, ok := generic.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	if _, ok := top["environments"].(map[string]any); !ok {
		return nil, ErrMissingEnvironments
	}

	var raw rawDocument
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	doc := &Document{
		Version:      normalizeVersion(raw.Version),
		Environments: make(map[string]RuleSet, len(raw.Environments)),
		index:        make(map[string]ruleIndex, len(raw.Environments)),
	}
	for name, rules := range raw.Environments {
		rs := RuleSet{}
		if rules != nil {
			rs = *rules
		}
		if rs.Allow == nil {
			rs.Allow = []string{}
		}
		if rs.Deny == nil {
			rs.Deny = []string{}
		}
		idx, err := buildIndex(name, rs)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		doc.Environments[name] = rs
		doc.index[name] = idx
	}

	hash, err := doc.canonicalHash()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	doc.Hash = hash
	return doc, nil
}

func buildIndex(env string, rs RuleSet) (ruleIndex, error) {
	idx := ruleIndex{
		allow: make(actionSet, len(rs.Allow)),
		deny:  make(actionSet, len(rs.Deny)),
	}
	for _, a := range rs.Allow {
		idx.allow[strings.TrimSpace(a)] = struct{}{}
	}
	for _, d := range rs.Deny {
		idx.deny[strings.TrimSpace(d)] = struct{}{}
	}
	for i, c := range rs.Conditions {
		compiled, err := compileCondition(c)
		if err != nil {
			return ruleIndex{}, fmt.Errorf("environments.%s.conditions[%d]: %w", env, i, err)
		}
		idx.conditions = append(idx.conditions, compiled)
	}
	return idx, nil
}

func normalizeVersion(v any) any {
	switch t := v.(type) {
	case int, int64, uint64, string:
		return t
	default:
		return nil
	}
}

func (d *Document) canonicalHash() (string, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// Decide applies the allow/deny rules for action in environment.
// Deny wins over allow; "*" matches every action.
func (d *Document) Decide(action, environment string) Decision {
	if d == nil {
		return Decision{Allowed: false, Reason: ReasonUnavailable}
	}
	idx, ok := d.index[environment]
	if !ok {
		return Decision{Allowed: false, Reason: ReasonNotAllowed}
	}
	if idx.deny.matches(action) {
		return Decision{Allowed: false, Reason: ReasonDenyList}
	}
	if idx.allow.matches(action) {
		return Decision{Allowed: true, Reason: ReasonAllowed}
	}
	return Decision{Allowed: false, Reason: ReasonNotAllowed}
}

type actionSet map[string]struct{}

func (s actionSet) matches(action string) bool {
	if _, ok := s[Wildcard]; ok {
		return true
	}
	_, ok := s[action]
	return ok
}

func (idx ruleIndex) conditionsFor(action string) []*compiledCondition {
	var out []*compiledCondition
	for _, c := range idx.conditions {
		if c.appliesTo(action) {
			out = append(out, c)
		}
	}
	return out
}
