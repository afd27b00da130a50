// Package blockpolicy evaluates a list of jq predicates against request
// metadata to decide whether a request should be blocked.
package blockpolicy

import (
	"errors"
	"fmt"

	"github.com/itchyny/gojq"

	"github.com/usestring/mitmsession/pkg/types"
)

// Input is the request metadata a rule is evaluated against.
type Input struct {
	URL              string
	Method           string
	ResourceType     types.ResourceType
	OriginType       types.OriginType
	DocumentURL      string
	HasUserGesture   bool
	IsUserNavigation bool
}

// toJQ converts the input into the plain value types gojq accepts.
func (in Input) toJQ() map[string]any {
	return map[string]any{
		"url":              in.URL,
		"method":           in.Method,
		"resourceType":     string(in.ResourceType),
		"originType":       string(in.OriginType),
		"documentUrl":      in.DocumentURL,
		"hasUserGesture":   in.HasUserGesture,
		"isUserNavigation": in.IsUserNavigation,
	}
}

// Rule is a compiled jq predicate such as
// `.resourceType == "Image" and (.url | test("\\.gif$"))`.
type Rule struct {
	expr string
	code *gojq.Code
}

// Compile parses and compiles a jq predicate.
func Compile(expression string) (*Rule, error) {
	query, err := gojq.Parse(expression)
	if err != nil {
		var parseErr *gojq.ParseError
		if errors.As(err, &parseErr) {
			return nil, fmt.Errorf("invalid block rule %q at offset %d: %w", expression, parseErr.Offset, err)
		}
		return nil, fmt.Errorf("invalid block rule %q: %w", expression, err)
	}

	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile block rule %q: %w", expression, err)
	}
	return &Rule{expr: expression, code: code}, nil
}

// String returns the source expression.
func (r *Rule) String() string {
	return r.expr
}

// Match reports whether any output of the rule is truthy (neither null nor
// false). Evaluation errors count as no match and are returned.
func (r *Rule) Match(in Input) (bool, error) {
	iter := r.code.Run(in.toJQ())
	for {
		v, ok := iter.Next()
		if !ok {
			return false, nil
		}
		if err, isErr := v.(error); isErr {
			var haltErr *gojq.HaltError
			if errors.As(err, &haltErr) && haltErr.Value() == nil {
				return false, nil
			}
			return false, fmt.Errorf("evaluating block rule %q: %w", r.expr, err)
		}
		if truthy(v) {
			return true, nil
		}
	}
}

func truthy(v any) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

// RuleSet is an ordered list of rules; a request is blocked when any rule
// matches.
type RuleSet struct {
	rules []*Rule
}

// NewRuleSet compiles every expression. The first invalid expression aborts.
func NewRuleSet(expressions []string) (*RuleSet, error) {
	rs := &RuleSet{rules: make([]*Rule, 0, len(expressions))}
	for _, expr := range expressions {
		r, err := Compile(expr)
		if err != nil {
			return nil, err
		}
		rs.rules = append(rs.rules, r)
	}
	return rs, nil
}

// Len returns the number of rules.
func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.rules)
}

// Match returns the first matching rule, or nil. Rules that fail to evaluate
// are skipped and their errors joined into err.
func (rs *RuleSet) Match(in Input) (*Rule, error) {
	if rs == nil {
		return nil, nil
	}
	var errs []error
	for _, r := range rs.rules {
		ok, err := r.Match(in)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			return r, errors.Join(errs...)
		}
	}
	return nil, errors.Join(errs...)
}
