package core

import (
	"fmt"
	"strings"
)

// condition is a parsed stage guard. Supported forms:
//
//	NAME             true unless the value is "", "0" or "false"
//	NAME == value
//	NAME != value
//
// NAME resolves against the run's environment context (which includes the
// parameters); unknown names resolve to "".
type condition struct {
	name  string
	op    string // "", "==" or "!="
	value string
}

func parseCondition(expr string) (condition, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return condition{}, fmt.Errorf("empty when expression")
	}

	var op string
	switch {
	case strings.Contains(expr, "=="):
		op = "=="
	case strings.Contains(expr, "!="):
		op = "!="
	}

	if op == "" {
		if !identRe.MatchString(expr) {
			return condition{}, fmt.Errorf("when %q: expected NAME, NAME == value or NAME != value", expr)
		}
		return condition{name: expr}, nil
	}

	parts := strings.SplitN(expr, op, 2)
	name := strings.TrimSpace(parts[0])
	value := strings.TrimSpace(parts[1])
	if !identRe.MatchString(name) {
		return condition{}, fmt.Errorf("when %q: %q is not a valid name", expr, name)
	}
	value = strings.Trim(value, `"'`)
	return condition{name: name, op: op, value: value}, nil
}

func (c condition) eval(lookup func(string) string) bool {
	got := lookup(c.name)
	switch c.op {
	case "==":
		return got == c.value
	case "!=":
		return got != c.value
	default:
		return got != "" && got != "0" && !strings.EqualFold(got, "false")
	}
}

// EvalCondition evaluates a stage's when expression against a lookup of the
// merged parameter and environment view.
func EvalCondition(expr string, lookup func(string) string) (bool, error) {
	c, err := parseCondition(expr)
	if err != nil {
		return false, err
	}
	return c.eval(lookup), nil
}
