package main

import (
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"
)

// alertFilter is a set of jq expressions that must all be truthy.
type alertFilter []*gojq.Code

func compileFilters(exprs []string) (alertFilter, error) {
	out := make(alertFilter, len(exprs))
	for i, expr := range exprs {
		query, err := gojq.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", expr, err)
		}
		out[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", expr, err)
		}
	}
	return out, nil
}

// Match runs every filter against raw. Invalid JSON or a filter error is a
// non-match.
func (f alertFilter) Match(raw []byte) bool {
	if len(f) == 0 {
		return true
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false
	}
	for _, code := range f {
		v, ok := code.Run(doc).Next()
		if !ok {
			return false
		}
		if _, isErr := v.(error); isErr {
			return false
		}
		if !isTruthy(v) {
			return false
		}
	}
	return true
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v any) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}
