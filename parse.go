package rbac

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ParseConditions parses a limited but expressive condition string into the
// structured condition list the evaluator consumes. It intentionally supports
// only the commonly used patterns while keeping parsing simple and
// deterministic:
//
//	createdBy == {{user.id}}
//	organizationId == {{user.organizationId}} and status != "archived"
//	tier in ["gold", "silver"] or score >= 90
//
// Clauses are split on top-level "and"/"or"; the combinator is attached to
// the preceding condition, matching left-to-right reduction.
func ParseConditions(s string) ([]Condition, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	clauses, combs := splitClauses(s)
	out := make([]Condition, 0, len(clauses))
	for i, clause := range clauses {
		cond, err := parseClause(clause)
		if err != nil {
			return nil, err
		}
		if i < len(combs) {
			cond.Combinator = combs[i]
		}
		out = append(out, cond)
	}
	return out, nil
}

var clauseSplitRe = regexp.MustCompile(`\s+(and|or)\s+`)

// splitClauses splits on " and "/" or " outside of bracketed lists.
func splitClauses(s string) ([]string, []Combinator) {
	clauses := make([]string, 0, 2)
	combs := make([]Combinator, 0, 1)
	for {
		loc := clauseSplitRe.FindStringSubmatchIndex(s)
		if loc == nil {
			clauses = append(clauses, strings.TrimSpace(s))
			return clauses, combs
		}
		head := s[:loc[0]]
		if strings.Count(head, "[") != strings.Count(head, "]") {
			// separator inside a bracketed list: skip past it
			next := clauseSplitRe.FindStringSubmatchIndex(s[loc[1]:])
			if next == nil {
				clauses = append(clauses, strings.TrimSpace(s))
				return clauses, combs
			}
			loc = []int{loc[1] + next[0], loc[1] + next[1], loc[1] + next[2], loc[1] + next[3]}
			head = s[:loc[0]]
		}
		clauses = append(clauses, strings.TrimSpace(head))
		combs = append(combs, Combinator(s[loc[2]:loc[3]]))
		s = s[loc[1]:]
	}
}

var clauseRe = regexp.MustCompile(`^([a-zA-Z0-9_.]+)\s*(==|!=|>=|<=|>|<|\bin\b|\bnin\b|\bcontains\b|\bstartsWith\b|\bendsWith\b)\s*(.+)$`)

var operatorTokens = map[string]Operator{
	"==": OpEq, "!=": OpNe, ">": OpGt, ">=": OpGte, "<": OpLt, "<=": OpLte,
	"in": OpIn, "nin": OpNin, "contains": OpContains,
	"startsWith": OpStartsWith, "endsWith": OpEndsWith,
}

func parseClause(clause string) (Condition, error) {
	m := clauseRe.FindStringSubmatch(clause)
	if m == nil {
		return Condition{}, fmt.Errorf("%w: unsupported condition syntax: %s", ErrMalformedRecord, clause)
	}
	op := operatorTokens[m[2]]
	value, err := parseValue(strings.TrimSpace(m[3]))
	if err != nil {
		return Condition{}, err
	}
	return Condition{Field: m[1], Operator: op, Value: value}, nil
}

func parseValue(s string) (any, error) {
	switch {
	case strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"):
		items := splitCSV(s[1 : len(s)-1])
		vals := make([]any, 0, len(items))
		for _, item := range items {
			v, err := parseValue(item)
			if err != nil {
				return nil, err
			}
			vals = append(vals, v)
		}
		return vals, nil
	case strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) && len(s) >= 2:
		return s[1 : len(s)-1], nil
	case strings.HasPrefix(s, "'") && strings.HasSuffix(s, "'") && len(s) >= 2:
		return s[1 : len(s)-1], nil
	case s == "true":
		return true, nil
	case s == "false":
		return false, nil
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n, nil
	}
	// placeholders and bare strings pass through verbatim
	return s, nil
}

// splitCSV splits items like `"a", "b"` or `a, b` into trimmed strings.
func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
