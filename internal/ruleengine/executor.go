package ruleengine

import "fmt"

// Evaluate runs a compiled rule against ctx with short-circuit AND/OR
// semantics, returning which conditions matched and a trace recording which
// branch terminated evaluation at each group.
func Evaluate(compiled Compiled, ctx EvaluationContext) (Result, error) {
	rc, err := newResolvedContext(ctx)
	if err != nil {
		return Result{}, err
	}
	var trace []Step
	var matchedPaths []string
	matched, err := evalNode(compiled.Rule.Root, rc, &trace, &matchedPaths)
	if err != nil {
		return Result{}, err
	}
	return Result{Matched: matched, MatchedConditions: matchedPaths, Trace: trace}, nil
}

func evalNode(n Node, rc resolvedContext, trace *[]Step, matchedPaths *[]string) (bool, error) {
	switch n.Kind {
	case KindCondition:
		return evalCondition(n.Condition, rc, trace, matchedPaths)
	case KindGroup:
		return evalGroup(n.Group, rc, trace, matchedPaths)
	default:
		return false, fmt.Errorf("unknown node kind %q", n.Kind)
	}
}

func evalCondition(c *Condition, rc resolvedContext, trace *[]Step, matchedPaths *[]string) (bool, error) {
	value, exists := rc.lookup(c.Field)
	matched, err := applyOperator(c.Operator, value, exists, c.Value)
	if err != nil {
		return false, fmt.Errorf("field %q: %w", c.Field, err)
	}
	*trace = append(*trace, Step{Path: c.Field, Matched: matched, Detail: string(c.Operator)})
	if matched {
		*matchedPaths = append(*matchedPaths, c.Field)
	}
	return matched, nil
}

func evalGroup(g *Group, rc resolvedContext, trace *[]Step, matchedPaths *[]string) (bool, error) {
	switch g.Operator {
	case And:
		for _, child := range g.Children {
			matched, err := evalNode(child, rc, trace, matchedPaths)
			if err != nil {
				return false, err
			}
			if !matched {
				*trace = append(*trace, Step{Matched: false, Detail: "AND short-circuit"})
				return false, nil
			}
		}
		return true, nil
	case Or:
		for _, child := range g.Children {
			matched, err := evalNode(child, rc, trace, matchedPaths)
			if err != nil {
				return false, err
			}
			if matched {
				*trace = append(*trace, Step{Matched: true, Detail: "OR short-circuit"})
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("unknown logical operator %q", g.Operator)
	}
}
