package ruleengine

import (
	"sort"
)

// Compile validates a Rule and produces its immutable Compiled form: the
// tree itself (kept as an AST — shallow per the source's ≤6-level trees, so
// there is no benefit to linearizing to bytecode) plus every field path
// referenced by any condition, for introspection.
func Compile(rule Rule) (Compiled, error) {
	if rule.ID == "" {
		return Compiled{}, validationErrorf("rule id must not be empty")
	}
	if err := validateNode(rule.Root); err != nil {
		return Compiled{}, err
	}

	paths := map[string]struct{}{}
	collectFieldPaths(rule.Root, paths)
	fieldPaths := make([]string, 0, len(paths))
	for p := range paths {
		fieldPaths = append(fieldPaths, p)
	}
	sort.Strings(fieldPaths)

	return Compiled{Rule: rule, FieldPaths: fieldPaths}, nil
}

func validateNode(n Node) error {
	switch n.Kind {
	case KindCondition:
		if n.Condition == nil {
			return validationErrorf("condition node missing condition body")
		}
		if n.Condition.Field == "" {
			return validationErrorf("condition field must not be empty")
		}
		return validateOperatorShape(n.Condition.Operator, n.Condition.Value)
	case KindGroup:
		if n.Group == nil {
			return validationErrorf("group node missing group body")
		}
		if n.Group.Operator != And && n.Group.Operator != Or {
			return validationErrorf("group operator must be AND or OR, got %q", n.Group.Operator)
		}
		if len(n.Group.Children) == 0 {
			return validationErrorf("logical group must have at least one child")
		}
		for _, child := range n.Group.Children {
			if err := validateNode(child); err != nil {
				return err
			}
		}
		return nil
	default:
		return validationErrorf("unknown node kind %q", n.Kind)
	}
}

func collectFieldPaths(n Node, out map[string]struct{}) {
	switch n.Kind {
	case KindCondition:
		if n.Condition != nil {
			out[n.Condition.Field] = struct{}{}
		}
	case KindGroup:
		if n.Group != nil {
			for _, child := range n.Group.Children {
				collectFieldPaths(child, out)
			}
		}
	}
}
