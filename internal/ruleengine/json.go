package ruleengine

import (
	"encoding/json"
	"fmt"
)

// wireNode mirrors the flat wire shape of Node: a condition and a group
// variant share one JSON object, discriminated by "type".
type wireNode struct {
	Type     NodeKind        `json:"type"`
	Field    string          `json:"field,omitempty"`
	Operator string          `json:"operator,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
	Children []wireNode      `json:"children,omitempty"`
}

// MarshalJSON renders a Node back to the stable rule JSON grammar.
func (n Node) MarshalJSON() ([]byte, error) {
	w, err := toWire(n)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses a Node from the stable rule JSON grammar.
func (n *Node) UnmarshalJSON(data []byte) error {
	var w wireNode
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	node, err := fromWire(w)
	if err != nil {
		return err
	}
	*n = node
	return nil
}

func toWire(n Node) (wireNode, error) {
	switch n.Kind {
	case KindCondition:
		if n.Condition == nil {
			return wireNode{}, fmt.Errorf("rule json: condition node with nil Condition")
		}
		raw, err := json.Marshal(n.Condition.Value)
		if err != nil {
			return wireNode{}, err
		}
		return wireNode{
			Type:     KindCondition,
			Field:    n.Condition.Field,
			Operator: string(n.Condition.Operator),
			Value:    raw,
		}, nil
	case KindGroup:
		if n.Group == nil {
			return wireNode{}, fmt.Errorf("rule json: group node with nil Group")
		}
		children := make([]wireNode, 0, len(n.Group.Children))
		for _, c := range n.Group.Children {
			cw, err := toWire(c)
			if err != nil {
				return wireNode{}, err
			}
			children = append(children, cw)
		}
		return wireNode{
			Type:     KindGroup,
			Operator: string(n.Group.Operator),
			Children: children,
		}, nil
	default:
		return wireNode{}, fmt.Errorf("rule json: unknown node kind %q", n.Kind)
	}
}

func fromWire(w wireNode) (Node, error) {
	switch w.Type {
	case KindCondition:
		var value interface{}
		if len(w.Value) > 0 {
			if err := json.Unmarshal(w.Value, &value); err != nil {
				return Node{}, fmt.Errorf("rule json: condition value: %w", err)
			}
		}
		return Node{
			Kind: KindCondition,
			Condition: &Condition{
				Field:    w.Field,
				Operator: Operator(w.Operator),
				Value:    value,
			},
		}, nil
	case KindGroup:
		children := make([]Node, 0, len(w.Children))
		for _, cw := range w.Children {
			c, err := fromWire(cw)
			if err != nil {
				return Node{}, err
			}
			children = append(children, c)
		}
		return Node{
			Kind: KindGroup,
			Group: &Group{
				Operator: LogicalOperator(w.Operator),
				Children: children,
			},
		}, nil
	default:
		return Node{}, fmt.Errorf("rule json: unknown node type %q", w.Type)
	}
}
