package ruleengine

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// resolvedContext is a context pre-marshaled once per evaluation so that
// every condition's field-path lookup is a single gjson.GetBytes call
// rather than a fresh json.Marshal.
type resolvedContext struct {
	raw []byte
}

func newResolvedContext(ctx EvaluationContext) (resolvedContext, error) {
	raw, err := json.Marshal(ctx.Data)
	if err != nil {
		return resolvedContext{}, err
	}
	return resolvedContext{raw: raw}, nil
}

// lookup resolves a dotted field path (numeric segments index arrays) and
// reports whether the path exists in the context at all.
func (r resolvedContext) lookup(path string) (value interface{}, exists bool) {
	// gjson already treats numeric path segments as array indices, so a
	// dotted path like "order.items.0.sku" resolves without translation.
	res := gjson.GetBytes(r.raw, path)
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}
