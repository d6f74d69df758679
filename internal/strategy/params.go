package strategy

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// validateParams checks a variant's config params against its JSON schema
// before construction, so a malformed profile fails at startup instead of on
// the first candle.
func validateParams(name, schema string, params map[string]any) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name+".json", bytes.NewReader([]byte(schema))); err != nil {
		return fmt.Errorf("strategy %s: bad params schema: %w", name, err)
	}
	compiled, err := compiler.Compile(name + ".json")
	if err != nil {
		return fmt.Errorf("strategy %s: bad params schema: %w", name, err)
	}

	// Round-trip through JSON so YAML-decoded numbers (int vs float64)
	// normalize to what the validator expects.
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("strategy %s: params not serializable: %w", name, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("strategy %s: params not serializable: %w", name, err)
	}
	if err := compiled.Validate(doc); err != nil {
		return fmt.Errorf("strategy %s: invalid params: %w", name, err)
	}
	return nil
}

// floatParam reads a numeric param with a default.
func floatParam(params map[string]any, key string, def float64) float64 {
	if params == nil {
		return def
	}
	switch v := params[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return def
}

func intParam(params map[string]any, key string, def int) int {
	return int(floatParam(params, key, float64(def)))
}
