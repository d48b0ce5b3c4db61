package validation

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBaseURL = "mem://colony/intents/"

// compileSchemas compiles one schema per intent in the rule catalogue.
func compileSchemas() (map[string]*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7

	for _, intent := range Intents() {
		data, err := schemaFS.ReadFile(path.Join("schemas", intent+".json"))
		if err != nil {
			return nil, fmt.Errorf("schema for %s: %w", intent, err)
		}
		if err := c.AddResource(schemaBaseURL+intent+".json", bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("schema for %s: %w", intent, err)
		}
	}

	out := make(map[string]*jsonschema.Schema, len(rules))
	for _, intent := range Intents() {
		s, err := c.Compile(schemaBaseURL + intent + ".json")
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", intent, err)
		}
		out[intent] = s
	}
	return out, nil
}

// Normalize converts a payload into plain JSON values (float64 numbers,
// []any, map[string]any), whatever decoder produced it.
func Normalize(payload map[string]any) (map[string]any, error) {
	if payload == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// schemaCode maps a schema violation onto the most specific code. When
// several keywords fail, the ranking below makes the choice independent of
// the validator's traversal order.
func schemaCode(err error) Code {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return CodeInvalidPayload
	}
	best := CodeInvalidPayload
	bestRank := len(schemaCodeRank)
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) > 0 {
			for _, c := range e.Causes {
				walk(c)
			}
			return
		}
		code := keywordCode(e.KeywordLocation, e.InstanceLocation)
		for i, c := range schemaCodeRank {
			if c == code && i < bestRank {
				best, bestRank = code, i
			}
		}
	}
	walk(ve)
	return best
}

var schemaCodeRank = []Code{
	CodeInvalidPayload,
	CodeInvalidFieldType,
	CodeInvalidEnumValue,
	CodeNegativeAmount,
}

func keywordCode(keywordLocation, instanceLocation string) Code {
	keyword := keywordLocation[strings.LastIndex(keywordLocation, "/")+1:]
	switch keyword {
	case "type":
		// A non-object payload is a shape problem, not a field problem.
		if instanceLocation == "" {
			return CodeInvalidPayload
		}
		return CodeInvalidFieldType
	case "enum":
		return CodeInvalidEnumValue
	case "minimum":
		if strings.HasSuffix(instanceLocation, "/amount") {
			return CodeNegativeAmount
		}
	}
	return CodeInvalidPayload
}
