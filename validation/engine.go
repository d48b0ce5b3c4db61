// Package validation decides whether a declared intent may take effect.
//
// The Engine runs ordered stages (schema, state, range, permission,
// resource) and reports the first failing stage's code. Rejections are
// silent: they are counted in Statistics and never reported to the tenant.
package validation

import (
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/pithecene-io/colony/types"
)

// Engine validates intents against a room snapshot. It holds no per-call
// state and is safe for concurrent use.
type Engine struct {
	schemas map[string]*jsonschema.Schema
	stages  []Stage
}

// NewEngine compiles the intent schemas and assembles the default stages.
func NewEngine() (*Engine, error) {
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	e := &Engine{schemas: schemas}
	e.stages = []Stage{
		StageFunc{Cat: CategorySchema, Fn: e.schemaStage},
		StageFunc{Cat: CategoryState, Fn: stateStage},
		StageFunc{Cat: CategoryRange, Fn: rangeStage},
		StageFunc{Cat: CategoryPermission, Fn: permissionStage},
		StageFunc{Cat: CategoryResource, Fn: resourceStage},
	}
	return e, nil
}

// Stages returns the stage categories in evaluation order.
func (e *Engine) Stages() []Category {
	out := make([]Category, len(e.stages))
	for i, s := range e.stages {
		out[i] = s.Category()
	}
	return out
}

// Validate checks one intent record submitted by userID. It is a pure
// function of its inputs.
func (e *Engine) Validate(state *types.RoomState, userID, intent string, rec types.IntentRecord) Result {
	res, _ := e.ValidateCheck(state, userID, intent, rec)
	return res
}

// ValidateCheck is Validate that also returns the resolved check, so an
// applier can reuse the normalized payload and resolved objects.
func (e *Engine) ValidateCheck(state *types.RoomState, userID, intent string, rec types.IntentRecord) (Result, *Check) {
	c := &Check{
		State:   state,
		UserID:  userID,
		Intent:  intent,
		ActorID: rec.ActorID,
		Payload: rec.Payload,
	}
	for _, s := range e.stages {
		if code := s.Validate(c); code != "" {
			return Rejected(code), c
		}
	}
	return Accepted, c
}

func (e *Engine) schemaStage(c *Check) Code {
	rule, ok := RuleFor(c.Intent)
	if !ok {
		return CodeUnknownIntentType
	}
	c.Rule = rule

	payload, err := Normalize(c.Payload)
	if err != nil {
		return CodeInvalidPayload
	}
	c.Payload = payload

	if err := e.schemas[c.Intent].Validate(payload); err != nil {
		return schemaCode(err)
	}
	return ""
}
