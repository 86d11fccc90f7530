// Package modelprovider wraps the vision-language-model SDKs behind one
// synchronous contract: image in, schema-validated structured output out.
package modelprovider

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
)

// ErrorKind classifies why a Generate call failed, so callers (the
// ingestor's error-handling state machine) can react without string
// matching.
type ErrorKind string

const (
	ErrConfig    ErrorKind = "config"
	ErrTransport ErrorKind = "transport"
	ErrRateLimit ErrorKind = "rate_limit"
	ErrParse     ErrorKind = "parse"
	ErrRefusal   ErrorKind = "refusal"
	ErrEmpty     ErrorKind = "empty"
)

// VLMError is the one error type every Provider implementation returns.
type VLMError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *VLMError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *VLMError) Unwrap() error { return e.Err }

func newErr(kind ErrorKind, msg string, err error) *VLMError {
	return &VLMError{Kind: kind, Msg: msg, Err: err}
}

// TaskUpdate is one note the model wants appended to a task, optionally
// marking it done.
type TaskUpdate struct {
	TaskNumber int    `json:"task_number"`
	TaskNote   string `json:"task_note"`
	TaskDone   bool   `json:"task_done"`
}

// SystemAction is one free-text action the model asked the engine to take.
type SystemAction struct {
	TakeAction string `json:"take_action"`
}

// VideoIngestorOutput is the structured schema every VLM call is constrained
// to when driven by the ingestor.
type VideoIngestorOutput struct {
	TaskUpdates   []TaskUpdate   `json:"task_updates"`
	SystemActions []SystemAction `json:"system_actions"`
}

// Provider is one vision-language-model backend. Generate is synchronous;
// callers that need concurrency wrap the call in a worker of their own.
type Provider interface {
	// Generate sends one base64-encoded JPEG frame plus a text prompt and
	// parses the response into a VideoIngestorOutput. None of the built-in
	// providers forwards schema to its API; each requests plain JSON output
	// and validates the shape itself with ParseOutput.
	Generate(ctx context.Context, imageJPEGBase64, prompt string, schema json.RawMessage) (VideoIngestorOutput, error)
}

var fencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// stripFences removes a single markdown code fence wrapping a JSON payload,
// tolerating models that answer with ```json ... ``` instead of bare JSON.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

// ParseOutput strips any markdown fence, rejects empty responses, and
// unmarshals strictly (unknown fields rejected) into a VideoIngestorOutput.
func ParseOutput(raw string) (VideoIngestorOutput, error) {
	cleaned := stripFences(raw)
	if cleaned == "" {
		return VideoIngestorOutput{}, newErr(ErrEmpty, "empty model response", nil)
	}

	dec := json.NewDecoder(strings.NewReader(cleaned))
	dec.DisallowUnknownFields()

	var out VideoIngestorOutput
	if err := dec.Decode(&out); err != nil {
		return VideoIngestorOutput{}, newErr(ErrParse, "response did not match schema", err)
	}
	return out, nil
}

// Schema is the JSON schema describing VideoIngestorOutput, passed as the
// schema argument of Provider.Generate; the built-in providers do not send it
// to their APIs.
var Schema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"task_updates": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"task_number": {"type": "integer"},
					"task_note": {"type": "string"},
					"task_done": {"type": "boolean"}
				},
				"required": ["task_number", "task_note", "task_done"],
				"additionalProperties": false
			}
		},
		"system_actions": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"take_action": {"type": "string"}
				},
				"required": ["take_action"],
				"additionalProperties": false
			}
		}
	},
	"required": ["task_updates", "system_actions"],
	"additionalProperties": false
}`)
