package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tenex-chat/tenex/pkg/models"
)

type fakeTool struct {
	name    string
	schema  string
	execute func(ctx context.Context, params json.RawMessage) (any, error)
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "fake tool" }
func (f *fakeTool) Schema() json.RawMessage {
	if f.schema == "" {
		return json.RawMessage(`{"type":"object"}`)
	}
	return json.RawMessage(f.schema)
}
func (f *fakeTool) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	return f.execute(ctx, params)
}

type envelope struct {
	OK    bool            `json:"ok"`
	Value json.RawMessage `json:"value"`
	Error *Error          `json:"error"`
}

func decodeEnvelope(t *testing.T, result *models.ToolResult) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal([]byte(result.Content), &env); err != nil {
		t.Fatalf("result is not an envelope: %v\n%s", err, result.Content)
	}
	return env
}

func call(name, input string) *models.ToolCall {
	return &models.ToolCall{ID: "tc-1", Name: name, Input: json.RawMessage(input)}
}

func TestExecuteSuccessEnvelope(t *testing.T) {
	reg := NewRegistry(nil)
	if err := reg.Register(&fakeTool{
		name: "greet",
		execute: func(context.Context, json.RawMessage) (any, error) {
			return map[string]string{"greeting": "hello"}, nil
		},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	result := reg.Execute(context.Background(), call("greet", `{}`))
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	env := decodeEnvelope(t, result)
	if !env.OK {
		t.Error("success envelope has ok=false")
	}
	if !strings.Contains(string(env.Value), "hello") {
		t.Errorf("value = %s", env.Value)
	}
}

func TestExecuteValidationFailure(t *testing.T) {
	reg := NewRegistry(nil)
	if err := reg.Register(&fakeTool{
		name: "strict",
		schema: `{
			"type": "object",
			"properties": {"count": {"type": "integer"}},
			"required": ["count"]
		}`,
		execute: func(context.Context, json.RawMessage) (any, error) {
			t.Fatal("tool must not run on invalid input")
			return nil, nil
		},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	tests := []struct {
		name      string
		input     string
		wantField string
	}{
		{"missing required", `{}`, ""},
		{"wrong type", `{"count":"three"}`, "count"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := reg.Execute(context.Background(), call("strict", tt.input))
			if !result.IsError {
				t.Fatalf("expected error result, got %s", result.Content)
			}
			env := decodeEnvelope(t, result)
			if env.OK || env.Error == nil {
				t.Fatalf("malformed failure envelope: %s", result.Content)
			}
			if env.Error.Kind != KindValidation {
				t.Errorf("kind = %q, want validation", env.Error.Kind)
			}
			if env.Error.Field != tt.wantField {
				t.Errorf("field = %q, want %q", env.Error.Field, tt.wantField)
			}
		})
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	reg := NewRegistry(nil)
	result := reg.Execute(context.Background(), call("nope", `{}`))
	if !result.IsError {
		t.Fatal("expected error result")
	}
	env := decodeEnvelope(t, result)
	if env.Error.Kind != KindExecution {
		t.Errorf("kind = %q, want execution", env.Error.Kind)
	}
}

func TestExecuteRecoversPanic(t *testing.T) {
	reg := NewRegistry(nil)
	if err := reg.Register(&fakeTool{
		name: "boom",
		execute: func(context.Context, json.RawMessage) (any, error) {
			panic("kaboom")
		},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	result := reg.Execute(context.Background(), call("boom", `{}`))
	if !result.IsError {
		t.Fatal("expected error result")
	}
	env := decodeEnvelope(t, result)
	if env.Error.Kind != KindSystem {
		t.Errorf("kind = %q, want system", env.Error.Kind)
	}
	if !strings.Contains(env.Error.Message, "kaboom") {
		t.Errorf("message = %q", env.Error.Message)
	}
}

func TestExecuteTimeout(t *testing.T) {
	reg := NewRegistry(nil, WithTimeout(20*time.Millisecond))
	if err := reg.Register(&fakeTool{
		name: "slow",
		execute: func(ctx context.Context, _ json.RawMessage) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	result := reg.Execute(context.Background(), call("slow", `{}`))
	if !result.IsError {
		t.Fatal("expected error result")
	}
	env := decodeEnvelope(t, result)
	if env.Error.Kind != KindTimeout {
		t.Errorf("kind = %q, want timeout", env.Error.Kind)
	}
}

func TestExecuteCancelled(t *testing.T) {
	reg := NewRegistry(nil)
	if err := reg.Register(&fakeTool{
		name: "patient",
		execute: func(ctx context.Context, _ json.RawMessage) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	result := reg.Execute(ctx, call("patient", `{}`))
	env := decodeEnvelope(t, result)
	if env.Error.Kind != KindCancelled {
		t.Errorf("kind = %q, want cancelled", env.Error.Kind)
	}
}

func TestExecutePreservesStructuredError(t *testing.T) {
	reg := NewRegistry(nil)
	if err := reg.Register(&fakeTool{
		name: "transporter",
		execute: func(context.Context, json.RawMessage) (any, error) {
			return nil, TransportError("transporter", "relay unreachable", errors.New("dial tcp"))
		},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	result := reg.Execute(context.Background(), call("transporter", `{}`))
	env := decodeEnvelope(t, result)
	if env.Error.Kind != KindTransport {
		t.Errorf("kind = %q, want transport", env.Error.Kind)
	}
	if env.Error.Cause != "dial tcp" {
		t.Errorf("cause = %q", env.Error.Cause)
	}
}

func TestSpecsSortedByName(t *testing.T) {
	reg := NewRegistry(nil)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := reg.Register(&fakeTool{
			name:    name,
			execute: func(context.Context, json.RawMessage) (any, error) { return nil, nil },
		}); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}
	specs := reg.Specs()
	if len(specs) != 3 {
		t.Fatalf("got %d specs", len(specs))
	}
	for i, want := range []string{"alpha", "mid", "zeta"} {
		if specs[i].Name != want {
			t.Errorf("specs[%d] = %q, want %q", i, specs[i].Name, want)
		}
	}
}

func TestRegisterRejectsInvalidSchema(t *testing.T) {
	reg := NewRegistry(nil)
	err := reg.Register(&fakeTool{
		name:    "broken",
		schema:  `{"type": 42}`,
		execute: func(context.Context, json.RawMessage) (any, error) { return nil, nil },
	})
	if err == nil {
		t.Fatal("expected schema compile error")
	}
}
