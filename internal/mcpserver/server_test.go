package mcpserver

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/dagaz/internal/evaluator"
	"github.com/starford/dagaz/internal/manager"
	"github.com/starford/dagaz/internal/source"
	"github.com/starford/dagaz/internal/sse"
	"github.com/starford/dagaz/internal/testutil"
)

func testServer(t *testing.T) *Server {
	t.Helper()

	store := testutil.TestSlotStore(t)
	states := source.NewMemoryStateStore()
	eval := evaluator.New(
		evaluator.WithStateStore(states),
		evaluator.WithLogger(testutil.TestLogger()),
	)

	broker := sse.NewBroker(time.Hour)
	t.Cleanup(broker.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	mgr := manager.New(ctx, eval, store, broker, nil, testutil.TestLogger())
	t.Cleanup(mgr.Close)

	return New(mgr, states, broker, nil)
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" test helper, so we invoke the
	// handler functions directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "list_slots":
		result, err = srv.listSlots(ctx, req)
	case "read_complication":
		result, err = srv.readComplication(ctx, req)
	case "push_complication":
		result, err = srv.pushComplication(ctx, req)
	case "set_state":
		result, err = srv.setState(ctx, req)
	case "read_state":
		result, err = srv.readState(ctx, req)
	case "remove_state":
		result, err = srv.removeState(ctx, req)
	case "get_authoring_contract":
		result, err = srv.getAuthoringContract(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestPushAndReadComplication(t *testing.T) {
	srv := testServer(t)

	r := callTool(t, srv, "push_complication", map[string]interface{}{
		"slot_id": "watch-left",
		"record":  `{"kind":"short_text","text":{"literal":"72"},"title":{"literal":"bpm"}}`,
	})
	if r.IsError {
		t.Fatalf("push failed: %s", resultText(r))
	}
	if got := resultText(r); got != "pushed: watch-left (short_text)" {
		t.Errorf("push result = %q", got)
	}

	r = callTool(t, srv, "read_complication", map[string]interface{}{
		"slot_id": "watch-left",
	})
	if r.IsError {
		t.Fatalf("read failed: %s", resultText(r))
	}
	text := resultText(r)
	if !strings.Contains(text, `"kind": "short_text"`) {
		t.Errorf("read result missing kind: %s", text)
	}
	if !strings.Contains(text, `"literal": "72"`) {
		t.Errorf("read result missing text literal: %s", text)
	}
}

func TestReadComplicationMissing(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "read_complication", map[string]interface{}{"slot_id": "nope"})
	if !r.IsError {
		t.Error("expected error for missing slot")
	}
}

func TestReadComplicationBadView(t *testing.T) {
	srv := testServer(t)
	callTool(t, srv, "push_complication", map[string]interface{}{
		"slot_id": "a",
		"record":  `{"kind":"empty"}`,
	})

	r := callTool(t, srv, "read_complication", map[string]interface{}{
		"slot_id": "a",
		"view":    "resolved",
	})
	if !r.IsError {
		t.Error("expected error for unknown view")
	}
}

func TestPushInvalidComplication(t *testing.T) {
	srv := testServer(t)

	// short_text without text violates the kind invariant.
	r := callTool(t, srv, "push_complication", map[string]interface{}{
		"slot_id": "watch-left",
		"record":  `{"kind":"short_text"}`,
	})
	if !r.IsError {
		t.Error("expected error for invalid record")
	}

	r = callTool(t, srv, "push_complication", map[string]interface{}{
		"slot_id": "watch-left",
		"record":  `not json`,
	})
	if !r.IsError {
		t.Error("expected error for malformed JSON")
	}
}

func TestListSlots(t *testing.T) {
	srv := testServer(t)
	callTool(t, srv, "push_complication", map[string]interface{}{
		"slot_id": "a",
		"record":  `{"kind":"short_text","text":{"literal":"x"}}`,
	})
	callTool(t, srv, "push_complication", map[string]interface{}{
		"slot_id": "b",
		"record":  `{"kind":"ranged_value","value":{"literal":3},"min":0,"max":10}`,
	})

	r := callTool(t, srv, "list_slots", map[string]interface{}{})
	text := resultText(r)
	if !strings.Contains(text, `"slot_id": "a"`) || !strings.Contains(text, `"slot_id": "b"`) {
		t.Errorf("list missing slots: %s", text)
	}
	if !strings.Contains(text, `"kind": "ranged_value"`) {
		t.Errorf("list missing kind: %s", text)
	}
}

func TestSetAndReadState(t *testing.T) {
	srv := testServer(t)

	r := callTool(t, srv, "set_state", map[string]interface{}{
		"key":   "battery",
		"value": "87",
	})
	if r.IsError {
		t.Fatalf("set failed: %s", resultText(r))
	}
	if got := resultText(r); got != "set battery = 87 (float)" {
		t.Errorf("set result = %q", got)
	}

	r = callTool(t, srv, "read_state", map[string]interface{}{"key": "battery"})
	text := resultText(r)
	if !strings.Contains(text, `"type": "float"`) || !strings.Contains(text, "87") {
		t.Errorf("read result = %s", text)
	}

	// Explicit type overrides auto coercion.
	callTool(t, srv, "set_state", map[string]interface{}{
		"key":   "steps",
		"value": "4200",
		"type":  "int",
	})
	r = callTool(t, srv, "read_state", map[string]interface{}{"key": "steps"})
	if !strings.Contains(resultText(r), `"type": "int"`) {
		t.Errorf("typed read result = %s", resultText(r))
	}

	// No key reads everything.
	r = callTool(t, srv, "read_state", map[string]interface{}{})
	text = resultText(r)
	if !strings.Contains(text, `"battery"`) || !strings.Contains(text, `"steps"`) {
		t.Errorf("snapshot read result = %s", text)
	}
}

func TestSetStateBadValue(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "set_state", map[string]interface{}{
		"key":   "battery",
		"value": "full",
		"type":  "float",
	})
	if !r.IsError {
		t.Error("expected error for non-float value")
	}

	r = callTool(t, srv, "set_state", map[string]interface{}{
		"key":   "battery",
		"value": "1",
		"type":  "percentage",
	})
	if !r.IsError {
		t.Error("expected error for unknown type")
	}
}

func TestRemoveState(t *testing.T) {
	srv := testServer(t)
	callTool(t, srv, "set_state", map[string]interface{}{"key": "city", "value": "Oslo"})

	r := callTool(t, srv, "remove_state", map[string]interface{}{"key": "city"})
	if got := resultText(r); got != "removed: city" {
		t.Errorf("remove result = %q", got)
	}

	r = callTool(t, srv, "read_state", map[string]interface{}{"key": "city"})
	if !r.IsError {
		t.Error("expected error reading removed key")
	}
}

func TestGetAuthoringContract(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "get_authoring_contract", map[string]interface{}{})
	text := resultText(r)
	if !strings.Contains(text, "# Dagaz Complication Authoring Format") {
		t.Error("contract missing title")
	}
	if !strings.Contains(text, "push_complication") || !strings.Contains(text, "format_int") {
		t.Error("contract missing tool or op references")
	}
}

func TestReadComplicationEvaluated(t *testing.T) {
	srv := testServer(t)

	callTool(t, srv, "set_state", map[string]interface{}{"key": "battery", "value": "87"})
	r := callTool(t, srv, "push_complication", map[string]interface{}{
		"slot_id": "watch-left",
		"record": `{"kind":"short_text","text":{"dynamic":{
			"op":"format_int","x":{"op":"state","key":"battery"}}}}`,
	})
	if r.IsError {
		t.Fatalf("push failed: %s", resultText(r))
	}

	testutil.Eventually(t, 2*time.Second, func() bool {
		r := callTool(t, srv, "read_complication", map[string]interface{}{
			"slot_id": "watch-left",
			"view":    "evaluated",
		})
		return strings.Contains(resultText(r), `"literal": "87"`)
	})
}
