// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Dagaz complication tools for LLM integration via stdio
// transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/dagaz/internal/api"
	"github.com/starford/dagaz/internal/dynamic"
	"github.com/starford/dagaz/internal/manager"
	"github.com/starford/dagaz/internal/metrics"
	"github.com/starford/dagaz/internal/source"
)

// StateEvents receives state change notifications for keys set or
// removed through MCP tools. *sse.Broker satisfies it.
type StateEvents interface {
	PublishStateChanged(key string)
}

// Server wraps the MCP server with Dagaz tools.
type Server struct {
	mcp     *server.MCPServer
	mgr     *manager.Manager
	states  *source.MemoryStateStore
	events  StateEvents
	metrics *metrics.Metrics
}

// New creates a new MCP server with all Dagaz tools registered. metr
// may be nil.
func New(mgr *manager.Manager, states *source.MemoryStateStore, events StateEvents, metr *metrics.Metrics) *Server {
	s := &Server{mgr: mgr, states: states, events: events, metrics: metr}

	s.mcp = server.NewMCPServer(
		"Dagaz",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_slots",
		mcp.WithDescription("List all complication slots with their record kind and last update time."),
	), s.listSlots)

	s.mcp.AddTool(mcp.NewTool("read_complication",
		mcp.WithDescription("Read a slot's complication record as authoring JSON. "+
			"By default returns the record as pushed, expressions intact."),
		mcp.WithString("slot_id", mcp.Required(), mcp.Description("Slot id (e.g. watch-left)")),
		mcp.WithString("view", mcp.Description("\"stored\" (default) or \"evaluated\" for the latest resolved snapshot")),
	), s.readComplication)

	s.mcp.AddTool(mcp.NewTool("push_complication",
		mcp.WithDescription("Push a complication record into a slot. The record MUST follow "+
			"the authoring JSON format (kind plus the kind's fields; dynamic slots carry "+
			"expression trees). Read the contract first via the get_authoring_contract "+
			"tool or the dagaz://authoring-format resource."),
		mcp.WithString("slot_id", mcp.Required(), mcp.Description("Slot id to push into")),
		mcp.WithString("record", mcp.Required(), mcp.Description("Record as authoring-format JSON")),
	), s.pushComplication)

	s.mcp.AddTool(mcp.NewTool("set_state",
		mcp.WithDescription("Set one key of the host state store. Dynamic expressions "+
			"referencing the key re-evaluate immediately."),
		mcp.WithString("key", mcp.Required(), mcp.Description("State key (e.g. battery or weather.temp)")),
		mcp.WithString("value", mcp.Required(), mcp.Description("Value; parsed as float, then bool, else string unless type is given")),
		mcp.WithString("type", mcp.Description("Optional explicit type: float, int, bool, string or instant (RFC 3339)")),
	), s.setState)

	s.mcp.AddTool(mcp.NewTool("read_state",
		mcp.WithDescription("Read the host state store: one key, or everything when no key is given."),
		mcp.WithString("key", mcp.Description("Optional state key")),
	), s.readState)

	s.mcp.AddTool(mcp.NewTool("remove_state",
		mcp.WithDescription("Remove one key from the host state store. Expressions referencing "+
			"it become invalid until it is set again."),
		mcp.WithString("key", mcp.Required(), mcp.Description("State key to remove")),
	), s.removeState)

	s.mcp.AddTool(mcp.NewTool("get_authoring_contract",
		mcp.WithDescription("Returns the authoring JSON format contract for complication records. "+
			"Call this before pushing records to ensure correct structure."),
	), s.getAuthoringContract)

	// Resource: authoring format contract.
	s.mcp.AddResource(
		mcp.NewResource("dagaz://authoring-format", "Complication Authoring Format",
			mcp.WithResourceDescription("Authoring JSON format for complication records and dynamic expressions."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readAuthoringFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) listSlots(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries := s.mgr.Slots()
	items := make([]api.SlotListItem, 0, len(entries))
	for _, e := range entries {
		dyn := false
		if rec, err := s.mgr.Stored(e.SlotID); err == nil {
			dyn = rec.HasExpressions()
		}
		items = append(items, api.SlotListItem{
			SlotID:    e.SlotID,
			Kind:      e.Kind.String(),
			Dynamic:   dyn,
			UpdatedAt: e.UpdatedAt,
		})
	}
	out, _ := json.MarshalIndent(items, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readComplication(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	slotID, err := req.RequireString("slot_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	view := "stored"
	if v, err := req.RequireString("view"); err == nil && v != "" {
		view = v
	}

	switch view {
	case "stored":
		rec, err := s.mgr.Stored(slotID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", slotID)), nil
		}
		out, _ := json.MarshalIndent(api.RecordToDTO(rec), "", "  ")
		return mcp.NewToolResultText(string(out)), nil
	case "evaluated":
		rec, ok := s.mgr.Latest(slotID)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", slotID)), nil
		}
		out, _ := json.MarshalIndent(api.RecordToDTO(rec), "", "  ")
		return mcp.NewToolResultText(string(out)), nil
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown view %q, want stored or evaluated", view)), nil
	}
}

func (s *Server) pushComplication(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	slotID, err := req.RequireString("slot_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, err := req.RequireString("record")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var dto api.RecordDTO
	if err := json.Unmarshal([]byte(raw), &dto); err != nil {
		return mcp.NewToolResultError("invalid record JSON: " + err.Error()), nil
	}
	rec, err := api.RecordFromDTO(dto)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.mgr.Upsert(slotID, rec); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("pushed: %s (%s)", slotID, rec.Kind)), nil
}

func (s *Server) setState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, err := req.RequireString("value")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	typ := ""
	if v, err := req.RequireString("type"); err == nil {
		typ = v
	}

	val, err := coerceStateValue(raw, typ)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	s.states.Set(key, val)
	if s.events != nil {
		s.events.PublishStateChanged(key)
	}
	s.metrics.SetStateKeys(s.states.Len())
	return mcp.NewToolResultText(fmt.Sprintf("set %s = %s (%s)", key, val, val.Kind())), nil
}

func (s *Server) readState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if key, err := req.RequireString("key"); err == nil && key != "" {
		v, ok := s.states.Lookup(key)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", key)), nil
		}
		out, _ := json.MarshalIndent(api.StateValueToDTO(v), "", "  ")
		return mcp.NewToolResultText(string(out)), nil
	}

	snap := s.states.Snapshot()
	all := make(map[string]api.StateValueDTO, len(snap))
	for k, v := range snap {
		all[k] = api.StateValueToDTO(v)
	}
	out, _ := json.MarshalIndent(all, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) removeState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.states.Delete(key)
	if s.events != nil {
		s.events.PublishStateChanged(key)
	}
	s.metrics.SetStateKeys(s.states.Len())
	return mcp.NewToolResultText(fmt.Sprintf("removed: %s", key)), nil
}

func (s *Server) getAuthoringContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(AuthoringFormatContract), nil
}

func (s *Server) readAuthoringFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "dagaz://authoring-format",
			MIMEType: "text/markdown",
			Text:     AuthoringFormatContract,
		},
	}, nil
}

// coerceStateValue parses a tool value string. With an explicit type it
// parses strictly; otherwise it tries float, then bool, else string.
func coerceStateValue(raw, typ string) (dynamic.Value, error) {
	switch typ {
	case "float":
		f, err := strconv.ParseFloat(raw, 32)
		if err != nil {
			return dynamic.Value{}, fmt.Errorf("not a float: %q", raw)
		}
		return dynamic.Float(float32(f)), nil
	case "int":
		i, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return dynamic.Value{}, fmt.Errorf("not an int: %q", raw)
		}
		return dynamic.Int(int32(i)), nil
	case "bool":
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return dynamic.Value{}, fmt.Errorf("not a bool: %q", raw)
		}
		return dynamic.Bool(b), nil
	case "string":
		return dynamic.String(raw), nil
	case "instant":
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return dynamic.Value{}, fmt.Errorf("not an RFC 3339 instant: %q", raw)
		}
		return dynamic.Instant(t), nil
	case "":
		if f, err := strconv.ParseFloat(raw, 32); err == nil {
			return dynamic.Float(float32(f)), nil
		}
		if raw == "true" || raw == "false" {
			return dynamic.Bool(raw == "true"), nil
		}
		return dynamic.String(raw), nil
	default:
		return dynamic.Value{}, fmt.Errorf("unknown type %q, want float, int, bool, string or instant", typ)
	}
}
