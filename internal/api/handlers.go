package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/dagaz/internal/apperr"
	"github.com/starford/dagaz/internal/dynamic"
	"github.com/starford/dagaz/internal/manager"
	"github.com/starford/dagaz/internal/metrics"
	"github.com/starford/dagaz/internal/record"
	"github.com/starford/dagaz/internal/source"
	"github.com/starford/dagaz/internal/wire"
)

// maxRecordBody caps pushed record payloads, JSON or binary.
const maxRecordBody = 1 << 20

// StateEvents receives notifications about state store changes made
// through the API. *sse.Broker satisfies it.
type StateEvents interface {
	PublishStateChanged(key string)
}

// Handler holds API route handlers.
type Handler struct {
	mgr     *manager.Manager
	states  *source.MemoryStateStore
	events  StateEvents
	metrics *metrics.Metrics
}

// NewHandler creates a new Handler. metr may be nil.
func NewHandler(mgr *manager.Manager, states *source.MemoryStateStore, events StateEvents, metr *metrics.Metrics) *Handler {
	return &Handler{mgr: mgr, states: states, events: events, metrics: metr}
}

// ListSlots handles GET /api/slots.
//
//	@Summary		List complication slots
//	@Tags			slots
//	@Produce		json
//	@Success		200	{object}	SlotListResponse
//	@Security		BearerAuth
//	@Router			/slots [get]
func (h *Handler) ListSlots(w http.ResponseWriter, r *http.Request) {
	entries := h.mgr.Slots()
	items := make([]SlotListItem, 0, len(entries))
	for _, e := range entries {
		dyn := false
		if rec, err := h.mgr.Stored(e.SlotID); err == nil {
			dyn = rec.HasExpressions()
		}
		items = append(items, SlotListItem{
			SlotID:    e.SlotID,
			Kind:      e.Kind.String(),
			Dynamic:   dyn,
			UpdatedAt: e.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, SlotListResponse{Slots: items, Total: len(items)})
}

// UpsertSlot handles PUT /api/slots/{slotID}.
//
// The body is either the JSON authoring form (RecordDTO) or, with
// Content-Type application/octet-stream, the binary wire format.
//
//	@Summary		Push a complication record into a slot
//	@Tags			slots
//	@Accept			json
//	@Param			slotID	path	string		true	"Slot id"
//	@Param			body	body	RecordDTO	true	"Record to push"
//	@Success		204		"Record accepted"
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/slots/{slotID} [put]
func (h *Handler) UpsertSlot(w http.ResponseWriter, r *http.Request) {
	slotID := chi.URLParam(r, "slotID")
	r.Body = http.MaxBytesReader(w, r.Body, maxRecordBody)

	var rec record.Record
	if isBinary(r.Header.Get("Content-Type")) {
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
			return
		}
		rec, err = wire.Unmarshal(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid wire payload: "+err.Error()))
			return
		}
	} else {
		var dto RecordDTO
		if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
			return
		}
		var err error
		rec, err = RecordFromDTO(dto)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
			return
		}
	}

	if err := h.mgr.Upsert(slotID, rec); err != nil {
		switch {
		case errors.Is(err, apperr.ErrInvalid):
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		case errors.Is(err, apperr.ErrClosed):
			writeJSON(w, http.StatusServiceUnavailable, errorBody("shutting down"))
		default:
			slog.Error("upsert slot failed", slog.String("slot", slotID), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSlot handles GET /api/slots/{slotID}, returning the record as
// pushed, expressions intact. Accept: application/octet-stream selects
// the binary wire format.
//
//	@Summary		Read a slot's stored record
//	@Tags			slots
//	@Produce		json
//	@Param			slotID	path		string	true	"Slot id"
//	@Success		200		{object}	RecordDTO
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/slots/{slotID} [get]
func (h *Handler) GetSlot(w http.ResponseWriter, r *http.Request) {
	slotID := chi.URLParam(r, "slotID")
	rec, err := h.mgr.Stored(slotID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("get slot failed", slog.String("slot", slotID), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}

	if isBinary(r.Header.Get("Accept")) {
		raw, err := wire.Marshal(rec)
		if err != nil {
			slog.Error("marshal slot failed", slog.String("slot", slotID), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
			return
		}
		writeWire(w, raw)
		return
	}
	writeJSON(w, http.StatusOK, RecordToDTO(rec))
}

// EvaluatedSlot handles GET /api/slots/{slotID}/evaluated, returning
// the latest evaluation snapshot. A dynamic slot whose sources have not
// resolved yet reads as a bare no_data record.
//
//	@Summary		Read a slot's latest evaluated snapshot
//	@Tags			slots
//	@Produce		json
//	@Param			slotID	path		string	true	"Slot id"
//	@Success		200		{object}	RecordDTO
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/slots/{slotID}/evaluated [get]
func (h *Handler) EvaluatedSlot(w http.ResponseWriter, r *http.Request) {
	slotID := chi.URLParam(r, "slotID")
	rec, ok := h.mgr.Latest(slotID)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	writeJSON(w, http.StatusOK, RecordToDTO(rec))
}

// DeleteSlot handles DELETE /api/slots/{slotID}.
//
//	@Summary		Remove a slot and its stored record
//	@Tags			slots
//	@Param			slotID	path	string	true	"Slot id"
//	@Success		204		"Slot deleted"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/slots/{slotID} [delete]
func (h *Handler) DeleteSlot(w http.ResponseWriter, r *http.Request) {
	slotID := chi.URLParam(r, "slotID")
	if err := h.mgr.Delete(slotID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("delete slot failed", slog.String("slot", slotID), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetState handles GET /api/state.
//
//	@Summary		Read the full host state store
//	@Tags			state
//	@Produce		json
//	@Success		200	{object}	StateResponse
//	@Security		BearerAuth
//	@Router			/state [get]
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	snap := h.states.Snapshot()
	out := make(map[string]StateValueDTO, len(snap))
	for k, v := range snap {
		out[k] = StateValueToDTO(v)
	}
	writeJSON(w, http.StatusOK, StateResponse{State: out})
}

// GetStateKey handles GET /api/state/{key}.
//
//	@Summary		Read one state store key
//	@Tags			state
//	@Produce		json
//	@Param			key	path		string	true	"State key"
//	@Success		200	{object}	StateValueDTO
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/state/{key} [get]
func (h *Handler) GetStateKey(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	v, ok := h.states.Lookup(key)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	writeJSON(w, http.StatusOK, StateValueToDTO(v))
}

// PutStateKey handles PUT /api/state/{key}.
//
// The body is either a bare JSON scalar (number, string or bool) or the
// typed form {"type": "...", "value": ...} for int and instant values.
//
//	@Summary		Set one state store key
//	@Tags			state
//	@Accept			json
//	@Param			key		path	string			true	"State key"
//	@Param			body	body	StateValueDTO	true	"Value"
//	@Success		204		"Value stored"
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/state/{key} [put]
func (h *Handler) PutStateKey(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return
	}
	v, err := parseStateValue(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	h.states.Set(key, v)
	h.events.PublishStateChanged(key)
	h.metrics.SetStateKeys(h.states.Len())
	w.WriteHeader(http.StatusNoContent)
}

// DeleteStateKey handles DELETE /api/state/{key}. Removing an absent
// key succeeds.
//
//	@Summary		Remove one state store key
//	@Tags			state
//	@Param			key	path	string	true	"State key"
//	@Success		204	"Key removed"
//	@Security		BearerAuth
//	@Router			/state/{key} [delete]
func (h *Handler) DeleteStateKey(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	h.states.Delete(key)
	h.events.PublishStateChanged(key)
	h.metrics.SetStateKeys(h.states.Len())
	w.WriteHeader(http.StatusNoContent)
}

// parseStateValue decodes a state value body: a bare JSON scalar or the
// typed {type, value} form.
func parseStateValue(body []byte) (dynamic.Value, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return dynamic.Value{}, errors.New("empty body")
	}

	switch trimmed[0] {
	case '{':
		var dto StateValueDTO
		if err := json.Unmarshal(body, &dto); err != nil {
			return dynamic.Value{}, errors.New("invalid JSON body")
		}
		return valueFromJSON(dto.Type, dto.Value)
	case '"':
		var s string
		if err := json.Unmarshal(body, &s); err != nil {
			return dynamic.Value{}, errors.New("invalid JSON string")
		}
		return dynamic.String(s), nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(body, &b); err != nil {
			return dynamic.Value{}, errors.New("invalid JSON value")
		}
		return dynamic.Bool(b), nil
	default:
		var f float32
		if err := json.Unmarshal(body, &f); err != nil {
			return dynamic.Value{}, errors.New("invalid JSON value")
		}
		return dynamic.Float(f), nil
	}
}

func isBinary(header string) bool {
	return strings.Contains(header, "application/octet-stream")
}
