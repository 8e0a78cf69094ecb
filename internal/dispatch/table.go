// Package dispatch routes decoded frames to the handler registered for their
// type keyword.
package dispatch

import (
	"strings"

	"github.com/omochice/imclink/pkg/protocol"
	"go.uber.org/zap"
)

// Handler reacts to one decoded frame.
type Handler func(f protocol.Frame)

// Route binds a frame type to its handler.
type Route struct {
	Type    string
	Handler Handler
}

// Table is an immutable type-to-handler mapping built once at startup.
type Table struct {
	handlers map[string]Handler
	log      *zap.Logger
	dropped  int
}

// New builds a Table from routes. Types are case folded; a later route for
// the same type replaces an earlier one.
func New(log *zap.Logger, routes ...Route) *Table {
	if log == nil {
		log = zap.NewNop()
	}
	t := &Table{
		handlers: make(map[string]Handler, len(routes)),
		log:      log,
	}
	for _, r := range routes {
		if r.Handler == nil {
			continue
		}
		t.handlers[strings.ToLower(r.Type)] = r.Handler
	}
	return t
}

// Dispatch invokes the handler for f.Type and reports whether one existed.
// Frames of unknown type are dropped.
func (t *Table) Dispatch(f protocol.Frame) bool {
	h, ok := t.handlers[strings.ToLower(f.Type)]
	if !ok {
		t.dropped++
		t.log.Debug("no handler for frame", zap.String("type", f.Type), zap.String("source", f.Source))
		return false
	}
	h(f)
	return true
}

// Handles reports whether a handler is registered for typ.
func (t *Table) Handles(typ string) bool {
	_, ok := t.handlers[strings.ToLower(typ)]
	return ok
}

// Len returns the number of registered frame types.
func (t *Table) Len() int {
	return len(t.handlers)
}

// Dropped returns how many frames had no handler.
func (t *Table) Dropped() int {
	return t.dropped
}
