// Package signal provides script-visible connections to named signals.
//
// Connections live in a flat append-only list. An index handed out by
// Register or Connect stays valid for the lifetime of the hub and is never
// reused; disconnecting releases the callback, after which the connection
// can never fire again.
//
// Callbacks run synchronously on the caller's Lua thread. A callback that
// raises is reported to the error sink and logged; other connections still
// run and the fault never reaches the caller.
package signal

import (
	"sync"

	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/lumen/internal/fault"
	"github.com/dshills/lumen/internal/vm"
)

// record is one connection.
type record struct {
	signal   string
	owner    any
	enabled  bool
	callback *lua.LFunction
	ref      int
}

// Info is a snapshot of one connection.
type Info struct {
	Index     int
	Signal    string
	Owner     any
	Enabled   bool
	Connected bool
	Function  *lua.LFunction
}

// ErrorSink receives callback faults.
type ErrorSink func(err error)

// Hub owns the connection list.
type Hub struct {
	mu    sync.Mutex
	conns []*record

	refs *vm.RefTable
	sink ErrorSink
	log  logrus.FieldLogger
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(h *Hub) {
		if log != nil {
			h.log = log
		}
	}
}

// WithErrorSink sets where callback faults are reported.
func WithErrorSink(sink ErrorSink) Option {
	return func(h *Hub) {
		h.sink = sink
	}
}

// NewHub creates a hub. refs keeps callbacks reachable while connected.
func NewHub(refs *vm.RefTable, opts ...Option) *Hub {
	h := &Hub{
		refs: refs,
		log:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register appends an enabled connection without a signal name and returns
// its index.
func (h *Hub) Register(cb *lua.LFunction) int {
	return h.Connect("", cb, nil)
}

// Connect appends an enabled connection to signal and returns its index.
func (h *Hub) Connect(signal string, cb *lua.LFunction, owner any) int {
	rec := &record{
		signal:   signal,
		owner:    owner,
		enabled:  cb != nil,
		callback: cb,
	}
	if cb != nil {
		rec.ref = h.refs.Ref(cb)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.conns = append(h.conns, rec)
	return len(h.conns) - 1
}

// get returns the record at index or nil. Caller holds h.mu.
func (h *Hub) get(index int) *record {
	if index < 0 || index >= len(h.conns) {
		return nil
	}
	return h.conns[index]
}

// Enable turns a connection on. Out-of-range and disconnected indices are
// ignored.
func (h *Hub) Enable(index int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if rec := h.get(index); rec != nil && rec.callback != nil {
		rec.enabled = true
	}
}

// Disable turns a connection off. Out-of-range indices are ignored.
func (h *Hub) Disable(index int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if rec := h.get(index); rec != nil {
		rec.enabled = false
	}
}

// Disconnect releases the callback of a connection. The index stays valid.
func (h *Hub) Disconnect(index int) {
	h.mu.Lock()
	rec := h.get(index)
	if rec == nil || rec.callback == nil {
		h.mu.Unlock()
		return
	}
	ref := rec.ref
	rec.callback = nil
	rec.enabled = false
	rec.ref = vm.NoRef
	h.mu.Unlock()

	h.refs.Unref(ref)
}

// Fire invokes the callback of one connection on L with args when it is
// enabled. It reports whether the callback ran without raising.
func (h *Hub) Fire(L *lua.LState, index int, args ...lua.LValue) bool {
	h.mu.Lock()
	rec := h.get(index)
	var cb *lua.LFunction
	var signal string
	if rec != nil && rec.enabled {
		cb = rec.callback
		signal = rec.signal
	}
	h.mu.Unlock()

	if cb == nil {
		return false
	}
	return h.invoke(L, index, signal, cb, args)
}

// Emit fires every enabled connection of signal in index order and returns
// how many callbacks ran without raising.
func (h *Hub) Emit(L *lua.LState, signal string, args ...lua.LValue) int {
	type target struct {
		index int
		cb    *lua.LFunction
	}

	h.mu.Lock()
	var targets []target
	for i, rec := range h.conns {
		if rec.signal == signal && rec.enabled && rec.callback != nil {
			targets = append(targets, target{index: i, cb: rec.callback})
		}
	}
	h.mu.Unlock()

	ok := 0
	for _, t := range targets {
		if h.invoke(L, t.index, signal, t.cb, args) {
			ok++
		}
	}
	return ok
}

// invoke runs cb without holding the lock and reports faults.
func (h *Hub) invoke(L *lua.LState, index int, signal string, cb *lua.LFunction, args []lua.LValue) bool {
	if _, err := vm.Invoke(L, cb, args...); err != nil {
		ferr := &fault.Error{
			Kind:    fault.KindCallbackFault,
			Op:      "signal",
			Message: "connection callback raised",
			Err:     err,
		}
		h.log.WithFields(logrus.Fields{
			"signal": signal,
			"index":  index,
		}).WithError(err).Error("connection callback raised")
		if h.sink != nil {
			h.sink(ferr)
		}
		return false
	}
	return true
}

// Info returns a snapshot of one connection.
func (h *Hub) Info(index int) (Info, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec := h.get(index)
	if rec == nil {
		return Info{}, false
	}
	return rec.info(index), true
}

// Connections returns snapshots of the live connections of signal, or of
// every live connection when signal is empty. Disconnected entries are
// omitted.
func (h *Hub) Connections(signal string) []Info {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []Info
	for i, rec := range h.conns {
		if rec.callback == nil {
			continue
		}
		if signal != "" && rec.signal != signal {
			continue
		}
		out = append(out, rec.info(i))
	}
	return out
}

func (r *record) info(index int) Info {
	return Info{
		Index:     index,
		Signal:    r.signal,
		Owner:     r.owner,
		Enabled:   r.enabled,
		Connected: r.callback != nil,
		Function:  r.callback,
	}
}

// Len returns the number of indices handed out.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// DisconnectOwner disconnects every connection owned by owner.
func (h *Hub) DisconnectOwner(owner any) int {
	h.mu.Lock()
	var indices []int
	for i, rec := range h.conns {
		if rec.owner == owner && rec.callback != nil {
			indices = append(indices, i)
		}
	}
	h.mu.Unlock()

	for _, i := range indices {
		h.Disconnect(i)
	}
	return len(indices)
}

// Reown hands every live connection owned by from over to to and returns
// how many moved.
func (h *Hub) Reown(from, to any) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for _, rec := range h.conns {
		if rec.owner == from && rec.callback != nil {
			rec.owner = to
			n++
		}
	}
	return n
}

// Reset releases every callback and empties the list.
func (h *Hub) Reset() {
	h.mu.Lock()
	conns := h.conns
	h.conns = nil
	h.mu.Unlock()

	for _, rec := range conns {
		h.refs.Unref(rec.ref)
	}
}
