package agentbridge

import "errors"

// Emitter pushes events to the caller (a UI, a terminal, a websocket hub).
//
// Emit must not block for long: it runs on the session's dispatch path.
// An error from Emit for EventPermissionRequest means nobody can answer the
// request; the session cancels it instead of waiting.
type Emitter interface {
	Emit(event string, payload any) error
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(event string, payload any) error

// Emit calls f(event, payload).
func (f EmitterFunc) Emit(event string, payload any) error { return f(event, payload) }

// ErrNoReceiver is returned by Discard for permission requests.
var ErrNoReceiver = errors.New("agentbridge: no receiver for event")

// Discard is an Emitter that drops stream chunks. It refuses permission
// requests, so sessions cancel them instead of waiting for an answer that
// cannot come.
var Discard Emitter = EmitterFunc(func(event string, _ any) error {
	if event == EventPermissionRequest {
		return ErrNoReceiver
	}
	return nil
})
