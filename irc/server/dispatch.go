package server

import (
	"errors"
	"sync"

	"github.com/presbrey/chansync/irc"
)

var (
	// ErrUnknownCommand is returned by Dispatch when no handler is registered.
	ErrUnknownCommand = errors.New("unknown command")

	// errClosing asks the read loop to close the connection.
	errClosing = errors.New("connection closing")
)

// Params carries the context of one inbound message.
type Params struct {
	Server   *Server
	Link     *Link
	Session  *Session
	Message  *irc.Message
	RawInput string
}

// HandlerFunc handles one command. A returned error closes the connection.
type HandlerFunc func(p *Params) error

// Dispatcher maps commands to handlers.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]HandlerFunc
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string][]HandlerFunc),
	}
}

// RegisterHandler adds h to the handlers of command. Handlers run in
// registration order.
func (d *Dispatcher) RegisterHandler(command string, h HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[command] = append(d.handlers[command], h)
}

// Dispatch runs the handlers of p.Message.Command and stops at the first
// error.
func (d *Dispatcher) Dispatch(p *Params) error {
	d.mu.RLock()
	handlers := d.handlers[p.Message.Command]
	d.mu.RUnlock()

	if len(handlers) == 0 {
		return ErrUnknownCommand
	}
	for _, h := range handlers {
		if err := h(p); err != nil {
			return err
		}
	}
	return nil
}
