package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ugaemi/patrol-server/internal/protocol"
	"github.com/ugaemi/patrol-server/internal/visibility"
	"github.com/ugaemi/patrol-server/internal/ws"
)

const (
	actionTimeout   = 5 * time.Second
	actionQueueSize = 64
)

// Router dispatches incoming messages to the appropriate handler.
//
// Hello, pose and envelope validation run on the hub goroutine. Validated
// actions run on one worker per client, in arrival order.
type Router struct {
	hub        *ws.Hub
	dispatcher *Dispatcher
	validator  *protocol.Validator
	areaID     uint64

	mu      sync.Mutex
	workers map[*ws.Client]chan func()
}

// NewRouter creates a new message router.
func NewRouter(hub *ws.Hub, dispatcher *Dispatcher, validator *protocol.Validator, areaID uint64) *Router {
	return &Router{
		hub:        hub,
		dispatcher: dispatcher,
		validator:  validator,
		areaID:     areaID,
		workers:    make(map[*ws.Client]chan func()),
	}
}

// HandleMessage parses and routes an incoming client message.
func (r *Router) HandleMessage(cm *ws.ClientMessage) {
	var msg ws.Message
	if err := json.Unmarshal(cm.Data, &msg); err != nil {
		slog.Warn("invalid message format", "client", cm.Client.ID, "error", err)
		cm.Client.SendMessage(ws.NewErrorMessage("invalid message format"))
		return
	}

	// Hello is always allowed
	if msg.Type == ws.TypeHello {
		r.HandleHello(cm.Client, msg)
		return
	}

	// Session guard: block clients that have not said hello
	if !cm.Client.Bound {
		cm.Client.SendMessage(ws.NewErrorMessage("hello required"))
		return
	}

	switch msg.Type {
	case ws.TypePose:
		r.HandlePose(cm.Client, msg)
	case ws.TypeAction:
		r.HandleAction(cm.Client, msg)

	default:
		slog.Warn("unknown message type", "type", msg.Type, "client", cm.Client.ID)
		cm.Client.SendMessage(ws.NewErrorMessage("unknown message type: " + msg.Type))
	}
}

// HandleAction validates an action envelope and dispatches it on behalf of
// the client's player.
func (r *Router) HandleAction(client *ws.Client, msg ws.Message) {
	if r.validator != nil {
		if err := r.validator.Validate(msg.Data); err != nil {
			slog.Warn("invalid action", "client", client.ID, "error", err)
			client.SendMessage(ws.NewErrorMessage("invalid action"))
			return
		}
	}

	var action protocol.Action
	if err := json.Unmarshal(msg.Data, &action); err != nil {
		client.SendMessage(ws.NewErrorMessage("invalid action"))
		return
	}
	action.PlayerID = client.PlayerID

	if !r.enqueue(client, func() { r.dispatch(action) }) {
		slog.Warn("action not queued, dropping", "client", client.ID, "action", action.ActionID)
	}
}

func (r *Router) dispatch(action protocol.Action) {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	err := r.dispatcher.Dispatch(ctx, action)
	switch {
	case err == nil:
		slog.Debug("action handled", "player", action.PlayerID, "action", action.ActionID)
	case errors.Is(err, ErrRateLimited), errors.Is(err, visibility.ErrSampleUnmatched):
		slog.Debug("action dropped", "player", action.PlayerID, "action", action.ActionID, "reason", err)
	default:
		slog.Warn("action failed", "player", action.PlayerID, "action", action.ActionID, "error", err)
	}
}

// enqueue hands job to the client's worker, starting it on first use.
func (r *Router) enqueue(client *ws.Client, job func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if client.Closed() {
		return false
	}
	queue, ok := r.workers[client]
	if !ok {
		queue = make(chan func(), actionQueueSize)
		r.workers[client] = queue
		go func() {
			for job := range queue {
				job()
			}
		}()
	}

	select {
	case queue <- job:
		return true
	default:
		return false
	}
}

// HandleDisconnect stops the client's worker once its queued actions ran.
func (r *Router) HandleDisconnect(client *ws.Client) {
	r.mu.Lock()
	if queue, ok := r.workers[client]; ok {
		close(queue)
		delete(r.workers, client)
	}
	r.mu.Unlock()

	if client.PlayerID != 0 {
		slog.Debug("player session closed", "player", client.PlayerID, "client", client.ID)
	}
}
