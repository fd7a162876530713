package syncer

import (
	"context"
	"fmt"
	"sync"

	"github.com/mrlokans/shelfsync/internal/entities"
	"github.com/mrlokans/shelfsync/internal/errs"
)

// HandlerFunc applies one queued action to the remote service.
type HandlerFunc func(ctx context.Context, action entities.QueuedAction) error

// Router dispatches actions to the handler registered for their type.
type Router struct {
	mu       sync.RWMutex
	handlers map[entities.ActionType]HandlerFunc
}

func NewRouter() *Router {
	return &Router{handlers: make(map[entities.ActionType]HandlerFunc)}
}

// Handle registers h for t, replacing any previous handler.
func (r *Router) Handle(t entities.ActionType, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
}

// Dispatch runs the handler for action.Type. Actions without a handler fail.
func (r *Router) Dispatch(ctx context.Context, action entities.QueuedAction) error {
	r.mu.RLock()
	h, ok := r.handlers[action.Type]
	r.mu.RUnlock()
	if !ok {
		return errs.Newf(errs.CodeDispatchFailed, "no handler for action type %q", action.Type)
	}
	if err := h(ctx, action); err != nil {
		return fmt.Errorf("%s %s: %w", action.Type, action.ID, err)
	}
	return nil
}
