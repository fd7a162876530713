package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/mikestefanello/backlite"
)

// Priority decides when a submitted task may start.
type Priority string

const (
	PriorityImmediate  Priority = "immediate"
	PriorityBackground Priority = "background"
)

// ParsePriority maps a request value to a Priority. Empty means immediate.
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case "", PriorityImmediate:
		return PriorityImmediate, nil
	case PriorityBackground:
		return PriorityBackground, nil
	}
	return "", fmt.Errorf("unknown task priority %q", s)
}

// Enqueuer is the part of Client the submitter needs.
type Enqueuer interface {
	Add(tasks ...backlite.Task) *backlite.TaskAddOp
}

// Submitter hands tasks to the task queue. Background tasks are delayed so
// they do not compete with the work that triggered them.
type Submitter struct {
	client Enqueuer
	delay  time.Duration
}

func NewSubmitter(client Enqueuer, backgroundDelay time.Duration) *Submitter {
	return &Submitter{client: client, delay: backgroundDelay}
}

// Submit enqueues task and returns its id.
func (s *Submitter) Submit(ctx context.Context, task backlite.Task, priority Priority) (string, error) {
	op := s.client.Add(task).Ctx(ctx)
	if priority == PriorityBackground && s.delay > 0 {
		op = op.Wait(s.delay)
	}

	ids, err := op.Save()
	if err != nil {
		return "", fmt.Errorf("submit %s: %w", task.Config().Name, err)
	}
	if len(ids) == 0 {
		return "", fmt.Errorf("submit %s: no task id returned", task.Config().Name)
	}
	return ids[0], nil
}
