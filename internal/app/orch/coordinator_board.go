package orch

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/studyroom/internal/domain"
)

// PostMessage appends to the room's chat stream. The append and the
// message_posted broadcast happen in the same loop iteration, so every
// subscriber observes messages in commit order.
func (c *Coordinator) PostMessage(ctx context.Context, user *domain.User, body string) (*domain.Message, error) {
	var msg *domain.Message
	err := c.do(ctx, func() error {
		m, err := domain.NewMessage(c.room.ID, user, body, c.orch.Clock())
		if err != nil {
			return err
		}
		opCtx, cancel := c.opCtx()
		defer cancel()
		if err := c.orch.Store.AppendMessage(opCtx, m); err != nil {
			return c.storeErr(err)
		}
		evt := domain.NewEvent(domain.EventMessagePosted, c.room.ID, m.CreatedAt)
		evt.Message = m
		c.publish(evt)
		msg = m
		return nil
	})
	return msg, err
}

func (c *Coordinator) CreateTask(ctx context.Context, user *domain.User, title, description string, priority domain.TaskPriority, estimateMin int) (*domain.Task, error) {
	var task *domain.Task
	err := c.do(ctx, func() error {
		t, err := domain.NewTask(c.room.ID, user.ID, title, description, priority, c.orch.Clock())
		if err != nil {
			return err
		}
		t.EstimateMin = estimateMin
		opCtx, cancel := c.opCtx()
		defer cancel()
		if err := c.orch.Store.CreateTask(opCtx, t); err != nil {
			return c.storeErr(err)
		}
		evt := domain.NewEvent(domain.EventTaskChanged, c.room.ID, t.CreatedAt)
		evt.Task = t
		c.publish(evt)
		task = t
		return nil
	})
	return task, err
}

// UpdateTask applies a field patch. Any participant may transition status;
// the monotonic-transition rule is enforced by the patch itself.
func (c *Coordinator) UpdateTask(ctx context.Context, id domain.TaskID, patch domain.TaskPatch) (*domain.Task, error) {
	var task *domain.Task
	err := c.do(ctx, func() error {
		opCtx, cancel := c.opCtx()
		defer cancel()
		t, err := c.orch.Store.UpdateTask(opCtx, id, patch, c.orch.Clock())
		if err != nil {
			return c.storeErr(err)
		}
		evt := domain.NewEvent(domain.EventTaskChanged, c.room.ID, t.UpdatedAt)
		evt.Task = t
		c.publish(evt)
		task = t
		log.Debug().Str("module", "orch").Str("room", string(c.room.ID)).
			Str("task", string(t.ID)).Str("status", string(t.Status)).Msg("task updated")
		return nil
	})
	return task, err
}
