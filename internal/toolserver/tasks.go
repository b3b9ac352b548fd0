package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wardenhq/warden/internal/store"
)

type tasksListArgs struct {
	commonArgs
	DueOn        string `json:"due_on,omitempty"`
	Completed    *bool  `json:"completed,omitempty"`
	TargetUserID *int64 `json:"target_user_id,omitempty"`
}

func (s *Server) tasksList(ctx context.Context, args tasksListArgs) (res any, err error) {
	sess, err := s.identify(ctx, args.Auth)
	if err != nil {
		return nil, err
	}
	defer func() {
		s.finishAudit(ctx, sess, "tasks.list", map[string]any{
			"due_on": args.DueOn, "completed": args.Completed, "target_user_id": args.TargetUserID,
		}, args.AgentRunID, err)
	}()

	target, err := s.engine.Authorize(ctx, sess.identity, "tasks:list", args.TargetUserID)
	if err != nil {
		return nil, err
	}
	dueFilter := ""
	if strings.TrimSpace(args.DueOn) != "" {
		dueFilter, err = resolveDueOn(args.DueOn, s.now().In(sess.loc))
		if err != nil {
			return nil, err
		}
	}

	tasks, err := s.store.ListTasks(ctx, target, true)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(tasks))
	for _, task := range tasks {
		if dueFilter != "" && task.DueOn != dueFilter {
			continue
		}
		done := task.Status == store.TaskStatusDone
		if args.Completed != nil && done != *args.Completed {
			continue
		}
		items = append(items, taskPayload(task))
	}
	return items, nil
}

type tasksCreateArgs struct {
	commonArgs
	Title        string `json:"title"`
	DueOn        string `json:"due_on,omitempty"`
	TargetUserID *int64 `json:"target_user_id,omitempty"`
}

func (s *Server) tasksCreate(ctx context.Context, args tasksCreateArgs) (res any, err error) {
	sess, err := s.identify(ctx, args.Auth)
	if err != nil {
		return nil, err
	}
	defer func() {
		s.finishAudit(ctx, sess, "tasks.create", map[string]any{
			"title": args.Title, "due_on": args.DueOn, "target_user_id": args.TargetUserID,
		}, args.AgentRunID, err)
	}()

	target, err := s.engine.Authorize(ctx, sess.identity, "tasks:create", args.TargetUserID)
	if err != nil {
		return nil, err
	}
	dueOn, err := resolveDueOn(args.DueOn, s.now().In(sess.loc))
	if err != nil {
		return nil, err
	}

	task, err := s.store.CreateTask(ctx, store.CreateTaskInput{
		UserID:          target,
		Title:           args.Title,
		DueOn:           dueOn,
		CreatedByUserID: sess.identity.UserID,
	})
	if err != nil {
		return nil, err
	}

	if target != sess.identity.UserID {
		payload, _ := json.Marshal(map[string]any{
			"resource_type": "task",
			"resource_id":   task.ID,
			"actor_user_id": sess.identity.UserID,
		})
		if notifyErr := s.store.Notify(ctx, target, store.EventTaskAssigned, task.ID, string(payload)); notifyErr != nil {
			s.logger.Warn("task assignment notification failed", "task_id", task.ID, "error", notifyErr)
		}
	}

	return map[string]any{"id": task.ID, "title": task.Title}, nil
}

type tasksUpdateArgs struct {
	commonArgs
	TaskID       int64  `json:"task_id"`
	Title        string `json:"title,omitempty"`
	DueOn        string `json:"due_on,omitempty"`
	Completed    *bool  `json:"completed,omitempty"`
	TargetUserID *int64 `json:"target_user_id,omitempty"`
}

func (s *Server) tasksUpdate(ctx context.Context, args tasksUpdateArgs) (res any, err error) {
	if strings.TrimSpace(args.Title) == "" && strings.TrimSpace(args.DueOn) == "" && args.Completed == nil {
		return nil, errNoUpdateFields()
	}

	sess, err := s.identify(ctx, args.Auth)
	if err != nil {
		return nil, err
	}
	defer func() {
		s.finishAudit(ctx, sess, "tasks.update", map[string]any{
			"task_id": args.TaskID, "title": args.Title, "due_on": args.DueOn,
			"completed": args.Completed, "target_user_id": args.TargetUserID,
		}, args.AgentRunID, err)
	}()

	target, err := s.engine.Authorize(ctx, sess.identity, "tasks:update", args.TargetUserID)
	if err != nil {
		return nil, err
	}

	task, err := s.store.LookupTask(ctx, args.TaskID)
	if err != nil {
		return nil, err
	}
	if task.UserID != target {
		return nil, store.ErrTaskNotFound
	}

	if strings.TrimSpace(args.Title) != "" || strings.TrimSpace(args.DueOn) != "" {
		dueOn := ""
		if strings.TrimSpace(args.DueOn) != "" {
			dueOn, err = resolveDueOn(args.DueOn, s.now().In(sess.loc))
			if err != nil {
				return nil, err
			}
		}
		task, err = s.store.UpdateTask(ctx, store.UpdateTaskInput{
			ID:     args.TaskID,
			UserID: target,
			Title:  strings.TrimSpace(args.Title),
			DueOn:  dueOn,
		})
		if err != nil {
			return nil, err
		}
	}
	if args.Completed != nil {
		if !*args.Completed {
			return nil, fmt.Errorf("reopening a completed task is not supported")
		}
		task, err = s.store.CompleteTask(ctx, args.TaskID, target)
		if err != nil {
			return nil, err
		}
	}

	return taskPayload(task), nil
}

type tasksCompleteArgs struct {
	commonArgs
	TaskID       int64  `json:"task_id"`
	TargetUserID *int64 `json:"target_user_id,omitempty"`
}

func (s *Server) tasksComplete(ctx context.Context, args tasksCompleteArgs) (res any, err error) {
	sess, err := s.identify(ctx, args.Auth)
	if err != nil {
		return nil, err
	}
	defer func() {
		s.finishAudit(ctx, sess, "tasks.complete", map[string]any{
			"task_id": args.TaskID, "target_user_id": args.TargetUserID,
		}, args.AgentRunID, err)
	}()

	target, err := s.engine.Authorize(ctx, sess.identity, "tasks:complete", args.TargetUserID)
	if err != nil {
		return nil, err
	}
	task, err := s.store.CompleteTask(ctx, args.TaskID, target)
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": task.ID, "title": task.Title, "completed": true}, nil
}

type tasksDeleteArgs struct {
	commonArgs
	TaskID       int64  `json:"task_id"`
	TargetUserID *int64 `json:"target_user_id,omitempty"`
}

func (s *Server) tasksDelete(ctx context.Context, args tasksDeleteArgs) (res any, err error) {
	sess, err := s.identify(ctx, args.Auth)
	if err != nil {
		return nil, err
	}
	defer func() {
		s.finishAudit(ctx, sess, "tasks.delete", map[string]any{
			"task_id": args.TaskID, "target_user_id": args.TargetUserID,
		}, args.AgentRunID, err)
	}()

	target, err := s.engine.Authorize(ctx, sess.identity, "tasks:delete", args.TargetUserID)
	if err != nil {
		return nil, err
	}
	if err = s.store.DeleteTask(ctx, args.TaskID, target); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

func taskPayload(task store.TaskRecord) map[string]any {
	var dueOn any
	if task.DueOn != "" {
		dueOn = task.DueOn
	}
	return map[string]any{
		"id":        task.ID,
		"title":     task.Title,
		"due_on":    dueOn,
		"completed": task.Status == store.TaskStatusDone,
	}
}
