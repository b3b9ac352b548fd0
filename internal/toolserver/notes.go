package toolserver

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/wardenhq/warden/internal/store"
)

type notesListArgs struct {
	commonArgs
	TargetUserID *int64 `json:"target_user_id,omitempty"`
}

func (s *Server) notesList(ctx context.Context, args notesListArgs) (res any, err error) {
	sess, err := s.identify(ctx, args.Auth)
	if err != nil {
		return nil, err
	}
	defer func() {
		s.finishAudit(ctx, sess, "notes.list", map[string]any{"target_user_id": args.TargetUserID},
			args.AgentRunID, err)
	}()

	target, err := s.engine.Authorize(ctx, sess.identity, "notes:list", args.TargetUserID)
	if err != nil {
		return nil, err
	}
	notes, err := s.store.ListNotes(ctx, target)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(notes))
	for _, note := range notes {
		items = append(items, map[string]any{"id": note.ID, "title": note.Title, "content": note.Body})
	}
	return items, nil
}

type notesCreateArgs struct {
	commonArgs
	Title        string `json:"title"`
	Content      string `json:"content"`
	TargetUserID *int64 `json:"target_user_id,omitempty"`
}

func (s *Server) notesCreate(ctx context.Context, args notesCreateArgs) (res any, err error) {
	sess, err := s.identify(ctx, args.Auth)
	if err != nil {
		return nil, err
	}
	defer func() {
		s.finishAudit(ctx, sess, "notes.create", map[string]any{
			"title": args.Title, "target_user_id": args.TargetUserID,
		}, args.AgentRunID, err)
	}()

	target, err := s.engine.Authorize(ctx, sess.identity, "notes:create", args.TargetUserID)
	if err != nil {
		return nil, err
	}
	note, err := s.store.CreateNote(ctx, target, args.Title, args.Content)
	if err != nil {
		return nil, err
	}

	if target != sess.identity.UserID {
		payload, _ := json.Marshal(map[string]any{
			"resource_type": "note",
			"resource_id":   note.ID,
			"actor_user_id": sess.identity.UserID,
		})
		if notifyErr := s.store.Notify(ctx, target, store.EventNoteAssigned, note.ID, string(payload)); notifyErr != nil {
			s.logger.Warn("note assignment notification failed", "note_id", note.ID, "error", notifyErr)
		}
	}

	return map[string]any{"id": note.ID, "title": note.Title}, nil
}

type notesUpdateArgs struct {
	commonArgs
	NoteID       int64  `json:"note_id"`
	Title        string `json:"title,omitempty"`
	Content      string `json:"content,omitempty"`
	TargetUserID *int64 `json:"target_user_id,omitempty"`
}

func (s *Server) notesUpdate(ctx context.Context, args notesUpdateArgs) (res any, err error) {
	if strings.TrimSpace(args.Title) == "" && strings.TrimSpace(args.Content) == "" {
		return nil, errNoUpdateFields()
	}

	sess, err := s.identify(ctx, args.Auth)
	if err != nil {
		return nil, err
	}
	defer func() {
		s.finishAudit(ctx, sess, "notes.update", map[string]any{
			"note_id": args.NoteID, "title": args.Title, "target_user_id": args.TargetUserID,
		}, args.AgentRunID, err)
	}()

	target, err := s.engine.Authorize(ctx, sess.identity, "notes:update", args.TargetUserID)
	if err != nil {
		return nil, err
	}
	note, err := s.store.UpdateNote(ctx, args.NoteID, target, args.Title, args.Content)
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": note.ID, "title": note.Title, "content": note.Body}, nil
}

type notesDeleteArgs struct {
	commonArgs
	NoteID       int64  `json:"note_id"`
	TargetUserID *int64 `json:"target_user_id,omitempty"`
}

func (s *Server) notesDelete(ctx context.Context, args notesDeleteArgs) (res any, err error) {
	sess, err := s.identify(ctx, args.Auth)
	if err != nil {
		return nil, err
	}
	defer func() {
		s.finishAudit(ctx, sess, "notes.delete", map[string]any{
			"note_id": args.NoteID, "target_user_id": args.TargetUserID,
		}, args.AgentRunID, err)
	}()

	target, err := s.engine.Authorize(ctx, sess.identity, "notes:delete", args.TargetUserID)
	if err != nil {
		return nil, err
	}
	if err = s.store.DeleteNote(ctx, args.NoteID, target); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}
