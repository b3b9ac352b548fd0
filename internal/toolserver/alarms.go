package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/wardenhq/warden/internal/store"
)

const permAlarmsSet = "alarms:set"
const permAlarmsReceive = "alarms:receive"

type alarmsSetArgs struct {
	commonArgs
	Title        string `json:"title"`
	FireAt       string `json:"fire_at"`
	RepeatCron   string `json:"repeat_cron,omitempty"`
	TargetUserID *int64 `json:"target_user_id,omitempty"`
}

func (s *Server) alarmsSet(ctx context.Context, args alarmsSetArgs) (res any, err error) {
	sess, err := s.identify(ctx, args.Auth)
	if err != nil {
		return nil, err
	}
	defer func() {
		s.finishAudit(ctx, sess, "alarms.set", map[string]any{
			"title": args.Title, "fire_at": args.FireAt, "target_user_id": args.TargetUserID,
		}, args.AgentRunID, err)
	}()

	target, err := s.engine.Authorize(ctx, sess.identity, permAlarmsSet, args.TargetUserID)
	if err != nil {
		return nil, err
	}
	fireAt, err := parseFireAt(args.FireAt, sess.loc, s.now())
	if err != nil {
		return nil, err
	}
	if cron := strings.TrimSpace(args.RepeatCron); cron != "" {
		if _, err = store.ComputeNextFire(cron, sess.loc.String(), s.now()); err != nil {
			return nil, fmt.Errorf("invalid repeat_cron: %w", err)
		}
	}

	alarm, err := s.store.CreateAlarm(ctx, store.CreateAlarmInput{
		UserID:          target,
		Title:           args.Title,
		FireAt:          fireAt,
		FireAtLocal:     fireAt.In(sess.loc).Format(time.RFC3339),
		Timezone:        sess.loc.String(),
		RepeatCron:      strings.TrimSpace(args.RepeatCron),
		CreatedByUserID: sess.identity.UserID,
	})
	if err != nil {
		return nil, err
	}

	if target != sess.identity.UserID {
		payload, _ := json.Marshal(map[string]any{
			"resource_type": "alarm",
			"resource_id":   alarm.ID,
			"actor_user_id": sess.identity.UserID,
		})
		if notifyErr := s.store.Notify(ctx, target, store.EventAlarmAssigned, alarm.ID, string(payload)); notifyErr != nil {
			s.logger.Warn("alarm assignment notification failed", "alarm_id", alarm.ID, "error", notifyErr)
		}
	}

	return s.alarmPayload(alarm, sess), nil
}

type alarmsListArgs struct {
	commonArgs
	TargetUserID *int64 `json:"target_user_id,omitempty"`
}

func (s *Server) alarmsList(ctx context.Context, args alarmsListArgs) (res any, err error) {
	sess, err := s.identify(ctx, args.Auth)
	if err != nil {
		return nil, err
	}
	defer func() {
		s.finishAudit(ctx, sess, "alarms.list", map[string]any{"target_user_id": args.TargetUserID},
			args.AgentRunID, err)
	}()

	effectiveTarget := sess.identity.UserID
	if args.TargetUserID == nil || *args.TargetUserID == sess.identity.UserID {
		if err = s.engine.Require(sess.identity, permAlarmsReceive); err != nil {
			return nil, err
		}
	} else {
		effectiveTarget, err = s.engine.Authorize(ctx, sess.identity, permAlarmsSet, args.TargetUserID)
		if err != nil {
			return nil, err
		}
	}

	alarms, err := s.store.ListActiveAlarms(ctx, effectiveTarget)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(alarms))
	for _, alarm := range alarms {
		item := s.alarmPayload(alarm, sess)
		item["creator_user_id"] = alarm.CreatedByUserID
		item["creator_email"] = s.lookupEmail(ctx, alarm.CreatedByUserID)
		items = append(items, item)
	}
	return items, nil
}

type alarmsCancelArgs struct {
	commonArgs
	AlarmID int64 `json:"alarm_id"`
}

func (s *Server) alarmsCancel(ctx context.Context, args alarmsCancelArgs) (res any, err error) {
	sess, err := s.identify(ctx, args.Auth)
	if err != nil {
		return nil, err
	}
	defer func() {
		s.finishAudit(ctx, sess, "alarms.cancel", map[string]any{"alarm_id": args.AlarmID},
			args.AgentRunID, err)
	}()

	alarm, err := s.visibleActiveAlarm(ctx, sess, args.AlarmID)
	if err != nil {
		return nil, err
	}
	if _, err = s.store.CancelAlarm(ctx, alarm.ID, alarm.UserID); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

type alarmsCancelByTitleArgs struct {
	commonArgs
	Title string `json:"title"`
}

func (s *Server) alarmsCancelByTitle(ctx context.Context, args alarmsCancelByTitleArgs) (res any, err error) {
	title := strings.TrimSpace(args.Title)
	if title == "" {
		return nil, fmt.Errorf("title is required")
	}

	sess, err := s.identify(ctx, args.Auth)
	if err != nil {
		return nil, err
	}
	defer func() {
		s.finishAudit(ctx, sess, "alarms.cancel_by_title", map[string]any{"title": title},
			args.AgentRunID, err)
	}()

	alarms, err := s.store.ListActiveAlarms(ctx, sess.identity.UserID)
	if err != nil {
		return nil, err
	}
	matches := []store.AlarmRecord{}
	for _, alarm := range alarms {
		if strings.EqualFold(strings.TrimSpace(alarm.Title), title) {
			matches = append(matches, alarm)
		}
	}
	if len(matches) == 0 {
		return nil, store.ErrAlarmNotFound
	}
	if len(matches) > 1 {
		described := []string{}
		for i, alarm := range matches {
			if i == 5 {
				break
			}
			described = append(described, fmt.Sprintf("id=%d fire_at=%s",
				alarm.ID, alarm.FireAt.In(sess.loc).Format(time.RFC3339)))
		}
		return nil, fmt.Errorf("multiple alarms match this title: %s", strings.Join(described, ", "))
	}

	alarm := matches[0]
	if err = s.requireAlarmRole(sess, alarm); err != nil {
		return nil, err
	}
	if _, err = s.store.CancelAlarm(ctx, alarm.ID, alarm.UserID); err != nil {
		return nil, err
	}

	result := s.alarmPayload(alarm, sess)
	result["ok"] = true
	return result, nil
}

type alarmsUpdateArgs struct {
	commonArgs
	AlarmID int64  `json:"alarm_id"`
	Title   string `json:"title,omitempty"`
	FireAt  string `json:"fire_at,omitempty"`
}

func (s *Server) alarmsUpdate(ctx context.Context, args alarmsUpdateArgs) (res any, err error) {
	if strings.TrimSpace(args.Title) == "" && strings.TrimSpace(args.FireAt) == "" {
		return nil, errNoUpdateFields()
	}

	sess, err := s.identify(ctx, args.Auth)
	if err != nil {
		return nil, err
	}
	defer func() {
		s.finishAudit(ctx, sess, "alarms.update", map[string]any{
			"alarm_id": args.AlarmID, "title": args.Title, "fire_at": args.FireAt,
		}, args.AgentRunID, err)
	}()

	alarm, err := s.visibleActiveAlarm(ctx, sess, args.AlarmID)
	if err != nil {
		return nil, err
	}

	input := store.UpdateAlarmInput{
		ID:     alarm.ID,
		UserID: alarm.UserID,
		Title:  strings.TrimSpace(args.Title),
	}
	if strings.TrimSpace(args.FireAt) != "" {
		fireAt, parseErr := parseFireAt(args.FireAt, sess.loc, s.now())
		if parseErr != nil {
			err = parseErr
			return nil, err
		}
		input.FireAt = fireAt
		input.FireAtLocal = fireAt.In(sess.loc).Format(time.RFC3339)
	}
	updated, err := s.store.UpdateAlarm(ctx, input)
	if err != nil {
		return nil, err
	}
	return s.alarmPayload(updated, sess), nil
}

type alarmsDeleteArgs struct {
	commonArgs
	AlarmID int64 `json:"alarm_id"`
}

func (s *Server) alarmsDelete(ctx context.Context, args alarmsDeleteArgs) (res any, err error) {
	sess, err := s.identify(ctx, args.Auth)
	if err != nil {
		return nil, err
	}
	defer func() {
		s.finishAudit(ctx, sess, "alarms.delete", map[string]any{"alarm_id": args.AlarmID},
			args.AgentRunID, err)
	}()

	alarm, err := s.store.LookupAlarm(ctx, args.AlarmID)
	if err != nil {
		return nil, err
	}
	if err = s.checkAlarmVisibility(sess, alarm); err != nil {
		return nil, err
	}
	if err = s.store.DeleteAlarm(ctx, alarm.ID, alarm.UserID); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

// visibleActiveAlarm loads an alarm, hides it from strangers, and
// enforces the creator/target permission split.
func (s *Server) visibleActiveAlarm(ctx context.Context, sess session, alarmID int64) (store.AlarmRecord, error) {
	alarm, err := s.store.LookupAlarm(ctx, alarmID)
	if err != nil {
		return store.AlarmRecord{}, err
	}
	if alarm.Status != store.AlarmStatusActive {
		return store.AlarmRecord{}, store.ErrAlarmNotFound
	}
	if err := s.checkAlarmVisibility(sess, alarm); err != nil {
		return store.AlarmRecord{}, err
	}
	return alarm, nil
}

// checkAlarmVisibility reports not-found for alarms the caller neither
// created nor receives, so existence is not leaked.
func (s *Server) checkAlarmVisibility(sess session, alarm store.AlarmRecord) error {
	isCreator := alarm.CreatedByUserID == sess.identity.UserID
	isTarget := alarm.UserID == sess.identity.UserID
	if !isCreator && !isTarget {
		return store.ErrAlarmNotFound
	}
	return s.requireAlarmRole(sess, alarm)
}

func (s *Server) requireAlarmRole(sess session, alarm store.AlarmRecord) error {
	if alarm.CreatedByUserID == sess.identity.UserID {
		return s.engine.Require(sess.identity, permAlarmsSet)
	}
	return s.engine.Require(sess.identity, permAlarmsReceive)
}

func (s *Server) alarmPayload(alarm store.AlarmRecord, sess session) map[string]any {
	local := alarm.FireAt.In(sess.loc).Format(time.RFC3339)
	payload := map[string]any{
		"id":             alarm.ID,
		"title":          alarm.Title,
		"target_user_id": alarm.UserID,
		"fire_at":        local,
		"fire_at_utc":    alarm.FireAt.UTC().Format(time.RFC3339),
		"fire_at_local":  local,
		"local_timezone": sess.loc.String(),
	}
	if alarm.RepeatCron != "" {
		payload["repeat_cron"] = alarm.RepeatCron
	}
	return payload
}
