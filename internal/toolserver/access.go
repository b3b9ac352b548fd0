package toolserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wardenhq/warden/internal/access"
	"github.com/wardenhq/warden/internal/authz"
	"github.com/wardenhq/warden/internal/store"
)

type notificationsListArgs struct {
	commonArgs
	UnreadOnly bool `json:"unread_only,omitempty"`
	Limit      int  `json:"limit,omitempty"`
}

func (s *Server) notificationsList(ctx context.Context, args notificationsListArgs) (res any, err error) {
	sess, err := s.identify(ctx, args.Auth)
	if err != nil {
		return nil, err
	}
	defer func() {
		s.finishAudit(ctx, sess, "notifications.list", map[string]any{
			"unread_only": args.UnreadOnly, "limit": args.Limit,
		}, args.AgentRunID, err)
	}()

	if err = s.engine.Require(sess.identity, "notifications:list"); err != nil {
		return nil, err
	}
	limit := args.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	notifications, err := s.store.ListNotifications(ctx, sess.identity.UserID, args.UnreadOnly, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(notifications))
	for _, n := range notifications {
		items = append(items, map[string]any{
			"id":         n.ID,
			"event_type": n.EventType,
			"subject_id": n.SubjectID,
			"payload":    n.Payload,
			"read":       n.Read,
			"created_at": n.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return items, nil
}

type notificationsMarkReadArgs struct {
	commonArgs
	IDs []int64 `json:"ids"`
}

func (s *Server) notificationsMarkRead(ctx context.Context, args notificationsMarkReadArgs) (res any, err error) {
	sess, err := s.identify(ctx, args.Auth)
	if err != nil {
		return nil, err
	}
	defer func() {
		s.finishAudit(ctx, sess, "notifications.mark_read", map[string]any{"ids": args.IDs},
			args.AgentRunID, err)
	}()

	if err = s.engine.Require(sess.identity, "notifications:list"); err != nil {
		return nil, err
	}
	if err = s.store.MarkNotificationsRead(ctx, sess.identity.UserID, args.IDs); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

type permissionRequestsCreateArgs struct {
	commonArgs
	RequestKind    string `json:"request_kind"`
	PermissionName string `json:"permission_name"`
	TargetUserID   *int64 `json:"target_user_id,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

func (s *Server) permissionRequestsCreate(ctx context.Context, args permissionRequestsCreateArgs) (res any, err error) {
	if args.RequestKind != store.RequestKindPermission && args.RequestKind != store.RequestKindDelegation {
		return nil, fmt.Errorf("request_kind must be 'permission' or 'delegation'")
	}

	sess, err := s.identify(ctx, args.Auth)
	if err != nil {
		return nil, err
	}
	defer func() {
		s.finishAudit(ctx, sess, "permission_requests.create", map[string]any{
			"request_kind": args.RequestKind, "permission_name": args.PermissionName,
			"target_user_id": args.TargetUserID,
		}, args.AgentRunID, err)
	}()

	if err = s.engine.Require(sess.identity, authz.PermissionRequestAccess); err != nil {
		return nil, err
	}
	target := int64(0)
	if args.TargetUserID != nil {
		target = *args.TargetUserID
	}
	request, err := s.access.CreateRequest(ctx, access.CreateRequestInput{
		RequesterUserID: sess.identity.UserID,
		Kind:            args.RequestKind,
		PermissionName:  args.PermissionName,
		TargetUserID:    target,
		Reason:          args.Reason,
	})
	if err != nil {
		return nil, err
	}
	return s.requestPayload(ctx, request), nil
}

func (s *Server) permissionRequestsMine(ctx context.Context, args commonArgs) (res any, err error) {
	sess, err := s.identify(ctx, args.Auth)
	if err != nil {
		return nil, err
	}
	defer func() {
		s.finishAudit(ctx, sess, "permission_requests.mine", map[string]any{}, args.AgentRunID, err)
	}()

	if err = s.engine.Require(sess.identity, authz.PermissionRequestAccess); err != nil {
		return nil, err
	}
	requests, err := s.store.ListRequestsByRequester(ctx, sess.identity.UserID)
	if err != nil {
		return nil, err
	}
	return s.requestPayloads(ctx, requests), nil
}

func (s *Server) approvalsRequestsList(ctx context.Context, args commonArgs) (res any, err error) {
	sess, err := s.identify(ctx, args.Auth)
	if err != nil {
		return nil, err
	}
	defer func() {
		s.finishAudit(ctx, sess, "approvals.requests_list", map[string]any{}, args.AgentRunID, err)
	}()

	requests, err := s.access.PendingForApprover(ctx, sess.identity)
	if err != nil {
		return nil, err
	}
	return s.requestPayloads(ctx, requests), nil
}

type approvalsRequestDecideArgs struct {
	commonArgs
	RequestID *int64 `json:"request_id,omitempty"`
	Decision  string `json:"decision"`
	Reason    string `json:"reason,omitempty"`
}

func (s *Server) approvalsRequestDecide(ctx context.Context, args approvalsRequestDecideArgs) (res any, err error) {
	decision := strings.ToLower(strings.TrimSpace(args.Decision))
	if decision != "approve" && decision != "reject" {
		return nil, access.ErrBadDecision
	}

	sess, err := s.identify(ctx, args.Auth)
	if err != nil {
		return nil, err
	}

	requestID := int64(0)
	if args.RequestID != nil {
		requestID = *args.RequestID
	}
	defer func() {
		s.finishAudit(ctx, sess, "approvals.request_decide", map[string]any{
			"request_id": requestID, "decision": decision, "reason": args.Reason,
		}, args.AgentRunID, err)
	}()

	if requestID == 0 {
		requestID, err = s.singleActionableRequestID(ctx, sess.identity)
		if err != nil {
			return nil, err
		}
	}

	decided, err := s.access.Decide(ctx, sess.identity, access.DecideInput{
		RequestID: requestID,
		Decision:  decision,
		Reason:    args.Reason,
	})
	if err != nil && (errors.Is(err, store.ErrRequestNotFound) || errors.Is(err, store.ErrRequestAlreadyDecided)) {
		// A stale id from the model may still resolve to the one
		// actionable request.
		fallbackID, fallbackErr := s.singleActionableRequestID(ctx, sess.identity)
		if fallbackErr != nil || fallbackID == requestID {
			return nil, err
		}
		requestID = fallbackID
		decided, err = s.access.Decide(ctx, sess.identity, access.DecideInput{
			RequestID: requestID,
			Decision:  decision,
			Reason:    args.Reason,
		})
	}
	if err != nil {
		return nil, err
	}
	return s.requestPayload(ctx, decided), nil
}

func (s *Server) singleActionableRequestID(ctx context.Context, actor authz.Identity) (int64, error) {
	pending, err := s.access.PendingForApprover(ctx, actor)
	if err != nil {
		return 0, err
	}
	switch len(pending) {
	case 1:
		return pending[0].ID, nil
	case 0:
		return 0, fmt.Errorf("no pending approval requests were found for you")
	default:
		return 0, fmt.Errorf("multiple pending approval requests found; specify request_id")
	}
}

type delegationsMineArgs struct {
	commonArgs
	IncludeRevoked bool `json:"include_revoked,omitempty"`
}

func (s *Server) delegationsMine(ctx context.Context, args delegationsMineArgs) (res any, err error) {
	sess, err := s.identify(ctx, args.Auth)
	if err != nil {
		return nil, err
	}
	defer func() {
		s.finishAudit(ctx, sess, "delegations.mine", map[string]any{
			"include_revoked": args.IncludeRevoked,
		}, args.AgentRunID, err)
	}()

	delegations, err := s.store.ListDelegations(ctx, sess.identity.UserID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	items := []map[string]any{}
	for _, delegation := range delegations {
		if delegation.GrantorUserID != sess.identity.UserID {
			continue
		}
		if !args.IncludeRevoked && !delegation.Active(now) {
			continue
		}
		items = append(items, s.delegationPayload(ctx, delegation))
	}
	return items, nil
}

type delegationsUpdateExpirationArgs struct {
	commonArgs
	DelegationID int64  `json:"delegation_id"`
	ExpiresAt    string `json:"expires_at,omitempty"`
}

func (s *Server) delegationsUpdateExpiration(ctx context.Context, args delegationsUpdateExpirationArgs) (res any, err error) {
	sess, err := s.identify(ctx, args.Auth)
	if err != nil {
		return nil, err
	}
	defer func() {
		s.finishAudit(ctx, sess, "delegations.update_expiration", map[string]any{
			"delegation_id": args.DelegationID, "expires_at": args.ExpiresAt,
		}, args.AgentRunID, err)
	}()

	delegation, err := s.ownedDelegation(ctx, sess, args.DelegationID)
	if err != nil {
		return nil, err
	}
	expiresAt, err := s.parseExpiresAt(args.ExpiresAt)
	if err != nil {
		return nil, err
	}
	if err = s.store.UpdateDelegationExpiration(ctx, delegation.ID, delegation.GrantorUserID, expiresAt); err != nil {
		return nil, err
	}
	updated, err := s.store.LookupDelegation(ctx, delegation.ID)
	if err != nil {
		return nil, err
	}
	return s.delegationPayload(ctx, updated), nil
}

type delegationsRevokeArgs struct {
	commonArgs
	DelegationID int64 `json:"delegation_id"`
}

func (s *Server) delegationsRevoke(ctx context.Context, args delegationsRevokeArgs) (res any, err error) {
	sess, err := s.identify(ctx, args.Auth)
	if err != nil {
		return nil, err
	}
	defer func() {
		s.finishAudit(ctx, sess, "delegations.revoke", map[string]any{
			"delegation_id": args.DelegationID,
		}, args.AgentRunID, err)
	}()

	delegation, err := s.ownedDelegation(ctx, sess, args.DelegationID)
	if err != nil {
		return nil, err
	}
	// Revoking twice is a no-op, not an error.
	if delegation.RevokedAt.IsZero() {
		if err = s.store.RevokeDelegation(ctx, delegation.ID, delegation.GrantorUserID); err != nil {
			return nil, err
		}
	}
	revoked, err := s.store.LookupDelegation(ctx, delegation.ID)
	if err != nil {
		return nil, err
	}
	return s.delegationPayload(ctx, revoked), nil
}

// ownedDelegation permits the grantor and admin approvers.
func (s *Server) ownedDelegation(ctx context.Context, sess session, id int64) (store.DelegationRecord, error) {
	delegation, err := s.store.LookupDelegation(ctx, id)
	if err != nil {
		return store.DelegationRecord{}, err
	}
	isAdmin := sess.identity.Has(authz.PermissionApprove)
	isOwner := delegation.GrantorUserID == sess.identity.UserID
	if !isAdmin && !isOwner {
		return store.DelegationRecord{}, fmt.Errorf("not authorized to manage this delegation")
	}
	return delegation, nil
}

// parseExpiresAt returns the zero time for empty input (meaning: clear
// the expiration); otherwise the value must be a future RFC3339 time.
func (s *Server) parseExpiresAt(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("expires_at must be an RFC3339 datetime: %w", err)
	}
	if !parsed.After(s.now()) {
		return time.Time{}, fmt.Errorf("expires_at must be in the future")
	}
	return parsed.UTC(), nil
}

type weatherReadArgs struct {
	commonArgs
	Location    string `json:"location"`
	When        string `json:"when,omitempty"`
	Granularity string `json:"granularity,omitempty"`
}

func (s *Server) weatherRead(ctx context.Context, args weatherReadArgs) (res any, err error) {
	sess, err := s.identify(ctx, args.Auth)
	if err != nil {
		return nil, err
	}
	defer func() {
		s.finishAudit(ctx, sess, "weather.read", map[string]any{
			"location": args.Location, "when": args.When, "granularity": args.Granularity,
		}, args.AgentRunID, err)
	}()

	if err = s.engine.Require(sess.identity, "weather:read"); err != nil {
		return nil, err
	}
	if s.weather == nil {
		return nil, fmt.Errorf("weather backend not configured")
	}
	return s.weather.Read(ctx, args.Location, args.When, args.Granularity)
}

func (s *Server) requestPayloads(ctx context.Context, requests []store.PermissionRequestRecord) []map[string]any {
	items := make([]map[string]any, 0, len(requests))
	for _, request := range requests {
		items = append(items, s.requestPayload(ctx, request))
	}
	return items
}

func (s *Server) requestPayload(ctx context.Context, request store.PermissionRequestRecord) map[string]any {
	var target any
	if request.TargetUserID != 0 {
		target = request.TargetUserID
	}
	var decidedBy any
	if request.DecidedByUserID != 0 {
		decidedBy = request.DecidedByUserID
	}
	return map[string]any{
		"id":                request.ID,
		"requester_user_id": request.RequesterUserID,
		"requester_email":   s.lookupEmail(ctx, request.RequesterUserID),
		"request_kind":      request.Kind,
		"permission_name":   request.PermissionName,
		"target_user_id":    target,
		"target_user_email": s.lookupEmail(ctx, request.TargetUserID),
		"status":            request.Status,
		"decided_by":        decidedBy,
		"decided_at":        isoOrNil(request.DecidedAt),
		"decision_note":     request.DecisionNote,
		"created_at":        isoOrNil(request.CreatedAt),
	}
}

func (s *Server) delegationPayload(ctx context.Context, delegation store.DelegationRecord) map[string]any {
	return map[string]any{
		"id":              delegation.ID,
		"grantor_user_id": delegation.GrantorUserID,
		"grantor_email":   s.lookupEmail(ctx, delegation.GrantorUserID),
		"grantee_user_id": delegation.GranteeUserID,
		"grantee_email":   s.lookupEmail(ctx, delegation.GranteeUserID),
		"permission_name": delegation.PermissionName,
		"expires_at":      isoOrNil(delegation.ExpiresAt),
		"revoked_at":      isoOrNil(delegation.RevokedAt),
		"created_at":      isoOrNil(delegation.CreatedAt),
	}
}
