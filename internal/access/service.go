// Package access implements the permission-request and delegation
// workflow on top of the store: request creation with kind
// normalization and approver fan-out, and the admin-or-target decision
// rule.
package access

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wardenhq/warden/internal/authz"
	"github.com/wardenhq/warden/internal/store"
)

var (
	ErrTargetRequired      = errors.New("target_user_id is required for delegation requests")
	ErrTargetIsSelf        = errors.New("target_user_id must be a different user for delegation requests")
	ErrTargetNotFound      = errors.New("target user not found")
	ErrPermissionNotFound  = errors.New("permission not found")
	ErrForOthersNeedsKind  = errors.New("'.for_others' permissions must be requested as delegation with target_user_id")
	ErrDelegationNeedsName = errors.New("delegation requests must be for '.for_others' permissions")
	ErrNoDelegationVariant = errors.New("target_user_id was provided, but no matching delegation permission exists; use a '.for_others' permission or remove target_user_id")
	ErrNotAuthorized       = errors.New("not authorized to decide this request")
	ErrAdminOnlyApproval   = errors.New("only admin approvers can approve permission requests")
	ErrBadDecision         = errors.New("decision must be 'approve' or 'reject'")
)

type Service struct {
	store  *store.Store
	engine *authz.Engine
	logger *slog.Logger
}

func NewService(sqlStore *store.Store, engine *authz.Engine, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: sqlStore, engine: engine, logger: logger}
}

type CreateRequestInput struct {
	RequesterUserID int64
	Kind            string
	PermissionName  string
	TargetUserID    int64
	Reason          string
}

// CreateRequest validates and files a permission or delegation
// request, then notifies the delegation target (if any) and every
// holder of permissions:approve, deduplicated.
//
// A permission-kind request that names a target is silently
// reclassified as a delegation for the '.for_others' variant when that
// variant exists in the catalog.
func (s *Service) CreateRequest(ctx context.Context, input CreateRequestInput) (store.PermissionRequestRecord, error) {
	kind := strings.TrimSpace(strings.ToLower(input.Kind))
	if kind == "" {
		kind = store.RequestKindPermission
	}
	name := strings.TrimSpace(input.PermissionName)

	if kind == store.RequestKindPermission && input.TargetUserID != 0 {
		candidate := authz.ForOthers(name)
		exists, err := s.store.PermissionExists(ctx, candidate)
		if err != nil {
			return store.PermissionRequestRecord{}, err
		}
		if !exists {
			return store.PermissionRequestRecord{}, ErrNoDelegationVariant
		}
		s.logger.Info("reclassified permission request as delegation",
			"requester_user_id", input.RequesterUserID,
			"permission", candidate)
		kind = store.RequestKindDelegation
		name = candidate
	}

	switch kind {
	case store.RequestKindPermission:
		if authz.IsForOthers(name) {
			return store.PermissionRequestRecord{}, ErrForOthersNeedsKind
		}
	case store.RequestKindDelegation:
		if input.TargetUserID == 0 {
			return store.PermissionRequestRecord{}, ErrTargetRequired
		}
		if !authz.IsForOthers(name) {
			return store.PermissionRequestRecord{}, ErrDelegationNeedsName
		}
		if input.TargetUserID == input.RequesterUserID {
			return store.PermissionRequestRecord{}, ErrTargetIsSelf
		}
		exists, err := s.store.UserExists(ctx, input.TargetUserID)
		if err != nil {
			return store.PermissionRequestRecord{}, err
		}
		if !exists {
			return store.PermissionRequestRecord{}, ErrTargetNotFound
		}
	default:
		return store.PermissionRequestRecord{}, fmt.Errorf("unknown request kind %q", kind)
	}

	exists, err := s.store.PermissionExists(ctx, name)
	if err != nil {
		return store.PermissionRequestRecord{}, err
	}
	if !exists {
		return store.PermissionRequestRecord{}, ErrPermissionNotFound
	}

	request, err := s.store.CreatePermissionRequest(ctx, store.CreatePermissionRequestInput{
		RequesterUserID: input.RequesterUserID,
		PermissionName:  name,
		Kind:            kind,
		TargetUserID:    input.TargetUserID,
		Reason:          input.Reason,
	})
	if err != nil {
		return store.PermissionRequestRecord{}, err
	}

	if err := s.fanOutCreated(ctx, request); err != nil {
		return store.PermissionRequestRecord{}, err
	}
	return request, nil
}

func (s *Service) fanOutCreated(ctx context.Context, request store.PermissionRequestRecord) error {
	payload, err := json.Marshal(map[string]any{
		"request_id":        request.ID,
		"requester_user_id": request.RequesterUserID,
		"request_kind":      request.Kind,
		"permission_name":   request.PermissionName,
		"target_user_id":    request.TargetUserID,
	})
	if err != nil {
		return fmt.Errorf("marshal request payload: %w", err)
	}

	notified := map[int64]struct{}{}
	if request.Kind == store.RequestKindDelegation && request.TargetUserID != 0 {
		if err := s.store.Notify(ctx, request.TargetUserID, store.EventRequestCreated, request.ID, string(payload)); err != nil {
			return err
		}
		notified[request.TargetUserID] = struct{}{}
	}

	approvers, err := s.store.UsersWithPermission(ctx, authz.PermissionApprove)
	if err != nil {
		return err
	}
	for _, approverID := range approvers {
		if _, seen := notified[approverID]; seen {
			continue
		}
		if err := s.store.Notify(ctx, approverID, store.EventRequestCreated, request.ID, string(payload)); err != nil {
			return err
		}
		notified[approverID] = struct{}{}
	}
	return nil
}

type DecideInput struct {
	RequestID int64
	Decision  string
	Reason    string
}

// Decide applies an approve/reject decision. Admin approvers (holders
// of permissions:approve) may decide any request; the target of a
// delegation request may decide that request. Approving a
// permission-kind request is admin-only.
func (s *Service) Decide(ctx context.Context, actor authz.Identity, input DecideInput) (store.PermissionRequestRecord, error) {
	decision := strings.TrimSpace(strings.ToLower(input.Decision))
	if decision != "approve" && decision != "reject" {
		return store.PermissionRequestRecord{}, ErrBadDecision
	}

	request, err := s.store.LookupPermissionRequest(ctx, input.RequestID)
	if err != nil {
		return store.PermissionRequestRecord{}, err
	}

	canAdminDecide := actor.Has(authz.PermissionApprove)
	canTargetDecide := request.Kind == store.RequestKindDelegation && request.TargetUserID == actor.UserID
	if !canAdminDecide && !canTargetDecide {
		return store.PermissionRequestRecord{}, ErrNotAuthorized
	}
	approve := decision == "approve"
	if approve && request.Kind == store.RequestKindPermission && !canAdminDecide {
		return store.PermissionRequestRecord{}, ErrAdminOnlyApproval
	}

	decided, err := s.store.DecideRequest(ctx, store.DecideRequestInput{
		RequestID:     input.RequestID,
		DeciderUserID: actor.UserID,
		Approve:       approve,
		Note:          input.Reason,
	})
	if err != nil {
		return store.PermissionRequestRecord{}, err
	}
	s.logger.Info("permission request decided",
		"request_id", decided.ID,
		"status", decided.Status,
		"decided_by", actor.UserID,
		"kind", decided.Kind)
	return decided, nil
}

// PendingForApprover returns the requests the actor may decide: all of
// them for an admin approver, otherwise only delegation requests that
// target the actor.
func (s *Service) PendingForApprover(ctx context.Context, actor authz.Identity) ([]store.PermissionRequestRecord, error) {
	pending, err := s.store.ListPendingRequests(ctx)
	if err != nil {
		return nil, err
	}
	if actor.Has(authz.PermissionApprove) {
		return pending, nil
	}
	mine := []store.PermissionRequestRecord{}
	for _, request := range pending {
		if request.Kind == store.RequestKindDelegation && request.TargetUserID == actor.UserID {
			mine = append(mine, request)
		}
	}
	return mine, nil
}
