// Package toolserver exposes the business tools over MCP. Every tool
// takes a bearer token, resolves the caller's identity and effective
// permissions per invocation, and writes a tool-audit row.
package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wardenhq/warden/internal/access"
	"github.com/wardenhq/warden/internal/auth"
	"github.com/wardenhq/warden/internal/authz"
	"github.com/wardenhq/warden/internal/store"
	"github.com/wardenhq/warden/internal/weather"
)

type Deps struct {
	Store   *store.Store
	Engine  *authz.Engine
	Access  *access.Service
	Tokens  *auth.Tokens
	Weather *weather.Client
	Logger  *slog.Logger
}

type Server struct {
	store   *store.Store
	engine  *authz.Engine
	access  *access.Service
	tokens  *auth.Tokens
	weather *weather.Client
	logger  *slog.Logger
	now     func() time.Time
	mcp     *sdkmcp.Server
}

func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:   deps.Store,
		engine:  deps.Engine,
		access:  deps.Access,
		tokens:  deps.Tokens,
		weather: deps.Weather,
		logger:  logger.With("component", "toolserver"),
		now:     func() time.Time { return time.Now().UTC() },
		mcp:     sdkmcp.NewServer(&sdkmcp.Implementation{Name: "warden-tools", Version: "0.1.0"}, nil),
	}
	s.registerTools()
	return s
}

// Handler returns the streamable-HTTP endpoint for the tool server.
func (s *Server) Handler() http.Handler {
	return sdkmcp.NewStreamableHTTPHandler(func(*http.Request) *sdkmcp.Server { return s.mcp }, nil)
}

func (s *Server) registerTools() {
	register(s, "auth_me", "Get identity, roles and permissions for the authenticated user.", s.authMe)
	register(s, "users_list", "List users for lookup flows (delegation/approval targeting). Optional query filters by email substring.", s.usersList)

	register(s, "alarms_set", "Schedule an alarm for yourself or a delegated target user.", s.alarmsSet)
	register(s, "alarms_list", "List active alarms for yourself or, when delegated, for a target user.", s.alarmsList)
	register(s, "alarms_cancel", "Cancel an active alarm visible to the current user.", s.alarmsCancel)
	register(s, "alarms_cancel_by_title", "Cancel a single active alarm by exact title match (case-insensitive).", s.alarmsCancelByTitle)
	register(s, "alarms_update", "Update an active alarm by ID (title and/or fire_at).", s.alarmsUpdate)
	register(s, "alarms_delete", "Delete an alarm by ID.", s.alarmsDelete)

	register(s, "tasks_list", "List tasks, optionally filtered by due date and completion status.", s.tasksList)
	register(s, "tasks_create", "Create a new task.", s.tasksCreate)
	register(s, "tasks_update", "Update a task by ID.", s.tasksUpdate)
	register(s, "tasks_complete", "Mark a task as completed by ID.", s.tasksComplete)
	register(s, "tasks_delete", "Delete a task by ID.", s.tasksDelete)

	register(s, "notes_list", "List all notes for the authenticated user.", s.notesList)
	register(s, "notes_create", "Create a new note.", s.notesCreate)
	register(s, "notes_update", "Update an existing note.", s.notesUpdate)
	register(s, "notes_delete", "Delete a note.", s.notesDelete)

	register(s, "notifications_list", "List notifications for the authenticated user.", s.notificationsList)
	register(s, "notifications_mark_read", "Mark notifications as read by ID.", s.notificationsMarkRead)

	register(s, "permission_requests_create", "Create a permission or delegation request.", s.permissionRequestsCreate)
	register(s, "permission_requests_mine", "List the current user's permission requests.", s.permissionRequestsMine)
	register(s, "approvals_requests_list", "List pending approval requests the current user can act on.", s.approvalsRequestsList)
	register(s, "approvals_request_decide", "Approve or reject a permission request.", s.approvalsRequestDecide)
	register(s, "delegations_mine", "List delegations where the current user is the account owner (grantor).", s.delegationsMine)
	register(s, "delegations_update_expiration", "Update or clear expiration for a delegation.", s.delegationsUpdateExpiration)
	register(s, "delegations_revoke", "Revoke a delegation.", s.delegationsRevoke)

	register(s, "weather_read", "Get weather information for a specified location and time.", s.weatherRead)
}

// register adapts a typed handler onto the MCP server. Handler errors
// come back to the caller as tool errors, not protocol failures.
func register[In any](s *Server, name, description string, fn func(context.Context, In) (any, error)) {
	sdkmcp.AddTool(s.mcp, &sdkmcp.Tool{Name: name, Description: description},
		func(ctx context.Context, req *sdkmcp.CallToolRequest, input In) (*sdkmcp.CallToolResult, any, error) {
			out, err := fn(ctx, input)
			if err != nil {
				return nil, nil, err
			}
			return nil, out, nil
		})
}

// commonArgs is embedded by every tool argument struct.
type commonArgs struct {
	Auth       string `json:"auth"`
	AgentRunID string `json:"agent_run_id,omitempty"`
}

type session struct {
	identity authz.Identity
	user     store.UserRecord
	loc      *time.Location
}

// identify resolves the bearer token to a fresh identity. Permissions
// are re-read from the store on every call, never cached.
func (s *Server) identify(ctx context.Context, bearer string) (session, error) {
	userID, err := s.tokens.Decode(bearer)
	if err != nil {
		return session{}, err
	}
	user, err := s.store.LookupUser(ctx, userID)
	if err != nil {
		return session{}, err
	}
	identity, err := s.engine.ResolveIdentity(ctx, userID)
	if err != nil {
		return session{}, err
	}
	loc := time.UTC
	if user.Timezone != "" {
		if parsed, err := time.LoadLocation(user.Timezone); err == nil {
			loc = parsed
		}
	}
	return session{identity: identity, user: user, loc: loc}, nil
}

// finishAudit writes the per-invocation audit row. Audit failures are
// logged, not propagated: the tool outcome already happened.
func (s *Server) finishAudit(ctx context.Context, sess session, tool string, args map[string]any, runID string, err error) {
	audit := store.ToolCallAudit{
		RunID:    runID,
		UserID:   sess.identity.UserID,
		ToolName: tool,
		ArgsJSON: marshalArgs(args),
		OK:       err == nil,
	}
	if err != nil {
		audit.Error = err.Error()
	}
	if auditErr := s.store.RecordToolCall(ctx, audit); auditErr != nil {
		s.logger.Warn("tool audit write failed", "tool", tool, "error", auditErr)
	}
}

func marshalArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func (s *Server) authMe(ctx context.Context, args commonArgs) (res any, err error) {
	sess, err := s.identify(ctx, args.Auth)
	if err != nil {
		return nil, err
	}
	defer func() { s.finishAudit(ctx, sess, "auth.me", map[string]any{}, args.AgentRunID, err) }()

	roles, err := s.store.RoleNames(ctx, sess.identity.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"user_id":     sess.identity.UserID,
		"email":       sess.user.Email,
		"roles":       roles,
		"permissions": sess.identity.SortedPermissions(),
	}, nil
}

type usersListArgs struct {
	commonArgs
	Query string `json:"query,omitempty"`
}

func (s *Server) usersList(ctx context.Context, args usersListArgs) (res any, err error) {
	sess, err := s.identify(ctx, args.Auth)
	if err != nil {
		return nil, err
	}
	defer func() {
		s.finishAudit(ctx, sess, "users.list", map[string]any{"query": args.Query}, args.AgentRunID, err)
	}()

	if err = s.engine.Require(sess.identity, authz.PermissionRequestAccess); err != nil {
		return nil, err
	}
	users, err := s.store.SearchUsers(ctx, args.Query, 50)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(users))
	for _, user := range users {
		items = append(items, map[string]any{"id": user.ID, "email": user.Email})
	}
	return items, nil
}

func (s *Server) lookupEmail(ctx context.Context, userID int64) any {
	if userID == 0 {
		return nil
	}
	user, err := s.store.LookupUser(ctx, userID)
	if err != nil {
		return nil
	}
	return user.Email
}

func isoOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func errNoUpdateFields() error {
	return fmt.Errorf("no fields provided to update")
}
