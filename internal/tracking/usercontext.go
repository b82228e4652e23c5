package tracking

import "context"

// Execution context tags attached to a call.
const (
	ContextAuthenticated = "authenticated"
	ContextAnonymous     = "anonymous"
	ContextJob           = "job"
	ContextConsole       = "console"
	ContextManual        = "manual"
)

// UserContext identifies who or what originated a call.
type UserContext struct {
	UserID   *string `json:"user_id"`
	UserType *string `json:"user_type"`
	Context  string  `json:"context"`
}

type userKey struct{}
type executionKey struct{}

type user struct {
	id       string
	userType string
}

// WithUser marks ctx as belonging to an authenticated user. Request
// middleware calls this once authentication succeeds.
func WithUser(ctx context.Context, id, userType string) context.Context {
	return context.WithValue(ctx, userKey{}, user{id: id, userType: userType})
}

// WithExecution tags ctx as running outside a web request, typically
// ContextJob for queue consumers or ContextConsole for CLI commands.
func WithExecution(ctx context.Context, execution string) context.Context {
	return context.WithValue(ctx, executionKey{}, execution)
}

// CaptureUserContext resolves the user context from ctx. It must run on the
// goroutine that issued the call, before the record is buffered.
func CaptureUserContext(ctx context.Context) UserContext {
	if ctx == nil {
		return UserContext{Context: ContextAnonymous}
	}
	execution, _ := ctx.Value(executionKey{}).(string)
	u, authenticated := ctx.Value(userKey{}).(user)

	uc := UserContext{Context: ContextAnonymous}
	if authenticated {
		id, userType := u.id, u.userType
		uc.UserID = &id
		if userType != "" {
			uc.UserType = &userType
		}
	}

	switch {
	case execution == ContextJob || execution == ContextConsole:
		uc.Context = execution
	case authenticated:
		uc.Context = ContextAuthenticated
	}
	return uc
}

// ManualUserContext is attached when a caller supplies its own user id.
func ManualUserContext(id, userType string) UserContext {
	uc := UserContext{Context: ContextManual}
	uc.UserID = &id
	if userType != "" {
		uc.UserType = &userType
	}
	return uc
}
