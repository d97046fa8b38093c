package utils

import (
	"context"

	"bitbucket.org/mmdatafocus/audit_backend/appctx"
)

var (
	ContextKeyToken         = appctx.ContextKeyToken
	ContextKeyActorId       = appctx.ContextKeyActorId
	ContextKeyActorName     = appctx.ContextKeyActorName
	ContextKeyActorEmail    = appctx.ContextKeyActorEmail
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
	ContextKeyIsAdmin       = appctx.ContextKeyIsAdmin
)

// Actor identifies who performed an operation, for history attribution.
type Actor struct {
	Id    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// SystemActor is attributed when no identity is present in context
// (outbox workers, ops commands).
var SystemActor = Actor{Id: "system", Name: "System"}

func GetTokenFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyToken)
}

func GetActorIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyActorId)
}

func GetActorNameFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyActorName)
}

func GetActorEmailFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyActorEmail)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

// GetActorFromContext never fails: absent identity falls back to SystemActor.
func GetActorFromContext(ctx context.Context) Actor {
	id, ok := GetActorIdFromContext(ctx)
	if !ok || id == "" {
		return SystemActor
	}
	name, _ := GetActorNameFromContext(ctx)
	email, _ := GetActorEmailFromContext(ctx)
	return Actor{Id: id, Name: name, Email: email}
}

func SetTokenInContext(ctx context.Context, token string) context.Context {
	return appctx.Set(ctx, ContextKeyToken, token)
}

func SetActorInContext(ctx context.Context, actor Actor) context.Context {
	ctx = appctx.Set(ctx, ContextKeyActorId, actor.Id)
	ctx = appctx.Set(ctx, ContextKeyActorName, actor.Name)
	return appctx.Set(ctx, ContextKeyActorEmail, actor.Email)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func GetIsAdminFromContext(ctx context.Context) (bool, bool) {
	return appctx.GetBool(ctx, ContextKeyIsAdmin)
}

func SetIsAdminInContext(ctx context.Context, isAdmin bool) context.Context {
	return appctx.Set(ctx, ContextKeyIsAdmin, isAdmin)
}
