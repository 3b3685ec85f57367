package utils

import (
	"context"

	"github.com/mmdatafocus/eventrecon/appctx"
)

var (
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
	ContextKeyOpsSubject    = appctx.ContextKeyOpsSubject
)

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, id string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, id)
}

func GetOpsSubjectFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyOpsSubject)
}

func SetOpsSubjectInContext(ctx context.Context, subject string) context.Context {
	return appctx.Set(ctx, ContextKeyOpsSubject, subject)
}
