package appctx

import "context"

// ContextKey is the shared type for all context keys in this codebase.
// Keeping it in a tiny package avoids import cycles (config <-> recon).
type ContextKey string

func (c ContextKey) String() string { return string(c) }

var (
	ContextKeyCycleId = ContextKey("CycleId")
	ContextKeyBranch  = ContextKey("Branch")
	ContextKeyJob     = ContextKey("Job")

	ContextKeyCorrelationId = ContextKey("CorrelationId")
	ContextKeyOpsSubject    = ContextKey("OpsSubject")

	// ContextKeyAllowEventLogDelete unlocks DELETE statements against busines_event.
	// Only the cleanup sweeper sets it.
	ContextKeyAllowEventLogDelete = ContextKey("AllowEventLogDelete")
)

func GetString(ctx context.Context, key ContextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok
}

func GetBool(ctx context.Context, key ContextKey) (bool, bool) {
	v, ok := ctx.Value(key).(bool)
	return v, ok
}

func GetInt(ctx context.Context, key ContextKey) (int, bool) {
	v, ok := ctx.Value(key).(int)
	return v, ok
}

func Set(ctx context.Context, key ContextKey, value any) context.Context {
	return context.WithValue(ctx, key, value)
}

func SetCycleId(ctx context.Context, id string) context.Context {
	return Set(ctx, ContextKeyCycleId, id)
}

func GetCycleId(ctx context.Context) (string, bool) {
	return GetString(ctx, ContextKeyCycleId)
}

func SetBranch(ctx context.Context, branch int) context.Context {
	return Set(ctx, ContextKeyBranch, branch)
}

func GetBranch(ctx context.Context) (int, bool) {
	return GetInt(ctx, ContextKeyBranch)
}

func AllowEventLogDelete(ctx context.Context) context.Context {
	return Set(ctx, ContextKeyAllowEventLogDelete, true)
}

func EventLogDeleteAllowed(ctx context.Context) bool {
	v, ok := GetBool(ctx, ContextKeyAllowEventLogDelete)
	return ok && v
}
