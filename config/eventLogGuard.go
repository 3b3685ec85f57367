package config

import (
	"errors"
	"regexp"
	"strings"

	"github.com/mmdatafocus/eventrecon/appctx"
	"gorm.io/gorm"
)

const eventLogTable = "busines_event"

var ErrEventLogReadOnly = errors.New("busines_event is read-only outside cleanup")

var eventLogWriteSQL = regexp.MustCompile(`(?i)\b(delete\s+from|update|truncate(\s+table)?)\s+"?busines_event\b`)

// EventLogGuardPlugin keeps branch event logs read-only. Writes to busines_event, through the model
// API or raw SQL, fail with ErrEventLogReadOnly unless the context was marked with
// appctx.AllowEventLogDelete.
type EventLogGuardPlugin struct{}

func NewEventLogGuardPlugin() *EventLogGuardPlugin { return &EventLogGuardPlugin{} }

func (p *EventLogGuardPlugin) Name() string { return "event_log_guard" }

func (p *EventLogGuardPlugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Raw().Before("gorm:raw").Register("event_log_guard:raw", eventLogRawGuard); err != nil {
		return err
	}
	if err := db.Callback().Update().Before("gorm:update").Register("event_log_guard:update", eventLogModelGuard); err != nil {
		return err
	}
	if err := db.Callback().Delete().Before("gorm:delete").Register("event_log_guard:delete", eventLogModelGuard); err != nil {
		return err
	}
	return nil
}

func eventLogWriteAllowed(db *gorm.DB) bool {
	ctx := db.Statement.Context
	return ctx != nil && appctx.EventLogDeleteAllowed(ctx)
}

func eventLogRawGuard(db *gorm.DB) {
	if db == nil || db.Statement == nil {
		return
	}
	if !eventLogWriteSQL.MatchString(db.Statement.SQL.String()) {
		return
	}
	if eventLogWriteAllowed(db) {
		return
	}
	_ = db.AddError(ErrEventLogReadOnly)
}

func eventLogModelGuard(db *gorm.DB) {
	if db == nil || db.Statement == nil {
		return
	}
	table := db.Statement.Table
	if table == "" && db.Statement.Schema != nil {
		table = db.Statement.Schema.Table
	}
	if !strings.EqualFold(table, eventLogTable) {
		return
	}
	if eventLogWriteAllowed(db) {
		return
	}
	_ = db.AddError(ErrEventLogReadOnly)
}
