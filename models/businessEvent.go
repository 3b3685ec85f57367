package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

const EventLogTableName = "busines_event"

// StatusSuccess is the terminal success value of status_execucao. Compared case-insensitively.
const StatusSuccess = "sucesso"

// BusinessEvent is one row of a branch's primary event log. Written by the upstream producer;
// this service only reads it (and deletes redundant rows during cleanup).
type BusinessEvent struct {
	ID              int64          `gorm:"column:id;primaryKey" json:"id"`
	Payload         datatypes.JSON `gorm:"column:payload;type:text" json:"payload"`
	EventType       string         `gorm:"column:evento" json:"evento"`
	Executed        bool           `gorm:"column:is_executed" json:"is_executed"`
	InsertedAt      time.Time      `gorm:"column:dh_inclusao;index" json:"dh_inclusao"`
	FinishedAt      *time.Time     `gorm:"column:dh_finalizacao" json:"dh_finalizacao"`
	Log             string         `gorm:"column:log;type:text" json:"log"`
	ExecutionStatus string         `gorm:"column:status_execucao;size:50" json:"status_execucao"`
}

func (BusinessEvent) TableName() string {
	return EventLogTableName
}

func (e BusinessEvent) Succeeded() bool {
	return IsSuccessStatus(e.ExecutionStatus)
}

// EventStatus is the projection returned by key-pattern lookups.
type EventStatus struct {
	ID     int64  `gorm:"column:id" json:"id"`
	Status string `gorm:"column:status_execucao" json:"status"`
}

func IsSuccessStatus(status string) bool {
	return strings.EqualFold(strings.TrimSpace(status), StatusSuccess)
}

func AnySuccess(rows []EventStatus) bool {
	for _, r := range rows {
		if IsSuccessStatus(r.Status) {
			return true
		}
	}
	return false
}
