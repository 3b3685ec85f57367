package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const TrackingTableName = "monitoraVendaEventoErro"

type ResolutionFlag string

const (
	ResolutionPending  ResolutionFlag = "NOK"
	ResolutionResolved ResolutionFlag = "OK"
)

// OutstandingError is a tracking-store row for an event that has not reached confirmed success.
// Column names are a fixed contract with the monitoring database.
type OutstandingError struct {
	Branch         int                 `gorm:"column:filial;index:idx_monitora_filial_cupom" json:"filial"`
	OrderId        *int64              `gorm:"column:pedido" json:"pedido"`
	PdvNumber      *int64              `gorm:"column:nr_pdv" json:"nr_pdv"`
	CouponId       *int64              `gorm:"column:id_cupom_pg" json:"id_cupom_pg"`
	CouponNumber   *int64              `gorm:"column:nr_cupom;index:idx_monitora_filial_cupom" json:"nr_cupom"`
	ExecutionLog   string              `gorm:"column:status_evento;type:text" json:"status_evento"`
	TotalValue     decimal.NullDecimal `gorm:"column:vl_total;type:decimal(15,2)" json:"vl_total"`
	InsertedAt     time.Time           `gorm:"column:data_inclusao;index" json:"data_inclusao"`
	SourceEventId  int64               `gorm:"column:id_evento" json:"id_evento"`
	ResolutionFlag ResolutionFlag      `gorm:"column:is_sap;size:5" json:"is_sap"`
}

func (OutstandingError) TableName() string {
	return TrackingTableName
}

// NewOutstandingError builds the NOK row for a representative event.
func NewOutstandingError(branch int, rec CanonicalRecord, ev BusinessEvent) *OutstandingError {
	row := &OutstandingError{
		Branch:         branch,
		OrderId:        rec.OrderId,
		PdvNumber:      rec.PdvNumber,
		CouponId:       rec.CouponId,
		CouponNumber:   rec.CouponNumber,
		ExecutionLog:   ev.Log,
		InsertedAt:     ev.InsertedAt,
		SourceEventId:  ev.ID,
		ResolutionFlag: ResolutionPending,
	}
	if rec.TotalValue != nil {
		row.TotalValue = decimal.NullDecimal{Decimal: *rec.TotalValue, Valid: true}
	}
	return row
}
