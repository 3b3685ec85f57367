// Package payload turns busines_event payload documents into canonical records.
//
// A payload is one of two mutually exclusive document shapes. Parse resolves the shape once and
// callers switch on the returned variant instead of probing optional keys.
package payload

import (
	"github.com/mmdatafocus/eventrecon/models"
	"github.com/shopspring/decimal"
)

// Shape is the parsed form of a payload: LegacySale, BankCorrespondent or Unrecognized.
type Shape interface {
	shape()
}

// LegacySale carries data.legacyData[0] of a sale event.
type LegacySale struct {
	OrderId      *int64
	PdvNumber    *int64
	CouponNumber *int64
	CouponValue  *decimal.Decimal
	Branch       *int64
	CouponDate   *string
	CouponId     *int64
	Status       *string
	SalesAgentId *int64
}

// BankCorrespondent carries data.cb.CORRESPONDENTE_BANCARIO[0].cupomComplemento plus data.id_cupom_pg.
type BankCorrespondent struct {
	PdvNumber    *int64
	CouponNumber *int64
	Value        *decimal.Decimal
	Branch       *int64
	CouponDate   *string
	CouponId     *int64
}

// Unrecognized is any payload that is not valid JSON or does not fit either shape.
type Unrecognized struct {
	Reason string
}

func (LegacySale) shape()        {}
func (BankCorrespondent) shape() {}
func (Unrecognized) shape()      {}

// Record maps a shape onto the canonical record. Unrecognized payloads map to the zero record.
func Record(s Shape) models.CanonicalRecord {
	switch v := s.(type) {
	case LegacySale:
		return models.CanonicalRecord{
			OrderId:      v.OrderId,
			PdvNumber:    v.PdvNumber,
			CouponNumber: v.CouponNumber,
			TotalValue:   v.CouponValue,
			Branch:       v.Branch,
			CouponDate:   v.CouponDate,
			CouponId:     v.CouponId,
			Status:       v.Status,
			SalesAgentId: v.SalesAgentId,
		}
	case BankCorrespondent:
		return models.CanonicalRecord{
			PdvNumber:    v.PdvNumber,
			CouponNumber: v.CouponNumber,
			TotalValue:   v.Value,
			Branch:       v.Branch,
			CouponDate:   v.CouponDate,
			CouponId:     v.CouponId,
		}
	case Unrecognized:
		return models.CanonicalRecord{}
	}
	return models.CanonicalRecord{}
}

// Extract parses raw and returns its canonical record together with the resolved shape.
func Extract(raw []byte) (models.CanonicalRecord, Shape) {
	s := Parse(raw)
	return Record(s), s
}
