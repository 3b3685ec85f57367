package reports

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/mmdatafocus/eventrecon/models"
	"github.com/xuri/excelize/v2"
)

const (
	OutstandingSheet = "Sheet1"
	SummarySheet     = "Resumo"
	ContentTypeXLSX  = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var outstandingHeadings = []interface{}{
	"filial", "pedido", "nr_pdv", "id_cupom_pg", "nr_cupom", "vl_total",
	"data_inclusao", "id_evento", "classificacao", "is_sap", "status_evento",
}

var summaryHeadings = []interface{}{"filial", "pendentes", "mais_antigo"}

// BranchSummary is one line of the summary sheet.
type BranchSummary struct {
	Branch int       `json:"filial"`
	Open   int       `json:"pendentes"`
	Oldest time.Time `json:"mais_antigo"`
}

// Summarize counts rows per branch, ordered by branch.
func Summarize(rows []models.OutstandingError) []BranchSummary {
	index := map[int]*BranchSummary{}
	for _, r := range rows {
		s, ok := index[r.Branch]
		if !ok {
			s = &BranchSummary{Branch: r.Branch, Oldest: r.InsertedAt}
			index[r.Branch] = s
		}
		s.Open++
		if r.InsertedAt.Before(s.Oldest) {
			s.Oldest = r.InsertedAt
		}
	}
	out := make([]BranchSummary, 0, len(index))
	for _, s := range index {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Branch < out[j].Branch })
	return out
}

// OutstandingWorkbook lays the rows out one per line with a per-branch summary sheet.
func OutstandingWorkbook(rows []models.OutstandingError) (*excelize.File, error) {
	f := excelize.NewFile()

	if err := f.SetSheetRow(OutstandingSheet, "A1", &outstandingHeadings); err != nil {
		f.Close()
		return nil, err
	}
	for i, r := range rows {
		cell := "A" + fmt.Sprint(i+2)
		values := []interface{}{
			r.Branch,
			deref(r.OrderId),
			deref(r.PdvNumber),
			deref(r.CouponId),
			deref(r.CouponNumber),
			totalValue(r),
			formatTime(r.InsertedAt),
			r.SourceEventId,
			string(models.Classify(r)),
			string(r.ResolutionFlag),
			r.ExecutionLog,
		}
		if err := f.SetSheetRow(OutstandingSheet, cell, &values); err != nil {
			f.Close()
			return nil, err
		}
	}

	if _, err := f.NewSheet(SummarySheet); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.SetSheetRow(SummarySheet, "A1", &summaryHeadings); err != nil {
		f.Close()
		return nil, err
	}
	for i, s := range Summarize(rows) {
		values := []interface{}{s.Branch, s.Open, formatTime(s.Oldest)}
		if err := f.SetSheetRow(SummarySheet, "A"+fmt.Sprint(i+2), &values); err != nil {
			f.Close()
			return nil, err
		}
	}

	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetCellStyle(OutstandingSheet, "A1", "K1", style)
		_ = f.SetCellStyle(SummarySheet, "A1", "C1", style)
	}
	return f, nil
}

// ExportOutstanding writes the workbook for rows to w.
func ExportOutstanding(w io.Writer, rows []models.OutstandingError) error {
	f, err := OutstandingWorkbook(rows)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

func ExportOutstandingBytes(rows []models.OutstandingError) ([]byte, error) {
	var buf bytes.Buffer
	if err := ExportOutstanding(&buf, rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ObjectName is the bucket path an export taken at now is stored under.
func ObjectName(now time.Time) string {
	return "outstanding/" + now.UTC().Format("20060102-150405") + ".xlsx"
}

func deref(v *int64) interface{} {
	if v == nil {
		return ""
	}
	return *v
}

func totalValue(r models.OutstandingError) interface{} {
	if !r.TotalValue.Valid {
		return ""
	}
	return r.TotalValue.Decimal.InexactFloat64()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}
