package reports_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/mmdatafocus/eventrecon/models"
	"github.com/mmdatafocus/eventrecon/models/reports"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func int64p(v int64) *int64 { return &v }

func sampleRows() []models.OutstandingError {
	at := time.Date(2024, 5, 20, 8, 30, 0, 0, time.UTC)
	return []models.OutstandingError{
		{
			Branch:         12,
			OrderId:        int64p(42),
			PdvNumber:      int64p(3),
			CouponNumber:   int64p(7),
			TotalValue:     decimal.NullDecimal{Decimal: decimal.RequireFromString("10.50"), Valid: true},
			InsertedAt:     at,
			SourceEventId:  901,
			ExecutionLog:   "timeout SAP",
			ResolutionFlag: models.ResolutionPending,
		},
		{
			Branch:         5,
			CouponId:       int64p(555),
			InsertedAt:     at.Add(-time.Hour),
			SourceEventId:  17,
			ResolutionFlag: models.ResolutionPending,
		},
		{
			Branch:         12,
			InsertedAt:     at.Add(-48 * time.Hour),
			SourceEventId:  3,
			ResolutionFlag: models.ResolutionPending,
		},
	}
}

func TestExportOutstanding(t *testing.T) {
	data, err := reports.ExportOutstandingBytes(sampleRows())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(reports.OutstandingSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "filial", rows[0][0])
	assert.Equal(t, "status_evento", rows[0][10])

	assert.Equal(t, []string{"12", "42", "3", "", "7", "10.5", "2024-05-20 08:30:00", "901", "venda", "NOK", "timeout SAP"}, rows[1])
	assert.Equal(t, "555", rows[2][3])
	assert.Equal(t, "divida", rows[2][8])
	assert.Equal(t, "credito_pessoal", rows[3][8])

	summary, err := f.GetRows(reports.SummarySheet)
	require.NoError(t, err)
	require.Len(t, summary, 3)
	assert.Equal(t, []string{"5", "1", "2024-05-20 07:30:00"}, summary[1])
	assert.Equal(t, []string{"12", "2", "2024-05-18 08:30:00"}, summary[2])
}

func TestExportOutstandingEmpty(t *testing.T) {
	data, err := reports.ExportOutstandingBytes(nil)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(reports.OutstandingSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 1, "header only")
}

func TestObjectName(t *testing.T) {
	name := reports.ObjectName(time.Date(2024, 5, 20, 12, 1, 2, 0, time.FixedZone("BRT", -3*3600)))
	assert.Equal(t, "outstanding/20240520-150102.xlsx", name)
	assert.True(t, strings.HasSuffix(name, ".xlsx"))
}
