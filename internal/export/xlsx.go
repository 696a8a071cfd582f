// Package export renders a daily ledger as an Excel workbook.
package export

import (
	"fmt"
	"io"
	"sort"
	"time"

	"parking_ledger/internal/domain"

	"github.com/xuri/excelize/v2"
)

const (
	SheetName   = "Registros"
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	timeLayout = "2006-01-02 15:04:05"
)

var headers = []string{"ID", "Patente", "Entrada", "Salida", "Monto", "Medio de pago"}

// FileName is the attachment name used for a ledger of the given date.
func FileName(date string) string {
	return fmt.Sprintf("registros_%s.xlsx", date)
}

// WriteLedgerXLSX writes one row per session in ledger order followed by the
// totals per payment method. Times are shown in loc.
func WriteLedgerXLSX(w io.Writer, ledger *domain.DailyLedger, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(SheetName, cell, h); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(SheetName, "A1", "F1", bold); err != nil {
		return err
	}

	row := 2
	for _, s := range ledger.Rows() {
		cells := map[string]any{
			"A": s.ID,
			"B": s.Plate,
			"C": s.EntryTime.In(loc).Format(timeLayout),
		}
		if s.ExitTime.Valid {
			cells["D"] = s.ExitTime.Time.In(loc).Format(timeLayout)
		}
		if s.Amount.Valid {
			cells["E"] = s.Amount.Int64
		}
		if s.PaymentMethod.Valid {
			cells["F"] = s.PaymentMethod.String
		}
		for col, v := range cells {
			if err := f.SetCellValue(SheetName, fmt.Sprintf("%s%d", col, row), v); err != nil {
				return err
			}
		}
		row++
	}

	// totals block, one blank row below the sessions
	row++
	if err := f.SetCellValue(SheetName, fmt.Sprintf("A%d", row), "Totales"); err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetName, fmt.Sprintf("A%d", row), fmt.Sprintf("A%d", row), bold); err != nil {
		return err
	}
	row++

	methods := make([]string, 0, len(ledger.Totals))
	for m := range ledger.Totals {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	for _, m := range methods {
		label := m
		if label == "" {
			label = "(sin medio de pago)"
		}
		if err := f.SetSheetRow(SheetName, fmt.Sprintf("A%d", row), &[]any{label, ledger.Totals[m]}); err != nil {
			return err
		}
		row++
	}
	if err := f.SetSheetRow(SheetName, fmt.Sprintf("A%d", row), &[]any{"Total", ledger.GrandTotal}); err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetName, fmt.Sprintf("A%d", row), fmt.Sprintf("B%d", row), bold); err != nil {
		return err
	}

	f.SetColWidth(SheetName, "A", "A", 8)
	f.SetColWidth(SheetName, "B", "B", 14)
	f.SetColWidth(SheetName, "C", "D", 20)
	f.SetColWidth(SheetName, "E", "E", 10)
	f.SetColWidth(SheetName, "F", "F", 18)

	return f.Write(w)
}
