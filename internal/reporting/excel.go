package reporting

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/ducminhle1904/risk-control-plane/internal/breaker"
	"github.com/ducminhle1904/risk-control-plane/internal/executor"
	"github.com/ducminhle1904/risk-control-plane/internal/riskconfig"
)

// Sheet names
const (
	AuditSheet     = "Audit"
	BreakersSheet  = "Breakers"
	PositionsSheet = "Positions"
)

// Export is the data written to a workbook. Empty sections still get a
// sheet with headers.
type Export struct {
	Audit     []riskconfig.AuditEntry
	Breakers  []breaker.Record
	Positions []executor.Position
}

// WriteAuditXLSX writes the audit trail alone
func WriteAuditXLSX(entries []riskconfig.AuditEntry, path string) error {
	return WriteXLSX(path, Export{Audit: entries})
}

// WriteXLSX writes the export to an Excel workbook at path
func WriteXLSX(path string, data Export) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	fx := excelize.NewFile()
	defer fx.Close()

	fx.SetSheetName(fx.GetSheetName(0), AuditSheet)
	if _, err := fx.NewSheet(BreakersSheet); err != nil {
		return err
	}
	if _, err := fx.NewSheet(PositionsSheet); err != nil {
		return err
	}

	header, err := fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF", Family: "Calibri"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"2F4F4F"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return err
	}

	auditRows := make([][]interface{}, 0, len(data.Audit))
	for _, e := range data.Audit {
		auditRows = append(auditRows, []interface{}{
			e.Timestamp.UTC().Format(timeLayout), string(e.Profile), e.Parameter,
			formatValue(e.OldValue), formatValue(e.NewValue), e.Reason,
		})
	}
	if err := writeSheet(fx, AuditSheet, header,
		[]string{"Time", "Profile", "Parameter", "Old value", "New value", "Reason"},
		[]float64{20, 14, 34, 14, 14, 40}, auditRows); err != nil {
		return err
	}

	breakerRows := make([][]interface{}, 0, len(data.Breakers))
	for _, r := range data.Breakers {
		reset := "manual"
		if r.AutoResetAt != nil {
			reset = r.AutoResetAt.UTC().Format(timeLayout)
		}
		breakerRows = append(breakerRows, []interface{}{
			r.Type.String(), r.Scope, r.Status.String(), r.Reason, r.TrippedAt.UTC().Format(timeLayout), reset,
		})
	}
	if err := writeSheet(fx, BreakersSheet, header,
		[]string{"Type", "Scope", "Status", "Reason", "Tripped", "Auto reset"},
		[]float64{18, 14, 12, 48, 20, 20}, breakerRows); err != nil {
		return err
	}

	positionRows := make([][]interface{}, 0, len(data.Positions))
	for _, p := range data.Positions {
		positionRows = append(positionRows, []interface{}{
			p.Symbol, p.Quantity, p.CostBasis, p.UpdatedAt.UTC().Format(timeLayout),
		})
	}
	if err := writeSheet(fx, PositionsSheet, header,
		[]string{"Symbol", "Quantity", "Cost basis", "Updated"},
		[]float64{14, 14, 14, 20}, positionRows); err != nil {
		return err
	}

	fx.SetActiveSheet(0)
	return fx.SaveAs(path)
}

func writeSheet(fx *excelize.File, sheet string, headerStyle int, headers []string, widths []float64, rows [][]interface{}) error {
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := fx.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := fx.SetColWidth(sheet, col, col, widths[i]); err != nil {
			return err
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	if err := fx.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return err
	}

	for r, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := fx.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}

	return fx.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}
