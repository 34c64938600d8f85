package report

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"microstructure-lab/internal/pipeline"
)

const (
	SheetSummary  = "Summary"
	SheetFolds    = "Folds"
	SheetFeatures = "Features"
)

func summaryRows(rep *pipeline.Report) [][2]interface{} {
	ev := rep.Evaluation
	return [][2]interface{}{
		{"run_id", rep.RunID},
		{"status", string(rep.Status)},
		{"error", rep.Error},
		{"root", rep.Root},
		{"periods", len(rep.Periods)},
		{"files", rep.Files},
		{"skipped_files", len(rep.Issues)},
		{"tick_rows", rep.TickRows},
		{"feature_rows", rep.FeatureRows},
		{"positives", rep.Positives},
		{"balanced_rows", rep.BalancedRows},
		{"synthetic_rows", rep.Synthetic},
		{"mean_accuracy", ev.MeanAccuracy},
		{"baseline_accuracy", ev.Baseline},
		{"original_accuracy", ev.OriginalAccuracy},
		{"tp", ev.Confusion.TP},
		{"fp", ev.Confusion.FP},
		{"tn", ev.Confusion.TN},
		{"fn", ev.Confusion.FN},
	}
}

func writeWorkbook(path string, rep *pipeline.Report) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetSummary); err != nil {
		return err
	}
	for i, kv := range summaryRows(rep) {
		cell, err := rowCell(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetSummary, cell, &[]interface{}{kv[0], kv[1]}); err != nil {
			return err
		}
	}

	if len(rep.Evaluation.Folds) > 0 {
		if _, err := f.NewSheet(SheetFolds); err != nil {
			return err
		}
		if err := setTable(f, SheetFolds, foldHeader, foldRecords(rep)); err != nil {
			return err
		}
	}

	if len(rep.Rows) > 0 {
		if _, err := f.NewSheet(SheetFeatures); err != nil {
			return err
		}
		header, records := featureTable(rep)
		if err := streamTable(f, SheetFeatures, header, records); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}

// rowCell 返回第 row 行 A 列的单元格名；超出工作表行数上限时报错。
func rowCell(row int) (string, error) {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return "", fmt.Errorf("row %d: %w", row, err)
	}
	return cell, nil
}

func setTable(f *excelize.File, sheet string, header []string, records [][]string) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i, rec := range records {
		cell, err := rowCell(i + 2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &rec); err != nil {
			return err
		}
	}
	return nil
}

// 特征表可能很大，用 StreamWriter 按行写入
func streamTable(f *excelize.File, sheet string, header []string, records [][]string) error {
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return err
	}
	row := make([]interface{}, len(header))
	for j, h := range header {
		row[j] = h
	}
	if err := sw.SetRow("A1", row); err != nil {
		return err
	}
	for i, rec := range records {
		vals := make([]interface{}, len(rec))
		for j, v := range rec {
			vals[j] = v
		}
		cell, err := rowCell(i + 2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, vals); err != nil {
			return fmt.Errorf("row %d: %w", i+2, err)
		}
	}
	return sw.Flush()
}
