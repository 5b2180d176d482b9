package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/xuri/excelize/v2"

	"github.com/inference-sim/kprof/prof/report"
)

// Output formats accepted by --format.
const (
	formatJSONL = "jsonl"
	formatXLSX  = "xlsx"
)

// reportColumns are the spreadsheet headers, in Record field order.
var reportColumns = []string{
	"Index", "Kernel ID", "Kernel", "Start (ns)", "End (ns)", "Duration (ns)", "Offset (ns)",
	"Device", "Stream", "Thread", "Process", "Correlation ID", "Grid", "Block",
	"Static Shared Mem", "Dynamic Shared Mem", "Launch Start (ns)", "Launch End (ns)", "Bytes Transferred",
	"Op", "Direction", "Seq", "Layers", "Stack", "Correlation", "Forward",
	"FLOPs", "Bytes", "Tensor Core", "TFLOP/s", "GB/s", "Bound",
}

func reportRow(r *report.Record) []any {
	fwd := make([]string, len(r.Correlation.Forward))
	for i, f := range r.Correlation.Forward {
		fwd[i] = fmt.Sprint(f)
	}
	return []any{
		r.Index, r.KernelID, r.Kernel, r.StartNs, r.EndNs, r.DurationNs, r.OffsetNs,
		r.Device, r.Stream, r.Thread, r.Process, r.CorrelationID,
		dim3(r.Grid), dim3(r.Block),
		r.StaticSharedMem, r.DynamicSharedMem, r.LaunchStartNs, r.LaunchEndNs, r.BytesTransferred,
		r.Op, r.Direction.String(), r.Seq.String(), strings.Join(r.Layers, " > "), strings.Join(r.Stack, "\n"),
		string(r.Correlation.Status), strings.Join(fwd, ","),
		cellCount(r.FLOPs.Known, r.FLOPs.Value, r.FLOPs.String()),
		cellCount(r.Bytes.Known, r.Bytes.Value, r.Bytes.String()),
		r.TensorCore.String(),
		cellRate(r.AchievedTFLOPs), cellRate(r.AchievedGBps), r.Bound,
	}
}

// cellCount keeps known counts numeric so the sheet can sort and sum them.
func cellCount(known bool, v int64, s string) any {
	if known {
		return v
	}
	return s
}

func cellRate(r report.Rate) any {
	if r.Known {
		return r.Value
	}
	return r.String()
}

func dim3(d [3]uint32) string {
	return fmt.Sprintf("%dx%dx%d", d[0], d[1], d[2])
}

// WriteReportXLSX writes records to filename as a workbook with a Kernels
// sheet and a per-operation Summary sheet.
func WriteReportXLSX(filename string, records []report.Record) error {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Kernels"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return err
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return err
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return err
	}

	if err := writeRow(f, sheetName, 1, toAny(reportColumns)); err != nil {
		return err
	}
	last, _ := excelize.CoordinatesToCellName(len(reportColumns), 1)
	if err := f.SetCellStyle(sheetName, "A1", last, headerStyle); err != nil {
		return err
	}
	if err := f.SetColWidth(sheetName, "C", "C", 55); err != nil { // Kernel
		return err
	}
	if err := f.SetColWidth(sheetName, "X", "X", 60); err != nil { // Stack
		return err
	}
	if err := f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}

	for i := range records {
		if err := writeRow(f, sheetName, i+2, reportRow(&records[i])); err != nil {
			return err
		}
	}

	if err := writeSummarySheet(f, report.Summarize(records), headerStyle); err != nil {
		return err
	}
	return f.SaveAs(filename)
}

func writeSummarySheet(f *excelize.File, s *report.Summary, headerStyle int) error {
	sheetName := "Summary"
	if _, err := f.NewSheet(sheetName); err != nil {
		return err
	}
	headers := []any{"Op", "Kernels", "Duration (ns)", "FLOPs", "Bytes", "Unknown Metrics"}
	if err := writeRow(f, sheetName, 1, headers); err != nil {
		return err
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	if err := f.SetCellStyle(sheetName, "A1", last, headerStyle); err != nil {
		return err
	}
	if err := f.SetColWidth(sheetName, "A", "A", 30); err != nil {
		return err
	}
	for i, op := range s.Ops {
		row := []any{op.Op, op.Kernels, op.DurationNs,
			cellCount(op.FLOPs.Known, op.FLOPs.Value, op.FLOPs.String()),
			cellCount(op.Bytes.Known, op.Bytes.Value, op.Bytes.String()),
			op.Unknown}
		if err := writeRow(f, sheetName, i+2, row); err != nil {
			return err
		}
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// printSummary writes the per-operation table for `kprof summary`.
func printSummary(w io.Writer, s *report.Summary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "OP\tKERNELS\tDURATION_NS\tFLOPS\tBYTES\tUNKNOWN")
	for _, op := range s.Ops {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%d\n", op.Op, op.Kernels, op.DurationNs, op.FLOPs, op.Bytes, op.Unknown)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nkernels=%d duration_ns=%d unattributed=%d unknown_metrics=%d uncorrelated=%d opaque_markers=%d\n",
		s.TotalKernels, s.TotalDurationNs, s.Unattributed, s.UnknownMetrics, s.Uncorrelated, s.OpaqueMarkers)
	return err
}
