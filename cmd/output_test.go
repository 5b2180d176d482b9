package cmd

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/inference-sim/kprof/prof"
	"github.com/inference-sim/kprof/prof/report"
)

func sampleRecords() []report.Record {
	return []report.Record{
		{
			Index: 0, KernelID: 1, Kernel: "sm80_gemm", DurationNs: 100, StaticSharedMem: 49152,
			Op: "linear", Direction: prof.DirForward, Seq: prof.KnownCount(7),
			Layers: []string{"proj"}, Stack: []string{"linear([32,128]:fp16;[64,128]:fp16)|seq:7|dir:fwd"},
			Correlation: prof.CorrelationLink{Status: prof.NotApplicable, Forward: []int{}},
			FLOPs:       prof.KnownCount(524288), Bytes: prof.KnownCount(28672), TensorCore: prof.KnownFlag(true),
			AchievedTFLOPs: report.Rate{Value: 0.005, Known: true}, Bound: prof.Unknown,
		},
		{
			Index: 1, KernelID: 2, Kernel: "memset", DurationNs: 10, Op: prof.Unknown,
			Layers: []string{}, Stack: []string{},
			Correlation: prof.CorrelationLink{Status: prof.NotApplicable, Forward: []int{}},
			Bound:       prof.Unknown,
		},
	}
}

func TestWriteReportXLSX_SheetsAndCells(t *testing.T) {
	// GIVEN a small report
	path := filepath.Join(t.TempDir(), "report.xlsx")

	// WHEN written as a workbook
	require.NoError(t, WriteReportXLSX(path, sampleRecords()))

	// THEN the Kernels sheet holds a header row plus one row per record
	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"Kernels", "Summary"}, f.GetSheetList())

	rows, err := f.GetRows("Kernels")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, reportColumns, rows[0])
	assert.Equal(t, "sm80_gemm", rows[1][2])
	assert.Equal(t, "49152", rows[1][14])
	assert.Equal(t, "linear", rows[1][19])
	assert.Equal(t, "524288", rows[1][26])
	assert.Equal(t, prof.Unknown, rows[2][26], "unknown FLOPs are written as text")

	// AND the Summary sheet aggregates per op
	summary, err := f.GetRows("Summary")
	require.NoError(t, err)
	require.Len(t, summary, 3)
	assert.Equal(t, "linear", summary[1][0])
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printSummary(&buf, report.Summarize(sampleRecords())))
	out := buf.String()
	assert.Contains(t, out, "OP")
	assert.Contains(t, out, "linear")
	assert.Contains(t, out, "524288")
	assert.Contains(t, out, "kernels=2")
	assert.Contains(t, out, "unattributed=1")
}

func TestOpsCommand_ListsRegisteredOps(t *testing.T) {
	// GIVEN the ops subcommand writing to a buffer
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"ops"})
	defer rootCmd.SetArgs(nil)

	// WHEN executed
	require.NoError(t, rootCmd.Execute())

	// THEN the formulas registered at init are listed
	assert.Contains(t, buf.String(), "linear_backward\n")
	assert.Contains(t, buf.String(), "conv2d\n")
}

func TestWriteReport_FormatValidation(t *testing.T) {
	old := format
	defer func() { format, outPath = old, "" }()

	format = "csv"
	assert.Error(t, writeReport(&bytes.Buffer{}, nil))

	format, outPath = formatXLSX, ""
	assert.Error(t, writeReport(&bytes.Buffer{}, nil), "xlsx needs --out")

	format = formatJSONL
	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, sampleRecords()))
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("\n")))
}
