package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/shared"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

// Exit codes.
const (
	exitFailure  = 1
	exitInvalid  = 2
	exitNotFound = 3
	exitStorage  = 4
)

// exitCode maps error kinds onto process exit codes.
func exitCode(err error) int {
	switch {
	case shared.IsValidation(err):
		return exitInvalid
	case shared.IsNotFound(err):
		return exitNotFound
	case shared.IsStorageFailure(err):
		return exitStorage
	default:
		return exitFailure
	}
}

func checkOutput() error {
	switch output {
	case outputTable, outputJSON:
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want %s or %s)", output, outputTable, outputJSON)
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// table writes tab separated rows aligned in columns.
type table struct {
	tw *tabwriter.Writer
}

func newTable(w io.Writer, header ...string) *table {
	t := &table{tw: tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)}
	t.row(header...)
	return t
}

func (t *table) row(cols ...string) {
	fmt.Fprintln(t.tw, strings.Join(cols, "\t"))
}

func (t *table) flush() error {
	return t.tw.Flush()
}

func formatAverage(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func formatRank(r int) string {
	if r == 0 {
		return "-"
	}
	return fmt.Sprintf("%d", r)
}
