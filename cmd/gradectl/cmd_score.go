package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mhieu102/N3-CCPTPM-S4/internal/application/command"
)

var (
	scoreStudent string
	scoreExam    string
	scoreValue   float64

	importFormat string
)

// scoreCmd writes one score
var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Write exam scores",
}

var scoreSetCmd = &cobra.Command{
	Use:     "set",
	Short:   "Create or replace one score and recompute its chain",
	Example: `  gradectl score set --student HS001 --exam MATH-T1-01 --value 8.5`,
	Args:    cobra.NoArgs,
	RunE:    runScoreSet,
}

// importCmd loads a score file
var importCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import scores from a JSON or CSV file",
	Long: `Import scores and recompute every affected chain once.

JSON files hold an array of {"student_code", "exam_code", "value"} objects.
CSV files need a header row naming the columns student_code, exam_code and
value; other columns are ignored. The whole file is validated before
anything is written. Use "-" to read from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	scoreSetCmd.Flags().StringVar(&scoreStudent, "student", "", "student code (required)")
	scoreSetCmd.Flags().StringVar(&scoreExam, "exam", "", "exam code (required)")
	scoreSetCmd.Flags().Float64Var(&scoreValue, "value", 0, "score value in [0, 10]")
	_ = scoreSetCmd.MarkFlagRequired("student")
	_ = scoreSetCmd.MarkFlagRequired("exam")
	_ = scoreSetCmd.MarkFlagRequired("value")
	scoreCmd.AddCommand(scoreSetCmd)

	importCmd.Flags().StringVar(&importFormat, "format", "", "json or csv (default: from the file extension)")
}

func runScoreSet(cmd *cobra.Command, _ []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	return withBackend(ctx, func(b *backend) error {
		res, err := b.upsert.Handle(ctx, command.UpsertScoreCommand{
			StudentCode:   scoreStudent,
			ExamCode:      scoreExam,
			Value:         scoreValue,
			CorrelationID: uuid.NewString(),
		})
		if err != nil {
			return err
		}
		if output == outputJSON {
			return printJSON(cmd.OutOrStdout(), res.Score)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "stored %s/%s = %s (event %s)\n",
			res.Score.StudentCode, res.Score.ExamCode, formatAverage(res.Score.Value), res.EventID)
		return nil
	})
}

func runImport(cmd *cobra.Command, args []string) error {
	if err := checkOutput(); err != nil {
		return err
	}
	rows, err := readScoreFile(cmd.InOrStdin(), args[0], importFormat)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	return withBackend(ctx, func(b *backend) error {
		res, err := b.bulk.Handle(ctx, command.BulkUpsertScoresCommand{Scores: rows})
		if res == nil {
			return err
		}
		if output == outputJSON {
			if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
				return perr
			}
			return err
		}

		r := res.Report
		fmt.Fprintf(cmd.OutOrStdout(),
			"written %d score(s), %d unique chain(s): %d succeeded, %d failed, %d cohort(s) settled in %s\n",
			res.Written, r.UniqueKeys, r.Succeeded, r.Failed, r.Settled, r.Duration.Round(time.Millisecond))
		return err
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// SCORE FILES
// ══════════════════════════════════════════════════════════════════════════════

type scoreRow struct {
	StudentCode string  `json:"student_code"`
	ExamCode    string  `json:"exam_code"`
	Value       float64 `json:"value"`
}

// readScoreFile reads path, or stdin for "-". An empty format is taken from
// the extension.
func readScoreFile(stdin io.Reader, path, format string) ([]command.UpsertScoreCommand, error) {
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}

	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	switch format {
	case "json":
		return decodeJSONScores(r)
	case "csv":
		return decodeCSVScores(r)
	default:
		return nil, fmt.Errorf("unknown score file format %q (want json or csv)", format)
	}
}

func decodeJSONScores(r io.Reader) ([]command.UpsertScoreCommand, error) {
	var rows []scoreRow
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode json scores: %w", err)
	}
	out := make([]command.UpsertScoreCommand, 0, len(rows))
	for _, row := range rows {
		out = append(out, command.UpsertScoreCommand{
			StudentCode: row.StudentCode,
			ExamCode:    row.ExamCode,
			Value:       row.Value,
		})
	}
	return out, nil
}

func decodeCSVScores(r io.Reader) ([]command.UpsertScoreCommand, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("csv scores: empty file")
		}
		return nil, fmt.Errorf("csv scores: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range []string{"student_code", "exam_code", "value"} {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("csv scores: missing column %q", name)
		}
	}

	var out []command.UpsertScoreCommand
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("csv scores: %w", err)
		}
		raw := strings.TrimSpace(rec[cols["value"]])
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("csv scores line %d: invalid value %q", line, raw)
		}
		out = append(out, command.UpsertScoreCommand{
			StudentCode: rec[cols["student_code"]],
			ExamCode:    rec[cols["exam_code"]],
			Value:       value,
		})
	}
}
