package artifact

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/rulstack/rulstack/internal/atomicfile"
	"github.com/rulstack/rulstack/pkg/types"
)

// WriteCSV writes t as CSV: a header of unit, cycle and the table schema,
// then one line per row. Floats use the shortest representation that
// round-trips, so identical tables produce identical bytes.
func WriteCSV(w io.Writer, t *types.Table) error {
	cw := csv.NewWriter(w)
	header := append([]string{"unit", "cycle"}, t.Schema()...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("artifact: csv header: %w", err)
	}
	rec := make([]string, len(header))
	for i := 0; i < t.Len(); i++ {
		rec[0] = strconv.Itoa(t.Units[i])
		rec[1] = strconv.Itoa(t.Cycles[i])
		for c, col := range t.Values {
			rec[c+2] = strconv.FormatFloat(col[i], 'g', -1, 64)
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("artifact: csv row %d: %w", i, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("artifact: csv: %w", err)
	}
	return nil
}

// WriteCSVFile writes t to path with WriteCSV, atomically.
func WriteCSVFile(path string, t *types.Table) error {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, t); err != nil {
		return err
	}
	if err := atomicfile.Write(path, buf.Bytes()); err != nil {
		return fmt.Errorf("artifact: %w", err)
	}
	return nil
}
