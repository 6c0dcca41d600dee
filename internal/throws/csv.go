package throws

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

var csvHeader = []string{"X", "Y", "Distance", "CircleType", "Timestamp", "AthleteID", "Round", "EDMReading"}

// WriteCSV writes coords with a header row. Timestamps are UTC with
// millisecond precision.
func WriteCSV(w io.Writer, coords []Coordinate) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, c := range coords {
		rec := []string{
			strconv.FormatFloat(c.X, 'f', 6, 64),
			strconv.FormatFloat(c.Y, 'f', 6, 64),
			strconv.FormatFloat(c.Distance, 'f', 3, 64),
			string(c.CircleType),
			c.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"),
			c.AthleteID,
			c.Round,
			c.EDMReading,
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
