package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/JakeFAU/property-monitor/internal/listing"
)

// WriteCSV writes the header and one line per record.
func WriteCSV(w io.Writer, rows []listing.StoredRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, rec := range rows {
		if err := cw.Write(row(rec)); err != nil {
			return fmt.Errorf("write csv row %d: %w", rec.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func writeCSVFile(path string, rows []listing.StoredRecord) error {
	// #nosec G304 -- path is built from configuration, not user input.
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := WriteCSV(f, rows); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}
