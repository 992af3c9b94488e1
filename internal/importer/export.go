package importer

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	catalogmodels "gazetteer/internal/catalog/models"
	locmodels "gazetteer/internal/locality/models"
)

// ExportCSV writes projections as one row per locality: the identity
// columns first, then one column per specification in resolution order.
// Values outside the given specification set are omitted; absent values
// render as empty cells.
func ExportCSV(w io.Writer, specs []catalogmodels.Specification, rows []locmodels.Projection) error {
	out := csv.NewWriter(w)

	header := []string{"uuid", "lon", "lat", "version", "user_id"}
	for _, spec := range specs {
		header = append(header, spec.Key())
	}
	if err := out.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, p := range rows {
		record := []string{
			p.UUID,
			strconv.FormatFloat(p.Geom.Lon, 'f', -1, 64),
			strconv.FormatFloat(p.Geom.Lat, 'f', -1, 64),
			strconv.Itoa(p.Version),
			p.Author,
		}
		for _, spec := range specs {
			record = append(record, p.Values[spec.Key()])
		}
		if err := out.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	out.Flush()
	return out.Error()
}
