// Package export serializes the combined dataset for its consumers: CSV
// for the dashboard import, XLSX for the growth team's spreadsheets. The
// writers add nothing to the dataset — ordering and cell rendering are
// fixed upstream so identical runs export byte-identically.
package export

import (
	"encoding/csv"
	"io"
	"os"

	"github.com/rotisserie/eris"

	"github.com/chatlift/funnel-cli/internal/funnel"
)

// WriteCSV writes the combined dataset to a file.
func WriteCSV(ds *funnel.Dataset, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	if err := WriteCSVTo(f, ds); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return eris.Wrapf(f.Close(), "export: close %s", path)
}

// WriteCSVTo streams the dataset as CSV to w.
func WriteCSVTo(w io.Writer, ds *funnel.Dataset) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(ds.Columns); err != nil {
		return eris.Wrap(err, "export: write header")
	}
	for _, row := range ds.Rows {
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "export: write row")
		}
	}

	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush")
}
