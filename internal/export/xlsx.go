package export

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/chatlift/funnel-cli/internal/funnel"
)

const xlsxSheetName = "combined_dataset"

// WriteXLSX writes the combined dataset as a single-sheet workbook.
func WriteXLSX(ds *funnel.Dataset, path string) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(xlsxSheetName)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range ds.Columns {
		header.AddCell().SetString(col)
	}
	for _, row := range ds.Rows {
		r := sheet.AddRow()
		for _, cell := range row {
			r.AddCell().SetString(cell)
		}
	}

	return eris.Wrapf(f.Save(path), "export: save %s", path)
}
