package source

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/chatlift/funnel-cli/internal/fetcher"
	"github.com/chatlift/funnel-cli/internal/model"
)

// extExtensions is the lookup order for a source's extract file.
var extExtensions = []string{".csv", ".xlsx", ".json", ".jsonl"}

// Load materializes one source from its extract file under dir, trying
// <dir>/<name>.csv, .xlsx, .json, .jsonl in that order. A missing file
// returns (nil, nil): absence of a whole source is legal and must stay
// distinguishable from an empty table.
func Load(ctx context.Context, dir string, spec *Spec) (*Table, error) {
	for _, ext := range extExtensions {
		path := filepath.Join(dir, spec.Name+ext)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return LoadFile(ctx, path, spec)
	}
	zap.L().Debug("no extract for source",
		zap.String("component", "source"),
		zap.String("source", spec.Name),
		zap.String("dir", dir),
	)
	return nil, nil
}

// LoadFile materializes one source from a specific extract file.
func LoadFile(ctx context.Context, path string, spec *Spec) (*Table, error) {
	switch filepath.Ext(path) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "source: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		return loadCSV(ctx, f, spec)
	case ".xlsx":
		return loadXLSX(ctx, path, spec)
	case ".json", ".jsonl":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "source: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		if filepath.Ext(path) == ".jsonl" {
			return loadJSONLines(ctx, f, spec)
		}
		return loadJSON(ctx, f, spec)
	default:
		return nil, eris.Errorf("source: unsupported extract format %s", path)
	}
}

func loadCSV(ctx context.Context, r io.Reader, spec *Spec) (*Table, error) {
	headerCh := make(chan []string, 1)
	rowCh, errCh := fetcher.StreamCSV(ctx, r, fetcher.CSVOptions{
		HasHeader:  true,
		HeaderCh:   headerCh,
		LazyQuotes: true,
		TrimSpace:  true,
	})

	var header []string
	select {
	case header = <-headerCh:
	case err := <-errCh:
		if err != nil {
			return nil, eris.Wrapf(err, "source: read %s header", spec.Name)
		}
		// Channel closed without error: empty file, no header.
		return nil, &model.SchemaViolationError{Source: spec.Name, Missing: spec.RequiredColumns()}
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "source: load cancelled")
	}

	t, err := build(spec, header, rowCh)
	if err != nil {
		return nil, err
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrapf(err, "source: stream %s", spec.Name)
	}
	return t, nil
}

func loadXLSX(ctx context.Context, path string, spec *Spec) (*Table, error) {
	rows, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{})
	if err != nil {
		return nil, eris.Wrapf(err, "source: read %s", path)
	}
	if len(rows) == 0 {
		return nil, &model.SchemaViolationError{Source: spec.Name, Missing: spec.RequiredColumns()}
	}
	rowCh := make(chan []string, 64)
	go func() {
		defer close(rowCh)
		for _, row := range rows[1:] {
			select {
			case rowCh <- row:
			case <-ctx.Done():
				return
			}
		}
	}()
	return build(spec, rows[0], rowCh)
}

// loadJSON materializes a JSON-array export (the event store's format).
// Objects may omit null fields, so the header is the union of keys across
// all records, not the first record's keys.
func loadJSON(ctx context.Context, r io.Reader, spec *Spec) (*Table, error) {
	objCh, errCh := fetcher.DecodeJSONArray[map[string]any](ctx, r)
	return buildFromObjects(ctx, objCh, errCh, spec)
}

// loadJSONLines materializes a newline-delimited export, same key-union
// semantics as loadJSON.
func loadJSONLines(ctx context.Context, r io.Reader, spec *Spec) (*Table, error) {
	objCh, errCh := fetcher.DecodeJSONLines[map[string]any](ctx, r)
	return buildFromObjects(ctx, objCh, errCh, spec)
}

func buildFromObjects(ctx context.Context, objCh <-chan map[string]any, errCh <-chan error, spec *Spec) (*Table, error) {
	var objects []map[string]any
	keys := make(map[string]struct{})
	for obj := range objCh {
		objects = append(objects, obj)
		for k := range obj {
			keys[k] = struct{}{}
		}
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrapf(err, "source: decode %s", spec.Name)
	}

	header := make([]string, 0, len(keys))
	for k := range keys {
		header = append(header, k)
	}
	sort.Strings(header)

	rowCh := make(chan []string, 64)
	go func() {
		defer close(rowCh)
		for _, obj := range objects {
			row := make([]string, len(header))
			for i, k := range header {
				row[i] = jsonCell(obj[k])
			}
			select {
			case rowCh <- row:
			case <-ctx.Done():
				return
			}
		}
	}()
	return build(spec, header, rowCh)
}

func jsonCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// build validates the header against the declaration and materializes the
// surviving records. Malformed rows (missing key, missing identity,
// unparsable timestamp in a dated source) are skipped and counted, never
// silently dropped.
func build(spec *Spec, header []string, rows <-chan []string) (*Table, error) {
	colIdx := mapColumns(header, spec.Rename)

	var missing []string
	for _, col := range spec.RequiredColumns() {
		if _, ok := colIdx[NormCol(col)]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &model.SchemaViolationError{Source: spec.Name, Missing: missing}
	}

	t := &Table{Spec: spec}
	payloadCols := spec.PayloadColumns()
	identityCol := spec.IdentityColumn()
	keyCols := spec.KeyColumns()

	for row := range rows {
		t.RowsRead++

		key, ok := rowKey(row, colIdx, keyCols)
		if !ok {
			t.Malformed++
			continue
		}

		var identity string
		if identityCol != "" {
			identity = getCol(row, colIdx, identityCol)
			if identity == "" {
				t.Malformed++
				continue
			}
		}

		rec := Record{Key: key, Identity: identity}
		if spec.Dated() {
			at, ok := parseTime(getCol(row, colIdx, spec.OccurredAt))
			if !ok {
				t.Malformed++
				continue
			}
			rec.OccurredAt = at
		}

		if len(payloadCols) > 0 {
			rec.Payload = make(map[string]string, len(payloadCols))
			for _, col := range payloadCols {
				rec.Payload[NormCol(col)] = sanitizeUTF8(getCol(row, colIdx, col))
			}
		}

		t.Records = append(t.Records, rec)
	}

	zap.L().Debug("source loaded",
		zap.String("component", "source"),
		zap.String("source", spec.Name),
		zap.Int64("rows_read", t.RowsRead),
		zap.Int64("malformed", t.Malformed),
	)
	return t, nil
}

// LoadAll materializes every registered source present under dir. Schema
// violations are fatal for the run only when the base source is affected;
// any other violating source is skipped with the error recorded for
// diagnostics.
func LoadAll(ctx context.Context, dir string, reg *Registry) (Set, map[string]error, error) {
	tables := make(Set)
	failed := make(map[string]error)
	for _, spec := range reg.All() {
		t, err := Load(ctx, dir, spec)
		if err != nil {
			if spec.Base {
				return nil, nil, eris.Wrapf(err, "source: load base source %s", spec.Name)
			}
			zap.L().Warn("source failed to load",
				zap.String("component", "source"),
				zap.String("source", spec.Name),
				zap.Error(err),
			)
			failed[spec.Name] = err
			continue
		}
		if t != nil {
			tables[spec.Name] = t
		}
	}
	if tables.Get(reg.Base().Name) == nil {
		return nil, nil, eris.Errorf("source: base source %s has no extract in %s", reg.Base().Name, dir)
	}
	return tables, failed, nil
}
