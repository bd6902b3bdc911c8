// Package importer loads product catalogs from CSV or YAML files.
//
// Rows are upserted by SKU. Numeric cells are read forgivingly: blanks and
// unreadable numbers count as zero and "1,250.00" is a price. A row without
// a SKU or a name, or with negative stock, is skipped and reported; the
// rest of the file is still imported.
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/stockline/internal/domain"
	"github.com/roach88/stockline/internal/ids"
)

// Record is one catalog row.
type Record struct {
	Line         int
	SKU          string
	Name         string
	Vendor       string
	Units        string
	UnitPrice    domain.Money
	Stock        int
	ReorderLevel int
}

// RowError describes a skipped row.
type RowError struct {
	Line   int    `json:"line"`
	SKU    string `json:"sku,omitempty"`
	Reason string `json:"reason"`
}

func (e RowError) Error() string {
	if e.SKU != "" {
		return fmt.Sprintf("line %d (%s): %s", e.Line, e.SKU, e.Reason)
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// Report summarizes an import.
type Report struct {
	Inserted int        `json:"inserted"`
	Updated  int        `json:"updated"`
	Skipped  []RowError `json:"skipped,omitempty"`
}

// ErrUnsupportedFormat is returned for files that are neither CSV nor YAML.
var ErrUnsupportedFormat = errors.New("unsupported catalog format")

// columns maps normalized header names to record fields. The spreadsheet
// headers of the legacy vendor export are accepted alongside the short
// names.
var columns = map[string]string{
	"sku":                     "sku",
	"crystal_part_code":       "sku",
	"part_code":               "sku",
	"name":                    "name",
	"product_name":            "name",
	"list_of_items":           "name",
	"vendor":                  "vendor",
	"group_name":              "vendor",
	"units":                   "units",
	"unit":                    "units",
	"price":                   "price",
	"unit_price":              "price",
	"stock":                   "stock",
	"current_stock_available": "stock",
	"reorder_level":           "reorder_level",
	"minimum_inventory":       "reorder_level",
}

// normalizeHeader lowercases h and joins its words with underscores.
func normalizeHeader(h string) string {
	fields := strings.FieldsFunc(strings.ToLower(h), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	return strings.Join(fields, "_")
}

// ReadFile reads a catalog, choosing the format from the extension.
func ReadFile(path string) ([]Record, []RowError, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ReadCSV(f)
	case ".yaml", ".yml":
		return ReadYAML(f)
	default:
		return nil, nil, fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
	}
}

// ReadCSV reads a catalog with a header row.
func ReadCSV(r io.Reader) ([]Record, []RowError, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	fields := make([]string, len(header))
	for i, h := range header {
		fields[i] = columns[normalizeHeader(h)]
	}

	var records []Record
	var skipped []RowError
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				skipped = append(skipped, RowError{Line: parseErr.StartLine, Reason: parseErr.Err.Error()})
				continue
			}
			return nil, nil, fmt.Errorf("read catalog: %w", err)
		}
		line, _ := cr.FieldPos(0)

		cells := make(map[string]string, len(fields))
		for i, v := range row {
			if i < len(fields) && fields[i] != "" {
				cells[fields[i]] = v
			}
		}
		if blank(row) {
			continue
		}
		rec, rowErr := toRecord(line, cells)
		if rowErr != nil {
			skipped = append(skipped, *rowErr)
			continue
		}
		records = append(records, rec)
	}
	return records, skipped, nil
}

// ReadYAML reads a catalog that is either a list of rows or a mapping
// with a products list.
func ReadYAML(r io.Reader) ([]Record, []RowError, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("decode catalog: %w", err)
	}

	list := &doc
	if list.Kind == yaml.DocumentNode && len(list.Content) > 0 {
		list = list.Content[0]
	}
	if list.Kind == yaml.MappingNode {
		var found *yaml.Node
		for i := 0; i+1 < len(list.Content); i += 2 {
			if list.Content[i].Value == "products" {
				found = list.Content[i+1]
			}
		}
		if found == nil {
			return nil, nil, errors.New("decode catalog: no products list")
		}
		list = found
	}
	if list.Kind != yaml.SequenceNode {
		return nil, nil, errors.New("decode catalog: expected a list of products")
	}

	var records []Record
	var skipped []RowError
	for _, item := range list.Content {
		if item.Kind != yaml.MappingNode {
			skipped = append(skipped, RowError{Line: item.Line, Reason: "not a mapping"})
			continue
		}
		cells := make(map[string]string)
		for i := 0; i+1 < len(item.Content); i += 2 {
			key, val := item.Content[i], item.Content[i+1]
			if field := columns[normalizeHeader(key.Value)]; field != "" && val.Kind == yaml.ScalarNode {
				cells[field] = val.Value
			}
		}
		rec, rowErr := toRecord(item.Line, cells)
		if rowErr != nil {
			skipped = append(skipped, *rowErr)
			continue
		}
		records = append(records, rec)
	}
	return records, skipped, nil
}

func toRecord(line int, cells map[string]string) (Record, *RowError) {
	rec := Record{
		Line:         line,
		SKU:          strings.TrimSpace(cells["sku"]),
		Name:         strings.Join(strings.Fields(cells["name"]), " "),
		Vendor:       strings.TrimSpace(cells["vendor"]),
		Units:        strings.TrimSpace(cells["units"]),
		UnitPrice:    parseMoney(cells["price"]),
		Stock:        parseInt(cells["stock"]),
		ReorderLevel: parseInt(cells["reorder_level"]),
	}
	switch {
	case rec.SKU == "":
		return Record{}, &RowError{Line: line, Reason: "missing sku"}
	case rec.Name == "":
		return Record{}, &RowError{Line: line, SKU: rec.SKU, Reason: "missing name"}
	case rec.Stock < 0:
		return Record{}, &RowError{Line: line, SKU: rec.SKU, Reason: "negative stock"}
	}
	rec.ReorderLevel = max(rec.ReorderLevel, 0)
	return rec, nil
}

// parseInt reads a count. Blanks and unreadable values are zero; "12.0"
// is 12.
func parseInt(s string) int {
	f, ok := parseNumber(s)
	if !ok {
		return 0
	}
	return int(math.Trunc(f))
}

// parseMoney reads a price in major units into minor units.
func parseMoney(s string) domain.Money {
	f, ok := parseNumber(s)
	if !ok || f < 0 {
		return 0
	}
	return domain.Money(math.Round(f * 100))
}

func parseNumber(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// ProductStore upserts products by SKU. *store.Store implements it.
type ProductStore interface {
	UpsertProduct(ctx context.Context, p domain.Product) (bool, error)
}

// Importer writes records to a ProductStore.
type Importer struct {
	products ProductStore
	ids      ids.Generator
	logger   *slog.Logger
}

// Option configures an Importer.
type Option func(*Importer)

// WithIDGenerator sets the generator for new product ids.
func WithIDGenerator(g ids.Generator) Option {
	return func(im *Importer) {
		im.ids = g
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(im *Importer) {
		im.logger = l
	}
}

// New creates an Importer.
func New(products ProductStore, opts ...Option) *Importer {
	im := &Importer{
		products: products,
		ids:      ids.UUIDv7Generator{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// Import upserts records. A store failure stops the import; rows already
// written stay written.
func (im *Importer) Import(ctx context.Context, records []Record) (Report, error) {
	var report Report
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		inserted, err := im.products.UpsertProduct(ctx, domain.Product{
			ID:           im.ids.Generate(),
			SKU:          rec.SKU,
			Name:         rec.Name,
			Vendor:       rec.Vendor,
			Units:        rec.Units,
			UnitPrice:    rec.UnitPrice,
			Stock:        rec.Stock,
			ReorderLevel: rec.ReorderLevel,
		})
		if err != nil {
			return report, fmt.Errorf("import line %d: %w", rec.Line, err)
		}
		if inserted {
			report.Inserted++
		} else {
			report.Updated++
		}
	}
	im.logger.Info("catalog imported", "inserted", report.Inserted, "updated", report.Updated)
	return report, nil
}

// ImportFile reads path and imports it. Skipped rows are logged and
// returned in the report.
func (im *Importer) ImportFile(ctx context.Context, path string) (Report, error) {
	records, skipped, err := ReadFile(path)
	if err != nil {
		return Report{}, err
	}
	for _, s := range skipped {
		im.logger.Warn("catalog row skipped", "file", path, "line", s.Line, "sku", s.SKU, "reason", s.Reason)
	}
	report, err := im.Import(ctx, records)
	report.Skipped = skipped
	return report, err
}
