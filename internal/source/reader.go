// Package source reads reference rows and product listings from CSV, JSON or
// Parquet files through DuckDB.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/noot-app/ingredient-matcher/internal/reference"
	"github.com/noot-app/ingredient-matcher/internal/types"
)

// Columns names the reference file's columns. An empty Category means the
// file has no category column.
type Columns struct {
	FoodID    string
	NameDa    string
	NameEn    string
	Category  string
	Parameter string
	Value     string
}

// FridaColumns are the headers of the DTU Frida long-format export
var FridaColumns = Columns{
	FoodID:    "FoodID",
	NameDa:    "FødevareNavn",
	NameEn:    "FoodName",
	Parameter: "ParameterNavn",
	Value:     "ResVal",
}

// ProductColumns names the product listing columns
type ProductColumns struct {
	ExternalID    string
	Store         string
	Name          string
	Category      string
	Price         string
	OriginalPrice string
	OnSale        string
	ImageURL      string
}

// DefaultProductColumns match the JSON field names of types.ProductRecord
var DefaultProductColumns = ProductColumns{
	ExternalID:    "external_id",
	Store:         "store",
	Name:          "name",
	Category:      "category",
	Price:         "price",
	OriginalPrice: "original_price",
	OnSale:        "on_sale",
	ImageURL:      "image_url",
}

// Reader runs DuckDB table functions over local files
type Reader struct {
	db  *sql.DB
	log *slog.Logger
}

// NewReader opens an in-memory DuckDB instance
func NewReader(logger *slog.Logger) (*Reader, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}

	return &Reader{
		db:  db,
		log: logger,
	}, nil
}

// Close closes the database connection
func (r *Reader) Close() error {
	return r.db.Close()
}

// scanFunction picks the DuckDB table function for a file extension
func scanFunction(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".tsv", ".txt":
		return "read_csv_auto", nil
	case ".json", ".ndjson", ".jsonl":
		return "read_json_auto", nil
	case ".parquet":
		return "read_parquet", nil
	}
	return "", fmt.Errorf("unsupported file type %q", filepath.Ext(path))
}

// quoteIdent quotes a column name for DuckDB
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// textColumn selects a column as VARCHAR, or NULL when name is empty
func textColumn(name string) string {
	if name == "" {
		return "NULL"
	}
	return "CAST(" + quoteIdent(name) + " AS VARCHAR)"
}

// numberColumn accepts both "1.5" and the Danish "1,5"
func numberColumn(name string) string {
	if name == "" {
		return "NULL"
	}
	return "TRY_CAST(REPLACE(CAST(" + quoteIdent(name) + " AS VARCHAR), ',', '.') AS DOUBLE)"
}

// ReferenceRows returns a RowSource over a reference file
func (r *Reader) ReferenceRows(path string, cols Columns) *FileRows {
	return &FileRows{reader: r, path: path, cols: cols}
}

// FileRows streams reference rows from a file
type FileRows struct {
	reader *Reader
	path   string
	cols   Columns
}

var _ reference.RowSource = (*FileRows)(nil)

// Each streams the file's rows in file order
func (f *FileRows) Each(ctx context.Context, fn func(reference.Row) error) error {
	start := time.Now()
	log := f.reader.log
	log.Debug("Reading reference rows", "path", f.path)

	scan, err := scanFunction(f.path)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		SELECT %s, %s, %s, %s, %s, %s
		FROM %s(?)`,
		textColumn(f.cols.FoodID),
		textColumn(f.cols.NameDa),
		textColumn(f.cols.NameEn),
		textColumn(f.cols.Category),
		textColumn(f.cols.Parameter),
		numberColumn(f.cols.Value),
		scan)

	rows, err := f.reader.db.QueryContext(ctx, query, f.path)
	if err != nil {
		log.Error("DuckDB reference query failed", "error", err, "duration", time.Since(start))
		return fmt.Errorf("reference query failed: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var (
			foodID, nameDa, nameEn, category, param sql.NullString
			value                                   sql.NullFloat64
		)
		if err := rows.Scan(&foodID, &nameDa, &nameEn, &category, &param, &value); err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}

		row := reference.Row{
			FoodID:    foodID.String,
			NameDa:    nameDa.String,
			NameEn:    nameEn.String,
			Category:  category.String,
			Parameter: param.String,
		}
		if value.Valid {
			v := value.Float64
			row.Value = &v
		}
		count++
		if err := fn(row); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		log.Error("Rows iteration failed", "error", err)
		return fmt.Errorf("rows error: %w", err)
	}

	log.Info("Read reference rows", "rows", count, "duration", time.Since(start))
	return nil
}

// ProductListings is what a product file yielded
type ProductListings struct {
	Products []types.ProductRecord
	// Skipped counts rows that failed to scan or carry no store or external id
	Skipped int
}

// Products reads a product listing file
func (r *Reader) Products(ctx context.Context, path string, cols ProductColumns) (ProductListings, error) {
	start := time.Now()
	r.log.Debug("Reading product listings", "path", path)

	scan, err := scanFunction(path)
	if err != nil {
		return ProductListings{}, err
	}

	query := fmt.Sprintf(`
		SELECT %s, %s, %s, %s, %s, %s, %s, %s
		FROM %s(?)`,
		textColumn(cols.ExternalID),
		textColumn(cols.Store),
		textColumn(cols.Name),
		textColumn(cols.Category),
		numberColumn(cols.Price),
		numberColumn(cols.OriginalPrice),
		boolColumn(cols.OnSale),
		textColumn(cols.ImageURL),
		scan)

	rows, err := r.db.QueryContext(ctx, query, path)
	if err != nil {
		r.log.Error("DuckDB product query failed", "error", err, "duration", time.Since(start))
		return ProductListings{}, fmt.Errorf("product query failed: %w", err)
	}
	defer rows.Close()

	var out ProductListings
	for rows.Next() {
		var (
			id, store, name, category, image sql.NullString
			price, original                  sql.NullFloat64
			onSale                           sql.NullBool
		)
		if err := rows.Scan(&id, &store, &name, &category, &price, &original, &onSale, &image); err != nil {
			r.log.Error("Row scan failed", "error", err)
			out.Skipped++
			continue
		}

		p := types.ProductRecord{
			ExternalID: strings.TrimSpace(id.String),
			Store:      strings.TrimSpace(store.String),
			Name:       strings.TrimSpace(name.String),
			Category:   strings.TrimSpace(category.String),
			Price:      price.Float64,
			OnSale:     onSale.Bool,
			ImageURL:   image.String,
		}
		if p.ExternalID == "" || p.Store == "" {
			out.Skipped++
			continue
		}
		if original.Valid {
			p.OriginalPrice = types.Float(original.Float64)
		}
		out.Products = append(out.Products, p)
	}

	if err := rows.Err(); err != nil {
		r.log.Error("Rows iteration failed", "error", err)
		return ProductListings{}, fmt.Errorf("rows error: %w", err)
	}

	r.log.Info("Read product listings",
		"count", len(out.Products),
		"skipped", out.Skipped,
		"duration", time.Since(start))
	return out, nil
}

func boolColumn(name string) string {
	if name == "" {
		return "NULL"
	}
	return "TRY_CAST(" + quoteIdent(name) + " AS BOOLEAN)"
}

// TestConnection checks that DuckDB can open and count the file
func (r *Reader) TestConnection(ctx context.Context, path string) error {
	start := time.Now()
	r.log.Debug("Testing DuckDB connection", "path", path)

	scan, err := scanFunction(path)
	if err != nil {
		return err
	}

	var count int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s(?)`, scan)
	if err := r.db.QueryRowContext(ctx, query, path).Scan(&count); err != nil {
		r.log.Error("Connection test failed", "error", err, "duration", time.Since(start))
		return fmt.Errorf("connection test failed: %w", err)
	}

	r.log.Info("Connection test successful", "total_records", count, "duration", time.Since(start))
	return nil
}
