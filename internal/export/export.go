// Package export writes one CSV object per table to a blob store.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/appstore-crawler/internal/hash/sha256"
	"github.com/JakeFAU/appstore-crawler/internal/model"
	"github.com/JakeFAU/appstore-crawler/internal/storage"
)

// ContentType is the MIME type of every exported object.
const ContentType = "text/csv"

// Exporter reads tables from a store and uploads them as CSV.
type Exporter struct {
	reader storage.Reader
	blobs  storage.BlobStore
	prefix string
	logger *zap.Logger
}

// Result maps each table to its object URI, row count and content digest.
type Result struct {
	URIs   map[string]string `json:"uris"`
	Rows   map[string]int    `json:"rows"`
	SHA256 map[string]string `json:"sha256"`
}

type tableExport struct {
	uri    string
	rows   int
	digest string
}

// New constructs an Exporter. prefix is prepended to every object path.
func New(reader storage.Reader, blobs storage.BlobStore, prefix string, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{reader: reader, blobs: blobs, prefix: prefix, logger: logger.Named("export")}
}

// ObjectPath returns the object path of a table export.
func (e *Exporter) ObjectPath(table string) string {
	return path.Join(e.prefix, table+".csv")
}

// Run exports every table concurrently. The first failure cancels the rest.
func (e *Exporter) Run(ctx context.Context) (Result, error) {
	res := Result{URIs: map[string]string{}, Rows: map[string]int{}, SHA256: map[string]string{}}
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	for _, kind := range model.Kinds() {
		g.Go(func() error {
			out, err := e.exportTable(ctx, kind)
			if err != nil {
				return err
			}
			mu.Lock()
			res.URIs[kind.Table()] = out.uri
			res.Rows[kind.Table()] = out.rows
			res.SHA256[kind.Table()] = out.digest
			mu.Unlock()
			e.logger.Info("table exported",
				zap.String("table", kind.Table()),
				zap.Int("rows", out.rows),
				zap.String("uri", out.uri),
				zap.String("sha256", out.digest),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	return res, nil
}

func (e *Exporter) exportTable(ctx context.Context, kind model.Kind) (tableExport, error) {
	records, err := e.reader.Load(ctx, kind)
	if err != nil {
		return tableExport{}, fmt.Errorf("load %s: %w", kind.Table(), err)
	}
	var buf bytes.Buffer
	digest := sha256.NewWriter(&buf)
	if err := EncodeTo(digest, kind, records); err != nil {
		return tableExport{}, err
	}
	uri, err := e.blobs.PutObject(ctx, e.ObjectPath(kind.Table()), ContentType, &buf)
	if err != nil {
		return tableExport{}, fmt.Errorf("upload %s: %w", kind.Table(), err)
	}
	return tableExport{uri: uri, rows: len(records), digest: digest.Sum()}, nil
}

// Encode renders records as CSV with a header row of column names. NULL
// values become empty cells.
func Encode(kind model.Kind, records []model.Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeTo(&buf, kind, records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeTo streams the CSV rendering of records to dst.
func EncodeTo(dst io.Writer, kind model.Kind, records []model.Record) error {
	spec := storage.Spec(kind)
	w := csv.NewWriter(dst)
	if err := w.Write(spec.ColumnNames()); err != nil {
		return fmt.Errorf("write %s header: %w", spec.Table, err)
	}
	row := make([]string, len(spec.Columns))
	for _, rec := range records {
		vals, err := storage.Values(rec)
		if err != nil {
			return fmt.Errorf("encode %s: %w", spec.Table, err)
		}
		for i, v := range vals {
			row[i] = cell(v)
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write %s row: %w", spec.Table, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush %s csv: %w", spec.Table, err)
	}
	return nil
}

func cell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
