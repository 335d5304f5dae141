// Package export renders the stored records as a downloadable spreadsheet.
package export

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/bulkingest/internal/domain"
	"github.com/rpattn/bulkingest/internal/repository"
)

// Format selects the output encoding.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

// ErrUnsupportedFormat is returned for an unknown export format.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// ParseFormat maps a query value to a Format; empty selects XLSX.
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(FormatXLSX):
		return FormatXLSX, nil
	case string(FormatCSV):
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, raw)
	}
}

// ContentType is the response media type for f.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

const sheetName = "Records"

// fixed leading columns, followed by the union of data keys
var baseColumns = []string{"id", "status", "createdAt"}

type Service struct {
	records  repository.RecordRepository
	pageSize int
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithPageSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.pageSize = size
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewService(records repository.RecordRepository, opts ...Option) *Service {
	service := &Service{
		records:  records,
		pageSize: 1000,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	service.logger = service.logger.With("component", "export")
	return service
}

// FileName is the suggested download name for an export taken now.
func (s *Service) FileName(format Format) string {
	return fmt.Sprintf("records-%s.%s", s.now().UTC().Format("20060102-150405"), format)
}

// Write streams every stored record to w. The first pass over the store
// collects the column set, the second writes the rows.
func (s *Service) Write(ctx context.Context, w io.Writer, format Format) (int, error) {
	columns, err := s.columns(ctx)
	if err != nil {
		return 0, err
	}

	var rows int
	switch format {
	case FormatCSV:
		rows, err = s.writeCSV(ctx, w, columns)
	case FormatXLSX:
		rows, err = s.writeXLSX(ctx, w, columns)
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return rows, err
	}

	s.logger.Info("records exported", "format", format, "rows", rows, "columns", len(columns))
	return rows, nil
}

func (s *Service) columns(ctx context.Context) ([]string, error) {
	seen := map[string]struct{}{}
	err := s.each(ctx, func(rec domain.Record) error {
		for key := range rec.Data {
			seen[key] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	columns := make([]string, 0, len(seen))
	for key := range seen {
		columns = append(columns, key)
	}
	sort.Strings(columns)
	return columns, nil
}

// header names the output columns. A data key that collides with a base
// column, or with an earlier renamed key, gets a "data." prefix.
func header(columns []string) []string {
	out := make([]string, 0, len(baseColumns)+len(columns))
	used := make(map[string]struct{}, cap(out))
	for _, col := range baseColumns {
		out = append(out, col)
		used[col] = struct{}{}
	}
	for _, col := range columns {
		used[col] = struct{}{}
	}
	for _, col := range columns {
		name := col
		for _, base := range baseColumns {
			if col == base {
				name = "data." + col
				for {
					if _, taken := used[name]; !taken {
						break
					}
					name = "data." + name
				}
				used[name] = struct{}{}
				break
			}
		}
		out = append(out, name)
	}
	return out
}

// each pages through the store in insertion order.
func (s *Service) each(ctx context.Context, fn func(domain.Record) error) error {
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, total, err := s.records.List(ctx, s.pageSize, offset)
		if err != nil {
			return fmt.Errorf("list records: %w", err)
		}
		for _, rec := range page {
			if err := fn(rec); err != nil {
				return err
			}
		}
		offset += len(page)
		if len(page) == 0 || offset >= total {
			return nil
		}
	}
}

func (s *Service) writeCSV(ctx context.Context, w io.Writer, columns []string) (int, error) {
	buffered := bufio.NewWriter(w)
	csvWriter := csv.NewWriter(buffered)

	names := header(columns)
	if err := csvWriter.Write(names); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	rows := 0
	err := s.each(ctx, func(rec domain.Record) error {
		line := make([]string, 0, len(names))
		line = append(line, rec.ID.String(), string(rec.Status), rec.CreatedAt.UTC().Format(time.RFC3339Nano))
		for _, col := range columns {
			line = append(line, rec.Data[col].Text())
		}
		rows++
		return csvWriter.Write(line)
	})
	if err != nil {
		return rows, err
	}

	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return rows, fmt.Errorf("flush csv: %w", err)
	}
	if err := buffered.Flush(); err != nil {
		return rows, fmt.Errorf("flush output: %w", err)
	}
	return rows, nil
}

func (s *Service) writeXLSX(ctx context.Context, w io.Writer, columns []string) (int, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return 0, fmt.Errorf("name sheet: %w", err)
	}
	sw, err := f.NewStreamWriter(sheetName)
	if err != nil {
		return 0, fmt.Errorf("open stream writer: %w", err)
	}

	names := header(columns)
	cells := make([]interface{}, 0, len(names))
	for _, name := range names {
		cells = append(cells, name)
	}
	if err := sw.SetRow("A1", cells); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	rows := 0
	err = s.each(ctx, func(rec domain.Record) error {
		line := make([]interface{}, 0, len(names))
		line = append(line, rec.ID.String(), string(rec.Status), rec.CreatedAt.UTC().Format(time.RFC3339Nano))
		for _, col := range columns {
			line = append(line, rec.Data[col].Interface())
		}
		rows++
		cell, err := excelize.CoordinatesToCellName(1, rows+1)
		if err != nil {
			return err
		}
		return sw.SetRow(cell, line)
	})
	if err != nil {
		return rows, err
	}

	if err := sw.Flush(); err != nil {
		return rows, fmt.Errorf("flush sheet: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return rows, fmt.Errorf("write workbook: %w", err)
	}
	return rows, nil
}
