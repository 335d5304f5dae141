package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"strings"
	"time"

	"github.com/rpattn/bulkingest/internal/domain"
	"github.com/rpattn/bulkingest/internal/metrics"
	"github.com/rpattn/bulkingest/internal/repository"

	"github.com/google/uuid"
)

// Options bounds what a single upload may contain.
type Options struct {
	MaxFileSize      int64
	MaxRecords       int
	AllowedMimeTypes []string
	DefaultBatchSize int
	DefaultLimit     int
	DefaultOffset    int
}

// DefaultOptions mirrors the service's configuration defaults.
func DefaultOptions() Options {
	return Options{
		MaxFileSize:      10 << 20,
		MaxRecords:       10000,
		AllowedMimeTypes: []string{"text/csv", "application/vnd.ms-excel", "text/plain"},
		DefaultBatchSize: 100,
		DefaultLimit:     100,
		DefaultOffset:    0,
	}
}

// Service ingests CSV uploads into the record store.
type Service struct {
	records repository.RecordRepository
	logRepo repository.IngestionLogRepository
	opts    Options
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates a new ingestion service. logRepo may be nil.
func NewService(
	records repository.RecordRepository,
	logRepo repository.IngestionLogRepository,
	opts Options,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DefaultBatchSize < 1 {
		opts.DefaultBatchSize = 1
	}
	return &Service{
		records: records,
		logRepo: logRepo,
		opts:    opts,
		logger:  logger.With("component", "ingestion"),
		now:     time.Now,
	}
}

// Options returns the limits the service enforces.
func (s *Service) Options() Options { return s.opts }

// Upload describes one uploaded file.
type Upload struct {
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Ingest streams the upload through the normalizer into the store in
// batches of batchSize records.
//
// Batches flushed before a fatal error (row ceiling, store failure,
// cancellation) stay persisted; records still buffered are discarded.
func (s *Service) Ingest(ctx context.Context, upload Upload, batchSize int) (domain.UploadResult, error) {
	result, err := s.ingest(ctx, upload, batchSize)
	switch {
	case err == nil:
		metrics.CounterUploads.WithLabelValues(metrics.OutcomeSuccess).Inc()
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		metrics.CounterUploads.WithLabelValues(metrics.OutcomeCancelled).Inc()
		s.logger.Info("upload cancelled", "file", upload.FileName, "error", err)
	case isClientError(err):
		metrics.CounterUploads.WithLabelValues(metrics.OutcomeRejected).Inc()
		s.logger.Info("upload rejected", "file", upload.FileName, "error", err)
	default:
		metrics.CounterUploads.WithLabelValues(metrics.OutcomeFailed).Inc()
		s.logger.Error("upload failed", "file", upload.FileName, "error", err)
	}
	return result, err
}

func (s *Service) ingest(ctx context.Context, upload Upload, batchSize int) (domain.UploadResult, error) {
	if err := s.validate(upload); err != nil {
		return domain.UploadResult{}, err
	}
	if batchSize < 1 {
		batchSize = s.opts.DefaultBatchSize
	}

	body := upload.Body
	if s.opts.MaxFileSize > 0 {
		body = &limitedReader{r: body, remaining: s.opts.MaxFileSize, limit: s.opts.MaxFileSize}
	}

	reader := NewRowReader(body)
	acc := NewBatchAccumulator(s.records, batchSize)

	var (
		rowErrors []domain.RowError
		rowCount  int
		processed int
	)

	for {
		if err := ctx.Err(); err != nil {
			dropped := acc.Discard()
			s.logger.Debug("discarding buffered records", "file", upload.FileName, "row", rowCount, "discarded", dropped)
			return domain.UploadResult{}, err
		}

		row, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		var malformed *MalformedRowError
		if err != nil && !errors.As(err, &malformed) {
			acc.Discard()
			return domain.UploadResult{}, err
		}

		rowCount++
		metrics.CounterRowsSeen.Inc()
		if malformed != nil {
			malformed.Row = rowCount
		}
		if s.opts.MaxRecords > 0 && rowCount > s.opts.MaxRecords {
			dropped := acc.Discard()
			s.logger.Info("row ceiling reached", "file", upload.FileName, "limit", s.opts.MaxRecords,
				"persisted", processed, "discarded", dropped)
			return domain.UploadResult{}, &TooManyRowsError{Limit: s.opts.MaxRecords}
		}

		if malformed == nil {
			var rec domain.Record
			rec, err = BuildRecord(row, rowCount, s.now())
			if err == nil {
				n, flushErr := acc.Push(ctx, rec)
				if flushErr != nil {
					return domain.UploadResult{}, cancelled(ctx, flushErr)
				}
				if n > 0 {
					processed += n
					s.logger.Debug("batch flushed", "file", upload.FileName, "records", n, "row", rowCount)
				}
				continue
			}
		}

		msg := err.Error()
		rowErrors = append(rowErrors, domain.RowError{Row: rowCount, Error: msg})
		s.rowError(ctx, upload, rowCount, err)
	}

	n, err := acc.Flush(ctx)
	if err != nil {
		return domain.UploadResult{}, cancelled(ctx, err)
	}
	processed += n

	if processed == 0 && len(rowErrors) == 0 {
		return domain.UploadResult{}, &EmptyUploadError{}
	}

	result := domain.UploadResult{
		Success:          true,
		TotalRows:        rowCount,
		RecordsProcessed: processed,
		Message:          fmt.Sprintf("Successfully processed %d records", processed),
	}
	if len(rowErrors) > 0 {
		result.Errors = rowErrors
	}

	s.logger.Info("upload processed",
		"file", upload.FileName,
		"rows", rowCount,
		"records", processed,
		"errors", len(rowErrors),
		"batches", acc.Flushes(),
	)
	return result, nil
}

// cancelled reports a flush that failed because the request went away as
// the context error rather than a store failure.
func cancelled(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func (s *Service) validate(upload Upload) error {
	if upload.Body == nil {
		return &MissingFileError{}
	}
	if s.opts.MaxFileSize > 0 && upload.Size > s.opts.MaxFileSize {
		return &PayloadTooLargeError{Limit: s.opts.MaxFileSize}
	}
	if !s.acceptsMediaType(upload.ContentType) && !strings.HasSuffix(strings.ToLower(upload.FileName), ".csv") {
		return &UnsupportedMediaTypeError{MediaType: upload.ContentType, Allowed: s.opts.AllowedMimeTypes}
	}
	return nil
}

func (s *Service) acceptsMediaType(contentType string) bool {
	mediaType := strings.TrimSpace(contentType)
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}
	for _, allowed := range s.opts.AllowedMimeTypes {
		if strings.EqualFold(mediaType, allowed) {
			return true
		}
	}
	return false
}

// ListRecords returns one page of stored records.
func (s *Service) ListRecords(ctx context.Context, limit, offset int) (domain.RecordPage, error) {
	if limit < 0 {
		limit = s.opts.DefaultLimit
	}
	if offset < 0 {
		offset = s.opts.DefaultOffset
	}

	records, total, err := s.records.List(ctx, limit, offset)
	if err != nil {
		return domain.RecordPage{}, &StoreError{Op: "list", Err: err}
	}
	if records == nil {
		records = []domain.Record{}
	}
	return domain.RecordPage{Total: total, Records: records}, nil
}

// GetRecord looks up a record by id. The bool is false when it does not exist.
func (s *Service) GetRecord(ctx context.Context, id uuid.UUID) (domain.Record, bool, error) {
	rec, err := s.records.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			return domain.Record{}, false, nil
		}
		return domain.Record{}, false, &StoreError{Op: "get", Err: err}
	}
	return rec, true, nil
}

// ClearAll removes every stored record.
func (s *Service) ClearAll(ctx context.Context) error {
	if err := s.records.Clear(ctx); err != nil {
		return &StoreError{Op: "clear", Err: err}
	}
	s.logger.Info("records cleared")
	return nil
}

// Stats reports the record count and the time of the last write.
func (s *Service) Stats(ctx context.Context) (domain.Stats, error) {
	stats, err := s.records.Stats(ctx)
	if err != nil {
		return domain.Stats{}, &StoreError{Op: "stats", Err: err}
	}
	return stats, nil
}

// ListIngestionLogs returns logged row errors, newest first, optionally
// limited to one file name. Without a log repository the list is empty.
func (s *Service) ListIngestionLogs(ctx context.Context, fileName string, limit, offset int) ([]domain.IngestionLogEntry, error) {
	if s.logRepo == nil {
		return []domain.IngestionLogEntry{}, nil
	}
	if limit < 0 {
		limit = s.opts.DefaultLimit
	}
	if offset < 0 {
		offset = 0
	}

	entries, err := s.logRepo.List(ctx, strings.TrimSpace(fileName), limit, offset)
	if err != nil {
		return nil, &StoreError{Op: "list logs", Err: err}
	}
	if entries == nil {
		entries = []domain.IngestionLogEntry{}
	}
	return entries, nil
}

func (s *Service) rowError(ctx context.Context, upload Upload, rowNumber int, err error) {
	metrics.CounterRowsFailed.Inc()
	s.logger.Warn("row rejected", "file", upload.FileName, "row", rowNumber, "error", err)

	if s.logRepo == nil {
		return
	}
	entry := domain.IngestionLogEntry{
		FileName:     upload.FileName,
		RowNumber:    &rowNumber,
		ErrorMessage: err.Error(),
	}
	if logErr := s.logRepo.Record(ctx, entry); logErr != nil {
		s.logger.Warn("failed to record ingestion log", "error", logErr)
	}
}

func isClientError(err error) bool {
	var (
		missing   *MissingFileError
		tooLarge  *PayloadTooLargeError
		mediaType *UnsupportedMediaTypeError
		tooMany   *TooManyRowsError
		empty     *EmptyUploadError
	)
	return errors.As(err, &missing) ||
		errors.As(err, &tooLarge) ||
		errors.As(err, &mediaType) ||
		errors.As(err, &tooMany) ||
		errors.As(err, &empty) ||
		errors.Is(err, ErrInvalidCSV) ||
		errors.Is(err, context.Canceled)
}

// limitedReader fails with *PayloadTooLargeError once more than limit bytes
// have been read.
type limitedReader struct {
	r         io.Reader
	remaining int64
	limit     int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, &PayloadTooLargeError{Limit: l.limit}
	}
	// read one byte past the limit so an exact-size body is not rejected
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return 0, &PayloadTooLargeError{Limit: l.limit}
	}
	return n, err
}
