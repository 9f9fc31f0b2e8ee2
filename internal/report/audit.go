package report

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TableExporter provides access to database tables for export.
type TableExporter interface {
	GetTableNames(ctx context.Context) ([]string, error)
	GetTableData(ctx context.Context, tableName string) ([]map[string]any, []string, error)
	GetDB() *sql.DB
}

// AuditConfig holds configuration for the audit service.
type AuditConfig struct {
	// Dir receives one workbook per run.
	Dir           string
	ExportOnStart bool
	Location      *time.Location
}

// AuditService dumps every table to a workbook on the first of each month.
type AuditService struct {
	config   AuditConfig
	exporter TableExporter
	writer   func() ExcelWriter
	logger   *zerolog.Logger
	now      func() time.Time
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

func NewAuditService(cfg AuditConfig, exporter TableExporter, writerFactory func() ExcelWriter, logger *zerolog.Logger) *AuditService {
	if cfg.Dir == "" {
		cfg.Dir = "exports"
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if writerFactory == nil {
		writerFactory = NewExcelizeWriter
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &AuditService{
		config:   cfg,
		exporter: exporter,
		writer:   writerFactory,
		logger:   logger,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

func (s *AuditService) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	if s.config.ExportOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runOnce()
		}()
	}

	s.wg.Add(1)
	go s.loop()

	s.logger.Info().Str("dir", s.config.Dir).Msg("audit service started")
}

func (s *AuditService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info().Msg("audit service stopped")
}

func (s *AuditService) loop() {
	defer s.wg.Done()

	next := s.nextFirstOfMonth()
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()
	s.logger.Info().Time("next_run", next).Msg("audit export scheduled")

	for {
		select {
		case <-s.stopCh:
			return
		case <-timer.C:
			s.runOnce()
			next = s.nextFirstOfMonth()
			timer.Reset(time.Until(next))
			s.logger.Info().Time("next_run", next).Msg("audit export scheduled")
		}
	}
}

func (s *AuditService) nextFirstOfMonth() time.Time {
	now := s.now().In(s.config.Location)
	return time.Date(now.Year(), now.Month()+1, 1, 0, 1, 0, 0, s.config.Location)
}

func (s *AuditService) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	if _, err := s.ExportNow(ctx); err != nil {
		s.logger.Error().Err(err).Msg("audit export failed")
	}
}

// ExportNow writes all tables to a new workbook in the audit directory and
// returns its path.
func (s *AuditService) ExportNow(ctx context.Context) (string, error) {
	if s.exporter == nil {
		return "", fmt.Errorf("exporter not configured")
	}

	tables, err := s.exporter.GetTableNames(ctx)
	if err != nil {
		return "", fmt.Errorf("get table names: %w", err)
	}

	xl := s.writer()
	defer func() { _ = xl.Close() }()

	exported := 0
	for _, table := range tables {
		data, columns, err := s.exporter.GetTableData(ctx, table)
		if err != nil {
			s.logger.Error().Err(err).Str("table", table).Msg("failed to read table")
			continue
		}
		if err := xl.AddSheet(table); err != nil {
			return "", err
		}
		if err := xl.WriteHeader(columns); err != nil {
			return "", err
		}
		for _, row := range data {
			values := make([]any, len(columns))
			for i, col := range columns {
				values[i] = row[col]
			}
			if err := xl.WriteRow(values); err != nil {
				return "", fmt.Errorf("write %s row: %w", table, err)
			}
		}
		exported++
		s.logger.Debug().Str("table", table).Int("rows", len(data)).Msg("exported table")
	}
	if exported == 0 {
		return "", fmt.Errorf("no tables exported")
	}

	if err := os.MkdirAll(s.config.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create audit dir: %w", err)
	}
	path := filepath.Join(s.config.Dir, fmt.Sprintf("audit_%s.xlsx", s.now().In(s.config.Location).Format("2006-01-02_150405")))
	if err := xl.SaveToFile(path); err != nil {
		return "", fmt.Errorf("save audit workbook: %w", err)
	}

	s.logger.Info().Str("path", path).Int("tables", exported).Msg("audit export written")
	return path, nil
}
