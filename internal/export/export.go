// Package export writes the record store to a dated tabular artifact and
// optionally mirrors it to blob storage.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/property-monitor/internal/listing"
	"github.com/JakeFAU/property-monitor/internal/store"
)

// Supported formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// Header is the column order of every export.
var Header = []string{"price", "address", "description", "bedrooms", "link", "scraped_at"}

// Config controls where and how artifacts are written.
type Config struct {
	Dir    string `mapstructure:"dir"`
	Prefix string `mapstructure:"prefix"`
	Format string `mapstructure:"format"`
}

// DefaultConfig writes output/rightmove_properties_<date>.csv.
func DefaultConfig() Config {
	return Config{Dir: "output", Prefix: "rightmove_properties", Format: FormatCSV}
}

// Validate checks the format and file naming.
func (c Config) Validate() error {
	switch c.Format {
	case FormatCSV, FormatXLSX:
	default:
		return fmt.Errorf("export.format must be %q or %q, got %q", FormatCSV, FormatXLSX, c.Format)
	}
	if strings.TrimSpace(c.Prefix) == "" || strings.ContainsAny(c.Prefix, `/\`) {
		return fmt.Errorf("export.prefix %q must be a non-empty file name prefix", c.Prefix)
	}
	return nil
}

// Mirror receives a copy of each artifact.
type Mirror interface {
	PutObject(ctx context.Context, name string, contentType string, r io.Reader) (string, error)
}

// Clock dates the artifact.
type Clock interface {
	Now() time.Time
}

// Artifact describes a written export.
type Artifact struct {
	Path   string
	URI    string
	Rows   int
	Format string
}

// Exporter dumps every stored record.
type Exporter struct {
	cfg    Config
	reader store.Reader
	mirror Mirror
	clock  Clock
	logger *zap.Logger
}

// New builds an Exporter. mirror may be nil.
func New(cfg Config, reader store.Reader, mirror Mirror, clock Clock, logger *zap.Logger) (*Exporter, error) {
	if cfg.Format == "" {
		cfg.Format = FormatCSV
	}
	if cfg.Dir == "" {
		cfg.Dir = DefaultConfig().Dir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if reader == nil {
		return nil, errors.New("export: record reader is required")
	}
	if clock == nil {
		return nil, errors.New("export: clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{cfg: cfg, reader: reader, mirror: mirror, clock: clock, logger: logger}, nil
}

// FileName returns the artifact name for the given day.
func (e *Exporter) FileName(day time.Time) string {
	return fmt.Sprintf("%s_%s.%s", e.cfg.Prefix, day.Format(time.DateOnly), e.cfg.Format)
}

// Export writes <dir>/<prefix>_<YYYY-MM-DD>.<format> and mirrors it when a
// mirror is configured. A mirror failure is returned together with the
// written artifact.
func (e *Exporter) Export(ctx context.Context) (Artifact, error) {
	rows, err := e.reader.List(ctx)
	if err != nil {
		return Artifact{}, fmt.Errorf("list records: %w", err)
	}
	if err := os.MkdirAll(e.cfg.Dir, 0o750); err != nil {
		return Artifact{}, fmt.Errorf("create export dir: %w", err)
	}
	name := e.FileName(e.clock.Now())
	artifact := Artifact{
		Path:   filepath.Join(e.cfg.Dir, name),
		Rows:   len(rows),
		Format: e.cfg.Format,
	}

	switch e.cfg.Format {
	case FormatXLSX:
		err = writeXLSXFile(artifact.Path, rows)
	default:
		err = writeCSVFile(artifact.Path, rows)
	}
	if err != nil {
		return Artifact{}, err
	}
	e.logger.Info("export written", zap.String("path", artifact.Path), zap.Int("rows", artifact.Rows))

	if e.mirror == nil {
		return artifact, nil
	}
	uri, err := e.mirrorArtifact(ctx, artifact.Path, name)
	if err != nil {
		return artifact, err
	}
	artifact.URI = uri
	e.logger.Info("export mirrored", zap.String("uri", uri))
	return artifact, nil
}

func (e *Exporter) mirrorArtifact(ctx context.Context, path, name string) (string, error) {
	// #nosec G304 -- path is built from configuration, not user input.
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()
	uri, err := e.mirror.PutObject(ctx, name, contentType(e.cfg.Format), f)
	if err != nil {
		return "", fmt.Errorf("mirror artifact: %w", err)
	}
	return uri, nil
}

func contentType(format string) string {
	if format == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

func row(rec listing.StoredRecord) []string {
	return []string{
		listing.Value(rec.Price),
		listing.Value(rec.Address),
		listing.Value(rec.Description),
		listing.Value(rec.Bedrooms),
		rec.Link,
		rec.ScrapedAt.UTC().Format(time.RFC3339),
	}
}
