package grpc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"chicken/broker/internal/export"
	"chicken/broker/internal/logging"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

var codeCleaner = regexp.MustCompile(`[^A-Z0-9]+`)

// Option customises the behaviour of the results collector.
type Option func(*Collector)

// WithCompressor overrides the default gzip compressor applied to stored submissions.
func WithCompressor(compressor Compressor) Option {
	return func(c *Collector) {
		if compressor != nil {
			c.compressor = compressor
		}
	}
}

// WithLogger overrides the collector logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Collector) {
		if logger != nil {
			c.log = logger
		}
	}
}

// WithIDGenerator overrides submission identifiers (used in tests).
func WithIDGenerator(next func() string) Option {
	return func(c *Collector) {
		if next != nil {
			c.newID = next
		}
	}
}

// CollectorStats counts submissions handled since startup.
type CollectorStats struct {
	Accepted int       `json:"accepted"`
	Rejected int       `json:"rejected"`
	Last     time.Time `json:"last"`
}

// Collector implements ExperimentSinkServer by persisting each valid document to disk.
type Collector struct {
	dir        string
	compressor Compressor
	log        *logging.Logger
	newID      func() string
	now        func() time.Time

	mu    sync.Mutex
	stats CollectorStats
}

// NewCollector prepares the results directory and returns a collector writing into it.
func NewCollector(dir string, opts ...Option) (*Collector, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("results directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create results directory: %w", err)
	}
	collector := &Collector{
		dir:        dir,
		compressor: NewGZIPCompressor(),
		log:        logging.L(),
		newID:      func() string { return uuid.NewString() },
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(collector)
		}
	}
	collector.log = collector.log.Named("results_collector")
	return collector, nil
}

// Submit validates the document, stores it compressed and replies with its storage id.
func (c *Collector) Submit(ctx context.Context, document *structpb.Struct) (*structpb.Struct, error) {
	if err := ctx.Err(); err != nil {
		return nil, status.FromContextError(err).Err()
	}
	if document == nil || len(document.GetFields()) == 0 {
		c.reject()
		return nil, status.Error(codes.InvalidArgument, "empty experiment document")
	}
	//1.- Round-trip through the export schema so malformed documents are refused up front.
	raw, err := protojson.Marshal(document)
	if err != nil {
		c.reject()
		return nil, status.Errorf(codes.InvalidArgument, "encode document: %v", err)
	}
	data, err := export.Decode(raw)
	if err != nil {
		c.reject()
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}
	code := codeCleaner.ReplaceAllString(data.CompletionCode, "")
	if code == "" {
		c.reject()
		return nil, status.Error(codes.InvalidArgument, "completion code required")
	}
	canonical, err := export.Encode(data)
	if err != nil {
		c.reject()
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}

	//2.- Compress and write atomically so partially written files never appear in the directory.
	payload, err := c.compressor.Compress(canonical)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "compress document: %v", err)
	}
	id := c.newID()
	name := fmt.Sprintf("%s-%s.json.%s", code, id, extension(c.compressor))
	if err := writeAtomic(filepath.Join(c.dir, name), payload); err != nil {
		c.log.Error("persist submission failed", logging.Error(err), logging.String("file", name))
		return nil, status.Errorf(codes.Internal, "persist document: %v", err)
	}

	c.mu.Lock()
	c.stats.Accepted++
	c.stats.Last = c.now()
	c.mu.Unlock()
	c.log.Info("experiment stored",
		logging.String("file", name),
		logging.String("session_id", data.SessionID),
		logging.Int("trials", len(data.Trials)),
		logging.Int("total_points", data.TotalPoints),
	)
	return structpb.NewStruct(map[string]any{
		"id":     id,
		"file":   name,
		"trials": len(data.Trials),
	})
}

// Stats returns a copy of the submission counters.
func (c *Collector) Stats() CollectorStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Directory reports where submissions are stored.
func (c *Collector) Directory() string { return c.dir }

// ReadSubmission loads a stored submission written by a collector using compressor.
func ReadSubmission(path string, compressor Compressor) (export.ExperimentData, error) {
	if compressor == nil {
		compressor = NewGZIPCompressor()
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		return export.ExperimentData{}, err
	}
	raw, err := compressor.Decompress(payload)
	if err != nil {
		return export.ExperimentData{}, err
	}
	return export.Decode(raw)
}

func (c *Collector) reject() {
	c.mu.Lock()
	c.stats.Rejected++
	c.mu.Unlock()
}

func extension(compressor Compressor) string {
	switch compressor.Name() {
	case "gzip":
		return "gz"
	case "zstd":
		return "zst"
	default:
		return compressor.Name()
	}
}

func writeAtomic(path string, payload []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".submission-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

var _ ExperimentSinkServer = (*Collector)(nil)
