package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/chronicle/pkg/observability"
)

const currentFileName = "audit.ndjson"

// FileSink appends entries as newline-delimited JSON with size-based rotation
type FileSink struct {
	basePath string
	file     *os.File
	mu       sync.Mutex
	encoder  *json.Encoder
	rotate   bool
	maxSize  int64 // Max file size in bytes before rotation
	maxFiles int   // Max number of rotated files to keep
	logger   *observability.Logger
	now      func() time.Time
}

// FileSinkConfig configures the file sink
type FileSinkConfig struct {
	BasePath string // Directory for audit files
	Rotate   bool   // Enable rotation
	MaxSize  int64  // Max file size in bytes (default: 100MB)
	MaxFiles int    // Max number of rotated files to keep (default: 10)
	Logger   *observability.Logger
}

// DefaultFileSinkConfig returns default configuration
func DefaultFileSinkConfig() FileSinkConfig {
	return FileSinkConfig{
		BasePath: "/var/log/chronicle/audit",
		Rotate:   true,
		MaxSize:  100 * 1024 * 1024, // 100MB
		MaxFiles: 10,
	}
}

// NewFileSink creates a file sink writing under config.BasePath
func NewFileSink(config FileSinkConfig) (*FileSink, error) {
	if err := os.MkdirAll(config.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	s := &FileSink{
		basePath: config.BasePath,
		rotate:   config.Rotate,
		maxSize:  config.MaxSize,
		maxFiles: config.MaxFiles,
		logger:   config.Logger,
		now:      time.Now,
	}

	if s.maxSize == 0 {
		s.maxSize = 100 * 1024 * 1024
	}
	if s.maxFiles == 0 {
		s.maxFiles = 10
	}
	if s.logger == nil {
		s.logger = observability.Discard()
	}

	if err := s.openFile(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSink) Name() string { return "file" }

func (s *FileSink) Mode() DeliveryMode { return Detached }

func (s *FileSink) currentPath() string {
	return filepath.Join(s.basePath, currentFileName)
}

// openFile opens or creates the current file, rotating it first when full
func (s *FileSink) openFile() error {
	filename := s.currentPath()

	if s.rotate {
		if info, err := os.Stat(filename); err == nil && info.Size() >= s.maxSize {
			if err := s.rotateFile(); err != nil {
				return fmt.Errorf("failed to rotate audit file: %w", err)
			}
		}
	}

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit file: %w", err)
	}

	s.file = file
	s.encoder = json.NewEncoder(file)
	return nil
}

func (s *FileSink) rotateFile() error {
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			s.logger.WithError(err).Warn("failed to close audit file before rotation")
		}
		s.file = nil
	}

	stamp := s.now().UTC().Format("20060102-150405.000000000")
	rotated := filepath.Join(s.basePath, fmt.Sprintf("audit-%s.ndjson", stamp))
	if err := os.Rename(s.currentPath(), rotated); err != nil {
		return fmt.Errorf("failed to rename audit file: %w", err)
	}

	if err := s.cleanupOldFiles(); err != nil {
		s.logger.WithError(err).Warn("failed to clean up old audit files")
	}
	return nil
}

// RotatedFiles returns the rotated files, oldest first
func (s *FileSink) RotatedFiles() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(s.basePath, "audit-*.ndjson"))
	if err != nil {
		return nil, err
	}
	// the timestamp in the name sorts lexically
	sort.Strings(files)
	return files, nil
}

// cleanupOldFiles removes rotated files beyond maxFiles
func (s *FileSink) cleanupOldFiles() error {
	files, err := s.RotatedFiles()
	if err != nil {
		return err
	}
	if len(files) <= s.maxFiles {
		return nil
	}

	var errs []error
	for _, file := range files[:len(files)-s.maxFiles] {
		if err := os.Remove(file); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Deliver appends each entry as one JSON line
func (s *FileSink) Deliver(ctx context.Context, entries []*Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return ErrSinkClosed
	}

	for _, e := range entries {
		if s.rotate {
			if info, err := s.file.Stat(); err == nil && info.Size() >= s.maxSize {
				if err := s.openFile(); err != nil {
					return fmt.Errorf("failed to rotate audit file: %w", err)
				}
			}
		}
		if err := s.encoder.Encode(e); err != nil {
			return fmt.Errorf("failed to write audit entry: %w", err)
		}
	}
	return nil
}

// Close closes the current file
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		return err
	}
	return nil
}

// ReadEntries reads up to count entries from the current file; count <= 0 reads all
func (s *FileSink) ReadEntries(count int) ([]*Entry, error) {
	return ReadEntriesFile(s.currentPath(), count)
}

// ReadEntriesFile reads up to count entries from an NDJSON audit file
func ReadEntriesFile(path string, count int) ([]*Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	defer file.Close()

	var entries []*Entry
	decoder := json.NewDecoder(file)
	for {
		var e Entry
		if err := decoder.Decode(&e); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("failed to decode audit entry: %w", err)
		}
		entries = append(entries, &e)

		if count > 0 && len(entries) >= count {
			break
		}
	}
	return entries, nil
}
