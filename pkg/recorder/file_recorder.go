package recorder

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/willibrandon/calltrace/pkg/trace"
)

// journal is the append-only JSON lines file shared by FileSink and
// SecureFileSink. Each reopen of the compressed writer starts a new zstd
// frame; readers decode the concatenated frames as one stream.
type journal struct {
	mu              sync.Mutex
	file            *os.File
	writer          io.Writer
	bufWriter       *bufio.Writer
	path            string
	compressionType trace.CompressionType
	count           int
}

func openJournal(path string, ct trace.CompressionType) (*journal, error) {
	j := &journal{path: path, compressionType: ct}
	if err := j.open(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *journal) open() error {
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	j.file = f
	j.bufWriter = bufio.NewWriter(f)
	w, err := trace.NewCompressedWriter(j.bufWriter, j.compressionType)
	if err != nil {
		f.Close()
		return err
	}
	j.writer = w
	return nil
}

func (j *journal) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.writer.Write(append(data, '\n')); err != nil {
		return err
	}

	// Flush bufWriter so uncompressed journals survive a crash line by line
	if err := j.bufWriter.Flush(); err != nil {
		return err
	}
	j.count++
	return nil
}

// readLines finishes the current frame, scans the whole file and starts a
// new frame for subsequent writes.
func (j *journal) readLines(fn func(line []byte) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := trace.CloseCompressedWriter(j.writer); err != nil {
		return fmt.Errorf("close compressed writer: %w", err)
	}
	if err := j.bufWriter.Flush(); err != nil {
		return err
	}
	defer func() {
		if w, err := trace.NewCompressedWriter(j.bufWriter, j.compressionType); err == nil {
			j.writer = w
		}
	}()

	f, err := os.Open(j.path)
	if err != nil {
		return err
	}
	defer f.Close()

	reader, err := trace.NewCompressedReader(f, j.compressionType)
	if err != nil {
		return err
	}
	if c, ok := reader.(interface{ Close() }); ok {
		defer c.Close()
	}

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		if err := fn(scanner.Bytes()); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (j *journal) clear() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	trace.CloseCompressedWriter(j.writer)
	j.bufWriter.Flush()
	j.file.Close()
	if err := os.Truncate(j.path, 0); err != nil {
		return err
	}
	j.count = 0
	return j.open()
}

func (j *journal) close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := trace.CloseCompressedWriter(j.writer); err != nil {
		return err
	}
	if err := j.bufWriter.Flush(); err != nil {
		return err
	}
	return j.file.Close()
}

// FileSink journals entries to a JSON lines file with optional compression
type FileSink struct {
	j   *journal
	log *slog.Logger
}

// FileSinkOptions contains options for creating a file sink
type FileSinkOptions struct {
	CompressionType trace.CompressionType
	// Logger receives read and clear failures; nil discards them
	Logger *slog.Logger
}

// DefaultFileSinkOptions returns default options for file sink
func DefaultFileSinkOptions() FileSinkOptions {
	return FileSinkOptions{
		CompressionType: trace.ZstdCompression,
	}
}

// NewFileSink creates a new file sink with default options
func NewFileSink(path string) (*FileSink, error) {
	return NewFileSinkWithOptions(path, DefaultFileSinkOptions())
}

// NewFileSinkWithOptions creates a new file sink with the given options.
// Existing entries in path are kept and appended to.
func NewFileSinkWithOptions(path string, options FileSinkOptions) (*FileSink, error) {
	j, err := openJournal(path, options.CompressionType)
	if err != nil {
		return nil, err
	}
	return &FileSink{j: j, log: sinkLogger(options.Logger)}, nil
}

func sinkLogger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.New(slog.DiscardHandler)
	}
	return l
}

// RecordEntry appends one entry
func (fs *FileSink) RecordEntry(e trace.Entry) error {
	return fs.j.writeLine(e)
}

// Entries reads all entries from the file. Lines that fail to decode are
// skipped.
func (fs *FileSink) Entries() []trace.Entry {
	entries, err := fs.ReadEntries()
	if err != nil {
		fs.log.Warn("read journal", "path", fs.j.path, "error", err)
	}
	return entries
}

// ReadEntries is Entries with the read error reported
func (fs *FileSink) ReadEntries() ([]trace.Entry, error) {
	var entries []trace.Entry
	err := fs.j.readLines(func(line []byte) error {
		var e trace.Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil
		}
		entries = append(entries, e)
		return nil
	})
	return entries, err
}

// Count returns the number of entries written through this sink
func (fs *FileSink) Count() int {
	fs.j.mu.Lock()
	defer fs.j.mu.Unlock()
	return fs.j.count
}

// Path returns the journal path
func (fs *FileSink) Path() string {
	return fs.j.path
}

// Clear truncates the file
func (fs *FileSink) Clear() {
	if err := fs.j.clear(); err != nil {
		fs.log.Warn("clear journal", "path", fs.j.path, "error", err)
	}
}

// Close flushes and closes the file
func (fs *FileSink) Close() error {
	return fs.j.close()
}
