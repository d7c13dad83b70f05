package recorder

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/willibrandon/calltrace/pkg/trace"
)

// SecureFileSink journals entries with redaction, encryption and integrity
// checks applied
type SecureFileSink struct {
	j            *journal
	securityOpts SecurityOptions
	log          *slog.Logger
}

// SecureFileSinkOptions contains options for creating a secure file sink
type SecureFileSinkOptions struct {
	SecurityOptions SecurityOptions
	CompressionType trace.CompressionType
	// Logger receives read and clear failures; nil discards them
	Logger *slog.Logger
}

// DefaultSecureFileSinkOptions returns default options for secure file sink
func DefaultSecureFileSinkOptions() SecureFileSinkOptions {
	return SecureFileSinkOptions{
		SecurityOptions: DefaultSecurityOptions(),
		CompressionType: trace.ZstdCompression,
	}
}

// NewSecureFileSink creates a new secure file sink with default options
func NewSecureFileSink(path string) (*SecureFileSink, error) {
	return NewSecureFileSinkWithOptions(path, DefaultSecureFileSinkOptions())
}

// NewSecureFileSinkWithOptions creates a new secure file sink with the given options
func NewSecureFileSinkWithOptions(path string, options SecureFileSinkOptions) (*SecureFileSink, error) {
	if err := options.SecurityOptions.Err(); err != nil {
		return nil, fmt.Errorf("security options: %w", err)
	}
	j, err := openJournal(path, options.CompressionType)
	if err != nil {
		return nil, err
	}
	return &SecureFileSink{j: j, securityOpts: options.SecurityOptions, log: sinkLogger(options.Logger)}, nil
}

// RecordEntry applies security features and appends the entry
func (s *SecureFileSink) RecordEntry(e trace.Entry) error {
	se, err := SecureEntryFromEntry(e, s.securityOpts)
	if err != nil {
		return err
	}
	return s.j.writeLine(se)
}

// Entries reads all entries, skipping those that cannot be decrypted or
// verified
func (s *SecureFileSink) Entries() []trace.Entry {
	var entries []trace.Entry
	err := s.j.readLines(func(line []byte) error {
		var se SecureEntry
		if err := json.Unmarshal(line, &se); err != nil {
			return nil
		}
		e, err := se.GetOriginalEntry(s.securityOpts)
		if err != nil {
			return nil
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		s.log.Warn("read journal", "path", s.j.path, "error", err)
	}
	return entries
}

// Clear truncates the file
func (s *SecureFileSink) Clear() {
	if err := s.j.clear(); err != nil {
		s.log.Warn("clear journal", "path", s.j.path, "error", err)
	}
}

// Close flushes and closes the file
func (s *SecureFileSink) Close() error {
	return s.j.close()
}

// DetectTampering checks the file for any signs of tampering. Undecodable
// lines count as tampering.
func (s *SecureFileSink) DetectTampering() (bool, error) {
	// If integrity check is disabled, we can't detect tampering
	if !s.securityOpts.EnableIntegrityCheck {
		return false, nil
	}

	tampered := false
	err := s.j.readLines(func(line []byte) error {
		var se SecureEntry
		if err := json.Unmarshal(line, &se); err != nil {
			tampered = true
			return nil
		}
		if se.Verify(s.securityOpts) != nil {
			tampered = true
		}
		return nil
	})
	if err != nil {
		// A corrupted compressed stream is considered tampering
		return true, err
	}
	return tampered, nil
}
