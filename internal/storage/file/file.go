// Package file provides a single-file storage backend.
//
// File layout: repeated batch frames of
//
//	| uint32 bodyLen | uint32 crc32(body) | body |
//
// where body is a uvarint entry count followed by that many
// (uvarint length, bytes) pairs. A whole AppendBatch call becomes one frame,
// so a crash mid-write loses the batch entirely instead of half of it.
// All integers in the frame header are little-endian.
package file

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/roach88/memstate/internal/storage"
)

// Backend is the name this provider registers under.
const Backend = "file"

const headerSize = 8

// maxFrame bounds a single frame body so a corrupt length cannot force a
// huge allocation.
const maxFrame = 1 << 30

func init() {
	storage.Register(Backend, &Provider{})
}

// Provider opens file-backed logs. Location is a file path; missing parent
// directories are created.
type Provider struct {
	// NoSync skips fsync after each batch. Only for tests and benchmarks.
	NoSync bool

	// Logger receives torn-tail and rollback warnings. Default: slog.Default().
	Logger *slog.Logger
}

func (p *Provider) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// OpenOrCreate implements storage.Provider.
//
// A partially written final frame is truncated away with a warning. A frame
// whose checksum does not match is reported as storage.ErrCorrupt.
func (p *Provider) OpenOrCreate(ctx context.Context, location string) (storage.Log, error) {
	if location == "" {
		return nil, errors.New("file location is empty")
	}
	if dir := filepath.Dir(location); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}

	f, err := os.OpenFile(location, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	count, valid, err := scan(ctx, f)
	if err != nil && !errors.Is(err, storage.ErrTornTail) {
		f.Close()
		return nil, err
	}
	logger := p.logger().With("backend", Backend)
	if errors.Is(err, storage.ErrTornTail) {
		logger.Warn("truncating torn tail", "path", location, "offset", valid)
		if err := f.Truncate(valid); err != nil {
			f.Close()
			return nil, fmt.Errorf("truncate torn tail: %w", err)
		}
	}
	if _, err := f.Seek(valid, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("seek end: %w", err)
	}

	return &Log{path: location, f: f, count: count, size: valid, noSync: p.NoSync, logger: logger}, nil
}

// Log is an open file-backed log.
type Log struct {
	path   string
	noSync bool
	logger *slog.Logger

	mu     sync.Mutex
	f      *os.File
	count  uint64
	size   int64
	closed bool
}

var _ storage.Log = (*Log)(nil)

// AppendBatch implements storage.Log.
func (l *Log) AppendBatch(ctx context.Context, expected uint64, entries [][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return storage.ErrClosed
	}
	if expected != l.count {
		return fmt.Errorf("%w: expected %d, log has %d", storage.ErrConflict, expected, l.count)
	}
	if len(entries) == 0 {
		return nil
	}

	frame := encodeFrame(entries)
	if len(frame)-headerSize > maxFrame {
		return fmt.Errorf("batch too large: %d bytes", len(frame)-headerSize)
	}

	if _, err := l.f.Write(frame); err != nil {
		l.rollback()
		return fmt.Errorf("write frame: %w", err)
	}
	if !l.noSync {
		if err := l.f.Sync(); err != nil {
			l.rollback()
			return fmt.Errorf("fsync: %w", err)
		}
	}

	l.count += uint64(len(entries))
	l.size += int64(len(frame))
	return nil
}

// rollback drops any bytes past the last committed frame.
func (l *Log) rollback() {
	if err := l.f.Truncate(l.size); err != nil {
		l.logger.Error("rollback truncate failed", "path", l.path, "error", err)
	}
	if _, err := l.f.Seek(l.size, io.SeekStart); err != nil {
		l.logger.Error("rollback seek failed", "path", l.path, "error", err)
	}
}

// ReadAll implements storage.Log. It reads the frames committed when
// iteration starts through a separate handle.
func (l *Log) ReadAll(ctx context.Context) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			yield(nil, storage.ErrClosed)
			return
		}
		size := l.size
		l.mu.Unlock()

		rf, err := os.Open(l.path)
		if err != nil {
			yield(nil, fmt.Errorf("open for read: %w", err))
			return
		}
		defer rf.Close()

		r := bufio.NewReader(io.NewSectionReader(rf, 0, size))
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			body, _, err := readFrame(r)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			entries, err := decodeBody(body)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, e := range entries {
				if !yield(e, nil) {
					return
				}
			}
		}
	}
}

// Len implements storage.Log.
func (l *Log) Len() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Close implements storage.Log.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.f.Close()
}

// scan walks every frame and returns the entry count and the offset just
// past the last complete frame.
func scan(ctx context.Context, f *os.File) (uint64, int64, error) {
	r := bufio.NewReader(f)
	var count uint64
	var offset int64
	for {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}
		body, n, err := readFrame(r)
		if errors.Is(err, io.EOF) {
			return count, offset, nil
		}
		if err != nil {
			return count, offset, err
		}
		entries, err := decodeBody(body)
		if err != nil {
			return count, offset, fmt.Errorf("frame at offset %d: %w", offset, err)
		}
		count += uint64(len(entries))
		offset += n
	}
}

// readFrame returns the next frame body and the frame's total size.
// io.EOF means a clean end; storage.ErrTornTail means the frame was cut short.
func readFrame(r io.Reader) ([]byte, int64, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, 0, storage.ErrTornTail
		}
		return nil, 0, fmt.Errorf("read frame header: %w", err)
	}

	ln := binary.LittleEndian.Uint32(header[0:4])
	crc := binary.LittleEndian.Uint32(header[4:8])
	if ln == 0 || ln > maxFrame {
		return nil, 0, fmt.Errorf("%w: frame length %d", storage.ErrCorrupt, ln)
	}

	body := make([]byte, ln)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, 0, storage.ErrTornTail
		}
		return nil, 0, fmt.Errorf("read frame body: %w", err)
	}
	if crc32.ChecksumIEEE(body) != crc {
		return nil, 0, fmt.Errorf("%w: checksum mismatch", storage.ErrCorrupt)
	}
	return body, int64(headerSize) + int64(ln), nil
}

func encodeFrame(entries [][]byte) []byte {
	var body bytes.Buffer
	body.Write(binary.AppendUvarint(nil, uint64(len(entries))))
	for _, e := range entries {
		body.Write(binary.AppendUvarint(nil, uint64(len(e))))
		body.Write(e)
	}

	frame := make([]byte, headerSize, headerSize+body.Len())
	binary.LittleEndian.PutUint32(frame[0:4], uint32(body.Len()))
	binary.LittleEndian.PutUint32(frame[4:8], crc32.ChecksumIEEE(body.Bytes()))
	return append(frame, body.Bytes()...)
}

func decodeBody(body []byte) ([][]byte, error) {
	n, k := binary.Uvarint(body)
	if k <= 0 {
		return nil, fmt.Errorf("%w: bad entry count", storage.ErrCorrupt)
	}
	body = body[k:]

	entries := make([][]byte, 0, min(n, uint64(len(body))))
	for i := uint64(0); i < n; i++ {
		ln, k := binary.Uvarint(body)
		if k <= 0 || uint64(len(body)-k) < ln {
			return nil, fmt.Errorf("%w: bad entry %d", storage.ErrCorrupt, i)
		}
		body = body[k:]
		entries = append(entries, body[:ln:ln])
		body = body[ln:]
	}
	if len(body) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes in frame", storage.ErrCorrupt, len(body))
	}
	return entries, nil
}
