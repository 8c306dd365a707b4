package journal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/memstate/internal/command"
	"github.com/roach88/memstate/internal/serializer"
)

var (
	// ErrCorrupt means the log holds bytes that cannot be a valid record, or
	// the record sequence is not dense.
	ErrCorrupt = errors.New("journal corrupted")

	// ErrWriterClosed is returned when submitting to a closed Writer.
	ErrWriterClosed = errors.New("journal writer closed")

	// ErrPoisoned fails commands a Writer received after a failed append and
	// before Resume.
	ErrPoisoned = errors.New("journal writer halted after failed append")
)

// RecordVersion is the first byte of every encoded record.
const RecordVersion = 1

const headerLen = 1 + 8 + 8

// Record is one journaled command.
type Record struct {
	Seq       uint64
	Timestamp time.Time
	Command   command.Command
}

func encodeRecord(r Record, ser serializer.Serializer) ([]byte, error) {
	payload, err := ser.Encode(r.Command)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, headerLen, headerLen+len(payload))
	buf[0] = RecordVersion
	binary.BigEndian.PutUint64(buf[1:9], r.Seq)
	binary.BigEndian.PutUint64(buf[9:17], uint64(r.Timestamp.UnixNano()))
	return append(buf, payload...), nil
}

func decodeRecord(b []byte, ser serializer.Serializer) (Record, error) {
	if len(b) < headerLen {
		return Record{}, fmt.Errorf("%w: record is %d bytes", ErrCorrupt, len(b))
	}
	if b[0] != RecordVersion {
		return Record{}, fmt.Errorf("%w: unknown record version %d", ErrCorrupt, b[0])
	}

	cmd, err := ser.Decode(b[headerLen:])
	if err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	return Record{
		Seq:       binary.BigEndian.Uint64(b[1:9]),
		Timestamp: time.Unix(0, int64(binary.BigEndian.Uint64(b[9:17]))).UTC(),
		Command:   cmd,
	}, nil
}
