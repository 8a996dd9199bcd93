// Package timeline keeps a durable log of completed shell commands.
//
// Records are encoded as protobuf wire messages and framed with a uvarint
// length prefix. Large outputs are zstd-compressed before encoding.
package timeline

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/encoding/protowire"
)

// Console names used in records and NATS subjects.
const (
	ConsoleInteractive = "interactive"
	ConsoleAutomated   = "automated"
)

// Outputs of at least this many bytes are stored compressed.
const compressThreshold = 256

const (
	fieldID          protowire.Number = 1
	fieldSession     protowire.Number = 2
	fieldConsole     protowire.Number = 3
	fieldCommand     protowire.Number = 4
	fieldOutput      protowire.Number = 5
	fieldDir         protowire.Number = 6
	fieldStartedAt   protowire.Number = 7
	fieldCompletedAt protowire.Number = 8
	fieldOutputZstd  protowire.Number = 9
)

var ErrMalformedRecord = errors.New("malformed timeline record")

// Record is one completed command.
type Record struct {
	ID          string
	Session     string
	Console     string
	Command     string
	Output      string
	Dir         string
	StartedAt   time.Time
	CompletedAt time.Time
}

// Duration is the wall time between submit and completion.
func (r Record) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

var (
	codecOnce sync.Once
	codecErr  error
	zenc      *zstd.Encoder
	zdec      *zstd.Decoder
)

func codec() (*zstd.Encoder, *zstd.Decoder, error) {
	codecOnce.Do(func() {
		zenc, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if codecErr != nil {
			return
		}
		zdec, codecErr = zstd.NewReader(nil)
	})
	return zenc, zdec, codecErr
}

// Marshal encodes the record.
func (r Record) Marshal() ([]byte, error) {
	enc, _, err := codec()
	if err != nil {
		return nil, err
	}
	var b []byte
	b = appendString(b, fieldID, r.ID)
	b = appendString(b, fieldSession, r.Session)
	b = appendString(b, fieldConsole, r.Console)
	b = appendString(b, fieldCommand, r.Command)
	if len(r.Output) >= compressThreshold {
		b = protowire.AppendTag(b, fieldOutput, protowire.BytesType)
		b = protowire.AppendBytes(b, enc.EncodeAll([]byte(r.Output), nil))
		b = protowire.AppendTag(b, fieldOutputZstd, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	} else {
		b = appendString(b, fieldOutput, r.Output)
	}
	b = appendString(b, fieldDir, r.Dir)
	b = appendTime(b, fieldStartedAt, r.StartedAt)
	b = appendTime(b, fieldCompletedAt, r.CompletedAt)
	return b, nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendTime(b []byte, num protowire.Number, t time.Time) []byte {
	if t.IsZero() {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(t.UnixNano()))
}

// Unmarshal decodes a record produced by Marshal. Unknown fields are skipped.
func Unmarshal(b []byte) (Record, error) {
	var (
		r          Record
		output     []byte
		compressed bool
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Record{}, fmt.Errorf("%w: %v", ErrMalformedRecord, protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case typ == protowire.BytesType && num != fieldStartedAt && num != fieldCompletedAt && num != fieldOutputZstd:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return Record{}, fmt.Errorf("%w: %v", ErrMalformedRecord, protowire.ParseError(m))
			}
			b = b[m:]
			switch num {
			case fieldID:
				r.ID = string(v)
			case fieldSession:
				r.Session = string(v)
			case fieldConsole:
				r.Console = string(v)
			case fieldCommand:
				r.Command = string(v)
			case fieldOutput:
				output = append([]byte(nil), v...)
			case fieldDir:
				r.Dir = string(v)
			}
		case typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return Record{}, fmt.Errorf("%w: %v", ErrMalformedRecord, protowire.ParseError(m))
			}
			b = b[m:]
			switch num {
			case fieldStartedAt:
				r.StartedAt = time.Unix(0, int64(v))
			case fieldCompletedAt:
				r.CompletedAt = time.Unix(0, int64(v))
			case fieldOutputZstd:
				compressed = v != 0
			}
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return Record{}, fmt.Errorf("%w: %v", ErrMalformedRecord, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	if compressed {
		_, dec, err := codec()
		if err != nil {
			return Record{}, err
		}
		raw, err := dec.DecodeAll(output, nil)
		if err != nil {
			return Record{}, fmt.Errorf("decompress output: %w", err)
		}
		output = raw
	}
	r.Output = string(output)
	return r, nil
}
