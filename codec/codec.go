package codec

import (
	"bytes"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/xerrors"
)

const (
	timestampField string = "timestamp"
)

// Entry is a decoded cache entry
type Entry[T any] struct {
	Payload   T
	Timestamp time.Time
}

// record is the persisted layout. Timestamp is encoded first so that
// DecodeTimestampOnly can usually stop before reaching the payload.
type record[T any] struct {
	Timestamp time.Time `msgpack:"timestamp"`
	Payload   T         `msgpack:"payload"`
}

// Encode serializes an entry into a msgpack map with "timestamp" and "payload" fields
func Encode[T any](entry *Entry[T]) ([]byte, error) {
	rec := record[T]{
		Timestamp: entry.Timestamp,
		Payload:   entry.Payload,
	}

	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return nil, NewCodecError(xerrors.Errorf("failed to marshal entry: %w", err))
	}
	return data, nil
}

// DecodeFull deserializes both the timestamp and the payload.
// Fields unknown to T and trailing bytes are rejected, so an entry written
// under another payload schema fails instead of decoding to zero values.
func DecodeFull[T any](data []byte) (*Entry[T], error) {
	// rejects records without a timestamp, which Decode alone would accept
	_, err := DecodeTimestampOnly(data)
	if err != nil {
		return nil, err
	}

	reader := bytes.NewReader(data)
	decoder := msgpack.NewDecoder(reader)
	decoder.DisallowUnknownFields(true)

	rec := record[T]{}
	err = decoder.Decode(&rec)
	if err != nil {
		return nil, NewCodecError(xerrors.Errorf("failed to unmarshal entry: %w", err))
	}

	if reader.Len() > 0 {
		return nil, NewCodecError(xerrors.Errorf("%d trailing bytes after entry", reader.Len()))
	}

	return &Entry[T]{
		Payload:   rec.Payload,
		Timestamp: rec.Timestamp.UTC(),
	}, nil
}

// DecodeTimestampOnly reads the timestamp field of an encoded entry, in UTC.
// Other fields are skipped without being materialized.
func DecodeTimestampOnly(data []byte) (time.Time, error) {
	decoder := msgpack.NewDecoder(bytes.NewReader(data))

	fields, err := decoder.DecodeMapLen()
	if err != nil {
		return time.Time{}, NewCodecError(xerrors.Errorf("failed to decode entry header: %w", err))
	}

	if fields < 0 {
		return time.Time{}, NewCodecError(xerrors.Errorf("entry is nil"))
	}

	for i := 0; i < fields; i++ {
		name, err := decoder.DecodeString()
		if err != nil {
			return time.Time{}, NewCodecError(xerrors.Errorf("failed to decode field name: %w", err))
		}

		if name == timestampField {
			timestamp, err := decoder.DecodeTime()
			if err != nil {
				return time.Time{}, NewCodecError(xerrors.Errorf("failed to decode timestamp: %w", err))
			}
			return timestamp.UTC(), nil
		}

		err = decoder.Skip()
		if err != nil {
			return time.Time{}, NewCodecError(xerrors.Errorf("failed to skip field %q: %w", name, err))
		}
	}

	return time.Time{}, NewCodecError(xerrors.Errorf("entry has no %q field", timestampField))
}
