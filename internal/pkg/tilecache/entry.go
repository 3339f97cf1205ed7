package tilecache

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/samirrijal/terragrid/internal/core/domain"
)

// Field numbers of the stored entry message:
//
//	message CacheEntry {
//	  string key = 1;
//	  bytes payload = 2;
//	  int64 stored_at_unix_nano = 3;
//	}
const (
	fieldKey      protowire.Number = 1
	fieldPayload  protowire.Number = 2
	fieldStoredAt protowire.Number = 3
)

// EncodeEntry serialises e in protobuf wire format.
func EncodeEntry(e domain.CacheEntry) []byte {
	b := make([]byte, 0, len(e.Key)+len(e.Payload)+24)
	b = protowire.AppendTag(b, fieldKey, protowire.BytesType)
	b = protowire.AppendString(b, e.Key)
	b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Payload)
	b = protowire.AppendTag(b, fieldStoredAt, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.StoredAt.UnixNano()))
	return b
}

// DecodeEntry parses an entry written by EncodeEntry. Unknown fields are
// skipped.
func DecodeEntry(b []byte) (domain.CacheEntry, error) {
	var e domain.CacheEntry
	var sawStoredAt bool
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return e, fmt.Errorf("cache entry tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldKey && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return e, fmt.Errorf("cache entry key: %w", protowire.ParseError(n))
			}
			e.Key, b = v, b[n:]
		case num == fieldPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return e, fmt.Errorf("cache entry payload: %w", protowire.ParseError(n))
			}
			e.Payload, b = append([]byte(nil), v...), b[n:]
		case num == fieldStoredAt && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return e, fmt.Errorf("cache entry stored_at: %w", protowire.ParseError(n))
			}
			e.StoredAt, b = time.Unix(0, int64(v)), b[n:]
			sawStoredAt = true
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return e, fmt.Errorf("cache entry field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if !sawStoredAt {
		return e, errors.New("cache entry has no timestamp")
	}
	return e, nil
}
