package pmtiles

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/samirrijal/terragrid/internal/adapters/fetch"
)

// RangeReader reads byte ranges from an archive.
type RangeReader interface {
	ReadRange(ctx context.Context, offset, length uint64) ([]byte, error)
}

// OpenRangeReader picks a reader for location: http(s) URLs are read with
// Range requests, anything else is treated as a local path.
func OpenRangeReader(location string, client *fetch.Client) RangeReader {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return &httpRangeReader{url: location, client: client}
	}
	return &fileRangeReader{path: strings.TrimPrefix(location, "file://")}
}

type httpRangeReader struct {
	url    string
	client *fetch.Client
}

func (r *httpRangeReader) ReadRange(ctx context.Context, offset, length uint64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))

	body, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	switch {
	case uint64(len(body)) == length:
		return body, nil
	case uint64(len(body)) >= offset+length:
		// Server ignored the Range header and sent everything.
		return body[offset : offset+length], nil
	case offset == 0 && uint64(len(body)) < length:
		// Short archive; the caller asked for more than exists.
		return body, nil
	}
	return nil, fmt.Errorf("pmtiles: range %d+%d returned %d bytes", offset, length, len(body))
}

type fileRangeReader struct {
	path string

	once sync.Once
	file *os.File
	err  error
}

func (r *fileRangeReader) ReadRange(_ context.Context, offset, length uint64) ([]byte, error) {
	r.once.Do(func() {
		r.file, r.err = os.Open(r.path)
	})
	if r.err != nil {
		return nil, r.err
	}

	buf := make([]byte, length)
	n, err := r.file.ReadAt(buf, int64(offset))
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}

func (r *fileRangeReader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

var zstdDecoder, _ = zstd.NewReader(nil)

// decompress undoes the archive's compression on a directory or tile.
func decompress(data []byte, compression byte) ([]byte, error) {
	switch compression {
	case CompressionNone, CompressionUnknown:
		return data, nil
	case CompressionGzip:
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case CompressionBrotli:
		return io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
	case CompressionZstd:
		return zstdDecoder.DecodeAll(data, nil)
	}
	return nil, fmt.Errorf("pmtiles: unknown compression %d", compression)
}
