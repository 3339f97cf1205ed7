package pmtiles_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/samirrijal/terragrid/internal/adapters/pmtiles"
	"github.com/samirrijal/terragrid/internal/core/domain"
)

type testTile struct {
	z    uint8
	x, y uint32
	data string
}

var fixture = []testTile{
	{0, 0, 0, "world"},
	{1, 0, 0, "nw"},
	{1, 1, 1, "se"},
	{14, 8058, 6004, "bilbao"},
	{14, 8059, 6004, "bilbao-east"},
}

// Bilbao-ish bounds.
var bounds = domain.BoundingBox{MinLat: 43.2, MinLon: -3.1, MaxLat: 43.4, MaxLon: -2.8}

func compress(t *testing.T, data []byte, c byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	switch c {
	case pmtiles.CompressionNone:
		return data
	case pmtiles.CompressionGzip:
		w := gzip.NewWriter(&buf)
		w.Write(data)
		w.Close()
	case pmtiles.CompressionBrotli:
		w := brotli.NewWriter(&buf)
		w.Write(data)
		w.Close()
	case pmtiles.CompressionZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			t.Fatalf("zstd: %v", err)
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil)
	}
	return buf.Bytes()
}

// buildArchive lays out header | root | leaves | tile data.
func buildArchive(t *testing.T, tiles []testTile, c byte, withLeaf bool) []byte {
	t.Helper()

	sorted := append([]testTile(nil), tiles...)
	sort.Slice(sorted, func(i, j int) bool {
		return pmtiles.ZxyToID(sorted[i].z, sorted[i].x, sorted[i].y) < pmtiles.ZxyToID(sorted[j].z, sorted[j].x, sorted[j].y)
	})

	var tileData []byte
	var entries []pmtiles.Entry
	minZoom, maxZoom := uint8(255), uint8(0)
	for _, tt := range sorted {
		payload := compress(t, []byte(tt.data), c)
		entries = append(entries, pmtiles.Entry{
			TileID:    pmtiles.ZxyToID(tt.z, tt.x, tt.y),
			Offset:    uint64(len(tileData)),
			Length:    uint32(len(payload)),
			RunLength: 1,
		})
		tileData = append(tileData, payload...)
		minZoom, maxZoom = min(minZoom, tt.z), max(maxZoom, tt.z)
	}

	var root, leaf []byte
	if withLeaf {
		leaf = compress(t, pmtiles.SerializeEntries(entries), c)
		root = compress(t, pmtiles.SerializeEntries([]pmtiles.Entry{
			{TileID: entries[0].TileID, Offset: 0, Length: uint32(len(leaf)), RunLength: 0},
		}), c)
	} else {
		root = compress(t, pmtiles.SerializeEntries(entries), c)
	}

	h := make([]byte, pmtiles.HeaderLen)
	copy(h, "PMTiles")
	h[7] = 3
	le := binary.LittleEndian
	rootOff := uint64(pmtiles.HeaderLen)
	leafOff := rootOff + uint64(len(root))
	dataOff := leafOff + uint64(len(leaf))
	le.PutUint64(h[8:], rootOff)
	le.PutUint64(h[16:], uint64(len(root)))
	le.PutUint64(h[40:], leafOff)
	le.PutUint64(h[48:], uint64(len(leaf)))
	le.PutUint64(h[56:], dataOff)
	le.PutUint64(h[64:], uint64(len(tileData)))
	le.PutUint64(h[72:], uint64(len(entries)))
	h[97], h[98], h[99] = c, c, pmtiles.TileTypeMVT
	h[100], h[101] = minZoom, maxZoom
	putE7 := func(off int, v float64) { le.PutUint32(h[off:], uint32(int32(v*1e7))) }
	putE7(102, bounds.MinLon)
	putE7(106, bounds.MinLat)
	putE7(110, bounds.MaxLon)
	putE7(114, bounds.MaxLat)

	out := append(h, root...)
	out = append(out, leaf...)
	return append(out, tileData...)
}

func serve(t *testing.T, archive []byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var headerReads atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.Header.Get("Range"), "bytes=0-") {
			headerReads.Add(1)
		}
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(archive))
	}))
	t.Cleanup(srv.Close)
	return srv, &headerReads
}

func request(z, x, y int) domain.FetchRequest {
	return domain.FetchRequest{
		Region: domain.Region{Center: domain.GeoPoint{Lat: 43.263, Lon: -2.935}, RadiusMeters: 500},
		Tile:   &domain.TileCoordinate{X: x, Y: y, Z: z},
	}
}

func TestZxyToID(t *testing.T) {
	tests := []struct {
		z    uint8
		x, y uint32
		want uint64
	}{
		{0, 0, 0, 0},
		{1, 0, 0, 1},
		{1, 0, 1, 2},
		{1, 1, 1, 3},
		{1, 1, 0, 4},
		{2, 0, 0, 5},
		{3, 0, 0, 21},
	}
	for _, tt := range tests {
		if got := pmtiles.ZxyToID(tt.z, tt.x, tt.y); got != tt.want {
			t.Errorf("ZxyToID(%d,%d,%d) = %d, want %d", tt.z, tt.x, tt.y, got, tt.want)
		}
	}

	// Every tile of a zoom level maps to a distinct id inside its range.
	seen := make(map[uint64]bool)
	for x := uint32(0); x < 8; x++ {
		for y := uint32(0); y < 8; y++ {
			id := pmtiles.ZxyToID(3, x, y)
			if id < 21 || id >= 85 || seen[id] {
				t.Fatalf("id %d for 3/%d/%d out of range or duplicated", id, x, y)
			}
			seen[id] = true
		}
	}
}

func TestFindTile_Runs(t *testing.T) {
	entries := []pmtiles.Entry{
		{TileID: 5, Offset: 0, Length: 10, RunLength: 3},
		{TileID: 20, Offset: 10, Length: 4, RunLength: 0},
		{TileID: 40, Offset: 14, Length: 1, RunLength: 1},
	}
	decoded, err := pmtiles.DeserializeEntries(pmtiles.SerializeEntries(entries))
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}

	for _, tt := range []struct {
		id     uint64
		wantID uint64
		found  bool
	}{
		{4, 0, false},
		{5, 5, true},
		{7, 5, true},
		{8, 0, false},
		{33, 20, true}, // falls into the leaf pointer
		{40, 40, true},
		{41, 0, false},
	} {
		e, ok := pmtiles.FindTile(decoded, tt.id)
		if ok != tt.found || (ok && e.TileID != tt.wantID) {
			t.Errorf("FindTile(%d) = %+v, %v; want id %d, %v", tt.id, e, ok, tt.wantID, tt.found)
		}
	}
}

func TestSource_ServesTiles(t *testing.T) {
	compressions := map[string]byte{
		"none":   pmtiles.CompressionNone,
		"gzip":   pmtiles.CompressionGzip,
		"brotli": pmtiles.CompressionBrotli,
		"zstd":   pmtiles.CompressionZstd,
	}
	for name, c := range compressions {
		for _, withLeaf := range []bool{false, true} {
			t.Run(fmt.Sprintf("%s/leaf=%v", name, withLeaf), func(t *testing.T) {
				srv, headerReads := serve(t, buildArchive(t, fixture, c, withLeaf))
				src := pmtiles.NewSource(pmtiles.Config{Archives: []string{srv.URL}}, nil, nil)

				for _, tt := range fixture {
					body, err := src.Fetch(context.Background(), request(int(tt.z), int(tt.x), int(tt.y)))
					if err != nil {
						t.Fatalf("fetch %d/%d/%d: %v", tt.z, tt.x, tt.y, err)
					}
					if string(body) != tt.data {
						t.Errorf("tile %d/%d/%d = %q, want %q", tt.z, tt.x, tt.y, body, tt.data)
					}
				}
				if n := headerReads.Load(); n != 1 {
					t.Errorf("header should be read once, got %d", n)
				}

				if _, err := src.Fetch(context.Background(), request(14, 1, 1)); !errors.Is(err, domain.ErrTileNotFound) {
					t.Errorf("missing tile: expected ErrTileNotFound, got %v", err)
				}
				if _, err := src.Fetch(context.Background(), request(15, 1, 1)); !errors.Is(err, domain.ErrTileNotFound) {
					t.Errorf("zoom above max: expected ErrTileNotFound, got %v", err)
				}
			})
		}
	}
}

func TestSource_OutsideBounds(t *testing.T) {
	srv, _ := serve(t, buildArchive(t, fixture, pmtiles.CompressionGzip, false))
	src := pmtiles.NewSource(pmtiles.Config{Archives: []string{srv.URL}}, nil, nil)

	req := request(0, 0, 0)
	req.Region.Center = domain.GeoPoint{Lat: 51.5, Lon: -0.12}
	_, err := src.Fetch(context.Background(), req)
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestSource_LocalFileAndFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bilbao.pmtiles")
	if err := os.WriteFile(path, buildArchive(t, fixture, pmtiles.CompressionZstd, true), 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not an archive"))
	}))
	defer broken.Close()

	src := pmtiles.NewSource(pmtiles.Config{Archives: []string{broken.URL, "file://" + path}}, nil, nil)
	defer src.Close()

	body, err := src.Fetch(context.Background(), request(14, 8058, 6004))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != "bilbao" {
		t.Errorf("unexpected body %q", body)
	}

	h, err := src.Header(context.Background())
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if h.MaxZoom != 14 || h.TileCompression != pmtiles.CompressionZstd {
		t.Errorf("unexpected header %+v", h)
	}
	if !h.Covers(domain.GeoPoint{Lat: 43.3, Lon: -2.9}) {
		t.Error("header bounds should cover Bilbao")
	}
}

func TestSource_NeedsTile(t *testing.T) {
	src := pmtiles.NewSource(pmtiles.Config{Archives: []string{"unused.pmtiles"}}, nil, nil)
	if _, err := src.Fetch(context.Background(), domain.FetchRequest{}); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestParseHeader_Rejects(t *testing.T) {
	if _, err := pmtiles.ParseHeader([]byte("PMTiles")); err == nil {
		t.Error("short header should fail")
	}
	bad := make([]byte, pmtiles.HeaderLen)
	copy(bad, "PMTiles")
	bad[7] = 2
	if _, err := pmtiles.ParseHeader(bad); err == nil {
		t.Error("version 2 should be rejected")
	}
}
