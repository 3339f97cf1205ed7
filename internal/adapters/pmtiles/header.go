package pmtiles

import (
	"encoding/binary"
	"fmt"

	"github.com/samirrijal/terragrid/internal/core/domain"
)

// HeaderLen is the fixed size of a version 3 header.
const HeaderLen = 127

// Compression codes used for directories and tile payloads.
const (
	CompressionUnknown byte = 0
	CompressionNone    byte = 1
	CompressionGzip    byte = 2
	CompressionBrotli  byte = 3
	CompressionZstd    byte = 4
)

// Tile types.
const (
	TileTypeUnknown byte = 0
	TileTypeMVT     byte = 1
	TileTypePNG     byte = 2
	TileTypeJPEG    byte = 3
	TileTypeWebP    byte = 4
)

var magic = []byte("PMTiles")

// Header is the archive header: section layout, compression and declared
// geographic bounds.
type Header struct {
	RootOffset          uint64
	RootLength          uint64
	MetadataOffset      uint64
	MetadataLength      uint64
	LeafOffset          uint64
	LeafLength          uint64
	TileDataOffset      uint64
	TileDataLength      uint64
	AddressedTiles      uint64
	TileEntries         uint64
	TileContents        uint64
	Clustered           bool
	InternalCompression byte
	TileCompression     byte
	TileType            byte
	MinZoom             uint8
	MaxZoom             uint8
	MinLon, MinLat      float64
	MaxLon, MaxLat      float64
	CenterZoom          uint8
	CenterLon           float64
	CenterLat           float64
}

// Bounds returns the declared geographic extent.
func (h *Header) Bounds() domain.BoundingBox {
	return domain.BoundingBox{MinLat: h.MinLat, MinLon: h.MinLon, MaxLat: h.MaxLat, MaxLon: h.MaxLon}
}

// Covers reports whether p lies inside the declared bounds. Archives that
// declare no bounds cover everything.
func (h *Header) Covers(p domain.GeoPoint) bool {
	b := h.Bounds()
	if b == (domain.BoundingBox{}) {
		return true
	}
	return b.Contains(p)
}

// ParseHeader decodes the first HeaderLen bytes of an archive.
func ParseHeader(b []byte) (*Header, error) {
	if len(b) < HeaderLen {
		return nil, fmt.Errorf("pmtiles: header is %d bytes, want %d", len(b), HeaderLen)
	}
	if string(b[:7]) != string(magic) {
		return nil, fmt.Errorf("pmtiles: bad magic %q", b[:7])
	}
	if b[7] != 3 {
		return nil, fmt.Errorf("pmtiles: unsupported spec version %d", b[7])
	}

	le := binary.LittleEndian
	e7 := func(off int) float64 { return float64(int32(le.Uint32(b[off:off+4]))) / 1e7 }

	return &Header{
		RootOffset:          le.Uint64(b[8:16]),
		RootLength:          le.Uint64(b[16:24]),
		MetadataOffset:      le.Uint64(b[24:32]),
		MetadataLength:      le.Uint64(b[32:40]),
		LeafOffset:          le.Uint64(b[40:48]),
		LeafLength:          le.Uint64(b[48:56]),
		TileDataOffset:      le.Uint64(b[56:64]),
		TileDataLength:      le.Uint64(b[64:72]),
		AddressedTiles:      le.Uint64(b[72:80]),
		TileEntries:         le.Uint64(b[80:88]),
		TileContents:        le.Uint64(b[88:96]),
		Clustered:           b[96] == 1,
		InternalCompression: b[97],
		TileCompression:     b[98],
		TileType:            b[99],
		MinZoom:             b[100],
		MaxZoom:             b[101],
		MinLon:              e7(102),
		MinLat:              e7(106),
		MaxLon:              e7(110),
		MaxLat:              e7(114),
		CenterZoom:          b[118],
		CenterLon:           e7(119),
		CenterLat:           e7(123),
	}, nil
}
