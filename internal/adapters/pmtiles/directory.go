package pmtiles

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
)

// Entry is one directory record. RunLength 0 marks a pointer to a leaf
// directory; otherwise the entry covers RunLength consecutive tile ids that
// share the same payload.
type Entry struct {
	TileID    uint64
	Offset    uint64
	Length    uint32
	RunLength uint32
}

// ZxyToID maps a tile address onto its position along the Hilbert curve,
// counting every tile of lower zoom levels first.
func ZxyToID(z uint8, x, y uint32) uint64 {
	if z == 0 {
		return 0
	}
	acc := (uint64(1)<<(2*uint64(z)) - 1) / 3
	n := uint64(1) << z
	tx, ty := uint64(x), uint64(y)

	var d uint64
	for s := n / 2; s > 0; s /= 2 {
		var rx, ry uint64
		if tx&s > 0 {
			rx = 1
		}
		if ty&s > 0 {
			ry = 1
		}
		d += s * s * ((3 * rx) ^ ry)
		tx, ty = rotate(n, tx, ty, rx, ry)
	}
	return acc + d
}

func rotate(n, x, y, rx, ry uint64) (uint64, uint64) {
	if ry == 0 {
		if rx == 1 {
			x = n - 1 - x
			y = n - 1 - y
		}
		return y, x
	}
	return x, y
}

// DeserializeEntries decodes an uncompressed directory.
func DeserializeEntries(data []byte) ([]Entry, error) {
	r := bufio.NewReader(bytes.NewReader(data))
	read := func(what string) (uint64, error) {
		v, err := binary.ReadUvarint(r)
		if err != nil {
			return 0, fmt.Errorf("pmtiles: directory %s: %w", what, err)
		}
		return v, nil
	}

	n, err := read("count")
	if err != nil {
		return nil, err
	}
	if n > uint64(len(data)) {
		return nil, fmt.Errorf("pmtiles: directory claims %d entries in %d bytes", n, len(data))
	}
	entries := make([]Entry, n)

	var lastID uint64
	for i := range entries {
		v, err := read("tile id")
		if err != nil {
			return nil, err
		}
		lastID += v
		entries[i].TileID = lastID
	}
	for i := range entries {
		v, err := read("run length")
		if err != nil {
			return nil, err
		}
		entries[i].RunLength = uint32(v)
	}
	for i := range entries {
		v, err := read("length")
		if err != nil {
			return nil, err
		}
		entries[i].Length = uint32(v)
	}
	for i := range entries {
		v, err := read("offset")
		if err != nil {
			return nil, err
		}
		if v == 0 && i > 0 {
			entries[i].Offset = entries[i-1].Offset + uint64(entries[i-1].Length)
		} else {
			entries[i].Offset = v - 1
		}
	}
	return entries, nil
}

// SerializeEntries is the inverse of DeserializeEntries. Contiguous entries
// use the zero offset shorthand.
func SerializeEntries(entries []Entry) []byte {
	var buf []byte
	buf = binary.AppendUvarint(buf, uint64(len(entries)))

	var lastID uint64
	for _, e := range entries {
		buf = binary.AppendUvarint(buf, e.TileID-lastID)
		lastID = e.TileID
	}
	for _, e := range entries {
		buf = binary.AppendUvarint(buf, uint64(e.RunLength))
	}
	for _, e := range entries {
		buf = binary.AppendUvarint(buf, uint64(e.Length))
	}
	for i, e := range entries {
		if i > 0 && e.Offset == entries[i-1].Offset+uint64(entries[i-1].Length) {
			buf = binary.AppendUvarint(buf, 0)
		} else {
			buf = binary.AppendUvarint(buf, e.Offset+1)
		}
	}
	return buf
}

// FindTile locates the entry covering tileID: either a run that contains
// it or the leaf directory that may.
func FindTile(entries []Entry, tileID uint64) (Entry, bool) {
	m, n := 0, len(entries)-1
	for m <= n {
		k := (n + m) >> 1
		switch {
		case tileID > entries[k].TileID:
			m = k + 1
		case tileID < entries[k].TileID:
			n = k - 1
		default:
			return entries[k], true
		}
	}

	if n >= 0 {
		e := entries[n]
		if e.RunLength == 0 {
			return e, true
		}
		if tileID-e.TileID < uint64(e.RunLength) {
			return e, true
		}
	}
	return Entry{}, false
}
