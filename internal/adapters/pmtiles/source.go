// Package pmtiles is the archive-based tile source. Each archive's header
// and root directory are read once; tiles are then served with one range
// read each (plus leaf directory reads, which are cached).
package pmtiles

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/samirrijal/terragrid/internal/adapters/fetch"
	"github.com/samirrijal/terragrid/internal/core/domain"
	"github.com/samirrijal/terragrid/internal/pkg/metrics"
)

// Name identifies the source in config and cache keys.
const Name = "pmtiles"

// rootFetchLen is how much is read up front: the header plus, for well
// formed archives, the whole root directory.
const rootFetchLen = 16384

// maxDepth bounds leaf directory chains.
const maxDepth = 4

// maxLeaves bounds the per-archive leaf directory cache.
const maxLeaves = 256

// Config configures the source. Archives are http(s) URLs or local paths,
// tried in order.
type Config struct {
	Archives  []string
	Timeout   time.Duration
	MaxTries  int
	UserAgent string
	Client    *http.Client
}

// Source serves tiles out of one or more archives.
type Source struct {
	locations []string
	archives  map[string]*archive
	runner    *fetch.Runner
}

func NewSource(cfg Config, m *metrics.Pipeline, logger *slog.Logger) *Source {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := &fetch.Client{HTTP: cfg.Client, UserAgent: cfg.UserAgent}
	archives := make(map[string]*archive, len(cfg.Archives))
	for _, loc := range cfg.Archives {
		if _, ok := archives[loc]; !ok {
			archives[loc] = &archive{reader: OpenRangeReader(loc, client), leaves: make(map[uint64][]Entry)}
		}
	}
	return &Source{
		locations: cfg.Archives,
		archives:  archives,
		runner:    fetch.NewRunner(Name, fetch.Policy{MaxTries: cfg.MaxTries, Timeout: cfg.Timeout}, m, logger),
	}
}

func (s *Source) Name() string { return Name }

// Fetch returns the decompressed payload of req.Tile. A region center outside
// an archive's declared bounds is rejected with domain.ErrInvalidRequest; a
// zoom level or tile the archive does not hold is domain.ErrTileNotFound.
func (s *Source) Fetch(ctx context.Context, req domain.FetchRequest) ([]byte, error) {
	if req.Tile == nil {
		return nil, domain.InvalidRequestf("pmtiles source needs a tile coordinate")
	}
	tile := *req.Tile
	if !tile.Valid() || tile.Z > 255 {
		return nil, domain.InvalidRequestf("tile %s out of range", tile)
	}

	return s.runner.Do(ctx, s.locations, func(ctx context.Context, loc string) ([]byte, error) {
		a := s.archives[loc]
		h, err := a.header(ctx)
		if err != nil {
			return nil, err
		}
		if !h.Covers(req.Region.Center) {
			return nil, domain.InvalidRequestf("%s outside archive bounds %+v", req.Region.Center, h.Bounds())
		}
		return a.tile(ctx, h, tile)
	})
}

// Header returns the header of the first archive that can be read.
func (s *Source) Header(ctx context.Context) (*Header, error) {
	var errs error
	for _, loc := range s.locations {
		h, err := s.archives[loc].header(ctx)
		if err == nil {
			return h, nil
		}
		errs = multierr.Append(errs, err)
	}
	return nil, &domain.ExhaustedError{Source: Name, Last: errs}
}

// Close releases local archive files.
func (s *Source) Close() error {
	var errs error
	for _, a := range s.archives {
		if c, ok := a.reader.(io.Closer); ok {
			errs = multierr.Append(errs, c.Close())
		}
	}
	return errs
}

type archive struct {
	reader RangeReader

	mu   sync.Mutex
	hdr  *Header
	root []Entry

	leafMu sync.RWMutex
	leaves map[uint64][]Entry // keyed by absolute offset
}

// header loads the header and root directory. Failures are not cached, so
// the next call tries again.
func (a *archive) header(ctx context.Context) (*Header, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.hdr != nil {
		return a.hdr, nil
	}

	head, err := a.reader.ReadRange(ctx, 0, rootFetchLen)
	if err != nil {
		return nil, err
	}
	h, err := ParseHeader(head)
	if err != nil {
		return nil, err
	}

	var raw []byte
	if end := h.RootOffset + h.RootLength; end <= uint64(len(head)) {
		raw = head[h.RootOffset:end]
	} else if raw, err = a.reader.ReadRange(ctx, h.RootOffset, h.RootLength); err != nil {
		return nil, err
	}
	root, err := a.directory(raw, h)
	if err != nil {
		return nil, err
	}

	a.hdr, a.root = h, root
	return h, nil
}

func (a *archive) directory(raw []byte, h *Header) ([]Entry, error) {
	data, err := decompress(raw, h.InternalCompression)
	if err != nil {
		return nil, err
	}
	return DeserializeEntries(data)
}

func (a *archive) tile(ctx context.Context, h *Header, t domain.TileCoordinate) ([]byte, error) {
	if t.Z < int(h.MinZoom) || t.Z > int(h.MaxZoom) {
		return nil, domain.ErrTileNotFound
	}

	id := ZxyToID(uint8(t.Z), uint32(t.X), uint32(t.Y))
	entries := a.root
	for depth := 0; depth < maxDepth; depth++ {
		e, ok := FindTile(entries, id)
		if !ok {
			return nil, domain.ErrTileNotFound
		}
		if e.RunLength > 0 {
			if e.Length == 0 {
				return nil, domain.ErrTileNotFound
			}
			raw, err := a.reader.ReadRange(ctx, h.TileDataOffset+e.Offset, uint64(e.Length))
			if err != nil {
				return nil, err
			}
			return decompress(raw, h.TileCompression)
		}

		leaf, err := a.leaf(ctx, h, h.LeafOffset+e.Offset, uint64(e.Length))
		if err != nil {
			return nil, err
		}
		entries = leaf
	}
	return nil, errors.New("pmtiles: leaf directories nested too deep")
}

func (a *archive) leaf(ctx context.Context, h *Header, offset, length uint64) ([]Entry, error) {
	a.leafMu.RLock()
	entries, ok := a.leaves[offset]
	a.leafMu.RUnlock()
	if ok {
		return entries, nil
	}

	raw, err := a.reader.ReadRange(ctx, offset, length)
	if err != nil {
		return nil, err
	}
	entries, err = a.directory(raw, h)
	if err != nil {
		return nil, err
	}

	a.leafMu.Lock()
	if len(a.leaves) >= maxLeaves {
		a.leaves = make(map[uint64][]Entry)
	}
	a.leaves[offset] = entries
	a.leafMu.Unlock()
	return entries, nil
}
