package http

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/terragrid/internal/core/classify"
	"github.com/samirrijal/terragrid/internal/core/domain"
	"github.com/samirrijal/terragrid/internal/core/usecases"
	"github.com/samirrijal/terragrid/internal/pkg/geospatial"
)

const (
	defaultRadius   = 100.0
	defaultCellSize = 2.0
)

// queryFloat reads an optional float parameter. Unlike c.QueryFloat it
// rejects malformed values instead of silently using the default.
func queryFloat(c *fiber.Ctx, key string, def float64) (float64, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a number", key, raw)
	}
	return v, nil
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// parseGridRequest reads lat, lon, radius, cell, width, height and sources
// from the query string. lat and lon are required.
func parseGridRequest(c *fiber.Ctx) (usecases.GridRequest, error) {
	if c.Query("lat") == "" || c.Query("lon") == "" {
		return usecases.GridRequest{}, fmt.Errorf("lat and lon are required")
	}
	var req usecases.GridRequest
	var err error
	if req.Center.Lat, err = queryFloat(c, "lat", 0); err != nil {
		return req, err
	}
	if req.Center.Lon, err = queryFloat(c, "lon", 0); err != nil {
		return req, err
	}
	if req.RadiusMeters, err = queryFloat(c, "radius", defaultRadius); err != nil {
		return req, err
	}
	if req.CellSizeMeters, err = queryFloat(c, "cell", defaultCellSize); err != nil {
		return req, err
	}
	req.Width = c.QueryInt("width", 0)
	req.Height = c.QueryInt("height", 0)
	req.Sources = splitList(c.Query("sources"))
	return req, nil
}

// GridHandler generates a terrain grid.
// GET /v1/grid?lat=43.263&lon=-2.935&radius=100&cell=2&sources=xyz,overpass&format=ascii
func GridHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		req, err := parseGridRequest(c)
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		format := c.Query("format", "json")
		if format != "json" && format != "ascii" {
			return errBadRequest(c, "format must be json or ascii")
		}

		event, err := deps.Grids.Generate(c.UserContext(), req)
		if err != nil {
			return writeError(c, err)
		}

		c.Set("X-Terrain-Source", event.Source)
		if format == "ascii" {
			c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
			return c.SendString(event.Grid.ASCII())
		}
		return c.JSON(event)
	}
}

// mapRequest is the body of POST /v1/grid/map.
type mapRequest struct {
	Lat       float64        `json:"lat"`
	Lon       float64        `json:"lon"`
	RadiusM   float64        `json:"radius_m"`
	CellSizeM float64        `json:"cell_size_m"`
	Width     int            `json:"width"`
	Height    int            `json:"height"`
	Sources   []string       `json:"sources"`
	Table     map[string]int `json:"table"`
	DefaultID int            `json:"default_id"`
}

// MapGridHandler generates a grid and translates it through a caller-supplied
// category to identifier table. Categories missing from the table get
// default_id.
// POST /v1/grid/map
func MapGridHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body mapRequest
		if err := c.BodyParser(&body); err != nil {
			return errBadRequest(c, "invalid request body")
		}

		table := make(map[domain.TerrainCategory]int, len(body.Table))
		for name, id := range body.Table {
			cat, ok := domain.ParseCategory(name)
			if !ok {
				return errBadRequest(c, fmt.Sprintf("unknown terrain category %q", name))
			}
			table[cat] = id
		}

		req := usecases.GridRequest{
			Center:         domain.GeoPoint{Lat: body.Lat, Lon: body.Lon},
			RadiusMeters:   body.RadiusM,
			CellSizeMeters: body.CellSizeM,
			Width:          body.Width,
			Height:         body.Height,
			Sources:        body.Sources,
		}
		if req.RadiusMeters == 0 {
			req.RadiusMeters = defaultRadius
		}
		if req.CellSizeMeters == 0 {
			req.CellSizeMeters = defaultCellSize
		}

		event, err := deps.Grids.Generate(c.UserContext(), req)
		if err != nil {
			return writeError(c, err)
		}

		c.Set("X-Terrain-Source", event.Source)
		return c.JSON(fiber.Map{
			"source": event.Source,
			"width":  event.Grid.Width,
			"height": event.Grid.Height,
			"ids":    event.Grid.Map(table, body.DefaultID),
		})
	}
}

// FeaturesHandler returns the classified features of the area a grid would
// cover, as a GeoJSON FeatureCollection. offset and limit page through the
// features; the total is in X-Total-Count and Link headers.
// GET /v1/features?lat=..&lon=..&radius=..&offset=0&limit=500
func FeaturesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		req, err := parseGridRequest(c)
		if err != nil {
			return errBadRequest(c, err.Error())
		}

		set, err := deps.Grids.Features(c.UserContext(), req)
		if err != nil {
			return writeError(c, err)
		}

		offset := c.QueryInt("offset", 0)
		limit := c.QueryInt("limit", 500)
		if offset < 0 {
			offset = 0
		}
		if limit <= 0 || limit > 5000 {
			limit = 500
		}

		features := set.Features
		total := len(features)
		if offset >= total {
			features = nil
		} else {
			features = features[offset:min(offset+limit, total)]
		}

		pg := Pagination{Offset: offset, Limit: limit, Total: total}
		SetLinkHeaders(c, pg)
		c.Set("X-Total-Count", strconv.Itoa(total))
		c.Set("X-Terrain-Source", set.Source)
		return c.JSON(geospatial.ToGeoJSON(features), "application/geo+json")
	}
}

// categoryInfo describes one terrain category.
type categoryInfo struct {
	Name     string `json:"name"`
	Priority int    `json:"priority"`
	Glyph    string `json:"glyph"`
}

func categoryInfos() []categoryInfo {
	cats := domain.Categories()
	out := make([]categoryInfo, len(cats))
	for i, cat := range cats {
		out[i] = categoryInfo{
			Name:     cat.String(),
			Priority: classify.Priority(cat),
			Glyph:    string(cat.Glyph()),
		}
	}
	return out
}

// CategoriesHandler lists the terrain vocabulary with render priorities.
func CategoriesHandler() fiber.Handler {
	infos := categoryInfos()
	return func(c *fiber.Ctx) error {
		return c.JSON(infos)
	}
}

// SourcesHandler lists the configured sources in default fallback order.
func SourcesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"sources": deps.Grids.Sources()})
	}
}
