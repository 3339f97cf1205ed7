package http

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
)

// Pagination contains offset-based pagination info.
type Pagination struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
	Total  int `json:"total"`
}

// pageURL returns the current path and query with offset and limit replaced.
func pageURL(c *fiber.Ctx, offset, limit int) string {
	args := fasthttp.AcquireArgs()
	defer fasthttp.ReleaseArgs(args)
	c.Context().QueryArgs().CopyTo(args)
	args.SetUint("offset", offset)
	args.SetUint("limit", limit)
	return c.Path() + "?" + args.String()
}

// SetLinkHeaders adds RFC 8288 Link headers for paginated responses. The
// other query parameters of the request are carried over.
func SetLinkHeaders(c *fiber.Ctx, p Pagination) {
	var links []string
	link := func(offset int, rel string) {
		links = append(links, fmt.Sprintf(`<%s>; rel="%s"`, pageURL(c, offset, p.Limit), rel))
	}

	link(0, "first")
	if p.Offset > 0 {
		link(max(p.Offset-p.Limit, 0), "prev")
	}
	if p.Offset+p.Limit < p.Total {
		link(p.Offset+p.Limit, "next")
	}
	link(max(p.Total-p.Limit, 0), "last")

	c.Set("Link", strings.Join(links, ", "))
}
