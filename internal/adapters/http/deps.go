package http

import (
	"github.com/nats-io/nats.go"

	"github.com/samirrijal/terragrid/internal/adapters/postgres"
	"github.com/samirrijal/terragrid/internal/adapters/valkey"
	"github.com/samirrijal/terragrid/internal/core/usecases"
)

// Dependencies holds everything the HTTP handlers need. Only Grids is
// required; the rest are reported by the readiness check when present.
type Dependencies struct {
	Grids *usecases.GridService
	NATS  *nats.Conn
	DB    *postgres.DB
	Cache *valkey.Cache
}
