package middleware

import (
	"github.com/OFFIS-RIT/folio/backend/internal/db"
	"github.com/OFFIS-RIT/folio/backend/internal/ingest"
	"github.com/OFFIS-RIT/folio/backend/internal/queue"
	"github.com/OFFIS-RIT/folio/backend/internal/storage"
	"github.com/OFFIS-RIT/folio/backend/pkg/agent"
	"github.com/OFFIS-RIT/folio/backend/pkg/retrieval"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const RequestIDHeader = "X-Request-ID"

type AppUser struct {
	Subject     string
	Role        string
	Permissions []string
}

// App holds the services shared by all handlers. Exports, Queue and
// Snapshots are optional; handlers that need them answer 503 when unset.
type App struct {
	Agent     *agent.Service
	Ingest    *ingest.Service
	Lexical   *retrieval.BM25Index
	Exports   *storage.ExportStore
	Queue     queue.Publisher
	Snapshots *db.Snapshots

	// Collection is used when a request names none.
	Collection string
	// KeepExports is the number of export snapshots kept per collection
	// after an async ingest. Zero keeps all.
	KeepExports int

	Key          jwt.Keyfunc
	MasterAPIKey string
}

type AppContext struct {
	echo.Context
	App       *App
	User      *AppUser
	RequestID string
}

// CollectionOr returns name, or the default collection when name is empty.
func (a *App) CollectionOr(name string) string {
	if name != "" {
		return name
	}
	return a.Collection
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(RequestIDHeader)
			if id == "" {
				var err error
				id, err = gonanoid.New()
				if err != nil {
					return err
				}
			}
			c.Response().Header().Set(RequestIDHeader, id)

			cc := &AppContext{Context: c, App: app, RequestID: id}
			return next(cc)
		}
	}
}
