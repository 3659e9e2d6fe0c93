package routes

import (
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/folio/backend/internal/db"
	"github.com/OFFIS-RIT/folio/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/folio/backend/pkg/agent"
	"github.com/OFFIS-RIT/folio/backend/pkg/logger"
	"github.com/OFFIS-RIT/folio/backend/pkg/retrieval"

	"github.com/labstack/echo/v4"
)

func GraphStatsHandler(c echo.Context) error {
	type graphStatsResponse struct {
		agent.GraphStats
		Lexical  map[string]retrieval.BM25Stats `json:"lexical,omitempty"`
		Snapshot *db.Snapshot                   `json:"snapshot,omitempty"`
	}

	ac := c.(*middleware.AppContext)
	resp := graphStatsResponse{GraphStats: ac.App.Agent.Stats()}
	if ac.App.Lexical != nil {
		resp.Lexical = ac.App.Lexical.Stats()
	}
	if ac.App.Snapshots != nil {
		collection := ac.App.CollectionOr(c.QueryParam("collection"))
		snap, err := ac.App.Snapshots.Latest(c.Request().Context(), collection)
		switch {
		case err == nil:
			resp.Snapshot = &snap
		case !errors.Is(err, db.ErrNoSnapshot):
			logger.Warn("Failed to load snapshot", "collection", collection, "err", err)
		}
	}
	return c.JSON(http.StatusOK, resp)
}
