package routes

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/OFFIS-RIT/folio/backend/internal/db"
	"github.com/OFFIS-RIT/folio/backend/internal/ingest"
	"github.com/OFFIS-RIT/folio/backend/internal/queue"
	"github.com/OFFIS-RIT/folio/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/folio/backend/pkg/export"
	"github.com/OFFIS-RIT/folio/backend/pkg/logger"

	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// IngestHandler indexes the export in the request body synchronously.
// When an export store is configured the export is kept as the latest
// snapshot and other servers are told to rebuild.
func IngestHandler(c echo.Context) error {
	ac := c.(*middleware.AppContext)
	ctx := c.Request().Context()
	collection := ac.App.CollectionOr(c.QueryParam("collection"))

	data, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	payload, err := export.Parse(data)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid export", "details": err.Error()})
	}

	res, err := ac.App.Ingest.Ingest(ctx, collection, payload)
	if err != nil {
		logger.Error("Ingest failed", "collection", collection, "request_id", ac.RequestID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Ingest failed"})
	}

	if ac.App.Exports != nil {
		key, err := ac.App.Exports.PutExport(ctx, collection, ac.RequestID, data)
		if err != nil {
			logger.Warn("Failed to store export snapshot", "collection", collection, "err", err)
		} else {
			announce(ctx, ac.App, queue.RebuildEvent{
				Collection:    collection,
				ObjectKey:     key,
				CorrelationID: ac.RequestID,
				ExportHash:    res.ExportHash,
				Documents:     res.Documents,
			})
		}
	}

	return c.JSON(http.StatusOK, res)
}

// announce records the snapshot and broadcasts a rebuild. Both steps are
// best effort.
func announce(ctx context.Context, app *middleware.App, event queue.RebuildEvent) {
	if app.Snapshots != nil {
		err := app.Snapshots.Save(ctx, db.Snapshot{
			Collection:    event.Collection,
			ObjectKey:     event.ObjectKey,
			ContentHash:   event.ExportHash,
			CorrelationID: event.CorrelationID,
			Documents:     event.Documents,
		})
		if err != nil {
			logger.Warn("Failed to record snapshot", "collection", event.Collection, "err", err)
		}
	}
	if app.Queue == nil {
		return
	}
	body, err := json.Marshal(event)
	if err == nil {
		err = queue.PublishTopic(app.Queue, queue.TopicRebuild, body)
	}
	if err != nil {
		logger.Warn("Failed to announce rebuild", "collection", event.Collection, "err", err)
	}
}

func IngestItemsHandler(c echo.Context) error {
	type ingestItemsBody struct {
		Collection string        `json:"collection"`
		Items      []ingest.Item `json:"items" validate:"required,min=1,dive"`
	}

	data := new(ingestItemsBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body", "details": err.Error()})
	}

	ac := c.(*middleware.AppContext)
	collection := ac.App.CollectionOr(data.Collection)
	res, err := ac.App.Ingest.IngestItems(c.Request().Context(), collection, data.Items)
	if errors.Is(err, ingest.ErrNoItems) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if err != nil {
		// item validation errors carry the item index
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, res)
}

// IngestAsyncHandler stores the export and queues it for the worker.
func IngestAsyncHandler(c echo.Context) error {
	type ingestAsyncResponse struct {
		Collection    string `json:"collection"`
		ObjectKey     string `json:"object_key"`
		CorrelationID string `json:"correlation_id"`
		Pruned        int    `json:"pruned,omitempty"`
	}

	ac := c.(*middleware.AppContext)
	app := ac.App
	if app.Exports == nil || app.Queue == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Async ingest is not configured"})
	}
	ctx := c.Request().Context()
	collection := app.CollectionOr(c.QueryParam("collection"))

	data, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if _, err := export.Parse(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid export", "details": err.Error()})
	}

	corrID, err := gonanoid.New()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to create correlation id"})
	}
	key, err := app.Exports.PutExport(ctx, collection, corrID, data)
	if err != nil {
		logger.Error("Failed to store export", "collection", collection, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to store export"})
	}

	job, err := json.Marshal(queue.IngestJob{
		Message:       "ingest",
		Collection:    collection,
		ObjectKey:     key,
		CorrelationID: corrID,
		RequestedAt:   time.Now().UTC(),
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to encode job"})
	}
	if err := queue.PublishFIFO(app.Queue, queue.IngestQueue, job); err != nil {
		logger.Error("Failed to enqueue ingest", "collection", collection, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to enqueue ingest"})
	}
	logger.Info("Ingest queued", "collection", collection, "key", key, "correlation_id", corrID)

	resp := ingestAsyncResponse{Collection: collection, ObjectKey: key, CorrelationID: corrID}
	if app.KeepExports > 0 {
		// the new export is the newest key, so it always survives
		n, err := app.Exports.PruneExports(ctx, collection, app.KeepExports)
		if err != nil {
			logger.Warn("Failed to prune exports", "collection", collection, "err", err)
		}
		resp.Pruned = n
	}
	return c.JSON(http.StatusAccepted, resp)
}
