package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/folio/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/folio/backend/pkg/agent"

	"github.com/labstack/echo/v4"
)

func AskHandler(c echo.Context) error {
	data := new(agent.Request)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body", "details": err.Error()})
	}

	ac := c.(*middleware.AppContext)
	data.Collection = ac.App.CollectionOr(data.Collection)

	resp := ac.App.Agent.Answer(c.Request().Context(), *data)
	return c.JSON(http.StatusOK, resp)
}
