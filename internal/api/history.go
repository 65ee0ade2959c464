package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/halyard/halyard/internal/blocklist"
	"github.com/halyard/halyard/internal/history"
)

// History handlers

func (s *Server) getHistory(c echo.Context) error {
	ctx := c.Request().Context()

	if raw := c.QueryParam("mediaId"); raw != "" {
		mediaID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid mediaId"})
		}
		records, err := s.historyStore.ForMedia(ctx, mediaID, c.QueryParam("mediaType"))
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		if records == nil {
			records = []history.Record{}
		}
		return c.JSON(http.StatusOK, records)
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	records, err := s.historyStore.List(ctx, c.QueryParam("eventType"), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if records == nil {
		records = []history.Record{}
	}

	return c.JSON(http.StatusOK, records)
}

// Blocklist handlers

func (s *Server) listBlocklist(c echo.Context) error {
	ctx := c.Request().Context()

	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	entries, err := s.blocklistStore.List(ctx, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if entries == nil {
		entries = []blocklist.Entry{}
	}

	return c.JSON(http.StatusOK, entries)
}

func (s *Server) removeFromBlocklist(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}

	if err := s.blocklistStore.Remove(ctx, id); err != nil {
		if errors.Is(err, blocklist.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "blocklist entry not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.NoContent(http.StatusNoContent)
}
