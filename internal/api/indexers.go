package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/halyard/halyard/internal/indexer/manager"
	"github.com/halyard/halyard/internal/indexer/types"
)

// Indexer handlers

func (s *Server) listIndexers(c echo.Context) error {
	ctx := c.Request().Context()

	defs, err := s.indexerStore.List(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if defs == nil {
		defs = []*types.IndexerDefinition{}
	}

	return c.JSON(http.StatusOK, defs)
}

func (s *Server) addIndexer(c echo.Context) error {
	ctx := c.Request().Context()

	var def types.IndexerDefinition
	if err := c.Bind(&def); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	created, err := s.indexerStore.Create(ctx, &def)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusCreated, created)
}

func (s *Server) getIndexer(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}

	def, err := s.indexerStore.Get(ctx, id)
	if err != nil {
		if errors.Is(err, manager.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "indexer not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, def)
}

func (s *Server) updateIndexer(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}

	var def types.IndexerDefinition
	if err := c.Bind(&def); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	def.ID = id

	if err := s.indexerStore.Update(ctx, &def); err != nil {
		if errors.Is(err, manager.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "indexer not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, &def)
}

func (s *Server) deleteIndexer(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}

	if err := s.indexerStore.Delete(ctx, id); err != nil {
		if errors.Is(err, manager.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "indexer not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.NoContent(http.StatusNoContent)
}

func (s *Server) testIndexer(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}

	def, err := s.indexerStore.Get(ctx, id)
	if err != nil {
		if errors.Is(err, manager.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "indexer not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	if err := s.indexerManager.Test(ctx, *def); err != nil {
		return c.JSON(http.StatusOK, map[string]interface{}{"success": false, "message": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "message": "connection successful"})
}

func (s *Server) testNewIndexer(c echo.Context) error {
	ctx := c.Request().Context()

	var def types.IndexerDefinition
	if err := c.Bind(&def); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	if err := s.indexerManager.Test(ctx, def); err != nil {
		return c.JSON(http.StatusOK, map[string]interface{}{"success": false, "message": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "message": "connection successful"})
}

// Search and grab handlers

func (s *Server) search(c echo.Context) error {
	ctx := c.Request().Context()

	criteria := types.SearchCriteria{
		Query: c.QueryParam("query"),
		Type:  c.QueryParam("type"),
	}
	if criteria.Type == "" {
		criteria.Type = "search"
	}

	criteria.Year, _ = strconv.Atoi(c.QueryParam("year"))
	criteria.Season, _ = strconv.Atoi(c.QueryParam("season"))
	criteria.Episode, _ = strconv.Atoi(c.QueryParam("episode"))
	criteria.TmdbID, _ = strconv.Atoi(c.QueryParam("tmdbId"))
	criteria.TvdbID, _ = strconv.Atoi(c.QueryParam("tvdbId"))
	criteria.ImdbID = c.QueryParam("imdbId")
	criteria.Limit, _ = strconv.Atoi(c.QueryParam("limit"))

	runtimeMinutes, _ := strconv.Atoi(c.QueryParam("runtime"))

	resp, err := s.acquisitionService.SearchReleases(ctx, criteria, s.profile, runtimeMinutes)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, resp)
}

// grabRequest is the payload for POST /grab: a scored result from a
// previous search plus the media item it satisfies.
type grabRequest struct {
	Result    manager.ScoredSearchResult `json:"result"`
	MediaID   *int64                     `json:"mediaId,omitempty"`
	MediaType string                     `json:"mediaType"`
	RequestID *int64                     `json:"requestId,omitempty"`
}

func (s *Server) grabRelease(c echo.Context) error {
	ctx := c.Request().Context()

	var req grabRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Result.Title == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing release"})
	}

	td, err := s.acquisitionService.GrabRelease(ctx, req.Result, req.MediaID, req.MediaType, req.RequestID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusCreated, td)
}
