package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"intelhub/internal/docstore"
	"intelhub/internal/hub"
	"intelhub/internal/hubtypes"
)

func errorResponse(msgs ...string) map[string]any {
	return map[string]any{"ok": false, "errors": msgs}
}

func okResponse(extra map[string]any) map[string]any {
	out := map[string]any{"ok": true}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// submitCollectedRequest is the wire shape for POST /submit/collected.
type submitCollectedRequest struct {
	UUID      string         `json:"UUID"`
	Content   string         `json:"content"`
	Informant string         `json:"informant"`
	Title     string         `json:"title"`
	Authors   []string       `json:"authors"`
	PubTime   *time.Time     `json:"pub_time"`
	Extra     map[string]any `json:"extra"`
}

func (s *Server) submitCollected(c echo.Context) error {
	var req submitCollectedRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse("invalid request body"))
	}
	if req.Content == "" {
		return c.JSON(http.StatusBadRequest, errorResponse("content is required"))
	}

	id, err := s.hub.SubmitCollected(c.Request().Context(), hubtypes.CollectedItem{
		UUID: req.UUID, Content: req.Content, Informant: req.Informant,
		Title: req.Title, Authors: req.Authors, PubTime: req.PubTime, Extra: req.Extra,
	})
	if err != nil {
		return c.JSON(http.StatusOK, errorResponse(err.Error()))
	}
	return c.JSON(http.StatusOK, okResponse(map[string]any{"id": id}))
}

// submitArchivedRequest is the wire shape for POST /submit/archived.
type submitArchivedRequest struct {
	UUID      string             `json:"UUID"`
	Title     string             `json:"TITLE"`
	Brief     string             `json:"BRIEF"`
	EventText string             `json:"EVENT_TEXT"`
	Rate      map[string]float64 `json:"RATE"`
	Informant string             `json:"informant"`
	Submitter string             `json:"SUBMITTER"`
}

func (s *Server) submitArchived(c echo.Context) error {
	body, readErr := io.ReadAll(c.Request().Body)
	if readErr != nil {
		return c.JSON(http.StatusBadRequest, errorResponse("invalid request body"))
	}
	c.Request().Body = io.NopCloser(bytes.NewReader(body))

	var req submitArchivedRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse("invalid request body"))
	}

	err := s.hub.SubmitArchived(c.Request().Context(), hubtypes.ArchivedItem{
		UUID: req.UUID, Title: req.Title, Brief: req.Brief, EventText: req.EventText,
		Rate: req.Rate, RateKeysInOrder: rateKeyOrderFromBody(body), Informant: req.Informant, Submitter: req.Submitter,
	})
	if err != nil {
		return c.JSON(http.StatusOK, errorResponse(err.Error()))
	}
	return c.JSON(http.StatusOK, okResponse(nil))
}

// rateKeyOrderFromBody recovers RATE's key-emission order from the raw
// request body — a struct bind into submitArchivedRequest.Rate already
// discarded it — so SubmitArchived's direct ingestion path honors the
// same first-encountered tie-break (invariant 5) the analysis pipeline
// does. Returns nil on any decode failure; the hub falls back to a
// deterministic order of its own in that case.
func rateKeyOrderFromBody(body []byte) []string {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil
	}
	rateRaw, ok := raw["RATE"]
	if !ok {
		return nil
	}
	_, keys, err := hubtypes.DecodeOrderedRate(rateRaw)
	if err != nil {
		return nil
	}
	return keys
}

func (s *Server) getIntelligence(c echo.Context) error {
	id := c.Param("id")
	db := c.QueryParam("db")
	doc, found, err := s.hub.Get(c.Request().Context(), db, id)
	if err != nil {
		return respondForError(c, err)
	}
	if !found {
		return c.JSON(http.StatusNotFound, errorResponse("not found"))
	}
	return c.JSON(http.StatusOK, doc)
}

// queryRequest is the wire shape for POST /query.
type queryRequest struct {
	Period        []time.Time `json:"period"`
	Locations     []string    `json:"locations"`
	Peoples       []string    `json:"peoples"`
	Organizations []string    `json:"organizations"`
	Keywords      []string    `json:"keywords"`
	Threshold     float64     `json:"threshold"`
	Skip          int         `json:"skip"`
	Limit         int         `json:"limit"`
	DB            string      `json:"db"`
}

func (s *Server) query(c echo.Context) error {
	var req queryRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse("invalid request body"))
	}

	filter := docstore.Filter{}
	if len(req.Period) == 2 {
		filter["archive_time"] = map[string]any{"$gte": req.Period[0], "$lte": req.Period[1]}
	}

	docs, err := s.hub.Query(c.Request().Context(), hub.QueryParams{
		DB: req.DB, Filter: filter, SortField: "archive_time", SortDesc: true,
		Skip: req.Skip, Limit: req.Limit,
	})
	if err != nil {
		return respondForError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"items": docs, "total": len(docs)})
}

// vectorSearchRequest is the wire shape for POST /vector-search.
type vectorSearchRequest struct {
	Text           string  `json:"text"`
	InSummary      bool    `json:"in_summary"`
	InFulltext     bool    `json:"in_fulltext"`
	TopN           int     `json:"top_n"`
	ScoreThreshold float64 `json:"score_threshold"`
}

// vectorSearch applies the in_summary/in_fulltext source filter after
// hub.VectorSearch has already merged and capped to top_n across both
// repositories. That means a request excluding one source can return
// fewer than top_n items — the excluded source's hits still occupied
// slots in the merge before being dropped here — rather than
// backfilling from the remaining source. Acceptable for now since
// source filtering is an uncommon request shape; revisit by pushing
// the filter into hub.VectorSearch if that changes.
func (s *Server) vectorSearch(c echo.Context) error {
	var req vectorSearchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse("invalid request body"))
	}

	results, err := s.hub.VectorSearch(c.Request().Context(), req.Text, req.TopN, req.ScoreThreshold, nil)
	if err != nil {
		return respondForError(c, err)
	}

	items := make([]map[string]any, 0, len(results))
	for _, r := range results {
		if r.Source == "summary" && !req.InSummary {
			continue
		}
		if r.Source == "fulltext" && !req.InFulltext {
			continue
		}
		items = append(items, map[string]any{"id": r.ArchivedID, "score": r.Score, "chunk_text": r.ChunkText})
	}
	return c.JSON(http.StatusOK, items)
}

func (s *Server) recommendations(c echo.Context) error {
	doc, found, err := s.hub.Recommendations(c.Request().Context())
	if err != nil {
		return respondForError(c, err)
	}
	if !found {
		return c.JSON(http.StatusOK, map[string]any{"items": []any{}})
	}
	return c.JSON(http.StatusOK, doc)
}

func (s *Server) statistics(c echo.Context) error {
	return c.JSON(http.StatusOK, s.hub.Summary())
}

type ratingRequest struct {
	Rating float64 `json:"rating"`
}

func (s *Server) submitRating(c echo.Context) error {
	var req ratingRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse("invalid request body"))
	}
	if err := s.hub.SubmitManualRating(c.Request().Context(), c.Param("id"), req.Rating); err != nil {
		return c.JSON(http.StatusOK, errorResponse(err.Error()))
	}
	return c.JSON(http.StatusOK, okResponse(nil))
}

func respondForError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, hubtypes.ErrValidation):
		return c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, hubtypes.ErrServiceUnavailable):
		return c.JSON(http.StatusServiceUnavailable, errorResponse(err.Error()))
	default:
		return c.JSON(http.StatusInternalServerError, errorResponse(err.Error()))
	}
}
