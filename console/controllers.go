/*
	This file contains the web-facing handlers.
*/
package console

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5"

	isearch "github.com/antwaves/iSearch"
)

type errorResponse struct {
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

func (s *Server) replyError(w http.ResponseWriter, status int, tag string, err error) {
	if status == http.StatusInternalServerError {
		isearch.Log.Error().Err(err).Str("tag", tag).Msg("console request failed")
	}
	s.render.JSON(w, status, errorResponse{Tag: tag, Message: err.Error()})
}

func (s *Server) StatusController(w http.ResponseWriter, req *http.Request) {
	if s.status == nil {
		s.replyError(w, http.StatusNotFound, "no-crawl",
			errors.New("no crawl is attached to this console"))
		return
	}

	type statusResponse struct {
		isearch.Status
		StoredPages *int64 `json:"stored_pages,omitempty"`
	}
	resp := statusResponse{Status: s.status.Status()}
	if s.model != nil {
		if n, err := s.model.PageCount(req.Context()); err == nil {
			resp.StoredPages = &n
		}
	}
	s.render.JSON(w, http.StatusOK, resp)
}

func (s *Server) PageController(w http.ResponseWriter, req *http.Request) {
	if s.model == nil {
		s.replyError(w, http.StatusNotFound, "no-store",
			errors.New("no store is attached to this console"))
		return
	}

	pageURL := req.URL.Query().Get("url")
	if pageURL == "" {
		s.replyError(w, http.StatusBadRequest, "missing-url",
			errors.New("query parameter url is required"))
		return
	}

	u, err := isearch.CanonicalizeURL(pageURL)
	if err != nil {
		s.replyError(w, http.StatusBadRequest, "bad-url", err)
		return
	}

	info, err := s.model.PageByURL(req.Context(), u.String())
	if errors.Is(err, pgx.ErrNoRows) {
		s.replyError(w, http.StatusNotFound, "page-not-found",
			errors.New("page is not in the store"))
		return
	}
	if err != nil {
		s.replyError(w, http.StatusInternalServerError, "page-lookup", err)
		return
	}
	s.render.JSON(w, http.StatusOK, info)
}

func (s *Server) TermController(w http.ResponseWriter, req *http.Request) {
	if s.model == nil {
		s.replyError(w, http.StatusNotFound, "no-store",
			errors.New("no store is attached to this console"))
		return
	}

	term := mux.Vars(req)["term"]
	urls, err := s.model.TermPages(req.Context(), term, 100)
	if err != nil {
		s.replyError(w, http.StatusInternalServerError, "term-lookup", err)
		return
	}

	s.render.JSON(w, http.StatusOK, map[string]any{
		"term":  term,
		"pages": urls,
	})
}
