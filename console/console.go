/*
	Package console serves a small read-only JSON view over a running crawl
	and its store. It is meant for poking at a crawl from a browser or curl,
	not as a public API.
*/
package console

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/unrolled/render"

	isearch "github.com/antwaves/iSearch"
	"github.com/antwaves/iSearch/postgres"
)

// StatusSource reports live crawl progress. *FetchManager implements it.
type StatusSource interface {
	Status() isearch.Status
}

// Model is the slice of the datastore the console reads from.
type Model interface {
	PageCount(ctx context.Context) (int64, error)
	PageByURL(ctx context.Context, pageURL string) (*postgres.PageInfo, error)
	TermPages(ctx context.Context, term string, limit int) ([]string, error)
}

// Server wires the console routes over a status source and a store. Either
// may be nil; the corresponding routes then report 404.
type Server struct {
	status StatusSource
	model  Model
	render *render.Render
}

func NewServer(status StatusSource, model Model) *Server {
	return &Server{
		status: status,
		model:  model,
		render: render.New(render.Options{IndentJSON: true}),
	}
}

// Handler returns the route table as an http.Handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/status", s.StatusController).Methods("GET")
	r.HandleFunc("/pages", s.PageController).Methods("GET")
	r.HandleFunc("/terms/{term}", s.TermController).Methods("GET")
	return r
}

// Run serves the console until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	errs := make(chan error, 1)
	go func() {
		errs <- srv.ListenAndServe()
	}()
	isearch.Log.Info().Str("addr", addr).Msg("console listening")

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	}
}
