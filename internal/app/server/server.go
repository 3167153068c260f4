package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"ledger-holder/internal/api"
	"ledger-holder/internal/config"
	"ledger-holder/internal/listener"
	"ledger-holder/internal/storage"
	"ledger-holder/internal/tracker"
)

type Server struct {
	tracker *tracker.Tracker
	srv     *http.Server
}

func New(t *tracker.Tracker) *Server {
	return &Server{
		tracker: t,
		srv: &http.Server{
			Handler:      api.Router(api.NewLedgerHandler(t)),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 3 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Serve accepts connections on ln until ctx is done, then drains
// in-flight requests.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("http server starting")
		errc <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	if err := s.srv.Shutdown(shCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func Run(cfg config.Config) {
	config.SetupLogging(cfg.Server.LogLevel)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	store, err := storage.New(rootCtx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init storage")
	}
	defer store.Close()

	// Ledger slots
	tr := tracker.New(store)
	if err := tr.Refresh(rootCtx); err != nil {
		log.Fatal().Err(err).Msg("initial ledger load")
	}

	// Listener (LISTEN/NOTIFY) plus polling fallback
	go listener.ListenAndRefresh(rootCtx, listener.PoolDialer(store.PgxPool()), tr, store.ListenChannel(), cfg.Backoff())
	tr.StartRefresher(rootCtx, cfg.RefreshInterval())

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Server.Addr).Msg("listen")
	}

	go func() {
		waitForSignal()
		log.Info().Msg("shutdown...")
		cancel() // stop background goroutines and the http server
	}()

	if err := New(tr).Serve(rootCtx, ln); err != nil {
		log.Error().Err(err).Msg("server crashed")
	}
}

func waitForSignal() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}
