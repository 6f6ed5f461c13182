// Package statusapi exposes the sync engine to UI processes on the same
// device: the current status (plain JSON or a websocket stream) and the
// manual sync and retry actions.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/dmitrijs2005/fieldsync/internal/client/status"
	"github.com/dmitrijs2005/fieldsync/internal/client/syncer"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
)

const writeWait = 10 * time.Second

type StatusSource interface {
	Current() status.Status
	Subscribe(fn func(status.Status)) (unsubscribe func())
}

type Syncer interface {
	Sync(ctx context.Context) (*syncer.Result, error)
}

type Retrier interface {
	RetryFailed(ctx context.Context) (photos, queue int64, err error)
}

type Server struct {
	address string
	status  StatusSource
	syncer  Syncer
	retrier Retrier
	logger  logging.Logger

	upgrader websocket.Upgrader
	router   chi.Router

	done     chan struct{}
	doneOnce sync.Once
}

func New(address string, src StatusSource, s Syncer, r Retrier, l logging.Logger) *Server {
	if l == nil {
		l = logging.Discard()
	}
	srv := &Server{
		address: address,
		status:  src,
		syncer:  s,
		retrier: r,
		logger:  l.With("module", "status_api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Local UI processes only; the listener is bound to loopback by default.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		done: make(chan struct{}),
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(srv.accessLog)
	router.Get("/status", srv.getStatus)
	router.Get("/status/ws", srv.streamStatus)
	router.Post("/sync", srv.postSync)
	router.Post("/photos/retry-failed", srv.postRetryFailed)
	srv.router = router
	return srv
}

func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	hs := &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping status API...")
		s.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hs.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting status API", "address", listen.Addr().String())

	if err := hs.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close ends open status streams.
func (s *Server) Close() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug(r.Context(), "request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "duration", time.Since(start))
	})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Current())
}

// SyncResponse is the body of POST /sync.
type SyncResponse struct {
	Skipped        bool     `json:"skipped"`
	Pulled         int      `json:"pulled"`
	FoldersPushed  int      `json:"foldersPushed"`
	FoldersFailed  int      `json:"foldersFailed"`
	QueueCompleted int      `json:"queueCompleted"`
	QueueRetried   int      `json:"queueRetried"`
	QueueFailed    int      `json:"queueFailed"`
	PhotosSynced   int      `json:"photosSynced"`
	PhotosFailed   int      `json:"photosFailed"`
	Errors         []string `json:"errors,omitempty"`
	Error          string   `json:"error,omitempty"`
}

func (s *Server) postSync(w http.ResponseWriter, r *http.Request) {
	res, err := s.syncer.Sync(r.Context())
	out := SyncResponse{}
	if res != nil {
		out = SyncResponse{
			Skipped:        res.Skipped,
			Pulled:         res.Pulled,
			FoldersPushed:  res.FoldersPushed,
			FoldersFailed:  res.FoldersFailed,
			QueueCompleted: res.QueueCompleted,
			QueueRetried:   res.QueueRetried,
			QueueFailed:    res.QueueFailed,
			PhotosSynced:   res.PhotosSynced,
			PhotosFailed:   res.PhotosFailed,
			Errors:         res.Errors(),
		}
	}

	code := http.StatusOK
	switch {
	case err == nil:
	case errors.Is(err, common.ErrSyncInProgress):
		code = http.StatusConflict
	case errors.Is(err, common.ErrOffline):
		code = http.StatusServiceUnavailable
	default:
		code = http.StatusInternalServerError
	}
	if err != nil {
		out.Error = err.Error()
	}
	writeJSON(w, code, out)
}

func (s *Server) postRetryFailed(w http.ResponseWriter, r *http.Request) {
	photos, queue, err := s.retrier.RetryFailed(r.Context())
	if err != nil {
		s.logger.Error(r.Context(), "retry failed items", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"photos": photos, "queue": queue})
}

// streamStatus sends the current status, then every change, until the
// client goes away.
func (s *Server) streamStatus(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Only the latest snapshot matters to a slow reader.
	updates := make(chan status.Status, 1)
	unsubscribe := s.status.Subscribe(func(st status.Status) {
		for {
			select {
			case updates <- st:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-s.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			return
		case st := <-updates:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(st); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
