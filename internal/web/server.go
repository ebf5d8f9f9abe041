package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"navtrack/internal/nav"
)

type Options struct {
	Tracker Tracker
	Status  *Status
	Logs    *LogBuffer

	// KeepAlive is the comment interval on /api/events streams.
	KeepAlive time.Duration
}

// HealthResponse is the /healthz body.
type HealthResponse struct {
	OK bool `json:"ok"`
	StatusSnapshot
}

func Handler(opts Options) http.Handler {
	if opts.Status == nil {
		opts.Status = NewStatus()
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 15 * time.Second
	}
	mux := http.NewServeMux()

	mux.Handle("/api/status", getOnly(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, opts.Status.Snapshot(time.Now().UTC(), opts.Tracker))
	}))

	mux.Handle("/healthz", getOnly(func(w http.ResponseWriter, r *http.Request) {
		snap := opts.Status.Snapshot(time.Now().UTC(), opts.Tracker)
		resp := HealthResponse{OK: snap.Phase == nav.PhaseActive.String(), StatusSnapshot: snap}
		code := http.StatusOK
		if !resp.OK {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	}))

	mux.Handle("/api/state", getOnly(func(w http.ResponseWriter, r *http.Request) {
		if opts.Tracker == nil {
			http.Error(w, "tracker unavailable", http.StatusNotFound)
			return
		}
		st, ok := opts.Tracker.Snapshot()
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}))

	mux.Handle("/api/events", getOnly(func(w http.ResponseWriter, r *http.Request) {
		if opts.Tracker == nil {
			http.Error(w, "tracker unavailable", http.StatusNotFound)
			return
		}
		streamStates(w, r, opts.Tracker, opts.KeepAlive)
	}))

	if opts.Logs != nil {
		mux.Handle("/api/logs", opts.Logs.Handler())
	}
	mux.Handle("/api/about", AboutHandler())

	mux.Handle("/", getOnly(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		snap := opts.Status.Snapshot(time.Now().UTC(), opts.Tracker)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>navtrack</title></head><body>")
		_, _ = fmt.Fprintf(w, "<h1>navtrack</h1>")
		_, _ = fmt.Fprintf(w, "<p>See <a href=\"/api/state\">/api/state</a>, <a href=\"/api/status\">/api/status</a>, <a href=\"/api/logs?format=text\">/api/logs</a>.</p>")
		_, _ = fmt.Fprintf(w, "<pre>source=%s\nroute=%s\nphase=%s\nprocessed=%d</pre>",
			snap.Source, snap.Route, snap.Phase, snap.Processed,
		)
		_, _ = fmt.Fprintf(w, "</body></html>")
	}))

	return mux
}

// streamStates writes tracker states as server-sent events until the client
// goes away or the tracker closes the subscription.
func streamStates(w http.ResponseWriter, r *http.Request, tr Tracker, keepAlive time.Duration) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	id, ch := tr.SubscribeState(4)
	defer tr.Unsubscribe(id)

	_, _ = w.Write([]byte(": ping\n\n"))
	if st, ok := tr.Snapshot(); ok {
		if err := writeEvent(w, st); err != nil {
			return
		}
	}
	flusher.Flush()

	tick := time.NewTicker(keepAlive)
	defer tick.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-tick.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
		case st, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(w, st); err != nil {
				return
			}
		}
		flusher.Flush()
	}
}

func writeEvent(w http.ResponseWriter, st nav.State) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: state\ndata: %s\n\n", b)
	return err
}

func getOnly(fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		fn(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

// Serve runs the HTTP server until ctx is cancelled.
func Serve(ctx context.Context, listenAddr string, h http.Handler, log logrus.FieldLogger) error {
	if log == nil {
		log = logrus.StandardLogger()
	}
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
		// Request contexts end with ctx so event streams close on shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.WithField("addr", listenAddr).Info("web server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
