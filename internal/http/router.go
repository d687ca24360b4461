package httpx

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/splax/tweetwatch/internal/domain"
	"github.com/splax/tweetwatch/internal/service/schedule"
	"github.com/splax/tweetwatch/internal/service/watch"
	"github.com/splax/tweetwatch/internal/ws"
)

// WatchService is the application surface exposed over HTTP.
type WatchService interface {
	Subscribe(ctx context.Context, username string) (*domain.Account, error)
	Unsubscribe(ctx context.Context, username string) error
	Accounts(ctx context.Context) ([]string, error)
	Refresh(ctx context.Context, username string) (string, error)
	Tweets(ctx context.Context, filter domain.TweetFilter) ([]domain.Tweet, error)
	MarkRead(ctx context.Context, tweetID int64) (*domain.Tweet, error)
	MarkUnread(ctx context.Context, tweetID int64) (*domain.Tweet, error)
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux          *http.ServeMux
	handler      http.Handler
	logger       *slog.Logger
	watch        WatchService
	hub          *ws.Hub
	upgrader     websocket.Upgrader
	limiter      RateLimiter
	refreshLimit int
	dbHealth     func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateLimitWebsocket = 30
	healthCheckTimeout = 2 * time.Second
	sseHeartbeat       = 25 * time.Second
)

// NewRouter assembles routes with dependencies. A nil limiter selects the
// in-memory implementation; refreshLimit <= 0 disables refresh limiting.
func NewRouter(logger *slog.Logger, watchSvc WatchService, hub *ws.Hub, limiter RateLimiter, refreshLimit int, dbHealth func(context.Context) error) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		mux:    http.NewServeMux(),
		logger: logger,
		watch:  watchSvc,
		hub:    hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:      limiter,
		refreshLimit: refreshLimit,
		dbHealth:     dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	r.handler = cors.AllowAll().Handler(r.mux)
	return r
}

// ServeHTTP delegates to the CORS-wrapped mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit(r.instrument("healthz", r.handleHealthz)))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/subscribe/", r.audit(r.instrument("subscribe", r.handleSubscribe)))
	r.mux.HandleFunc("/unsubscribe/", r.audit(r.instrument("unsubscribe", r.handleUnsubscribe)))
	r.mux.HandleFunc("/accounts", r.audit(r.instrument("accounts", r.handleAccounts)))
	r.mux.HandleFunc("/refresh/", r.audit(r.instrument("refresh", r.withRateLimit("refresh", r.refreshLimit, rateWindowDefault, rateLimitKeyIP, r.handleRefresh))))
	r.mux.HandleFunc("/tweets", r.audit(r.instrument("tweets", r.handleTweets)))
	r.mux.HandleFunc("/tweet/", r.audit(r.instrument("tweet_read_state", r.handleTweetReadState)))
	r.mux.HandleFunc("/ws/tweets", r.audit(r.withRateLimit("ws_tweets", rateLimitWebsocket, rateWindowDefault, rateLimitKeyIP, r.handleTweetsWS)))
	r.mux.HandleFunc("/stream/tweets", r.audit(r.withRateLimit("stream_tweets", rateLimitWebsocket, rateWindowDefault, rateLimitKeyIP, r.handleTweetsSSE)))
}

func (r *Router) handleSubscribe(w http.ResponseWriter, req *http.Request) {
	username, ok := pathParam(req.URL.Path, "/subscribe/")
	if !ok {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	account, err := r.watch.Subscribe(req.Context(), username)
	switch {
	case errors.Is(err, watch.ErrAlreadySubscribed):
		writeError(w, http.StatusBadRequest, "Account already subscribed")
		return
	case errors.Is(err, watch.ErrInvalidUsername):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		r.internalError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Subscribed to %s", account.Username),
		"account": map[string]any{
			"id":       account.ID,
			"username": account.Username,
		},
	})
}

func (r *Router) handleUnsubscribe(w http.ResponseWriter, req *http.Request) {
	username, ok := pathParam(req.URL.Path, "/unsubscribe/")
	if !ok {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodDelete {
		r.methodNotAllowed(w)
		return
	}
	if err := r.watch.Unsubscribe(req.Context(), username); err != nil {
		if errors.Is(err, watch.ErrAccountNotFound) || errors.Is(err, watch.ErrInvalidUsername) {
			writeError(w, http.StatusNotFound, "Account not found")
			return
		}
		r.internalError(w, req, err)
		return
	}
	writeMessage(w, http.StatusOK, fmt.Sprintf("Unsubscribed from %s", strings.TrimSpace(username)))
}

func (r *Router) handleAccounts(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	names, err := r.watch.Accounts(req.Context())
	if err != nil {
		r.internalError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (r *Router) handleRefresh(w http.ResponseWriter, req *http.Request) {
	username, ok := pathParam(req.URL.Path, "/refresh/")
	if !ok {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	jobID, err := r.watch.Refresh(req.Context(), username)
	switch {
	case errors.Is(err, watch.ErrNotSubscribed), errors.Is(err, watch.ErrInvalidUsername):
		writeError(w, http.StatusNotFound, "Account not subscribed")
		return
	case errors.Is(err, schedule.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		r.internalError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Started tweet scraping for %s in background", strings.TrimSpace(username)),
		"job_id":  jobID,
	})
}

func (r *Router) handleTweets(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	filter := parseTweetFilter(req)
	tweets, err := r.watch.Tweets(req.Context(), filter)
	if err != nil {
		r.internalError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, tweets)
}

// parseTweetFilter reads ?account= and ?read=. A present read parameter
// filters on read when it equals "true" in any case and on unread otherwise.
func parseTweetFilter(req *http.Request) domain.TweetFilter {
	query := req.URL.Query()
	var filter domain.TweetFilter
	if account := query.Get("account"); account != "" {
		filter.Account = &account
	}
	if values, ok := query["read"]; ok {
		read := len(values) > 0 && strings.EqualFold(values[0], "true")
		filter.Read = &read
	}
	return filter
}

func (r *Router) handleTweetReadState(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/tweet/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 {
		r.notFound(w)
		return
	}
	tweetID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || tweetID < 0 {
		r.notFound(w)
		return
	}
	var (
		update  func(context.Context, int64) (*domain.Tweet, error)
		message string
	)
	switch parts[1] {
	case "read":
		update, message = r.watch.MarkRead, "Tweet marked as read"
	case "unread":
		update, message = r.watch.MarkUnread, "Tweet marked as unread"
	default:
		r.notFound(w)
		return
	}
	if req.Method != http.MethodPatch {
		r.methodNotAllowed(w)
		return
	}
	if _, err := update(req.Context(), tweetID); err != nil {
		if errors.Is(err, watch.ErrTweetNotFound) {
			writeError(w, http.StatusNotFound, "Tweet not found")
			return
		}
		r.internalError(w, req, err)
		return
	}
	writeMessage(w, http.StatusOK, message)
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	if r.hub != nil {
		components["stream"] = map[string]any{"status": "up", "subscribers": r.hub.Subscribers()}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

// pathParam returns the single path segment following prefix.
func pathParam(path, prefix string) (string, bool) {
	value := strings.TrimPrefix(path, prefix)
	if value == "" || strings.Contains(value, "/") {
		return "", false
	}
	return value, true
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) internalError(w http.ResponseWriter, req *http.Request, err error) {
	r.logger.Error("request failed", "path", req.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
