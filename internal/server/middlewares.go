package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	logs "github.com/sirupsen/logrus"
	limiter "github.com/ulule/limiter/v3"
	stdlib "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	memory "github.com/ulule/limiter/v3/drivers/store/memory"
)

// RequestIDHeader carries the id assigned to every request.
const RequestIDHeader = "X-Request-Id"

// newLimiter creates the rate limiting middleware for a formatted rate
// such as "100-S".
func newLimiter(rate string) (*stdlib.Middleware, error) {
	r, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, err
	}
	return stdlib.NewMiddleware(limiter.New(memory.NewStore(), r)), nil
}

// responseWriter captures the status code and size of a response.
type responseWriter struct {
	http.ResponseWriter
	status      int
	bytes       int64
	wroteHeader bool
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, status: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
	rw.wroteHeader = true
}

func (rw *responseWriter) Write(data []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(data)
	rw.bytes += int64(n)
	return n, err
}

// loggingMiddleware counts and logs every request with its duration.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			s.stats.get.Add(1)
		case http.MethodPost:
			s.stats.post.Add(1)
		case http.MethodDelete:
			s.stats.del.Add(1)
		}
		start := time.Now()
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		wrapped := wrapResponseWriter(w)
		next.ServeHTTP(wrapped, r)

		logs.WithFields(logs.Fields{
			"id":        id,
			"method":    r.Method,
			"uri":       utcMsg([]byte(r.RequestURI)),
			"status":    wrapped.status,
			"bytes_in":  r.ContentLength,
			"bytes_out": wrapped.bytes,
			"remote":    r.RemoteAddr,
			"duration":  time.Since(start).String(),
		}).Info("request")
	})
}

// limitMiddleware limits incoming requests.
func (s *Server) limitMiddleware(next http.Handler) http.Handler {
	return s.limiter.Handler(next)
}
