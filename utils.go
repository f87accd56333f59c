package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
)

// setupLogging writes JSON lines to server.log and stderr; errors also land
// in error.log.
func setupLogging(logDir, level string) (*zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	fInfo, err := os.OpenFile(filepath.Join(logDir, "server.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
	if err != nil {
		return nil, err
	}
	fErr, err := os.OpenFile(filepath.Join(logDir, "error.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
	if err != nil {
		fInfo.Close()
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	json := zapcore.NewJSONEncoder(encCfg)
	console := zapcore.NewConsoleEncoder(encCfg)

	core := zapcore.NewTee(
		zapcore.NewCore(json, zapcore.AddSync(fInfo), lvl),
		zapcore.NewCore(json, zapcore.AddSync(fErr), zapcore.ErrorLevel),
		zapcore.NewCore(console, zapcore.Lock(os.Stderr), lvl),
	)
	return zap.New(core, zap.AddCaller()).Sugar(), nil
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func getLimiter(ip string) *rate.Limiter {
	ipLock.Lock()
	defer ipLock.Unlock()
	entry, exists := ipLimiters[ip]
	if !exists {
		entry = &ipLimiter{limiter: rate.NewLimiter(rate.Limit(Config.RateLimit), Config.RateBurst)}
		ipLimiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

// sweepLimiters drops limiters not used since before cutoff and reports how
// many went.
func sweepLimiters(cutoff time.Time) int {
	ipLock.Lock()
	defer ipLock.Unlock()
	dropped := 0
	for ip, entry := range ipLimiters {
		if entry.lastSeen.Before(cutoff) {
			delete(ipLimiters, ip)
			dropped++
		}
	}
	return dropped
}

// runLimiterSweep evicts idle limiters until ctx is done.
func runLimiterSweep(ctx context.Context, idle time.Duration) error {
	if idle <= 0 {
		return nil
	}
	ticker := time.NewTicker(idle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if n := sweepLimiters(now.Add(-idle)); n > 0 {
				Log.Debugw("limiters evicted", "count", n)
			}
		}
	}
}

// middlewareCORS adds headers to allow browser clients
func middlewareCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, X-Game-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type ctxKey int

const requestIDKey ctxKey = iota

// requestID returns the id middlewareSecurity attached to the request.
func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// middlewareSecurity rate limits per client IP, caps bodies, only accepts
// plain text payloads and tags each request with an id for the logs.
func middlewareSecurity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !getLimiter(ip).Allow() {
			http.Error(w, "Rate Limit", http.StatusTooManyRequests)
			return
		}

		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		contentType := r.Header.Get("Content-Type")
		if r.Method != http.MethodGet && contentType != "" && !strings.HasPrefix(contentType, "text/plain") {
			http.Error(w, "Bad Type: "+contentType, http.StatusUnsupportedMediaType)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)

		id := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		start := time.Now()
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
		Log.Debugw("request", "id", id, "method", r.Method, "path", r.URL.Path, "ip", ip, "took", time.Since(start))
	})
}
