package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"

	"github.com/dukerupert/franchise/internal/domain"
	"github.com/dukerupert/franchise/internal/idempotency"
	"github.com/dukerupert/franchise/internal/telemetry"
)

const (
	// IdempotencyKeyHeader carries the client's key for a mutating request
	IdempotencyKeyHeader = "Idempotency-Key"

	// IdempotentReplayHeader marks a response served from the store
	IdempotentReplayHeader = "Idempotent-Replayed"

	maxIdempotencyKeyLength = 255
)

// Idempotency replays the stored response when a mutating request is
// retried with the same Idempotency-Key. A duplicate that arrives while
// the first is still running gets 409; reusing a key with a different body
// gets 422. Server errors free the key so the client can retry.
//
// Keys are scoped to the actor and route. Place after RequireActor and
// MaxBodySize.
func Idempotency(store idempotency.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientKey := r.Header.Get(IdempotencyKeyHeader)
			if clientKey == "" || r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			if len(clientKey) > maxIdempotencyKeyLength {
				respondBadRequest(w, r, "Idempotency-Key must be at most 255 characters")
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					respondTooLarge(w, r, "Request body too large")
					return
				}
				respondBadRequest(w, r, "Could not read request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			key := scopedKey(r, clientKey)
			fingerprint := digest([]byte(r.Method), []byte(r.URL.Path), body)

			rec, claimed, err := store.Begin(r.Context(), key, fingerprint)
			if err != nil {
				respondInternalError(w, r, err)
				return
			}

			if !claimed {
				switch {
				case rec.Fingerprint != fingerprint:
					respondWithError(w, r, domain.Errorf(domain.EKEYREUSED, "",
						"Idempotency-Key was already used with a different request"))
				case rec.State == idempotency.StateInFlight:
					respondConflict(w, r, "A request with this Idempotency-Key is still in progress")
				default:
					replay(w, r, rec)
				}
				return
			}

			logger := GetLogger(r.Context())
			capture := &captureWriter{ResponseWriter: w, statusCode: http.StatusOK}
			finished := false
			defer func() {
				if finished {
					return
				}
				// Handler panicked; free the key before the panic moves on.
				_ = store.Abandon(context.WithoutCancel(r.Context()), key)
			}()

			next.ServeHTTP(capture, r)
			finished = true

			ctx := context.WithoutCancel(r.Context())
			if capture.statusCode >= http.StatusInternalServerError {
				if err := store.Abandon(ctx, key); err != nil {
					logger.Warn("abandon idempotency key failed", "error", err)
				}
				return
			}

			err = store.Complete(ctx, key, idempotency.Record{
				Fingerprint: fingerprint,
				StatusCode:  capture.statusCode,
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.body.Bytes(),
			})
			if err != nil {
				logger.Warn("store idempotent response failed", "error", err)
			}
		})
	}
}

func replay(w http.ResponseWriter, r *http.Request, rec *idempotency.Record) {
	if m := telemetry.Business; m != nil {
		m.IdempotentReplays.WithLabelValues(routeLabel(r)).Inc()
	}
	GetLogger(r.Context()).Info("idempotent replay", "status", rec.StatusCode)

	if rec.ContentType != "" {
		w.Header().Set("Content-Type", rec.ContentType)
	}
	w.Header().Set(IdempotentReplayHeader, "true")
	w.WriteHeader(rec.StatusCode)
	_, _ = w.Write(rec.Body)
}

func scopedKey(r *http.Request, clientKey string) string {
	actorID := ""
	if actor := GetActor(r.Context()); actor != nil {
		actorID = actor.ID
	}
	return digest([]byte(actorID), []byte(r.Method), []byte(r.URL.Path), []byte(clientKey))
}

func digest(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// captureWriter writes through and keeps a copy of the response.
type captureWriter struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (w *captureWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}
