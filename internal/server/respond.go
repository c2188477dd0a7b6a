package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/opsengine/internal/apperr"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    apperr.Kind `json:"kind"`
	Message string      `json:"message"`
}

// StatusFor maps a failure kind to its HTTP status.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindAuthentication:
		return http.StatusUnauthorized
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidRequest:
		return http.StatusBadRequest
	case apperr.KindInsufficientStock, apperr.KindInvalidStateTransition, apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindAggregationTimeout:
		return http.StatusGatewayTimeout
	case apperr.KindDownstreamUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError reports err with its kind. Internal failure details stay in
// the log.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := StatusFor(kind)
	message := err.Error()

	logger := zerolog.Ctx(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("kind", string(kind)).Msg("request failed")
		if kind == apperr.KindInternal {
			message = "internal error"
		}
	} else {
		logger.Debug().Err(err).Str("kind", string(kind)).Msg("request rejected")
	}

	writeJSON(w, status, errorBody{Error: errorDetail{Kind: kind, Message: message}})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return apperr.New(apperr.KindInvalidRequest, "request body exceeds %d bytes", maxErr.Limit)
		case errors.Is(err, io.EOF):
			return apperr.New(apperr.KindInvalidRequest, "request body is required")
		}
		return apperr.New(apperr.KindInvalidRequest, "malformed request body: %v", err)
	}
	return nil
}

func queryInt(r *http.Request, name string) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, apperr.New(apperr.KindInvalidRequest, "%s must be an integer, got %q", name, s)
	}
	return n, nil
}

func notAllowed(method, path string) error {
	return apperr.New(apperr.KindNotFound, "no route for %s %s", method, path)
}
