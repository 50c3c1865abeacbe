/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/Seednode/valentines/valentine"
)

func newLogger(cfg *Config, out io.Writer) zerolog.Logger {
	level := zerolog.WarnLevel
	if cfg.verbose {
		level = zerolog.InfoLevel
	}

	return zerolog.New(zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: logDate,
		NoColor:    true,
	}).Level(level).With().Timestamp().Logger()
}

func logServed(cfg *Config, r *http.Request, page string, written int, startTime time.Time) {
	cfg.log.Info().
		Str("page", page).
		Str("size", humanize.Bytes(uint64(max(written, 0)))).
		Str("remote", realIP(r)).
		Dur("took", time.Since(startTime).Round(time.Microsecond)).
		Msg("served")
}

func newPage(cfg *Config, title, body string) string {
	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
	htmlBody.WriteString(getFavicon(cfg))
	htmlBody.WriteString(fmt.Sprintf(`<link rel="stylesheet" href="%s/assets/app.css">`, cfg.prefix))
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title></head>", html.EscapeString(title)))
	htmlBody.WriteString(fmt.Sprintf(`<body class="notice"><a href="%s/">%s</a></body></html>`, cfg.prefix, html.EscapeString(body)))

	return htmlBody.String()
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// errorStatus maps a domain error onto an HTTP status and a stable code the
// client can branch on.
func errorStatus(err error) (int, string) {
	var ve *valentine.ValidationError

	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, "invalid"
	case errors.Is(err, valentine.ErrNotReceiver):
		return http.StatusForbidden, "not_receiver"
	case errors.Is(err, valentine.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, valentine.ErrClaimConflict):
		return http.StatusConflict, "claim_conflict"
	case errors.Is(err, valentine.ErrAlreadyDecided):
		return http.StatusConflict, "already_decided"
	case valentine.IsRetryable(err):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(cfg *Config, w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)

	message := err.Error()
	if status >= http.StatusInternalServerError {
		message = "Something went wrong. Please try again."
		cfg.log.Error().Err(err).Str("path", r.URL.Path).Str("remote", realIP(r)).Msg("request failed")
	}

	_, _ = writeJSON(cfg, w, status, errorResponse{Error: code, Message: message})
}

func writeJSON(cfg *Config, w http.ResponseWriter, status int, v any) (int, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	data = append(data, '\n')

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	securityHeaders(cfg, w)
	w.WriteHeader(status)

	return w.Write(data)
}
