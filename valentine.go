/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Valentines
//
// A sender picks a character pairing, names both people and optionally adds
// a note, then shares the link. Whoever opens the link first (and is not the
// sender) becomes the receiver and gets to answer; everyone watching the
// card sees the answer arrive live.
//
// Routes:
//   - POST $prefix/api/valentines             → create, returns id and share link
//   - GET  $prefix/api/valentines/:id         → current record and the caller's role
//   - POST $prefix/api/valentines/:id/choice  → receiver's answer
//   - GET  $prefix/api/valentines/:id/ws      → live snapshots over a websocket
//   - GET  $prefix/api/count(/ws)             → display counter, optionally live
//   - DELETE $prefix/api/visitor              → forget this browser's identity
//   - GET  $prefix/v/:id                      → card page
//   - GET  $prefix/v/:id/qr                   → PNG QR code of the share link

package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"

	"github.com/Seednode/valentines/valentine"
)

const maxRequestBody = 4 << 10

// valentineJSON is the public shape of a record. Visitor ids never leave
// the server.
type valentineJSON struct {
	ID             string     `json:"id"`
	SenderName     string     `json:"sender_name"`
	ReceiverName   string     `json:"receiver_name"`
	CharacterType  string     `json:"character_type"`
	LoveNote       *string    `json:"love_note"`
	SenderChoice   string     `json:"sender_choice"`
	ReceiverChoice *string    `json:"receiver_choice"`
	Status         string     `json:"status"`
	Claimed        bool       `json:"claimed"`
	CreatedAt      time.Time  `json:"created_at"`
	OpenedAt       *time.Time `json:"opened_at"`
	CompletedAt    *time.Time `json:"completed_at"`
}

func publicValentine(rec valentine.Record) valentineJSON {
	out := valentineJSON{
		ID:            rec.ID,
		SenderName:    rec.SenderName,
		ReceiverName:  rec.ReceiverName,
		CharacterType: string(rec.CharacterType),
		LoveNote:      rec.LoveNote,
		SenderChoice:  string(rec.SenderChoice),
		Status:        string(rec.Status),
		Claimed:       rec.Claimed(),
		CreatedAt:     rec.CreatedAt,
		OpenedAt:      rec.OpenedAt,
		CompletedAt:   rec.CompletedAt,
	}
	if rec.ReceiverChoice != nil {
		c := string(*rec.ReceiverChoice)
		out.ReceiverChoice = &c
	}
	return out
}

type viewResponse struct {
	Valentine valentineJSON  `json:"valentine"`
	Role      valentine.Role `json:"role"`
}

// Messages coming from clients
type createRequest struct {
	SenderName    string `json:"sender_name"`
	ReceiverName  string `json:"receiver_name"`
	CharacterType string `json:"character_type"`
	LoveNote      string `json:"love_note"`
}

type createResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type ClientMessage struct {
	Type   string `json:"type"`             // "choice"
	Choice string `json:"choice,omitempty"` // "YES" or "NO"
}

// Messages sent to clients
type countResponse struct {
	Count   int64 `json:"count"`
	Display int64 `json:"display"`
}

// SnapshotMessage replaces whatever the client currently shows.
type SnapshotMessage struct {
	Type      string         `json:"type"` // "snapshot"
	Valentine valentineJSON  `json:"valentine"`
	Role      valentine.Role `json:"role"`
}

// CountMessage carries the display counter after someone sends a valentine.
type CountMessage struct {
	Type    string `json:"type"` // "count"
	Count   int64  `json:"count"`
	Display int64  `json:"display"`
}

// SimpleMessage is for notifications to a single client ("error", "resync").
type SimpleMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		return &valentine.ValidationError{Field: "body", Reason: "malformed json"}
	}
	return nil
}

// shareURL is the link the sender hands out: <origin>/v/<id>.
func shareURL(cfg *Config, r *http.Request, id string) string {
	origin := cfg.publicURL
	if origin == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		switch proto := strings.ToLower(r.Header.Get("X-Forwarded-Proto")); proto {
		case "http", "https":
			scheme = proto
		}
		origin = scheme + "://" + r.Host
	}

	for len(origin) > 0 && origin[len(origin)-1] == '/' {
		origin = origin[:len(origin)-1]
	}

	return origin + cfg.prefix + "/v/" + id
}

func serveCreate(cfg *Config, svc *valentine.Service, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		var req createRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(cfg, w, r, err)
			return
		}

		visitorID := getOrSetVisitorID(cfg, w, r)

		rec, err := svc.Create(r.Context(), visitorID, valentine.Draft{
			SenderName:   req.SenderName,
			ReceiverName: req.ReceiverName,
			Character:    req.CharacterType,
			LoveNote:     req.LoveNote,
		})
		if err != nil {
			writeError(cfg, w, r, err)
			return
		}

		written, err := writeJSON(cfg, w, http.StatusCreated, createResponse{
			ID:  rec.ID,
			URL: shareURL(cfg, r, rec.ID),
		})
		if err != nil {
			errs <- err

			return
		}

		logServed(cfg, r, "create", written, startTime)
	}
}

func serveOpen(cfg *Config, svc *valentine.Service, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		startTime := time.Now()

		visitorID := getOrSetVisitorID(cfg, w, r)

		view, err := svc.Open(r.Context(), ps.ByName("id"), visitorID)
		if err != nil {
			writeError(cfg, w, r, err)
			return
		}

		written, err := writeJSON(cfg, w, http.StatusOK, viewResponse{
			Valentine: publicValentine(view.Record),
			Role:      view.Role,
		})
		if err != nil {
			errs <- err

			return
		}

		logServed(cfg, r, "valentine", written, startTime)
	}
}

func serveChoice(cfg *Config, svc *valentine.Service, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		startTime := time.Now()

		var req ClientMessage
		if err := decodeJSON(r, &req); err != nil {
			writeError(cfg, w, r, err)
			return
		}

		choice, err := valentine.ParseChoice(req.Choice)
		if err != nil {
			writeError(cfg, w, r, err)
			return
		}

		visitorID := getOrSetVisitorID(cfg, w, r)

		view, err := svc.SubmitChoice(r.Context(), ps.ByName("id"), visitorID, choice)
		if err != nil {
			writeError(cfg, w, r, err)
			return
		}

		written, err := writeJSON(cfg, w, http.StatusOK, viewResponse{
			Valentine: publicValentine(view.Record),
			Role:      view.Role,
		})
		if err != nil {
			errs <- err

			return
		}

		logServed(cfg, r, "choice", written, startTime)
	}
}

func serveCount(cfg *Config, svc *valentine.Service, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		n, err := svc.Count(r.Context())
		if err != nil {
			writeError(cfg, w, r, err)
			return
		}

		written, err := writeJSON(cfg, w, http.StatusOK, countResponse{
			Count:   n,
			Display: n + cfg.counterOffset,
		})
		if err != nil {
			errs <- err

			return
		}

		logServed(cfg, r, "count", written, startTime)
	}
}

type Client struct {
	conn      *websocket.Conn
	send      chan any
	visitorID string

	mu     sync.Mutex
	closed bool
}

func newClient(conn *websocket.Conn, visitorID string, buffer int) *Client {
	return &Client{
		conn:      conn,
		send:      make(chan any, buffer),
		visitorID: visitorID,
	}
}

// deliver queues msg, dropping the client if it cannot keep up.
func (c *Client) deliver(msg any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- msg:
		return true
	default:
		c.closed = true
		close(c.send)
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// serveFeed opens the card the same way GET does, then keeps the socket
// fed with every later snapshot until the client goes away.
func serveFeed(cfg *Config, svc *valentine.Service) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		id := ps.ByName("id")
		visitorID := getOrSetVisitorID(cfg, w, r)

		// Subscribe before reading so no write lands between the two unseen.
		sub := svc.Watch(id)

		view, err := svc.Open(r.Context(), id, visitorID)
		if err != nil {
			sub.Cancel()
			writeError(cfg, w, r, err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, w.Header())
		if err != nil {
			sub.Cancel()
			cfg.log.Warn().Err(err).Str("id", id).Msg("websocket upgrade failed")
			return
		}

		client := newClient(conn, visitorID, cfg.feedBuffer)
		client.deliver(SnapshotMessage{
			Type:      "snapshot",
			Valentine: publicValentine(view.Record),
			Role:      view.Role,
		})

		cfg.log.Info().Str("id", id).Str("visitor", visitorID).Str("role", string(view.Role)).Msg("viewer connected")

		go client.writePump()
		go client.forward(sub, view.Record.Status)
		client.readPump(cfg, svc, sub)

		cfg.log.Info().Str("id", id).Str("visitor", visitorID).Msg("viewer disconnected")
	}
}

// forward turns feed snapshots into socket messages. It never lets the
// status shown to this client move backwards, even against its own
// initial read.
func (c *Client) forward(sub *valentine.Subscription, shown valentine.Status) {
	defer c.close()

	for rec := range sub.C() {
		if rec.Status.Before(shown) {
			continue
		}
		shown = rec.Status

		if !c.deliver(SnapshotMessage{
			Type:      "snapshot",
			Valentine: publicValentine(rec),
			Role:      valentine.ResolveRole(rec, c.visitorID),
		}) {
			sub.Cancel()
			return
		}
	}

	c.deliver(SimpleMessage{
		Type:    "resync",
		Message: "Live updates stopped; reload to catch up.",
	})
}

func (c *Client) readPump(cfg *Config, svc *valentine.Service, sub *valentine.Subscription) {
	defer func() {
		sub.Cancel()
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "choice":
			c.handleChoice(cfg, svc, sub.ID(), msg)
		default:
			// ignore unknown types
		}
	}
}

// handleChoice answers over the socket; the resulting snapshot arrives
// through the feed like everyone else's, so only failures are sent back.
func (c *Client) handleChoice(cfg *Config, svc *valentine.Service, id string, msg ClientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	choice, err := valentine.ParseChoice(msg.Choice)
	if err == nil {
		_, err = svc.SubmitChoice(ctx, id, c.visitorID, choice)
	}
	if err == nil {
		return
	}

	_, code := errorStatus(err)
	text := err.Error()
	if errors.Is(err, context.DeadlineExceeded) || valentine.IsRetryable(err) {
		text = "Something went wrong. Please try again."
	}

	cfg.log.Info().Err(err).Str("id", id).Str("visitor", c.visitorID).Msg("choice rejected")

	c.deliver(SimpleMessage{
		Type:    "error",
		Code:    code,
		Message: text,
	})
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}

	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

// serveCountFeed pushes the display counter every time a valentine is sent.
func serveCountFeed(cfg *Config, svc *valentine.Service) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		// Subscribe before counting so a create in between is still pushed.
		sub := svc.WatchCount()

		n, err := svc.Count(r.Context())
		if err != nil {
			sub.Cancel()
			writeError(cfg, w, r, err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			sub.Cancel()
			cfg.log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		client := newClient(conn, "", cfg.feedBuffer)
		client.deliver(CountMessage{Type: "count", Count: n, Display: n + cfg.counterOffset})

		go client.writePump()
		go func() {
			defer client.close()

			for total := range sub.C() {
				if !client.deliver(CountMessage{Type: "count", Count: total, Display: total + cfg.counterOffset}) {
					sub.Cancel()
					return
				}
			}
		}()

		// Nothing is expected from the client; reading only notices it leaving.
		defer func() {
			sub.Cancel()
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}
}

// serveQR renders the share link for a card as a PNG.
func serveQR(cfg *Config, svc *valentine.Service, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		startTime := time.Now()

		rec, err := svc.Fetch(r.Context(), ps.ByName("id"))
		if err != nil {
			writeError(cfg, w, r, err)
			return
		}

		const qrSize = 320 // mobile-friendly size
		png, err := qrcode.Encode(shareURL(cfg, r, rec.ID), qrcode.Medium, qrSize)
		if err != nil {
			writeError(cfg, w, r, err)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		securityHeaders(cfg, w)

		written, err := w.Write(png)
		if err != nil {
			errs <- err

			return
		}

		logServed(cfg, r, "qr", written, startTime)
	}
}

// registerValentines sets up the card pages and the API behind them.
func registerValentines(cfg *Config, svc *valentine.Service, mux *httprouter.Router, errs chan<- error) {
	mux.GET(cfg.prefix+"/v/:id", serveCardPage(cfg, errs))
	mux.GET(cfg.prefix+"/v/:id/qr", serveQR(cfg, svc, errs))

	mux.POST(cfg.prefix+"/api/valentines", serveCreate(cfg, svc, errs))
	mux.GET(cfg.prefix+"/api/valentines/:id", serveOpen(cfg, svc, errs))
	mux.POST(cfg.prefix+"/api/valentines/:id/choice", serveChoice(cfg, svc, errs))
	mux.GET(cfg.prefix+"/api/valentines/:id/ws", serveFeed(cfg, svc))

	mux.GET(cfg.prefix+"/api/count", serveCount(cfg, svc, errs))
	mux.GET(cfg.prefix+"/api/count/ws", serveCountFeed(cfg, svc))

	mux.DELETE(cfg.prefix+"/api/visitor", serveClearVisitor(cfg))
}
