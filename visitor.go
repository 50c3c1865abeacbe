/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	"github.com/Seednode/valentines/valentine"
)

const (
	visitorCookieName = "valentines_visitor"
	visitorCookieAge  = 365 * 24 * time.Hour
)

// cookieIdentity keeps the visitor id in a long-lived browser cookie.
type cookieIdentity struct {
	cfg *Config
	w   http.ResponseWriter
	r   *http.Request
}

func (c cookieIdentity) Load() (string, error) {
	cookie, err := c.r.Cookie(visitorCookieName)
	if err != nil || cookie.Value == "" {
		return "", valentine.ErrNoIdentity
	}

	// Anything that isn't one of ours gets replaced.
	if _, err := uuid.Parse(cookie.Value); err != nil {
		return "", valentine.ErrNoIdentity
	}

	return cookie.Value, nil
}

func (c cookieIdentity) Save(id string) error {
	http.SetCookie(c.w, c.cookie(id, int(visitorCookieAge.Seconds())))

	// Later lookups within this request see the new id too.
	c.r.AddCookie(&http.Cookie{Name: visitorCookieName, Value: id})

	return nil
}

func (c cookieIdentity) Remove() error {
	http.SetCookie(c.w, c.cookie("", -1))

	return nil
}

func (c cookieIdentity) cookie(value string, maxAge int) *http.Cookie {
	path := c.cfg.prefix + "/"

	return &http.Cookie{
		Name:     visitorCookieName,
		Value:    value,
		Path:     path,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.cfg.cookieSecure || c.cfg.scheme() == "https",
		SameSite: http.SameSiteLaxMode,
	}
}

func visitorIdentity(cfg *Config, w http.ResponseWriter, r *http.Request) *valentine.Identity {
	return valentine.NewIdentity(cookieIdentity{cfg: cfg, w: w, r: r})
}

func getOrSetVisitorID(cfg *Config, w http.ResponseWriter, r *http.Request) string {
	return visitorIdentity(cfg, w, r).VisitorID()
}

func serveClearVisitor(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if err := visitorIdentity(cfg, w, r).Clear(); err != nil {
			writeError(cfg, w, r, err)
			return
		}

		securityHeaders(cfg, w)
		w.WriteHeader(http.StatusNoContent)

		cfg.log.Info().Str("remote", realIP(r)).Msg("visitor identity cleared")
	}
}
