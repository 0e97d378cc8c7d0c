// Package buglist serves the search-results endpoint. The search itself
// runs in an external collaborator; this handler owns the mediation
// work around it: base enforcement, URL canonicalization, conditional
// responses, and export headers.
package buglist

import (
	"fmt"
	"hash/fnv"
	"html"
	"net/http"
	"strconv"
	"time"

	"github.com/kmercer/bugtrack-web/internal/etag"
	"github.com/kmercer/bugtrack-web/internal/log"
	"github.com/kmercer/bugtrack-web/internal/redirect"
	"github.com/kmercer/bugtrack-web/internal/searchhist"
	"github.com/kmercer/bugtrack-web/internal/session"
	"github.com/kmercer/bugtrack-web/internal/webreq"
)

type Handler struct {
	Engine *redirect.Engine
	Store  *searchhist.Memory
	Auth   session.Authorizer
	Logger log.Logger

	// OnETagHit, when set, observes conditional-request short circuits.
	OnETagHit func()
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ex := webreq.FromContext(ctx)
	if ex == nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	if d := h.Engine.EnforceBase(ctx, ex, false); d.Action != redirect.ActionNone {
		_ = ex.Redirect(d.Location, d.Status)
		return
	}

	d, err := h.Engine.CanonicalizeSearch(ctx, ex)
	if err != nil {
		h.Logger.Error(ctx, err, "canonicalize search")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if d.Action != redirect.ActionNone {
		_ = ex.Redirect(d.Location, d.Status)
		return
	}

	p := ex.Params()
	userID := h.Auth.UserID(ctx)

	// The validator covers the canonical query and the viewer, since the
	// same query renders differently per user.
	tag := h.validator(p.Canonicalize(), userID)
	ex.Header().Set("ETag", `"`+tag+`"`)
	if etag.Match(tag, r.Header.Get("If-None-Match")) {
		if h.OnETagHit != nil {
			h.OnETagHit()
		}
		_ = ex.WriteHeaders(http.StatusNotModified)
		return
	}

	if p.First("ctype") == "csv" {
		h.renderCSV(ex)
		return
	}
	h.renderHTML(ex, userID)
}

func (h *Handler) validator(canonical string, userID int64) string {
	sum := fnv.New64a()
	fmt.Fprintf(sum, "%d\x00%s", userID, canonical)
	return strconv.FormatUint(sum.Sum64(), 16)
}

func (h *Handler) renderCSV(ex *webreq.Exchange) {
	p := ex.Params()
	ex.Header().Set("Content-Type", "text/csv")
	ex.Header().Set("Content-Disposition",
		webreq.ContentDisposition("attachment", "bugs", "csv", time.Now()))

	fmt.Fprintln(ex, "field,value")
	for _, name := range p.Names() {
		for _, v := range p.All(name) {
			fmt.Fprintf(ex, "%s,%s\n", name, v)
		}
	}
}

func (h *Handler) renderHTML(ex *webreq.Exchange, userID int64) {
	p := ex.Params()
	ex.Header().Set("Content-Type", "text/html; charset=UTF-8")

	var entry searchhist.Entry
	if userID != 0 && p.Has("list_id") {
		if id, err := strconv.ParseInt(p.First("list_id"), 10, 64); err == nil {
			entry, _ = h.Store.Get(userID, id)
		}
	}

	fmt.Fprintln(ex, "<!DOCTYPE html>")
	fmt.Fprintln(ex, "<title>Bug List</title>")
	if entry.ListID != 0 {
		fmt.Fprintf(ex, "<p>List %d: %s</p>\n", entry.ListID, html.EscapeString(entry.Query))
	}
	fmt.Fprintf(ex, "<p>%d search parameters</p>\n", p.Len())
}
