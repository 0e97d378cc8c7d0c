// Package attachment serves raw attachment bytes. When an attachment
// base is configured, the bytes only ever leave through the per-bug
// attachment origin, so hostile HTML inside an attachment cannot script
// against the main origin.
package attachment

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/kmercer/bugtrack-web/internal/attachbase"
	"github.com/kmercer/bugtrack-web/internal/log"
	"github.com/kmercer/bugtrack-web/internal/redirect"
	"github.com/kmercer/bugtrack-web/internal/webreq"
)

// Attachment is one stored file. Persistence lives in an external
// collaborator; this layer only needs the serving metadata.
type Attachment struct {
	ID          int64
	BugID       string
	Filename    string
	ContentType string
	Data        []byte
}

// Store resolves attachment ids.
type Store interface {
	Get(ctx context.Context, id int64) (Attachment, bool)
}

// MemStore is a map-backed Store for tests and single-node tools.
type MemStore map[int64]Attachment

func (m MemStore) Get(_ context.Context, id int64) (Attachment, bool) {
	a, ok := m[id]
	return a, ok
}

type Handler struct {
	Base   *attachbase.Matcher
	Engine *redirect.Engine
	Store  Store
	Logger log.Logger
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ex := webreq.FromContext(ctx)
	if ex == nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	id, err := strconv.ParseInt(ex.Params().First("id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	att, ok := h.Store.Get(ctx, id)
	if !ok {
		http.NotFound(w, r)
		return
	}

	onOrigin := h.Base != nil && h.Base.Matches(r, att.BugID)

	// Raw serving from the attachment origin skips the https upgrade:
	// the origin may be plain-http by design, and the bytes are inert
	// there anyway.
	if d := h.Engine.EnforceBase(ctx, ex, onOrigin); d.Action != redirect.ActionNone {
		_ = ex.Redirect(d.Location, d.Status)
		return
	}

	// A view request on the main origin bounces to the bug's own
	// attachment host before any content is written.
	if h.Base != nil && h.Base.Enabled() && !onOrigin {
		target := strings.TrimSuffix(h.Base.URLFor(att.BugID), "/") + r.URL.RequestURI()
		_ = ex.Redirect(target, http.StatusFound)
		return
	}

	ct := att.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	ex.Header().Set("Content-Type", ct)
	ex.Header().Set("Content-Disposition",
		fmt.Sprintf(`inline; filename="%s"`, webreq.SafeFilename(att.Filename)))
	if _, err := ex.Write(att.Data); err != nil {
		h.Logger.Warn(ctx, "attachment write aborted", "id", id, "error", err.Error())
	}
}
