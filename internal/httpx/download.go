package httpx

import (
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/haukened/vanish/internal/app"
)

// accessFrom collects the credentials a downloader presented. The password
// comes from X-Vanish-Password or, failing that, HTTP Basic auth.
func accessFrom(r *http.Request) app.Access {
	a := app.Access{
		Password: r.Header.Get(HeaderPassword),
		OTP:      r.Header.Get(HeaderOTP),
		Addr:     clientAddr(r),
	}
	if a.Password == "" {
		if _, pw, ok := r.BasicAuth(); ok {
			a.Password = pw
		}
	}
	return a
}

// handleDownload implements GET /{token}. A successful response consumes
// one download; the bytes are streamed straight from the blob store.
func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dl, err := h.Service.ResolveShare(ctx, chi.URLParam(r, "token"), accessFrom(r))
	if err != nil {
		h.mapServiceError(ctx, w, err)
		return
	}
	defer dl.Close()

	hdr := w.Header()
	ct := dl.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	hdr.Set("Content-Type", ct)
	hdr.Set("Content-Length", strconv.FormatInt(dl.Size, 10))
	hdr.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": dl.Filename}))
	hdr.Set(HeaderChecksum, dl.Checksum)
	hdr.Set(HeaderRemaining, strconv.Itoa(dl.Remaining))
	w.WriteHeader(http.StatusOK)
	if n, err := io.CopyN(w, dl, dl.Size); err != nil {
		cid, _ := GetCorrelationID(ctx)
		h.logger().Warn("download interrupted", "domain", "http", "cid", cid, "written", n, "error", err)
	}
}
