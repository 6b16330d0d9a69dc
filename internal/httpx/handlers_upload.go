package httpx

import (
	"fmt"
	"net/http"
)

var uploadBuckets = map[string]bool{"items": true, "claims": true}

// POST /upload（multipart：file、bucket、prefix）→ {"url": ...}
func HandleUpload(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if app.Market.Blob == nil {
			http.Error(w, "uploads are not configured", http.StatusServiceUnavailable)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, 20<<20) // 20MB
		if err := r.ParseMultipartForm(25 << 20); err != nil {
			writeError(w, fmt.Errorf("%w: parse form: %v", errBadRequest, err))
			return
		}
		bucket := r.FormValue("bucket")
		if bucket == "" {
			bucket = "items"
		}
		if !uploadBuckets[bucket] {
			writeError(w, fmt.Errorf("%w: unknown bucket %q", errBadRequest, bucket))
			return
		}
		file, hdr, err := r.FormFile("file")
		if err != nil {
			writeError(w, fmt.Errorf("%w: form file: %v", errBadRequest, err))
			return
		}
		defer file.Close()

		u, err := app.Market.Blob.Upload(r.Context(), bucket, r.FormValue("prefix"), hdr.Filename, file)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"url": u})
	}
}
