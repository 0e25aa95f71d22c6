// Package upload implements the file upload endpoint. Uploads are written to
// a local directory under a collision-proof name and served back over HTTP;
// the chat protocol only ever carries the resulting URL, never file bytes.
package upload

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/parley/chat-app/internal/metrics"
)

// MaxFileSize is the upload size cap in bytes.
const MaxFileSize = 10 << 20 // 10 MiB

// Result is the JSON body returned on a successful upload. URL is the path
// clients embed in message file attachments; Filename is the original name
// for display.
type Result struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

// Handler accepts multipart uploads and serves stored files.
type Handler struct {
	dir       string
	urlPrefix string
}

// NewHandler creates an upload handler storing files under dir. The directory
// is created if missing. urlPrefix is the public path files are served from,
// e.g. "/uploads".
func NewHandler(dir, urlPrefix string) (*Handler, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("upload: failed to create directory %s: %w", dir, err)
	}
	return &Handler{dir: dir, urlPrefix: urlPrefix}, nil
}

// ServeHTTP handles POST uploads. Oversized or malformed requests are
// rejected with no file written.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxFileSize)
	if err := r.ParseMultipartForm(MaxFileSize); err != nil {
		metrics.UploadsTotal.WithLabelValues("rejected").Inc()
		http.Error(w, "file too large or malformed upload", http.StatusRequestEntityTooLarge)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("rejected").Inc()
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	stored, err := h.store(file, header)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("rejected").Inc()
		log.Printf("upload: failed to store %q: %v", header.Filename, err)
		http.Error(w, "failed to store file", http.StatusInternalServerError)
		return
	}

	metrics.UploadsTotal.WithLabelValues("ok").Inc()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(Result{
		URL:      h.urlPrefix + "/" + stored,
		Filename: header.Filename,
	})
}

// store writes the upload to disk under a unique name and returns the stored
// file name. The original name contributes only its extension so client input
// never becomes a path component.
func (h *Handler) store(file multipart.File, header *multipart.FileHeader) (string, error) {
	ext := filepath.Ext(header.Filename)
	name := uuid.New().String() + ext

	dst, err := os.Create(filepath.Join(h.dir, name))
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		os.Remove(dst.Name())
		return "", err
	}
	return name, nil
}

// FileServer returns a handler serving stored files at urlPrefix.
func (h *Handler) FileServer() http.Handler {
	return http.StripPrefix(h.urlPrefix+"/", http.FileServer(http.Dir(h.dir)))
}
