package upload

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	h, err := NewHandler(t.TempDir(), "/uploads")
	if err != nil {
		t.Fatalf("NewHandler failed: %v", err)
	}
	return h
}

func multipartBody(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile failed: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("writing part failed: %v", err)
	}
	w.Close()
	return &buf, w.FormDataContentType()
}

func TestUpload(t *testing.T) {
	h := newTestHandler(t)

	body, contentType := multipartBody(t, "cat.png", []byte("pretend this is a png"))
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var result Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("bad response JSON: %v", err)
	}
	if result.Filename != "cat.png" {
		t.Errorf("filename = %q, want cat.png", result.Filename)
	}
	if !strings.HasPrefix(result.URL, "/uploads/") {
		t.Errorf("url = %q, want /uploads/ prefix", result.URL)
	}
	if !strings.HasSuffix(result.URL, ".png") {
		t.Errorf("url = %q, expected original extension kept", result.URL)
	}
	// The stored name must not be the client-supplied one.
	if strings.Contains(result.URL, "cat.png") {
		t.Errorf("url %q reuses the client filename", result.URL)
	}

	// The stored file is servable and round-trips the content.
	serveReq := httptest.NewRequest(http.MethodGet, result.URL, nil)
	serveRec := httptest.NewRecorder()
	h.FileServer().ServeHTTP(serveRec, serveReq)
	if serveRec.Code != http.StatusOK {
		t.Fatalf("file serve status = %d", serveRec.Code)
	}
	got, _ := io.ReadAll(serveRec.Body)
	if string(got) != "pretend this is a png" {
		t.Errorf("served content mismatch: %q", got)
	}
}

func TestUploadDistinctNamesForSameFilename(t *testing.T) {
	h := newTestHandler(t)

	urls := make(map[string]bool)
	for i := 0; i < 2; i++ {
		body, contentType := multipartBody(t, "same.txt", []byte("content"))
		req := httptest.NewRequest(http.MethodPost, "/upload", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		var result Result
		if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
			t.Fatalf("bad response: %v", err)
		}
		if urls[result.URL] {
			t.Fatalf("duplicate stored url %q", result.URL)
		}
		urls[result.URL] = true
	}
}

func TestUploadRejectsOversized(t *testing.T) {
	dir := t.TempDir()
	h, err := NewHandler(dir, "/uploads")
	if err != nil {
		t.Fatalf("NewHandler failed: %v", err)
	}

	body, contentType := multipartBody(t, "big.bin", bytes.Repeat([]byte("x"), MaxFileSize+1))
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}

	// Nothing may be left behind on disk.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("rejected upload left %d files", len(entries))
	}
}

func TestUploadRejectsMissingFile(t *testing.T) {
	h := newTestHandler(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	w.WriteField("note", "no file part")
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestUploadRejectsGet(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/upload", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestStoreStripsClientPath(t *testing.T) {
	h := newTestHandler(t)

	body, contentType := multipartBody(t, "../../etc/passwd", []byte("nope"))
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var result Result
	json.Unmarshal(rec.Body.Bytes(), &result)
	stored := strings.TrimPrefix(result.URL, "/uploads/")
	if strings.Contains(stored, "/") || strings.Contains(stored, "..") {
		t.Errorf("stored name %q contains path components", stored)
	}
	if filepath.Dir(filepath.Join(h.dir, stored)) != filepath.Clean(h.dir) {
		t.Errorf("stored file escapes upload dir: %q", stored)
	}
}
