package server

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/santiagosayshey/OMesh/internal/utils/log"
)

const maxUploadBytes = 10 << 20 // 10 MiB

// serveFiles runs the HTTP file-transfer surface: multipart uploads and
// plain downloads. It is deliberately outside the protocol core; chat
// messages carry file URLs, never file bytes.
func (s *Server) serveFiles() error {
	dir := filepath.Join(s.cfg.DataDir, "files")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/upload", s.handleFileUpload(dir)).Methods(http.MethodPost)
	r.HandleFunc("/files/{filename}", s.handleFileDownload(dir)).Methods(http.MethodGet)

	addr := fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.HTTPPort)
	log.Info("file server listening", zap.String("addr", addr))
	return http.ListenAndServe(addr, r)
}

func (s *Server) handleFileUpload(dir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "no file field in request", http.StatusBadRequest)
			return
		}
		defer file.Close()

		name := filepath.Base(header.Filename)
		if name == "." || name == string(filepath.Separator) {
			http.Error(w, "bad filename", http.StatusBadRequest)
			return
		}

		dst, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			http.Error(w, "cannot store file", http.StatusInternalServerError)
			return
		}
		defer dst.Close()

		if _, err := io.Copy(dst, file); err != nil {
			os.Remove(dst.Name())
			http.Error(w, "upload too large or interrupted", http.StatusRequestEntityTooLarge)
			return
		}

		fileURL := fmt.Sprintf("http://%s:%d/files/%s", s.cfg.Address, s.cfg.HTTPPort, name)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"file_url":%q}`, fileURL)
	}
}

func (s *Server) handleFileDownload(dir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := filepath.Base(mux.Vars(r)["filename"])
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, path)
	}
}
