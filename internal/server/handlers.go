package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"

	"github.com/ivlev/slideshow/internal/engine"
	"github.com/ivlev/slideshow/internal/export"
	"github.com/ivlev/slideshow/internal/logger"
	"github.com/ivlev/slideshow/internal/playback"
	"github.com/ivlev/slideshow/internal/source"
)

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

// handleAddImages accepts one or more "images" parts. PDFs expand to one
// image per page; other non-image parts are rejected.
func (s *Server) handleAddImages(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse upload: %w", err))
		return
	}
	headers := r.MultipartForm.File["images"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("no images in upload"))
		return
	}

	var files []source.File
	for _, fh := range headers {
		f, err := readPart(fh)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		switch {
		case source.IsPDF(f.Name):
			pages, err := source.PDFPages(f, pdfDPI)
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			files = append(files, pages...)
		case source.IsImage(f.Name):
			files = append(files, f)
		default:
			writeError(w, http.StatusBadRequest, fmt.Errorf("%s is not an image", f.Name))
			return
		}
	}

	writeJSON(w, http.StatusCreated, s.ctrl.AddImages(files))
}

func (s *Server) handleRemoveImage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	err := s.ctrl.RemoveImage(id)
	switch {
	case errors.Is(err, engine.ErrUnknownImage):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, engine.ErrBusy):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleSetAudio(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse upload: %w", err))
		return
	}
	headers := r.MultipartForm.File["audio"]
	if len(headers) != 1 {
		writeError(w, http.StatusBadRequest, errors.New("expected exactly one audio file"))
		return
	}
	f, err := readPart(headers[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !source.IsAudio(f.Name) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%s is not an audio file", f.Name))
		return
	}

	info, err := s.ctrl.SetAudio(f)
	switch {
	case errors.Is(err, engine.ErrBusy):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, info)
	}
}

func (s *Server) handleSetTransition(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Transition string `json:"transition"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if err := s.ctrl.SetTransition(req.Transition); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	s.playback(w, s.ctrl.Play())
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	s.playback(w, s.ctrl.TogglePlay())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Pause()
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) playback(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrBusy),
		errors.Is(err, playback.ErrNotRenderable),
		errors.Is(err, playback.ErrNoAudio):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
	}
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	job, err := s.ctrl.Export()
	switch {
	case errors.Is(err, export.ErrPrecondition):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		// The job already moved to failed; clients see it in the state too.
		writeJSON(w, http.StatusInternalServerError, job)
	default:
		writeJSON(w, http.StatusAccepted, job)
	}
}

// handleArtifact serves finished exports and their QR codes from the output
// directory. Only plain file names are accepted.
func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		http.NotFound(w, r)
		return
	}
	path := filepath.Join(s.cfg.OutputDir, name)
	if _, err := os.Stat(path); err != nil {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, path)
}

func readPart(fh *multipart.FileHeader) (source.File, error) {
	f, err := fh.Open()
	if err != nil {
		return source.File{}, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return source.File{}, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	logger.Debug("upload received", logger.String("name", fh.Filename), logger.Int("bytes", len(data)))
	return source.File{Name: filepath.Base(fh.Filename), Data: data}, nil
}
