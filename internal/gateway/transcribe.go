package gateway

import (
	"errors"
	"net/http"

	"github.com/basket/taskmaster/internal/tasks"
	"github.com/basket/taskmaster/internal/transcription"
)

const uploadField = "file"

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if s.cfg.Transcriber == nil {
		writeErrorBody(w, http.StatusServiceUnavailable, string(tasks.CodeUnavailable), "no transcription backend is configured")
		return
	}

	// Anything beyond 8 MiB spills to temp files.
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErrorBody(w, http.StatusRequestEntityTooLarge, "request_too_large", "audio upload is too large")
			return
		}
		writeErrorBody(w, http.StatusBadRequest, string(tasks.CodeInvalid), "expected a multipart form with a file field")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		writeErrorBody(w, http.StatusBadRequest, string(tasks.CodeInvalid), "missing file field")
		return
	}
	defer file.Close()
	if header.Size == 0 {
		writeErrorBody(w, http.StatusBadRequest, string(tasks.CodeInvalid), "uploaded file is empty")
		return
	}
	if header.Size > s.cfg.MaxUploadBytes {
		writeErrorBody(w, http.StatusRequestEntityTooLarge, "request_too_large", "audio upload is too large")
		return
	}

	res, err := s.cfg.Transcriber.Transcribe(r.Context(), header.Filename, file)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, transcription.ErrInvalidAudio):
		writeErrorBody(w, http.StatusBadRequest, string(tasks.CodeInvalid), err.Error())
	case errors.Is(err, transcription.ErrUnavailable):
		writeErrorBody(w, http.StatusServiceUnavailable, string(tasks.CodeUnavailable), err.Error())
	default:
		s.logger.ErrorContext(r.Context(), "transcription failed",
			"backend", s.cfg.Transcriber.Name(), "filename", header.Filename, "error", err)
		writeErrorBody(w, http.StatusInternalServerError, string(tasks.CodeInternal), "transcription failed")
	}
}
