package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/basket/taskmaster/internal/tasks"
)

// errorBody is the shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorBody(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

// writeError renders a service error. Anything that is not a *tasks.Error
// is logged and hidden behind a generic 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var te *tasks.Error
	if errors.As(err, &te) {
		writeErrorBody(w, te.Code.HTTPStatus(), string(te.Code), te.Error())
		return
	}
	s.logger.ErrorContext(r.Context(), "unhandled request error", "error", err)
	writeErrorBody(w, http.StatusInternalServerError, string(tasks.CodeInternal), "internal error")
}

func allowMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	for _, m := range methods {
		w.Header().Add("Allow", m)
	}
	writeErrorBody(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	return false
}

// readBody reads the (size limited) body, writing the error response itself
// when it fails.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErrorBody(w, http.StatusRequestEntityTooLarge, "request_too_large",
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return nil, false
		}
		writeErrorBody(w, http.StatusBadRequest, string(tasks.CodeInvalid), "could not read request body")
		return nil, false
	}
	if len(data) == 0 {
		writeErrorBody(w, http.StatusBadRequest, string(tasks.CodeInvalid), "request body is required")
		return nil, false
	}
	return data, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	data, ok := readBody(w, r)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		writeErrorBody(w, http.StatusBadRequest, string(tasks.CodeInvalid), "invalid JSON: "+err.Error())
		return false
	}
	return true
}
