package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/basket/taskmaster/internal/persistence"
	"github.com/basket/taskmaster/internal/tasks"
)

const createTaskSchemaJSON = `{
  "type": "object",
  "required": ["title", "description", "status", "priority", "duration_seconds"],
  "properties": {
    "title": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "status": {"enum": ["TODO", "IN_PROGRESS", "COMPLETED", "CANCELLED"]},
    "priority": {"type": "integer", "minimum": 0},
    "duration_seconds": {"type": "integer", "minimum": 0},
    "deadline": {"type": ["string", "null"]},
    "prerequisite_tasks": {"type": ["array", "null"], "items": {"type": "string"}}
  }
}`

var createTaskSchema = mustCompileSchema("create-task.json", createTaskSchemaJSON)

func mustCompileSchema(name, raw string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		panic("gateway: unmarshal " + name + ": " + err.Error())
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		panic("gateway: add " + name + ": " + err.Error())
	}
	return c.MustCompile(name)
}

// schemaMessage keeps the first concrete violation from a validation error.
func schemaMessage(err error) string {
	lines := strings.Split(err.Error(), "\n")
	for _, line := range lines[1:] {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
		if line != "" {
			return "invalid request: " + line
		}
	}
	return "invalid request"
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	data, ok := readBody(w, r)
	if !ok {
		return
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		writeErrorBody(w, http.StatusBadRequest, string(tasks.CodeInvalid), "invalid JSON: "+err.Error())
		return
	}
	if err := createTaskSchema.Validate(doc); err != nil {
		writeErrorBody(w, http.StatusBadRequest, string(tasks.CodeInvalid), schemaMessage(err))
		return
	}
	var in persistence.TaskInput
	if err := json.Unmarshal(data, &in); err != nil {
		writeErrorBody(w, http.StatusBadRequest, string(tasks.CodeInvalid), "invalid task: "+err.Error())
		return
	}

	task, err := s.cfg.Tasks.Create(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// updateTaskRequest names the task by title; every other field is optional.
type updateTaskRequest struct {
	Title string `json:"title"`
	persistence.TaskUpdate
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req updateTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	task, err := s.cfg.Tasks.Update(r.Context(), req.Title, req.TaskUpdate)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type deleteTaskRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req deleteTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	task, err := s.cfg.Tasks.Delete(r.Context(), req.Title)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleGetTasks(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	list, err := s.cfg.Tasks.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGenerateTasks(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req tasks.GenerateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.cfg.Tasks.Generate(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
