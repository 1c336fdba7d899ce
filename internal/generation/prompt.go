package generation

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/basket/taskmaster/internal/persistence"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

func loadPrompts() (*template.Template, error) {
	t, err := template.New("prompts").
		Option("missingkey=error").
		Funcs(template.FuncMap{"join": strings.Join}).
		ParseFS(promptFS, "prompts/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse prompts: %w", err)
	}
	return t, nil
}

type systemData struct {
	Statuses []string
	Today    string
}

type userData struct {
	Transcript        string
	ExistingTasksJSON string
}

func (a *Agent) render(transcript string, existing []persistence.Task, now time.Time) (system, user string, err error) {
	statuses := make([]string, len(persistence.TaskStatuses))
	for i, s := range persistence.TaskStatuses {
		statuses[i] = string(s)
	}
	if existing == nil {
		existing = []persistence.Task{}
	}
	existingJSON, err := json.Marshal(existing)
	if err != nil {
		return "", "", fmt.Errorf("encode existing tasks: %w", err)
	}

	var sb strings.Builder
	if err := a.prompts.ExecuteTemplate(&sb, "system.tmpl", systemData{
		Statuses: statuses,
		Today:    now.UTC().Format("2006-01-02"),
	}); err != nil {
		return "", "", fmt.Errorf("render system prompt: %w", err)
	}
	system = sb.String()

	sb.Reset()
	if err := a.prompts.ExecuteTemplate(&sb, "user.tmpl", userData{
		Transcript:        transcript,
		ExistingTasksJSON: string(existingJSON),
	}); err != nil {
		return "", "", fmt.Errorf("render user prompt: %w", err)
	}
	return system, sb.String(), nil
}
