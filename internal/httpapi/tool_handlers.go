package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"opscloud.us/internal/auth"
)

type executeToolRequest struct {
	Input string `json:"input"`
}

// handleToolScoped dispatches /api/tools/{slug}/execute.
func (a *API) handleToolScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tools/")
	path = strings.Trim(path, "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "execute" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	a.handleExecuteTool(w, r, parts[0])
}

// handleExecuteTool runs a tool for the caller. The execute capability is
// resolved through the grant precedence chain, not a coarse role check, so a
// per-user grant can both widen and narrow access.
func (a *API) handleExecuteTool(w http.ResponseWriter, r *http.Request, slug string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := actor(w, r)
	if !ok {
		return
	}

	ac := auth.FromContext(r.Context())
	allowed, err := ac.CanExecuteTool(r.Context(), slug)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if !allowed {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	var req executeToolRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	execID, err := a.svc.BeginToolExecution(r.Context(), caller.ID, slug, req.Input)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	output, runErr := runTool(slug, req.Input)
	if runErr != nil {
		_ = a.svc.FinishToolExecution(r.Context(), execID, auth.ExecutionFailed, "", runErr.Error())
		a.svc.RecordToolAudit(r.Context(), caller.ID, slug, requestMeta(r))
		writeError(w, r, http.StatusBadRequest, runErr.Error())
		return
	}
	if err := a.svc.FinishToolExecution(r.Context(), execID, auth.ExecutionCompleted, output, ""); err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	a.svc.RecordToolAudit(r.Context(), caller.ID, slug, requestMeta(r))

	writeJSON(w, http.StatusOK, map[string]any{
		"execution_id": execID,
		"output":       json.RawMessage(output),
	})
}

// runTool executes the named tool. Only the JSON analyzer ships today; unknown
// slugs fail the run rather than 404 so the execution record still captures the
// attempt.
func runTool(slug, input string) (string, error) {
	switch slug {
	case "json-analyzer":
		return analyzeJSON(input)
	default:
		return "", errUnknownTool
	}
}

var errUnknownTool = errors.New("unknown tool")

type jsonAnalysis struct {
	Valid     bool   `json:"valid"`
	RootType  string `json:"root_type,omitempty"`
	Keys      int    `json:"keys,omitempty"`
	Elements  int    `json:"elements,omitempty"`
	MaxDepth  int    `json:"max_depth,omitempty"`
	SizeBytes int    `json:"size_bytes"`
	Error     string `json:"error,omitempty"`
}

// analyzeJSON inspects a JSON document and reports its shape. Invalid input is
// a successful analysis with valid=false, not an execution failure.
func analyzeJSON(input string) (string, error) {
	res := jsonAnalysis{SizeBytes: len(input)}

	var v any
	if err := json.Unmarshal([]byte(input), &v); err != nil {
		res.Error = err.Error()
	} else {
		res.Valid = true
		res.RootType = jsonType(v)
		switch t := v.(type) {
		case map[string]any:
			res.Keys = len(t)
		case []any:
			res.Elements = len(t)
		}
		res.MaxDepth = jsonDepth(v)
	}

	out, err := json.Marshal(res)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func jsonType(v any) string {
	switch v.(type) {
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case nil:
		return "null"
	default:
		return "unknown"
	}
}

func jsonDepth(v any) int {
	switch t := v.(type) {
	case map[string]any:
		max := 0
		for _, child := range t {
			if d := jsonDepth(child); d > max {
				max = d
			}
		}
		return max + 1
	case []any:
		max := 0
		for _, child := range t {
			if d := jsonDepth(child); d > max {
				max = d
			}
		}
		return max + 1
	default:
		return 1
	}
}
