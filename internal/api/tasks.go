package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"tasktrack/pkg/task"
	"tasktrack/pkg/tracker"
)

func (s *Server) handleTaskList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := task.Filter{
		Status:     task.Status(q.Get("status")),
		AssigneeID: q.Get("assigned_to"),
		Limit:      queryInt(r, "limit", 50),
	}
	verr := &tracker.ValidationError{}
	f.DueFrom = queryDate(verr, q.Get("due_date_from"), "due_date_from")
	f.DueTo = queryDate(verr, q.Get("due_date_to"), "due_date_to")
	if len(verr.Fields) > 0 {
		s.writeFailure(w, r, verr)
		return
	}

	views, err := s.svc.List(r.Context(), f)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeList(w, "Tasks retrieved successfully", views, len(views))
}

func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request) {
	v, err := s.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "Task retrieved successfully", v)
}

func (s *Server) handleTaskCreate(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		AssigneeID  string `json:"assigned_to"`
		DueDate     string `json:"due_date"`
	}
	if !decode(w, r, &req) {
		return
	}
	verr := &tracker.ValidationError{}
	due := queryDate(verr, req.DueDate, "due_date")
	if len(verr.Fields) > 0 {
		s.writeFailure(w, r, verr)
		return
	}

	v, err := s.svc.Create(r.Context(), tracker.NewTask{
		Title:       req.Title,
		Description: req.Description,
		AssigneeID:  req.AssigneeID,
		DueDate:     due,
	}, actor)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, "Task created successfully", v)
}

func (s *Server) handleTaskUpdate(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	var raw map[string]json.RawMessage
	if !decode(w, r, &raw) {
		return
	}
	p, err := decodePatch(raw)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	v, err := s.svc.Update(r.Context(), r.PathValue("id"), p, actor)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "Task updated successfully", v)
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	var req struct {
		Status task.Status `json:"status"`
	}
	if !decode(w, r, &req) {
		return
	}
	v, err := s.svc.UpdateStatus(r.Context(), r.PathValue("id"), req.Status, actor)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "Task status updated successfully", v)
}

func (s *Server) handleTaskDelete(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	if err := s.svc.Delete(r.Context(), r.PathValue("id"), actor); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "Task deleted successfully", nil)
}

func (s *Server) handleDependencyAttach(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	var req struct {
		DependsOn string `json:"depends_on_task_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	v, err := s.svc.AttachDependency(r.Context(), r.PathValue("id"), req.DependsOn, actor)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "Task dependency added successfully", v)
}

func (s *Server) handleDependencyDetach(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	v, err := s.svc.DetachDependency(r.Context(), r.PathValue("id"), r.PathValue("dependsOn"), actor)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "Task dependency removed successfully", v)
}

func (s *Server) handleDependents(w http.ResponseWriter, r *http.Request) {
	deps, err := s.svc.Dependents(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeList(w, "Dependent tasks retrieved successfully", deps, len(deps))
}

// decodePatch turns a partial JSON object into a task.Patch. An explicit
// null due_date clears it.
func decodePatch(raw map[string]json.RawMessage) (task.Patch, error) {
	var p task.Patch
	verr := &tracker.ValidationError{}
	str := func(key string) *string {
		v, ok := raw[key]
		if !ok {
			return nil
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			verr.Add(key, "The "+key+" must be a string.")
			return nil
		}
		return &s
	}

	p.Title = str("title")
	p.Description = str("description")
	p.AssigneeID = str("assigned_to")
	if st := str("status"); st != nil {
		status := task.Status(*st)
		p.Status = &status
	}
	if v, ok := raw["due_date"]; ok {
		if string(v) == "null" {
			p.ClearDue = true
		} else if d := str("due_date"); d != nil {
			p.DueDate = queryDate(verr, *d, "due_date")
		}
	}
	if len(verr.Fields) > 0 {
		return p, verr
	}
	return p, nil
}

// queryDate parses a date given as YYYY-MM-DD or RFC 3339. Empty input is
// nil; unparseable input is recorded against field.
func queryDate(verr *tracker.ValidationError, v, field string) *time.Time {
	if v == "" {
		return nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t
		}
	}
	verr.Add(field, "The "+field+" is not a valid date.")
	return nil
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
