package api

import (
	"net/http"
	"net/mail"
	"strings"

	"tasktrack/pkg/tracker"
)

func (s *Server) handleUserList(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeList(w, "Users retrieved successfully", users, len(users))
}

func (s *Server) handleUserGet(w http.ResponseWriter, r *http.Request) {
	u, err := s.users.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "User retrieved successfully", u)
}

func (s *Server) handleUserCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if !decode(w, r, &req) {
		return
	}
	verr := &tracker.ValidationError{}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		verr.Add("name", "The name is required.")
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		verr.Add("email", "The email must be a valid email address.")
	}
	if len(verr.Fields) > 0 {
		s.writeFailure(w, r, verr)
		return
	}

	u, err := s.users.Register(r.Context(), req.Name, strings.TrimSpace(req.Email))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, "User registered successfully", u)
}
