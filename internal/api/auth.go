package api

import (
	"errors"
	"net/http"

	"github.com/burugo/linkcheck"
)

type registerRequest struct {
	Email string  `json:"email" validate:"required,email"`
	Name  *string `json:"name" validate:"omitempty,max=255"`
}

type emailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := s.decode(r, &req); err != nil {
		s.handleError(w, r, err, "")
		return
	}
	user, err := s.users.Register(r.Context(), req.Email, req.Name)
	if err != nil {
		s.handleError(w, r, err, "")
		return
	}
	ok(w, http.StatusCreated, "Registration successful", user, false)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := s.decode(r, &req); err != nil {
		s.handleError(w, r, err, "")
		return
	}
	user, err := s.users.Login(r.Context(), req.Email)
	if errors.Is(err, linkcheck.ErrNotFound) {
		fail(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found. Please check your email address.")
		return
	}
	if err != nil {
		s.handleError(w, r, err, "")
		return
	}
	ok(w, http.StatusOK, "Login successful", user, false)
}

func (s *Server) checkEmail(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := s.decode(r, &req); err != nil {
		s.handleError(w, r, err, "")
		return
	}
	exists, err := s.users.CheckEmail(r.Context(), req.Email)
	if err != nil {
		s.handleError(w, r, err, "")
		return
	}
	ok(w, http.StatusOK, "Email check complete", map[string]interface{}{
		"exists": exists,
		"email":  req.Email,
	}, false)
}

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	res, err := s.users.Dashboard(r.Context(), currentUser(r))
	if err != nil {
		s.handleError(w, r, err, "")
		return
	}
	ok(w, http.StatusOK, "Dashboard data retrieved successfully", res.Value, res.Cached)
}
