package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/burugo/linkcheck"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

const linkNotFound = "Link not found"

type createLinkRequest struct {
	URL   string  `json:"url" validate:"required,url,max=2048"`
	Title *string `json:"title" validate:"omitempty,max=500"`
}

type updateLinkRequest struct {
	Title *string `json:"title" validate:"omitempty,max=500"`
}

type claimRequest struct {
	Claim       string   `json:"claim" validate:"required"`
	Verdict     string   `json:"verdict" validate:"required,oneof=verified false unverified partially_true"`
	Sources     []string `json:"sources" validate:"dive,required"`
	Explanation *string  `json:"explanation"`
}

type verificationRequest struct {
	CredibilityScore *float64       `json:"credibility_score" validate:"omitempty,gte=0,lte=100"`
	Claims           []claimRequest `json:"claims" validate:"dive"`
	SourcesChecked   []string       `json:"sources_checked" validate:"dive,required"`
	Summary          *string        `json:"summary"`
}

func (s *Server) listLinks(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r, currentUser(r).ID)
	if err != nil {
		s.handleError(w, r, err, "")
		return
	}
	res, err := s.links.ListLinks(r.Context(), q)
	if err != nil {
		s.handleError(w, r, err, "")
		return
	}
	ok(w, http.StatusOK, fmt.Sprintf("Retrieved %d links", len(res.Value.Items)), res.Value, res.Cached)
}

func (s *Server) createLink(w http.ResponseWriter, r *http.Request) {
	var req createLinkRequest
	if err := s.decode(r, &req); err != nil {
		s.handleError(w, r, err, "")
		return
	}
	link, err := s.links.CreateLink(r.Context(), currentUser(r).ID, linkcheck.LinkCreate{URL: req.URL, Title: req.Title})
	if err != nil {
		s.handleError(w, r, err, "")
		return
	}
	ok(w, http.StatusCreated, "Link created successfully. Processing will begin shortly.", linkcheck.NewLinkView(link), false)
}

func (s *Server) linkStats(w http.ResponseWriter, r *http.Request) {
	res, err := s.links.Stats(r.Context(), currentUser(r).ID)
	if err != nil {
		s.handleError(w, r, err, "")
		return
	}
	ok(w, http.StatusOK, "Statistics retrieved successfully", res.Value, res.Cached)
}

func (s *Server) getLink(w http.ResponseWriter, r *http.Request) {
	id, err := linkID(r)
	if err != nil {
		s.handleError(w, r, err, linkNotFound)
		return
	}
	res, err := s.links.GetLink(r.Context(), id, currentUser(r).ID)
	if err != nil {
		s.handleError(w, r, err, linkNotFound)
		return
	}
	if res.Value == nil {
		fail(w, http.StatusNotFound, "NOT_FOUND", linkNotFound)
		return
	}
	ok(w, http.StatusOK, "Link details retrieved", res.Value, res.Cached)
}

func (s *Server) updateLink(w http.ResponseWriter, r *http.Request) {
	id, err := linkID(r)
	if err != nil {
		s.handleError(w, r, err, linkNotFound)
		return
	}
	var req updateLinkRequest
	if err := s.decode(r, &req); err != nil {
		s.handleError(w, r, err, "")
		return
	}
	link, err := s.links.UpdateLink(r.Context(), id, currentUser(r).ID, linkcheck.LinkUpdate{Title: req.Title})
	if err != nil {
		s.handleError(w, r, err, linkNotFound)
		return
	}
	ok(w, http.StatusOK, "Link updated successfully", linkcheck.NewLinkView(link), false)
}

func (s *Server) deleteLink(w http.ResponseWriter, r *http.Request) {
	id, err := linkID(r)
	if err != nil {
		s.handleError(w, r, err, linkNotFound)
		return
	}
	if err := s.links.DeleteLink(r.Context(), id, currentUser(r).ID); err != nil {
		s.handleError(w, r, err, linkNotFound)
		return
	}
	ok(w, http.StatusOK, "Link deleted successfully", nil, false)
}

func (s *Server) scrapeLink(w http.ResponseWriter, r *http.Request) {
	id, err := linkID(r)
	if err != nil {
		s.handleError(w, r, err, linkNotFound)
		return
	}
	link, article, err := s.links.ScrapeLink(r.Context(), id, currentUser(r).ID)
	if err != nil {
		s.handleError(w, r, err, linkNotFound)
		return
	}
	msg := "Scraping completed"
	if article.Error != "" {
		msg = "Scraping failed: " + article.Error
	}
	ok(w, http.StatusOK, msg, linkcheck.NewLinkView(link), false)
}

func (s *Server) recordVerification(w http.ResponseWriter, r *http.Request) {
	id, err := linkID(r)
	if err != nil {
		s.handleError(w, r, err, linkNotFound)
		return
	}
	var req verificationRequest
	if err := s.decode(r, &req); err != nil {
		s.handleError(w, r, err, "")
		return
	}
	in := linkcheck.VerificationInput{
		CredibilityScore: req.CredibilityScore,
		SourcesChecked:   req.SourcesChecked,
		Summary:          req.Summary,
	}
	for _, c := range req.Claims {
		in.Claims = append(in.Claims, linkcheck.ClaimCheck{
			Claim:       c.Claim,
			Verdict:     c.Verdict,
			Sources:     c.Sources,
			Explanation: c.Explanation,
		})
	}
	link, err := s.links.RecordVerification(r.Context(), id, currentUser(r).ID, in)
	if err != nil {
		s.handleError(w, r, err, linkNotFound)
		return
	}
	ok(w, http.StatusOK, "Verification recorded", linkcheck.NewLinkView(link), false)
}

// linkID parses the {linkID} path parameter. Non-numeric ids are reported as
// not found, like ids of other users.
func linkID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "linkID"), 10, 64)
	if err != nil || id < 1 {
		return 0, linkcheck.ErrNotFound
	}
	return id, nil
}

// parseListQuery reads page, page_size and status (or status_filter).
func parseListQuery(r *http.Request, ownerID int64) (linkcheck.ListQuery, error) {
	q := linkcheck.ListQuery{OwnerID: ownerID, Page: 1, PageSize: defaultPageSize}
	values := r.URL.Query()

	if v := values.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return q, linkcheck.ErrInvalidPage
		}
		q.Page = n
	}
	if v := values.Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPageSize {
			return q, fmt.Errorf("%w: must be between 1 and %d", linkcheck.ErrInvalidPageSize, maxPageSize)
		}
		q.PageSize = n
	}
	status := values.Get("status")
	if status == "" {
		status = values.Get("status_filter")
	}
	if status != "" {
		st, err := linkcheck.ParseLinkStatus(status)
		if err != nil {
			return q, err
		}
		q.Status = &st
	}
	return q, nil
}
