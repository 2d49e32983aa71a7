package chi

import (
	"net/http"

	healthuc "github.com/kailas-cloud/ragbot/internal/usecase/health"
	"github.com/kailas-cloud/ragbot/internal/version"
)

type infoResponse struct {
	OK      bool   `json:"ok"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Info handles GET /info.
func (s *Server) Info(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, infoResponse{OK: true, Name: version.Name, Version: version.Version})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type loginResponse struct {
	APIKey string       `json:"api_key"`
	User   userResponse `json:"user"`
}

// Login handles POST /auth/login.
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	if !s.logins.allow(clientAddr(r)) {
		w.Header().Set("Retry-After", "2")
		writeError(w, http.StatusTooManyRequests, codeRateLimited, "too many login attempts")
		return
	}

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	key, u, err := s.accounts.Login(r.Context(), req.Username, req.Password, s.tokenName)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{APIKey: key, User: userResponse{ID: u.ID, Username: u.Username}})
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, healthResponse{Status: string(report.Status), Checks: checks})
}

type askRequest struct {
	Question string `json:"question"`
}

type sourceResponse struct {
	Source string  `json:"source"`
	Score  float64 `json:"score"`
	Text   string  `json:"text"`
}

type askResponse struct {
	Answer       string           `json:"answer"`
	Sources      []string         `json:"sources"`
	Context      []sourceResponse `json:"context"`
	Insufficient bool             `json:"insufficient"`
}

// Ask handles POST /ask.
func (s *Server) Ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	turn, err := s.conversations.Ask(r.Context(), userFrom(r.Context()), req.Question)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	resp := askResponse{
		Answer:       turn.Answer,
		Sources:      turn.Sources(),
		Context:      make([]sourceResponse, 0, len(turn.Context)),
		Insufficient: turn.Insufficient,
	}
	for _, c := range turn.Context {
		resp.Context = append(resp.Context, sourceResponse{Source: c.Chunk.SourceName(), Score: c.Score, Text: c.Chunk.Text})
	}
	writeJSON(w, http.StatusOK, resp)
}
