package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"amightyclaw/internal/store"
)

// JobManager is the scheduler surface the REST routes need. Implemented by
// scheduler.Scheduler.
type JobManager interface {
	AddJob(name, expression, message, profile string) (store.CronJob, error)
	ListJobs() ([]store.CronJob, error)
	RemoveJob(name string) error
	ToggleJob(name string, enabled bool) error
}

// SetJobManager wires the cron routes. Without it they return 503.
func (s *Server) SetJobManager(jm JobManager) {
	s.jobs = jm
}

func (s *Server) registerManagementRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/conversations", s.withAuth(s.handleListConversations))
	mux.HandleFunc("GET /api/conversations/{id}/messages", s.withAuth(s.handleConversationMessages))
	mux.HandleFunc("DELETE /api/conversations/{id}", s.withAuth(s.handleDeleteConversation))
	mux.HandleFunc("GET /api/messages/search", s.withAuth(s.handleSearchMessages))

	mux.HandleFunc("GET /api/facts", s.withAuth(s.handleListFacts))
	mux.HandleFunc("POST /api/facts", s.withAuth(s.handleAddFact))
	mux.HandleFunc("DELETE /api/facts/{id}", s.withAuth(s.handleDeleteFact))

	mux.HandleFunc("GET /api/cron", s.withAuth(s.handleListCron))
	mux.HandleFunc("POST /api/cron", s.withAuth(s.handleAddCron))
	mux.HandleFunc("DELETE /api/cron/{name}", s.withAuth(s.handleRemoveCron))
	mux.HandleFunc("POST /api/cron/{name}/toggle", s.withAuth(s.handleToggleCron))

	mux.HandleFunc("GET /api/usage", s.withAuth(s.handleUsage))
	mux.HandleFunc("GET /api/profiles", s.withAuth(s.handleProfiles))
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			httpError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.store.ListConversations(queryLimit(r, 50))
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (s *Server) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetConversation(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpError(w, http.StatusNotFound, "conversation not found")
			return
		}
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	msgs, err := s.store.RecentMessages(id, queryLimit(r, 100))
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteConversation(r.PathValue("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpError(w, http.StatusNotFound, "conversation not found")
			return
		}
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleSearchMessages(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		httpError(w, http.StatusBadRequest, "q is required")
		return
	}
	msgs, err := s.store.SearchMessages(query, queryLimit(r, 20))
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleListFacts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		facts []store.Fact
		err   error
	)
	if query := strings.TrimSpace(q.Get("q")); query != "" {
		facts, err = s.store.SearchFacts(query, queryLimit(r, 50))
	} else {
		facts, err = s.store.ListFacts(q.Get("category"), queryLimit(r, 100))
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"facts": facts})
}

func (s *Server) handleAddFact(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Content  string `json:"content"`
		Category string `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httpError(w, http.StatusBadRequest, "malformed request")
		return
	}
	if strings.TrimSpace(in.Content) == "" {
		httpError(w, http.StatusBadRequest, "content is required")
		return
	}
	fact, err := s.store.AddFact(in.Content, in.Category, "manual")
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, fact)
}

func (s *Server) handleDeleteFact(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteFact(r.PathValue("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpError(w, http.StatusNotFound, "fact not found")
			return
		}
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListCron(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		httpError(w, http.StatusServiceUnavailable, "scheduler not running")
		return
	}
	jobs, err := s.jobs.ListJobs()
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleAddCron(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		httpError(w, http.StatusServiceUnavailable, "scheduler not running")
		return
	}
	var in struct {
		Name       string `json:"name"`
		Expression string `json:"expression"`
		Message    string `json:"message"`
		Profile    string `json:"profile"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httpError(w, http.StatusBadRequest, "malformed request")
		return
	}
	job, err := s.jobs.AddJob(in.Name, in.Expression, in.Message, in.Profile)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateJob) {
			httpError(w, http.StatusConflict, err.Error())
			return
		}
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleRemoveCron(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		httpError(w, http.StatusServiceUnavailable, "scheduler not running")
		return
	}
	if err := s.jobs.RemoveJob(r.PathValue("name")); err != nil {
		httpError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleToggleCron(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		httpError(w, http.StatusServiceUnavailable, "scheduler not running")
		return
	}
	var in struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httpError(w, http.StatusBadRequest, "malformed request")
		return
	}
	if err := s.jobs.ToggleJob(r.PathValue("name"), in.Enabled); err != nil {
		httpError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7)
	summaries, err := s.store.UsageByDay(days)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"usage": summaries})
}

// handleProfiles lists profile names and their limits; API keys never leave
// the server.
func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	type profileView struct {
		Name            string `json:"name"`
		Provider        string `json:"provider"`
		Model           string `json:"model"`
		MaxTokensPerDay int    `json:"max_tokens_per_day"`
		Default         bool   `json:"default"`
	}
	views := make([]profileView, 0, len(s.cfg.Profiles))
	for name, p := range s.cfg.Profiles {
		views = append(views, profileView{
			Name:            name,
			Provider:        p.Provider,
			Model:           p.Model,
			MaxTokensPerDay: p.MaxTokensPerDay,
			Default:         name == s.cfg.DefaultProfile,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"profiles": views})
}

func queryLimit(r *http.Request, fallback int) int {
	return queryInt(r, "limit", fallback)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
