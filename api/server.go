package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go-blogjobs/jobs"
	"go-blogjobs/logging"
	"go-blogjobs/metrics"
	"go-blogjobs/model"
	"go-blogjobs/store"
	"go-blogjobs/tasks"

	"github.com/google/uuid"
)

// Jobs is the request-side view of the job subsystem.
type Jobs interface {
	Launch(ctx context.Context, tx store.Querier, name, description string, userID int64, args ...any) (*model.JobRecord, error)
	InProgress(ctx context.Context, userID int64) ([]jobs.TaskStatus, error)
	InProgressNamed(ctx context.Context, userID int64, name string) (*model.JobRecord, error)
}

type PostSearcher interface {
	Search(ctx context.Context, text string, page, perPage int) ([]model.Post, int, error)
}

type Server struct {
	store   *store.Store
	jobs    Jobs
	search  PostSearcher
	metrics *metrics.Collector
	logger  *slog.Logger
	perPage int
}

type Options struct {
	Store        *store.Store
	Jobs         Jobs
	Search       PostSearcher
	Metrics      *metrics.Collector
	Logger       *slog.Logger
	PostsPerPage int
}

func NewServer(addr string, opts Options) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewHandler(opts),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func NewHandler(opts Options) http.Handler {
	perPage := opts.PostsPerPage
	if perPage <= 0 {
		perPage = 5
	}
	srv := &Server{
		store:   opts.Store,
		jobs:    opts.Jobs,
		search:  opts.Search,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		perPage: perPage,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /export_posts", srv.withUser(srv.exportPosts))
	mux.HandleFunc("GET /tasks", srv.withUser(srv.getTasks))
	mux.HandleFunc("GET /notifications", srv.withUser(srv.getNotifications))
	mux.HandleFunc("GET /search", srv.searchPosts)
	mux.HandleFunc("POST /posts", srv.withUser(srv.createPost))
	mux.HandleFunc("PUT /posts/{id}", srv.withUser(srv.updatePost))
	mux.HandleFunc("DELETE /posts/{id}", srv.withUser(srv.deletePost))
	mux.HandleFunc("POST /messages/{recipient}", srv.withUser(srv.sendMessage))
	mux.HandleFunc("GET /messages", srv.withUser(srv.getMessages))
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics.Handler())
	}
	return srv.requestID(mux)
}

type userHandler func(w http.ResponseWriter, r *http.Request, userID int64)

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

// withUser resolves the caller from the X-User-ID header.
func (s *Server) withUser(h userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
		if err != nil || userID <= 0 {
			http.Error(w, "[API] Missing or invalid X-User-ID", http.StatusUnauthorized)
			return
		}
		h(w, r, userID)
	}
}

func (s *Server) log(r *http.Request) *slog.Logger {
	return logging.FromContext(r.Context(), s.logger)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	s.log(r).Error(msg, "error", err)
	http.Error(w, "[API] "+msg, http.StatusInternalServerError)
}

func pageParam(r *http.Request) int {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}

func pageLinks(page int, hasMore bool) (next, prev *int) {
	if hasMore {
		n := page + 1
		next = &n
	}
	if page > 1 {
		p := page - 1
		prev = &p
	}
	return next, prev
}

func (s *Server) exportPosts(w http.ResponseWriter, r *http.Request, userID int64) {
	ctx := r.Context()

	running, err := s.jobs.InProgressNamed(ctx, userID, tasks.ExportPosts)
	if err != nil {
		s.internalError(w, r, "Failed to look up running tasks", err)
		return
	}
	if running != nil {
		http.Error(w, "[API] An export task is currently in progress", http.StatusConflict)
		return
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		s.internalError(w, r, "Database error", err)
		return
	}
	defer tx.Rollback()

	rec, err := s.jobs.Launch(ctx, tx, tasks.ExportPosts, "Exporting posts...", userID)
	if err != nil {
		s.internalError(w, r, "Failed to launch task", err)
		return
	}
	if err := tx.Commit(); err != nil {
		s.internalError(w, r, "Failed to save task", err)
		return
	}
	writeJSON(w, http.StatusAccepted, rec)
}

func (s *Server) getTasks(w http.ResponseWriter, r *http.Request, userID int64) {
	list, err := s.jobs.InProgress(r.Context(), userID)
	if err != nil {
		s.internalError(w, r, "Database error", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) getNotifications(w http.ResponseWriter, r *http.Request, userID int64) {
	since := 0.0
	if v := r.URL.Query().Get("since"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			http.Error(w, "[API] Invalid since value", http.StatusBadRequest)
			return
		}
		since = f
	}

	list, err := s.store.NotificationsSince(r.Context(), s.store.DB(), userID, since)
	if err != nil {
		s.internalError(w, r, "Database error", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type searchResponse struct {
	Posts    []model.Post `json:"posts"`
	Total    int          `json:"total"`
	NextPage *int         `json:"next_page"`
	PrevPage *int         `json:"prev_page"`
}

func (s *Server) searchPosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		http.Error(w, "[API] Missing search query", http.StatusBadRequest)
		return
	}
	page := pageParam(r)

	posts, total, err := s.search.Search(r.Context(), q, page, s.perPage)
	if err != nil {
		s.internalError(w, r, "Search failed", err)
		return
	}
	next, prev := pageLinks(page, total > page*s.perPage)
	writeJSON(w, http.StatusOK, searchResponse{Posts: posts, Total: total, NextPage: next, PrevPage: prev})
}

type postRequest struct {
	Body     string `json:"body"`
	Language string `json:"language"`
}

func decodePost(w http.ResponseWriter, r *http.Request) (*postRequest, bool) {
	var req postRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	if req.Body == "" {
		http.Error(w, "[API] Post body is required", http.StatusBadRequest)
		return nil, false
	}
	return &req, true
}

func postID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "[API] Invalid post ID", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (s *Server) createPost(w http.ResponseWriter, r *http.Request, userID int64) {
	req, ok := decodePost(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	tx, err := s.store.Begin(ctx)
	if err != nil {
		s.internalError(w, r, "Database error", err)
		return
	}
	defer tx.Rollback()

	post := &model.Post{Body: req.Body, UserID: userID, Language: req.Language}
	if err := s.store.CreatePost(ctx, tx, post); err != nil {
		s.internalError(w, r, "Failed to insert post", err)
		return
	}
	if err := tx.Commit(); err != nil {
		s.internalError(w, r, "Failed to insert post", err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

func (s *Server) updatePost(w http.ResponseWriter, r *http.Request, userID int64) {
	id, ok := postID(w, r)
	if !ok {
		return
	}
	req, ok := decodePost(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	tx, err := s.store.Begin(ctx)
	if err != nil {
		s.internalError(w, r, "Database error", err)
		return
	}
	defer tx.Rollback()

	post, err := s.store.UpdatePostBody(ctx, tx, id, userID, req.Body)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "[API] Post not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.internalError(w, r, "Failed to update post", err)
		return
	}
	if err := tx.Commit(); err != nil {
		s.internalError(w, r, "Failed to update post", err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (s *Server) deletePost(w http.ResponseWriter, r *http.Request, userID int64) {
	id, ok := postID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	tx, err := s.store.Begin(ctx)
	if err != nil {
		s.internalError(w, r, "Database error", err)
		return
	}
	defer tx.Rollback()

	if _, err := s.store.DeletePost(ctx, tx, id, userID); errors.Is(err, store.ErrNotFound) {
		http.Error(w, "[API] Post not found", http.StatusNotFound)
		return
	} else if err != nil {
		s.internalError(w, r, "Failed to delete post", err)
		return
	}
	if err := tx.Commit(); err != nil {
		s.internalError(w, r, "Failed to delete post", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type messageRequest struct {
	Body string `json:"body"`
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request, userID int64) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Body == "" {
		http.Error(w, "[API] Message body is required", http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	recipient, err := s.store.GetUserByUsername(ctx, s.store.DB(), r.PathValue("recipient"))
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "[API] User not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.internalError(w, r, "Database error", err)
		return
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		s.internalError(w, r, "Database error", err)
		return
	}
	defer tx.Rollback()

	msg := &model.Message{SenderID: userID, RecipientID: recipient.ID, Body: req.Body}
	if err := s.store.CreateMessage(ctx, tx, msg); err != nil {
		s.internalError(w, r, "Failed to send message", err)
		return
	}
	unread, err := s.store.CountNewMessages(ctx, tx, recipient.ID)
	if err != nil {
		s.internalError(w, r, "Failed to send message", err)
		return
	}
	if _, err := s.store.AddNotification(ctx, tx, recipient.ID, model.NotificationUnreadMessageCount, unread); err != nil {
		s.internalError(w, r, "Failed to send message", err)
		return
	}
	if err := tx.Commit(); err != nil {
		s.internalError(w, r, "Failed to send message", err)
		return
	}
	s.metrics.NotificationAdded(model.NotificationUnreadMessageCount)
	writeJSON(w, http.StatusCreated, msg)
}

type messagesResponse struct {
	Messages []model.Message `json:"messages"`
	NextPage *int            `json:"next_page"`
	PrevPage *int            `json:"prev_page"`
}

func (s *Server) getMessages(w http.ResponseWriter, r *http.Request, userID int64) {
	ctx := r.Context()
	page := pageParam(r)

	tx, err := s.store.Begin(ctx)
	if err != nil {
		s.internalError(w, r, "Database error", err)
		return
	}
	defer tx.Rollback()

	if err := s.store.SetLastMessageReadTime(ctx, tx, userID, time.Now().UTC()); err != nil {
		s.internalError(w, r, "Failed to mark messages read", err)
		return
	}
	if _, err := s.store.AddNotification(ctx, tx, userID, model.NotificationUnreadMessageCount, 0); err != nil {
		s.internalError(w, r, "Failed to mark messages read", err)
		return
	}
	if err := tx.Commit(); err != nil {
		s.internalError(w, r, "Failed to mark messages read", err)
		return
	}
	s.metrics.NotificationAdded(model.NotificationUnreadMessageCount)

	msgs, hasMore, err := s.store.MessagesReceived(ctx, s.store.DB(), userID, page, s.perPage)
	if err != nil {
		s.internalError(w, r, "Database error", err)
		return
	}
	next, prev := pageLinks(page, hasMore)
	writeJSON(w, http.StatusOK, messagesResponse{Messages: msgs, NextPage: next, PrevPage: prev})
}
