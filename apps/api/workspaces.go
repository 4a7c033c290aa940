package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/mahaj/schemahub/pkg/db"
	"github.com/mahaj/schemahub/pkg/model"
)

// WorkspaceHandler serves read-only workspace projections: the persisted
// attribution set, the saved version list, and the live presence roster.
type WorkspaceHandler struct {
	db    *db.Session
	redis *redis.Client
}

func NewWorkspaceHandler(session *db.Session, redisAddr string) *WorkspaceHandler {
	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})
	return &WorkspaceHandler{db: session, redis: rdb}
}

func (h *WorkspaceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// URL path: /workspaces/{id}/{resource}
	pathParts := strings.Split(r.URL.Path, "/")
	if len(pathParts) < 4 || pathParts[2] == "" {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}
	workspaceID := pathParts[2]

	switch pathParts[3] {
	case "attributions":
		h.serveAttributions(w, workspaceID)
	case "versions":
		h.serveVersions(w, workspaceID)
	case "users":
		h.serveUsers(w, r, workspaceID)
	default:
		http.Error(w, "Invalid path", http.StatusBadRequest)
	}
}

func (h *WorkspaceHandler) serveAttributions(w http.ResponseWriter, workspaceID string) {
	attrs, err := h.db.Attributions(workspaceID)
	if err != nil {
		log.Printf("Failed to fetch attributions for %s: %v", workspaceID, err)
		http.Error(w, "Failed to fetch attributions", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(attrs)
}

func (h *WorkspaceHandler) serveVersions(w http.ResponseWriter, workspaceID string) {
	versions, err := h.db.Versions(workspaceID)
	if err != nil {
		log.Printf("Failed to fetch versions for %s: %v", workspaceID, err)
		http.Error(w, "Failed to fetch versions", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(versions)
}

// serveUsers reads the roster hash the gateways maintain; entries are full
// user records keyed by user id.
func (h *WorkspaceHandler) serveUsers(w http.ResponseWriter, r *http.Request, workspaceID string) {
	entries, err := h.redis.HGetAll(r.Context(), "workspace:"+workspaceID+":roster").Result()
	if err != nil {
		log.Printf("Failed to fetch presence for workspace %s: %v", workspaceID, err)
		http.Error(w, "Failed to fetch presence", http.StatusInternalServerError)
		return
	}
	users := make([]model.CollaborativeUser, 0, len(entries))
	for _, raw := range entries {
		var u model.CollaborativeUser
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			log.Printf("Failed to decode roster entry for workspace %s: %v", workspaceID, err)
			continue
		}
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(users)
}
