package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"

	"github.com/gorilla/mux"

	"guildcache/internal/store"
)

// HistoryHandler serves the cached recent history for the monitored
// guilds. It only ever reads the stores; absence of data is served as an
// empty list, indistinguishable from a channel that has not been
// backfilled yet.
type HistoryHandler struct {
	stores map[string]*store.Store
}

type messageResponse struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	AuthorTag string `json:"authorTag"`
	Timestamp int64  `json:"timestamp"`
}

type threadResponse struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	ParentID  string `json:"parentId"`
	CreatedBy string `json:"createdBy"`
	CreatedAt int64  `json:"createdAt"`
}

func NewHistoryHandler(stores map[string]*store.Store) *HistoryHandler {
	return &HistoryHandler{stores: stores}
}

// HandleChannelMessages returns a channel's messages oldest to newest.
func (h *HistoryHandler) HandleChannelMessages(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	st, ok := h.stores[vars["guildID"]]
	if !ok {
		http.Error(w, "Unknown guild", http.StatusNotFound)
		return
	}

	messages := st.MessagesForChannel(vars["channelID"])
	response := make([]messageResponse, len(messages))
	for i, m := range messages {
		response[i] = messageResponse{
			ID:        m.ID,
			Content:   m.Content,
			AuthorTag: m.AuthorTag,
			Timestamp: m.Timestamp.UnixMilli(),
		}
	}

	writeJSON(w, response)
}

// HandleForumThreads returns the guild's known forum threads.
func (h *HistoryHandler) HandleForumThreads(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	st, ok := h.stores[vars["guildID"]]
	if !ok {
		http.Error(w, "Unknown guild", http.StatusNotFound)
		return
	}

	threads := st.ForumThreads()
	sort.Slice(threads, func(i, j int) bool {
		return threads[i].CreatedAt.Before(threads[j].CreatedAt)
	})

	response := make([]threadResponse, len(threads))
	for i, t := range threads {
		response[i] = threadResponse{
			ID:        t.ID,
			Title:     t.Title,
			ParentID:  t.ParentID,
			CreatedBy: t.CreatedBy,
			CreatedAt: t.CreatedAt.UnixMilli(),
		}
	}

	writeJSON(w, response)
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
