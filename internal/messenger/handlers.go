// Package messenger exposes per-account messenger passthrough routes.
// Each request resolves the account's cached client and proxies the
// call; no messenger state is kept locally.
package messenger

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"avitolink/internal/accounts"
	"avitolink/internal/avito"
	"avitolink/pkg/problems"
)

type Handlers struct {
	svc *accounts.Service
}

func NewHandlers(svc *accounts.Service) *Handlers { return &Handlers{svc: svc} }

// Mount registers messenger routes on an account-scoped router, i.e.
// one already carrying the {accountID} URL parameter.
func (h *Handlers) Mount(r chi.Router) {
	r.Route("/chats", func(r chi.Router) {
		r.Get("/", h.chats)
		r.Get("/{chatID}/messages", h.messages)
		r.Post("/{chatID}/messages", h.send)
		r.Post("/{chatID}/read", h.markRead)
	})
}

func (h *Handlers) client(w http.ResponseWriter, r *http.Request) (*avito.Client, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "accountID"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid account id", http.StatusBadRequest)
		return nil, false
	}
	client, err := h.svc.Client(r.Context(), id)
	if err != nil {
		problems.Write(w, err)
		return nil, false
	}
	return client, true
}

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handlers) chats(w http.ResponseWriter, r *http.Request) {
	client, ok := h.client(w, r)
	if !ok {
		return
	}
	unreadOnly := r.URL.Query().Get("unread_only") == "true"
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	chats, err := client.Chats(r.Context(), unreadOnly, limit)
	if err != nil {
		problems.Write(w, err)
		return
	}
	if chats == nil {
		chats = []avito.Chat{}
	}
	writeJSON(w, chats, 200)
}

func (h *Handlers) messages(w http.ResponseWriter, r *http.Request) {
	client, ok := h.client(w, r)
	if !ok {
		return
	}
	chatID := chi.URLParam(r, "chatID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	msgs, err := client.Messages(r.Context(), chatID, limit)
	if err != nil {
		problems.Write(w, err)
		return
	}
	if msgs == nil {
		msgs = []avito.Message{}
	}
	writeJSON(w, msgs, 200)
}

func (h *Handlers) send(w http.ResponseWriter, r *http.Request) {
	client, ok := h.client(w, r)
	if !ok {
		return
	}
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}
	msg, err := client.SendMessage(r.Context(), chi.URLParam(r, "chatID"), body.Text)
	if err != nil {
		problems.Write(w, err)
		return
	}
	writeJSON(w, msg, http.StatusCreated)
}

func (h *Handlers) markRead(w http.ResponseWriter, r *http.Request) {
	client, ok := h.client(w, r)
	if !ok {
		return
	}
	if err := client.MarkRead(r.Context(), chi.URLParam(r, "chatID")); err != nil {
		problems.Write(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true}, 200)
}
