package accounts

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"avitolink/pkg/problems"
)

// Handlers exposes the account CRUD and lifecycle endpoints.
type Handlers struct {
	svc *Service
}

func NewHandlers(svc *Service) *Handlers { return &Handlers{svc: svc} }

// Mount registers the account routes onto r. Extra mounters receive
// the account-scoped subrouter (messenger passthrough lives there).
func (h *Handlers) Mount(r chi.Router, extra ...func(chi.Router)) {
	r.Route("/accounts", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Route("/{accountID}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Put("/", h.update)
			r.Delete("/", h.delete)
			r.Post("/check", h.check)
			r.Post("/sync", h.sync)
			r.Post("/online", h.enableOnline)
			r.Delete("/online", h.disableOnline)
			for _, m := range extra {
				m(r)
			}
		})
	})
}

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func accountID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "accountID"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid account id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (h *Handlers) list(w http.ResponseWriter, r *http.Request) {
	accs, err := h.svc.List(r.Context())
	if err != nil {
		problems.Write(w, err)
		return
	}
	if accs == nil {
		accs = []Account{}
	}
	writeJSON(w, accs, 200)
}

func (h *Handlers) create(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	a, err := h.svc.Create(r.Context(), in)
	if err != nil {
		problems.Write(w, err)
		return
	}
	writeJSON(w, a, http.StatusCreated)
}

func (h *Handlers) get(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	a, err := h.svc.Get(r.Context(), id)
	if err != nil {
		problems.Write(w, err)
		return
	}
	writeJSON(w, a, 200)
}

func (h *Handlers) update(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	var in UpdateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	a, err := h.svc.Update(r.Context(), id, in)
	if err != nil {
		problems.Write(w, err)
		return
	}
	writeJSON(w, a, 200)
}

func (h *Handlers) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		problems.Write(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true}, 200)
}

func (h *Handlers) check(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.CheckConnection(r.Context(), id)
	if err != nil {
		problems.Write(w, err)
		return
	}
	writeJSON(w, res, 200)
}

func (h *Handlers) sync(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	a, err := h.svc.SyncStats(r.Context(), id)
	if err != nil {
		problems.Write(w, err)
		return
	}
	writeJSON(w, a, 200)
}

// enableOnline turns permanent presence on. An optional body can tune
// the keepalive interval; the first ping happens immediately.
func (h *Handlers) enableOnline(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	var body struct {
		KeepAliveSec int `json:"onlineKeepAliveInterval"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
	}
	a, err := h.svc.SetEternalOnline(r.Context(), id, true, body.KeepAliveSec)
	if err != nil {
		problems.Write(w, err)
		return
	}
	if err := h.svc.SetOnline(r.Context(), id); err != nil {
		h.svc.log.Warnw("initial online ping failed", "account", id, "err", err)
	} else {
		a, _ = h.svc.Get(r.Context(), id)
	}
	writeJSON(w, a, 200)
}

func (h *Handlers) disableOnline(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	a, err := h.svc.SetEternalOnline(r.Context(), id, false, 0)
	if err != nil {
		problems.Write(w, err)
		return
	}
	writeJSON(w, a, 200)
}
