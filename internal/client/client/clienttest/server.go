// Package clienttest provides an in-process fake of the survey REST API
// with failure injection, for tests of the sync engine.
package clienttest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/client"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/go-chi/chi/v5"
)

// Route names accepted by FailNext, Delay and Calls.
const (
	RouteHealth       = "HEAD /health"
	RouteListEntities = "GET /entities"
	RouteCreateEntity = "POST /entities"
	RouteUpdateEntity = "PATCH /entities"
	RouteDeleteEntity = "DELETE /entities"
	RouteUpload       = "POST /upload"
	RouteListEntries  = "GET /entries"
	RouteCreateEntry  = "POST /entries"
	RouteCreatePhoto  = "POST /photos"
)

// Server is a fake API. Creates are idempotent by offlineId, like the real
// service.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	nextID   int64
	entities map[models.EntityType]map[int64]*client.Entity
	entries  map[int64]*client.Entry
	photos   map[int64]*client.PhotoRecord
	uploads  map[string][]byte
	calls    map[string]int
	failures map[string][]int
	delays   map[string]time.Duration
	down     bool
}

func NewServer() *Server {
	s := &Server{
		nextID:   1,
		entities: map[models.EntityType]map[int64]*client.Entity{},
		entries:  map[int64]*client.Entry{},
		photos:   map[int64]*client.PhotoRecord{},
		uploads:  map[string][]byte{},
		calls:    map[string]int{},
		failures: map[string][]int{},
		delays:   map[string]time.Duration{},
	}
	for _, t := range models.EntityTypes {
		s.entities[t] = map[int64]*client.Entity{}
	}

	r := chi.NewRouter()
	r.Head("/health", s.wrap(RouteHealth, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	r.Get("/entities/{type}", s.wrap(RouteListEntities, s.listEntities))
	r.Post("/entities/{type}", s.wrap(RouteCreateEntity, s.createEntity))
	r.Patch("/entities/{type}/{id}", s.wrap(RouteUpdateEntity, s.updateEntity))
	r.Delete("/entities/{type}/{id}", s.wrap(RouteDeleteEntity, s.deleteEntity))
	r.Post("/upload", s.wrap(RouteUpload, s.upload))
	r.Get("/entries", s.wrap(RouteListEntries, s.listEntries))
	r.Post("/entries", s.wrap(RouteCreateEntry, s.createEntry))
	r.Post("/photos", s.wrap(RouteCreatePhoto, s.createPhoto))

	s.Server = httptest.NewServer(r)
	return s
}

// SetNextID sets the id assigned to the next created record.
func (s *Server) SetNextID(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID = id
}

// SetDown makes every request fail at the connection level.
func (s *Server) SetDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

// FailNext makes the next n calls of route answer with status.
func (s *Server) FailNext(route string, status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.failures[route] = append(s.failures[route], status)
	}
}

// Delay holds every call of route for d (or until the request is cancelled).
func (s *Server) Delay(route string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d <= 0 {
		delete(s.delays, route)
		return
	}
	s.delays[route] = d
}

// Calls returns how many times route was hit, failed calls included.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// Seed stores e as if another device had created it and returns it with its id.
func (s *Server) Seed(t models.EntityType, e client.Entity) client.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == 0 {
		e.ID = s.allocID()
	} else if e.ID >= s.nextID {
		s.nextID = e.ID + 1
	}
	cp := e
	s.entities[t][e.ID] = &cp
	return e
}

// SeedEntry stores an entry created elsewhere.
func (s *Server) SeedEntry(e client.Entry) client.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == 0 {
		e.ID = s.allocID()
	}
	cp := e
	s.entries[e.ID] = &cp
	return e
}

func (s *Server) Entities(t models.EntityType) []client.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedEntities(s.entities[t])
}

func (s *Server) Entries() []client.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]client.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Server) Photos() []client.PhotoRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]client.PhotoRecord, 0, len(s.photos))
	for _, p := range s.photos {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Upload returns the bytes received for photoID.
func (s *Server) Upload(photoID string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.uploads[photoID]
	return b, ok
}

func (s *Server) allocID() int64 {
	id := s.nextID
	s.nextID++
	return id
}

func (s *Server) wrap(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[route]++
		down := s.down
		delay := s.delays[route]
		status := 0
		if q := s.failures[route]; len(q) > 0 {
			status, s.failures[route] = q[0], q[1:]
		}
		s.mu.Unlock()

		if down {
			panic(http.ErrAbortHandler)
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if status != 0 {
			writeJSON(w, status, map[string]string{"error": http.StatusText(status)})
			return
		}
		h(w, r)
	}
}

func entityType(r *http.Request) (models.EntityType, bool) {
	t := models.EntityType(chi.URLParam(r, "type"))
	return t, t.Valid()
}

func (s *Server) listEntities(w http.ResponseWriter, r *http.Request) {
	t, ok := entityType(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, nil)
		return
	}
	var parent int64
	if p := r.URL.Query().Get("parentId"); p != "" {
		parent, _ = strconv.ParseInt(p, 10, 64)
	}

	s.mu.Lock()
	all := sortedEntities(s.entities[t])
	s.mu.Unlock()

	out := make([]client.Entity, 0, len(all))
	for _, e := range all {
		if parent == 0 || e.ParentID == parent {
			out = append(out, e)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createEntity(w http.ResponseWriter, r *http.Request) {
	t, ok := entityType(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, nil)
		return
	}
	var in client.Entity
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if msg := s.validateEntity(t, in); msg != "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": msg})
		return
	}
	if in.OfflineID != "" {
		for _, e := range s.entities[t] {
			if e.OfflineID == in.OfflineID {
				writeJSON(w, http.StatusOK, e)
				return
			}
		}
	}
	in.ID = s.allocID()
	in.UpdatedAt = time.Now().UnixMilli()
	cp := in
	s.entities[t][in.ID] = &cp
	writeJSON(w, http.StatusCreated, in)
}

// validateEntity is called with s.mu held.
func (s *Server) validateEntity(t models.EntityType, e client.Entity) string {
	if e.Name == "" {
		return "name is required"
	}
	if pt, ok := t.Parent(); ok {
		if _, found := s.entities[pt][e.ParentID]; !found {
			return "unknown parent"
		}
	}
	return ""
}

func (s *Server) updateEntity(w http.ResponseWriter, r *http.Request) {
	t, ok := entityType(r)
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if !ok || err != nil {
		writeJSON(w, http.StatusNotFound, nil)
		return
	}
	var in client.Entity
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, found := s.entities[t][id]
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if msg := s.validateEntity(t, in); msg != "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": msg})
		return
	}
	in.ID = id
	if in.OfflineID == "" {
		in.OfflineID = cur.OfflineID
	}
	in.UpdatedAt = time.Now().UnixMilli()
	cp := in
	s.entities[t][id] = &cp
	writeJSON(w, http.StatusOK, in)
}

func (s *Server) deleteEntity(w http.ResponseWriter, r *http.Request) {
	t, ok := entityType(r)
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if !ok || err != nil {
		writeJSON(w, http.StatusNotFound, nil)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, found := s.entities[t][id]; !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	delete(s.entities[t], id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	f, _, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file is required"})
		return
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	photoID := r.FormValue("photoId")

	s.mu.Lock()
	s.uploads[photoID] = b
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, client.UploadResult{URL: s.URL + "/files/" + photoID + ".jpg"})
}

func (s *Server) listEntries(w http.ResponseWriter, r *http.Request) {
	var since int64
	if v := r.URL.Query().Get("since"); v != "" {
		since, _ = strconv.ParseInt(v, 10, 64)
	}

	s.mu.Lock()
	out := make([]client.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.CreatedAt > since {
			out = append(out, *e)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createEntry(w http.ResponseWriter, r *http.Request) {
	var in client.Entry
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if in.FolderID != 0 {
		if _, ok := s.entities[models.EntityFolder][in.FolderID]; !ok {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "unknown folder"})
			return
		}
	}
	if in.OfflineID != "" {
		for _, e := range s.entries {
			if e.OfflineID == in.OfflineID {
				writeJSON(w, http.StatusOK, e)
				return
			}
		}
	}
	in.ID = s.allocID()
	if in.CreatedAt == 0 {
		in.CreatedAt = time.Now().UnixMilli()
	}
	cp := in
	s.entries[in.ID] = &cp
	writeJSON(w, http.StatusCreated, in)
}

func (s *Server) createPhoto(w http.ResponseWriter, r *http.Request) {
	var in client.PhotoRecord
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[in.EntryID]; !ok {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "unknown entry"})
		return
	}
	if in.OfflineID != "" {
		for _, p := range s.photos {
			if p.OfflineID == in.OfflineID {
				writeJSON(w, http.StatusOK, p)
				return
			}
		}
	}
	in.ID = s.allocID()
	cp := in
	s.photos[in.ID] = &cp
	writeJSON(w, http.StatusCreated, in)
}

func sortedEntities(m map[int64]*client.Entity) []client.Entity {
	out := make([]client.Entity, 0, len(m))
	for _, e := range m {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}
