package internal

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"codeshare/internal/storage"
)

type createSnippetRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Language    string   `json:"language"`
	Code        string   `json:"code"`
	Tags        []string `json:"tags"`
	AuthorID    string   `json:"authorId"`
}

// updateSnippetRequest is a sparse patch; absent keys leave fields untouched.
type updateSnippetRequest struct {
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Language    *string   `json:"language"`
	Code        *string   `json:"code"`
	Tags        *[]string `json:"tags"`
}

func (s *Server) HandleSnippets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateSnippet(w, r)
	case http.MethodGet:
		s.handleListSnippets(w, r)
	default:
		methodNotAllowed(w, "POST, GET")
	}
}

func (s *Server) handleCreateSnippet(w http.ResponseWriter, r *http.Request) {
	if !s.apiLimiter.Allow(s.clientIP(r)) {
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}
	var req createSnippetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.AuthorID) == "" {
		writeError(w, http.StatusBadRequest, errors.New("authorId is required"))
		return
	}
	snippet := storage.Snippet{
		ID:          uuid.NewString(),
		Title:       req.Title,
		Description: req.Description,
		Language:    req.Language,
		Code:        req.Code,
		Tags:        req.Tags,
		AuthorID:    req.AuthorID,
	}
	if err := s.store.CreateSnippet(r.Context(), snippet); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	// Codes are short and collisions possible; retry a few times before
	// giving up.
	var shareCode string
	for attempt := 0; attempt < 5; attempt++ {
		code := generateShareCode()
		if err := s.store.CreateShareCode(r.Context(), code, snippet.ID); err != nil {
			if errors.Is(err, storage.ErrCodeTaken) {
				continue
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		shareCode = code
		break
	}
	if shareCode == "" {
		writeError(w, http.StatusInternalServerError, errors.New("could not allocate share code"))
		return
	}

	s.metrics.IncSnippetCreated()
	dto := snippetToDTO(&snippet)
	dto.ShareCode = shareCode
	writeJSON(w, http.StatusCreated, dto)
}

func (s *Server) handleListSnippets(w http.ResponseWriter, r *http.Request) {
	authorID := strings.TrimSpace(r.URL.Query().Get("author"))
	if authorID == "" {
		writeError(w, http.StatusBadRequest, errors.New("author query param required"))
		return
	}
	snippets, err := s.store.ListSnippetsByAuthor(r.Context(), authorID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	dtos := make([]SnippetDTO, 0, len(snippets))
	for i := range snippets {
		dtos = append(dtos, snippetToDTO(&snippets[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (s *Server) HandleSnippetByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/api/snippets/"))
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.handleGetSnippet(w, r, id)
	case http.MethodPut:
		s.handleUpdateSnippet(w, r, id)
	case http.MethodDelete:
		s.handleDeleteSnippet(w, r, id)
	default:
		methodNotAllowed(w, "GET, PUT, DELETE")
	}
}

func (s *Server) handleGetSnippet(w http.ResponseWriter, r *http.Request, id string) {
	snippet, err := s.store.GetSnippet(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	dto := snippetToDTO(snippet)
	if code, err := s.store.ShareCodeFor(r.Context(), id); err == nil {
		dto.ShareCode = code
	}
	writeJSON(w, http.StatusOK, dto)
}

func (s *Server) handleUpdateSnippet(w http.ResponseWriter, r *http.Request, id string) {
	var req updateSnippetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	snippet, err := s.store.UpdateSnippet(r.Context(), id, storage.SnippetUpdate{
		Title:       req.Title,
		Description: req.Description,
		Language:    req.Language,
		Code:        req.Code,
		Tags:        req.Tags,
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, snippetToDTO(snippet))
}

func (s *Server) handleDeleteSnippet(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.store.DeleteSnippet(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) HandleShareCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	code := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/api/share/"))
	if code == "" {
		writeError(w, http.StatusBadRequest, errors.New("share code required"))
		return
	}
	snippet, err := s.store.ResolveShareCode(r.Context(), code)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	dto := snippetToDTO(snippet)
	dto.ShareCode = code
	writeJSON(w, http.StatusOK, dto)
}

func (s *Server) HandleRoomExists(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")
	if room == "" {
		http.Error(w, "missing room", http.StatusBadRequest)
		return
	}
	if s.hub.Exists(room) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
		return
	}
	// A persisted snippet's room exists even when nobody is connected.
	if _, err := s.store.GetSnippet(r.Context(), room); err == nil {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
		return
	}
	http.Error(w, "not found", http.StatusNotFound)
}

func (s *Server) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func snippetToDTO(snippet *storage.Snippet) SnippetDTO {
	return SnippetDTO{
		ID:          snippet.ID,
		Title:       snippet.Title,
		Description: snippet.Description,
		Language:    snippet.Language,
		Code:        snippet.Code,
		Tags:        snippet.Tags,
		AuthorID:    snippet.AuthorID,
		CreatedAt:   snippet.CreatedAt.UnixMilli(),
		UpdatedAt:   snippet.UpdatedAt.UnixMilli(),
	}
}

// generateShareCode mints a short, url-safe, unambiguous room code.
func generateShareCode() string {
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		return strings.ToUpper(uuid.NewString()[:8])
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)[:8]
}

func decodeJSON(r *http.Request, out interface{}) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
