// internal/api/handlers.go
package api

import (
	"encoding/base64"
	stderrors "errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"themesync/internal/errors"
	"themesync/internal/logging"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	xrate "golang.org/x/time/rate"
)

// HeaderCallLimit reports the bucket fill as "current/max" on every response.
const HeaderCallLimit = "X-Shopify-Shop-Api-Call-Limit"

type Theme struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

type Asset struct {
	Key        string    `json:"key"`
	Value      string    `json:"value,omitempty"`
	Attachment string    `json:"attachment,omitempty"`
	Size       int       `json:"size"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store keeps themes and their assets in memory.
type Store struct {
	mu     sync.RWMutex
	themes map[int64]Theme
	assets map[int64]map[string]Asset
}

func NewStore() *Store {
	return &Store{
		themes: make(map[int64]Theme),
		assets: make(map[int64]map[string]Asset),
	}
}

func (s *Store) AddTheme(t Theme) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.themes[t.ID] = t
	if s.assets[t.ID] == nil {
		s.assets[t.ID] = make(map[string]Asset)
	}
}

// Themes returns all themes ordered by id.
func (s *Store) Themes() []Theme {
	s.mu.RLock()
	defer s.mu.RUnlock()
	themes := make([]Theme, 0, len(s.themes))
	for _, t := range s.themes {
		themes = append(themes, t)
	}
	sort.Slice(themes, func(i, j int) bool { return themes[i].ID < themes[j].ID })
	return themes
}

func (s *Store) Asset(themeID int64, key string) (Asset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assets[themeID][key]
	return a, ok
}

// Keys returns the asset keys of a theme in lexical order.
func (s *Store) Keys(themeID int64) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.assets[themeID]))
	for k := range s.assets[themeID] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Store) Put(themeID int64, a Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.themes[themeID]; !ok {
		return errors.NotFound(fmt.Sprintf("theme not found: %d", themeID))
	}
	s.assets[themeID][a.Key] = a
	return nil
}

func (s *Store) Delete(themeID int64, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.themes[themeID]; !ok {
		return errors.NotFound(fmt.Sprintf("theme not found: %d", themeID))
	}
	if _, ok := s.assets[themeID][key]; !ok {
		return errors.NotFound(fmt.Sprintf("asset not found: %s", key))
	}
	delete(s.assets[themeID], key)
	return nil
}

// CallLimiter is the leaky bucket behind the call-limit header. Each call adds one to the
// bucket, which drains at leak calls per second.
type CallLimiter struct {
	max     int
	limiter *xrate.Limiter
	now     func() time.Time
}

func NewCallLimiter(limit int, leak float64) *CallLimiter {
	return &CallLimiter{
		max:     limit,
		limiter: xrate.NewLimiter(xrate.Limit(leak), limit),
		now:     time.Now,
	}
}

// Take admits one call. It returns the bucket level after the call and whether the call
// was admitted.
func (l *CallLimiter) Take() (current int, ok bool) {
	now := l.now()
	ok = l.limiter.AllowN(now, 1)
	return l.level(now), ok
}

func (l *CallLimiter) level(now time.Time) int {
	used := float64(l.max) - l.limiter.TokensAt(now)
	return int(math.Min(float64(l.max), math.Max(0, math.Ceil(used))))
}

func (l *CallLimiter) Max() int {
	return l.max
}

// AssetHandler serves the subset of the admin API the sync client uses.
type AssetHandler struct {
	store   *Store
	limiter *CallLimiter
	key     string
	pass    string
	logger  *logging.Logger
}

// NewAssetHandler requires basic auth when key is set. limiter may be nil.
func NewAssetHandler(store *Store, limiter *CallLimiter, key, pass string, logger *logging.Logger) *AssetHandler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &AssetHandler{store: store, limiter: limiter, key: key, pass: pass, logger: logger}
}

// Routes registers the endpoints below prefix, e.g. "/admin".
func (h *AssetHandler) Routes(mux *http.ServeMux, prefix string) {
	mux.HandleFunc("GET "+prefix+"/themes.json", h.guard(h.ListThemes))
	mux.HandleFunc("PUT "+prefix+"/themes/{id}/assets.json", h.guard(h.UpdateAsset))
	mux.HandleFunc("DELETE "+prefix+"/themes/{id}/assets.json", h.guard(h.DeleteAsset))
}

// guard applies auth and the call limit before next.
func (h *AssetHandler) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.key != "" {
			user, pass, ok := r.BasicAuth()
			if !ok || user != h.key || pass != h.pass {
				writeError(w, errors.Unauthorized("invalid API key or access token"))
				return
			}
		}

		if h.limiter != nil {
			current, ok := h.limiter.Take()
			w.Header().Set(HeaderCallLimit, fmt.Sprintf("%d/%d", current, h.limiter.Max()))
			if !ok {
				h.logger.WithRequestID(r.Context()).Warn("call limit exceeded",
					zap.String("path", r.URL.Path),
				)
				w.Header().Set("Retry-After", "1.0")
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"errors": "Exceeded call limit"})
				return
			}
		}

		next(w, r)
	}
}

func (h *AssetHandler) ListThemes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]Theme{"themes": h.store.Themes()})
}

func (h *AssetHandler) UpdateAsset(w http.ResponseWriter, r *http.Request) {
	themeID, err := themeIDFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Asset assetUpdate `json:"asset"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.ValidationError("invalid request body", nil))
		return
	}

	a, err := validateAsset(req.Asset)
	if err != nil {
		writeError(w, err)
		return
	}
	a.UpdatedAt = time.Now()

	if err := h.store.Put(themeID, a); err != nil {
		writeError(w, err)
		return
	}

	h.logger.WithRequestID(r.Context()).Debug("asset updated",
		zap.Int64("theme_id", themeID),
		zap.String("key", a.Key),
		zap.Int("size", a.Size),
	)

	a.Value, a.Attachment = "", ""
	writeJSON(w, http.StatusOK, map[string]Asset{"asset": a})
}

func (h *AssetHandler) DeleteAsset(w http.ResponseWriter, r *http.Request) {
	themeID, err := themeIDFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}

	key := r.URL.Query().Get("asset[key]")
	if key == "" {
		writeError(w, errors.ValidationError("asset key is required", nil))
		return
	}

	if err := h.store.Delete(themeID, key); err != nil {
		writeError(w, err)
		return
	}

	h.logger.WithRequestID(r.Context()).Debug("asset deleted",
		zap.Int64("theme_id", themeID),
		zap.String("key", key),
	)
	writeJSON(w, http.StatusOK, map[string]string{"message": key + " was successfully deleted"})
}

func themeIDFrom(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, errors.NotFound("theme not found: " + r.PathValue("id"))
	}
	return id, nil
}

// assetUpdate is the request form of an asset. A present but empty value
// is distinct from a missing one.
type assetUpdate struct {
	Key        string  `json:"key"`
	Value      *string `json:"value"`
	Attachment *string `json:"attachment"`
}

// validateAsset checks the key and payload and fills in Size.
func validateAsset(u assetUpdate) (Asset, error) {
	if u.Key == "" {
		return Asset{}, errors.ValidationError("asset key is required", nil)
	}
	// Assets always live in a theme folder such as "templates/".
	if strings.HasPrefix(u.Key, "/") || !strings.Contains(u.Key, "/") {
		return Asset{}, errors.ValidationError("key is invalid", map[string]string{"key": u.Key})
	}

	a := Asset{Key: u.Key}
	switch {
	case u.Value != nil && u.Attachment != nil:
		return Asset{}, errors.ValidationError("only one of value or attachment may be set", nil)
	case u.Attachment != nil:
		data, err := base64.StdEncoding.DecodeString(*u.Attachment)
		if err != nil {
			return Asset{}, errors.ValidationError("attachment is not valid base64", nil)
		}
		a.Attachment, a.Size = *u.Attachment, len(data)
	case u.Value != nil:
		a.Value, a.Size = *u.Value, len(*u.Value)
	default:
		return Asset{}, errors.ValidationError("value or attachment is required", map[string]string{"key": u.Key})
	}
	return a, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.TypeOf(err) {
	case errors.ErrorTypeNotFound:
		status = http.StatusNotFound
	case errors.ErrorTypeValidation:
		status = http.StatusUnprocessableEntity
	case errors.ErrorTypeUnauthorized:
		status = http.StatusUnauthorized
	}

	body := map[string]any{"errors": err.Error()}
	var e *errors.Error
	if stderrors.As(err, &e) && e.Details != nil {
		body["errors"] = map[string]any{"message": e.Message, "details": e.Details}
	}
	writeJSON(w, status, body)
}
