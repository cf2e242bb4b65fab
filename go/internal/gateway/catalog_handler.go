package gateway

import (
	"context"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/zwl098/yusic/go/clients"
	"github.com/zwl098/yusic/go/internal/models"
)

// Catalog is the subset of the music catalog the HTTP proxy exposes
type Catalog interface {
	Search(ctx context.Context, source models.Source, keyword string, limit, page int) (*clients.CatalogResponse, error)
	SongURL(ctx context.Context, key models.TrackKey) (*clients.CatalogResponse, error)
	SongInfo(ctx context.Context, key models.TrackKey) (*clients.CatalogResponse, error)
}

// CatalogHandler proxies catalog lookups so browsers never talk to the
// catalog directly.
type CatalogHandler struct {
	catalog Catalog
}

func NewCatalogHandler(catalog Catalog) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

// HandleSearch handles GET /api/music/search?keyword=&source=&limit=&page=
func (h *CatalogHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	keyword := q.Get("keyword")
	if keyword == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "keyword is required"})
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	page, _ := strconv.Atoi(q.Get("page"))

	resp, err := h.catalog.Search(r.Context(), models.Source(q.Get("source")), keyword, limit, page)
	h.reply(w, resp, err)
}

// HandleSongURL handles GET /api/music/url?source=&id=
func (h *CatalogHandler) HandleSongURL(w http.ResponseWriter, r *http.Request) {
	key, ok := trackKeyQuery(w, r)
	if !ok {
		return
	}
	resp, err := h.catalog.SongURL(r.Context(), key)
	h.reply(w, resp, err)
}

// HandleSongInfo handles GET /api/music/info?source=&id=
func (h *CatalogHandler) HandleSongInfo(w http.ResponseWriter, r *http.Request) {
	key, ok := trackKeyQuery(w, r)
	if !ok {
		return
	}
	resp, err := h.catalog.SongInfo(r.Context(), key)
	h.reply(w, resp, err)
}

// HandleSources handles GET /api/music/sources
func (h *CatalogHandler) HandleSources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, clients.GetSources())
}

// RegisterCatalogRoutes registers the catalog proxy routes
func (h *CatalogHandler) RegisterCatalogRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/music/search", h.HandleSearch)
	mux.HandleFunc("GET /api/music/url", h.HandleSongURL)
	mux.HandleFunc("GET /api/music/info", h.HandleSongInfo)
	mux.HandleFunc("GET /api/music/sources", h.HandleSources)
}

func (h *CatalogHandler) reply(w http.ResponseWriter, resp *clients.CatalogResponse, err error) {
	if err != nil {
		log.Warn().Err(err).Msg("catalog request failed")
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "catalog_unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func trackKeyQuery(w http.ResponseWriter, r *http.Request) (models.TrackKey, bool) {
	q := r.URL.Query()
	source := models.Source(q.Get("source"))
	if source == "" {
		source = clients.DefaultSource()
	}
	key := models.TrackKey{Source: source, ID: q.Get("id")}
	if err := key.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_track_key"})
		return models.TrackKey{}, false
	}
	return key, true
}
