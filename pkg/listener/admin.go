// Copyright 2024-2026 Aiku AI

package listener

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"go.mau.fi/util/exhttp"
)

// PluginAdmin is the part of the plugin runtime exposed over the admin API.
type PluginAdmin interface {
	Reload(ctx context.Context) (loaded, removed int)
	ClearCache() (int, error)
	Count() int
	Identifiers() []string
}

type AdminAPI struct {
	log     zerolog.Logger
	plugins PluginAdmin
}

// NewAdminAPI creates the admin API. plugins is nil when plugins are
// disabled, in which case every plugin endpoint answers 503.
func NewAdminAPI(plugins PluginAdmin, log zerolog.Logger) *AdminAPI {
	return &AdminAPI{
		log:     log.With().Str("component", "admin_api").Logger(),
		plugins: plugins,
	}
}

func (a *AdminAPI) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/plugins", a.HandleListPlugins)
	mux.HandleFunc("POST /api/reload-plugins", a.HandleReloadPlugins)
	mux.HandleFunc("POST /api/clear-plugin-cache", a.HandleClearPluginCache)
	return withLogging(mux, a.log)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *AdminAPI) available(w http.ResponseWriter) bool {
	if a.plugins == nil {
		exhttp.WriteJSONResponse(w, http.StatusServiceUnavailable, errorResponse{Error: "plugins are disabled"})
		return false
	}
	return true
}

// HandleListPlugins is an HTTP handler for GET /api/plugins.
func (a *AdminAPI) HandleListPlugins(w http.ResponseWriter, r *http.Request) {
	if !a.available(w) {
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, map[string]any{
		"plugins": a.plugins.Identifiers(),
	})
}

// HandleReloadPlugins is an HTTP handler for POST /api/reload-plugins. It
// rescans the plugin directory and swaps in everything that still loads.
func (a *AdminAPI) HandleReloadPlugins(w http.ResponseWriter, r *http.Request) {
	if !a.available(w) {
		return
	}
	hlog.FromRequest(r).Info().Str("remote_addr", r.RemoteAddr).Msg("Plugin reload requested")
	loaded, removed := a.plugins.Reload(r.Context())
	exhttp.WriteJSONResponse(w, http.StatusOK, map[string]int{
		"loaded":  loaded,
		"removed": removed,
		"total":   a.plugins.Count(),
	})
}

// HandleClearPluginCache is an HTTP handler for POST /api/clear-plugin-cache.
// Loaded plugins keep running, they are recompiled on their next reload.
func (a *AdminAPI) HandleClearPluginCache(w http.ResponseWriter, r *http.Request) {
	if !a.available(w) {
		return
	}
	removed, err := a.plugins.ClearCache()
	if err != nil {
		hlog.FromRequest(r).Err(err).Msg("Failed to clear plugin cache")
		exhttp.WriteJSONResponse(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, map[string]int{"removed": removed})
}
