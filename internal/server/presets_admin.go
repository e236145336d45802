package server

import "net/http"

func (s *server) handleGetPresetProviders(w http.ResponseWriter, r *http.Request) {
	if s.deps.Presets == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse("presets are not configured"))
		return
	}
	providers, err := s.deps.Presets.GetProviders(r.Context())
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, providers)
}

func (s *server) handleGetPresetAdapters(w http.ResponseWriter, r *http.Request) {
	if s.deps.Presets == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse("presets are not configured"))
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Presets.GetAdapters())
}

func (s *server) handleRefreshPresets(w http.ResponseWriter, r *http.Request) {
	if s.deps.Presets == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse("presets are not configured"))
		return
	}
	catalog, err := s.deps.Presets.Refresh(r.Context())
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, catalog)
}
