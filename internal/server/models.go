package server

import (
	"net/http"
	"time"
)

// handleListModels aggregates the cached model list of every enabled,
// non-passthrough provider and returns an OpenAI-compatible model list.
func (s *server) handleListModels(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeJSON(w, http.StatusOK, modelListResponse{Object: "list", Data: []modelEntry{}})
		return
	}
	providers, err := s.deps.Store.ListProviders(r.Context())
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}

	now := time.Now().Unix()
	seen := make(map[string]bool)
	var data []modelEntry
	for _, p := range providers {
		if !p.Enabled || p.Passthrough {
			continue
		}
		for _, m := range p.Models {
			if seen[m] {
				continue
			}
			seen[m] = true
			data = append(data, modelEntry{ID: m, Object: "model", Created: now, OwnedBy: p.ID})
		}
	}
	if data == nil {
		data = []modelEntry{}
	}

	writeJSON(w, http.StatusOK, modelListResponse{Object: "list", Data: data})
}

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type modelListResponse struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}
