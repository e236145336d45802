package server

import (
	"net/http"

	"github.com/relayhq/bridge/internal/importexport"
)

// handleConfigExport returns the current provider/proxy/mapping/settings
// configuration as a downloadable JSON document, suitable for re-import
// via handleConfigImport on this or another installation.
func (s *server) handleConfigExport(w http.ResponseWriter, r *http.Request) {
	doc, err := importexport.Export(r.Context(), s.deps.Store)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	data, err := importexport.Marshal(doc)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="relayd-config.json"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *server) handleConfigImport(w http.ResponseWriter, r *http.Request) {
	strategy := importexport.Strategy(r.URL.Query().Get("strategy"))
	if strategy == "" {
		strategy = importexport.StrategySkip
	}
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	doc, err := importexport.Unmarshal(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	result, err := importexport.Import(r.Context(), s.deps.Store, doc, strategy)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
