package server

import (
	"net/http"
)

// handleTunnelStart starts the tunnel helper process, provisioning a
// tunnel identity first if none exists yet.
func (s *server) handleTunnelStart(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tunnel == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse("tunnel is not configured"))
		return
	}
	if err := s.deps.Tunnel.Start(r.Context()); err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, tunnelStatusBody{State: string(s.deps.Tunnel.State())})
}

func (s *server) handleTunnelStop(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tunnel == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse("tunnel is not configured"))
		return
	}
	s.deps.Tunnel.Stop(r.Context())
	writeJSON(w, http.StatusOK, tunnelStatusBody{State: string(s.deps.Tunnel.State())})
}

type tunnelStatusBody struct {
	State string `json:"state"`
}

// handleTunnelCheckHelper reports whether the cloudflared-compatible
// helper binary is resolvable. It calls the same Locate as
// handleTunnelDownloadHelper, so a binary that is not bundled, installed or
// on PATH is downloaded before the answer is written.
func (s *server) handleTunnelCheckHelper(w http.ResponseWriter, r *http.Request) {
	if s.deps.TunnelLocator == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse("tunnel is not configured"))
		return
	}
	path, err := s.deps.TunnelLocator.Locate(r.Context())
	if err != nil {
		writeJSON(w, http.StatusOK, struct {
			Present bool `json:"present"`
		}{Present: false})
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Present bool   `json:"present"`
		Path    string `json:"path"`
	}{Present: true, Path: path})
}

// handleTunnelDownloadHelper forces helper resolution, which falls through
// to a download when the binary isn't bundled or already on PATH.
func (s *server) handleTunnelDownloadHelper(w http.ResponseWriter, r *http.Request) {
	if s.deps.TunnelLocator == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse("tunnel is not configured"))
		return
	}
	path, err := s.deps.TunnelLocator.Locate(r.Context())
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Path string `json:"path"`
	}{Path: path})
}
