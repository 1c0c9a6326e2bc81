package api

import (
	"net/http"
)

// 25 MB covers a full hour of compressed session audio.
const maxAudioUploadBytes = 25 << 20

// createTranscription accepts a multipart audio upload and returns the raw
// transcript. The caller feeds the text into the process endpoint afterwards.
func (s *Server) createTranscription(w http.ResponseWriter, r *http.Request) {
	if s.transcriber == nil {
		writeError(w, http.StatusServiceUnavailable, "transcription is not configured")
		return
	}

	if err := r.ParseMultipartForm(maxAudioUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart upload: %v", err)
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	result, err := s.transcriber.Transcribe(r.Context(), header.Filename, file)
	if err != nil {
		s.logger.Error("transcription failed", "filename", header.Filename, "error", err)
		writeError(w, http.StatusBadGateway, "transcription failed: %v", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"text":             result.Text,
		"duration_seconds": result.DurationSeconds,
		"estimated_tokens": result.EstimatedTokens,
	})
}
