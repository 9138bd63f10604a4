package zuultest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/andrejsstepanovs/zuul-build/models"
)

// NewEmbeddingServer serves an ollama style /api/embed endpoint that embeds
// each input with fn.
func NewEmbeddingServer(fn func(text string) models.Embedding) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		var req models.EmbeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, models.EmbeddingResponse{
			Model:      req.Model,
			Embeddings: []models.Embedding{fn(req.Input)},
		})
	}))
}
