package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/page-scraper/internal/scraper"
)

type scrapeRequest struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

type scrapeResponse struct {
	scraper.ScrapeResult
	LinksArtifactRef  string `json:"links_artifact_ref,omitempty"`
	ImagesArtifactRef string `json:"images_artifact_ref,omitempty"`
}

// decodeScrapeRequest reads the JSON body shared by scrape and test-scrape. It writes a 400 and
// returns false when the body is unusable.
func (s *Server) decodeScrapeRequest(w http.ResponseWriter, r *http.Request) (scraper.ScrapeRequest, bool) {
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return scraper.ScrapeRequest{}, false
	}
	if req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "url required")
		return scraper.ScrapeRequest{}, false
	}
	headers := make(http.Header, len(req.Headers))
	for k, v := range req.Headers {
		headers.Set(k, v)
	}
	return scraper.ScrapeRequest{URL: req.URL, Headers: headers}, true
}

func (s *Server) scrape(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeScrapeRequest(w, r)
	if !ok {
		return
	}

	result, err := s.scraper.Scrape(r.Context(), req)
	if err != nil {
		var fetchErr *scraper.FetchError
		if errors.As(err, &fetchErr) {
			s.writeJSON(w, http.StatusBadGateway, scrapeResponse{ScrapeResult: result})
			return
		}
		s.logger.Warn("scrape failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("url", req.URL),
			zap.Error(err),
		)
		s.writeError(w, statusFor(err), err.Error())
		return
	}

	resp := scrapeResponse{ScrapeResult: result}
	if result.LinksFile != "" {
		resp.LinksArtifactRef = "/api/download/" + result.SessionID + "/" + result.LinksFile
	}
	if result.ImagesCount > 0 {
		resp.ImagesArtifactRef = "/api/images/" + result.SessionID
	}
	s.writeJSON(w, http.StatusOK, resp)
}
