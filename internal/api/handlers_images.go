package api

import (
	"net/http"
	"strconv"

	"github.com/lox/extremetemps/internal/imagegen"
	"github.com/lox/extremetemps/internal/metrics"
)

// handleInsightCard renders the insight for a window as a PNG card. Cards
// are cached on disk by insight identity and severity; concurrent requests
// for the same card share one render.
func (s *Server) handleInsightCard(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r)
	p := readWindow(q)
	if err := s.bind(q, &p); err != nil {
		s.writeError(w, r, err)
		return
	}

	in, err := s.insights.Insight(r.Context(), p.request())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	key := imagegen.KeyFor(*in)
	if s.cards != nil {
		if data, ok := s.cards.Get(key); ok {
			s.serveCard(w, data, "hit")
			return
		}
	}

	v, err, _ := s.render.Do(key.String(), func() (any, error) {
		data, err := imagegen.RenderInsightCard(*in)
		if err != nil {
			return nil, err
		}
		if s.cards != nil {
			if err := s.cards.Set(key, data); err != nil {
				s.logger.Warn("imagegen: cache card", "key", key.String(), "error", err)
			}
		}
		return data, nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.serveCard(w, v.([]byte), "miss")
}

func (s *Server) serveCard(w http.ResponseWriter, data []byte, cache string) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("X-Cache", cache)
	metrics.CardRequestsTotal.WithLabelValues(cache).Inc()
	_, _ = w.Write(data)
}
