// Package preview serves generated site payloads as renderable HTML so the
// capture stage can screenshot and probe the rebuild exactly like the
// reference site. Every block is emitted with data-block-id and
// data-block-type markers; those markers are what make the rebuild probeable.
package preview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"visualqa/internal/artifacts"
)

// PayloadSource resolves the current payload for a site key.
type PayloadSource func(siteKey string) (*artifacts.Payload, error)

// Server is one render server bound to one port.
type Server struct {
	port   int
	source PayloadSource
	log    *zap.Logger

	srv      *http.Server
	listener net.Listener
}

// NewServer builds an unstarted server.
func NewServer(port int, source PayloadSource, log *zap.Logger) *Server {
	return &Server{port: port, source: source, log: log}
}

// Router exposes the HTTP surface, also usable directly in tests.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/render", s.handleRender)
	r.Get("/payload.json", s.handlePayload)
	return r
}

// Start binds the port and serves in the background. Returning without error
// means the listener is accepting.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(s.port)))
	if err != nil {
		return fmt.Errorf("bind preview port %d: %w", s.port, err)
	}
	s.listener = ln
	s.srv = &http.Server{Handler: s.Router()}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("preview server stopped", zap.Error(err))
		}
	}()
	s.log.Info("preview server listening", zap.Int("port", s.port))
	return nil
}

// Shutdown stops the server and releases the port.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// URL is the server's base URL.
func (s *Server) URL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", s.port)
}

// RenderURL is the address the capture stage screenshots for one page.
func (s *Server) RenderURL(siteKey, page string) string {
	return fmt.Sprintf("%s/render?siteKey=%s&page=%s", s.URL(), siteKey, page)
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	siteKey := r.URL.Query().Get("siteKey")
	if siteKey == "" {
		http.Error(w, "siteKey is required", http.StatusBadRequest)
		return
	}
	payload, err := s.source(siteKey)
	if err != nil {
		s.log.Warn("payload unavailable", zap.String("siteKey", siteKey), zap.Error(err))
		http.Error(w, "payload unavailable", http.StatusNotFound)
		return
	}
	page, ok := payload.Page(r.URL.Query().Get("page"))
	if !ok {
		http.Error(w, "unknown page", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, pageView{SiteKey: siteKey, Page: page}); err != nil {
		s.log.Error("render failed", zap.String("siteKey", siteKey), zap.Error(err))
	}
}

func (s *Server) handlePayload(w http.ResponseWriter, r *http.Request) {
	siteKey := r.URL.Query().Get("siteKey")
	if siteKey == "" {
		http.Error(w, "siteKey is required", http.StatusBadRequest)
		return
	}
	payload, err := s.source(siteKey)
	if err != nil {
		http.Error(w, "payload unavailable", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("payload encode failed", zap.Error(err))
	}
}

type pageView struct {
	SiteKey string
	Page    artifacts.PayloadPage
}

// pageTemplate keeps the rendering deliberately plain: block identity and
// coarse structure matter here, pixel styling comes from the generated CSS
// props when present.
var pageTemplate = template.Must(template.New("page").Funcs(template.FuncMap{
	"prop": func(b artifacts.PayloadBlock, key string) string {
		if v, ok := b.Props[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
		return ""
	},
	"list": func(b artifacts.PayloadBlock, key string) []string {
		raw, ok := b.Props[key]
		if !ok {
			return nil
		}
		items, ok := raw.([]any)
		if !ok {
			return nil
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	},
}).Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Page.Title}}</title>
<style>
body { margin: 0; font-family: system-ui, sans-serif; }
section[data-block-id] { padding: 48px 24px; min-height: 120px; }
</style>
</head>
<body>
<main data-site-key="{{.SiteKey}}">
{{- range .Page.Blocks}}
<section data-block-id="{{.BlockID}}" data-block-type="{{.BlockType}}">
{{- with prop . "headline"}}<h2 data-role="title">{{.}}</h2>{{end}}
{{- with prop . "text"}}<p>{{.}}</p>{{end}}
{{- range list . "items"}}<p>{{.}}</p>{{end}}
{{- range list . "buttons"}}<button>{{.}}</button>{{end}}
{{- range list . "images"}}<img src="{{.}}" alt="">{{end}}
</section>
{{- end}}
</main>
</body>
</html>
`))
