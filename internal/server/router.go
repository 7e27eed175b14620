package server

import (
	"net/http"

	"github.com/rs/cors"
)

// Routes 組合 HTTP API 與 WebSocket 路由
//
// 全域中間件：CORS → 每 IP 限流 → 路由。
// WebSocket 升級不經過限流（連線內的訊框另外限流）。
func Routes(h *Handler, hub *WebSocketHub) http.Handler {
	api := http.NewServeMux()
	h.register(api)

	mux := http.NewServeMux()
	mux.Handle("/", h.limiter.middleware(api, h.rateLimited))
	if hub != nil {
		mux.HandleFunc("GET /ws/rooms/{code}", hub.ServeWS)
	}

	if len(h.opts.CORSAllow) == 0 {
		return mux
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   h.opts.CORSAllow,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
	})
	return c.Handler(mux)
}
