// Package server 房間協調器的 HTTP 與 WebSocket 介面
//
// 系統設計問題：
//
//	前端只需要兩件事：發出指令（建房、加入、行動、表情），
//	以及持續看到房間的最新狀態。
//
// 設計方案 ✅：
//
//	指令走 HTTP JSON（也可以走 WebSocket 訊框），結果由協調器序列化執行；
//	狀態走 WebSocket，推送協調器發布的快照，客戶端照著渲染。
//	伺服器不信任客戶端宣稱的座位：每個變更都檢查 player_id 確實坐在該座位。
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/koopa0/system-design/14-game-room/internal/coordinator"
	"github.com/koopa0/system-design/14-game-room/internal/game"
	"github.com/koopa0/system-design/14-game-room/internal/metrics"
	"github.com/koopa0/system-design/14-game-room/internal/presence"
	"github.com/koopa0/system-design/14-game-room/internal/reaction"
	"github.com/koopa0/system-design/14-game-room/internal/roomcode"
	apperrors "github.com/koopa0/system-design/14-game-room/pkg/errors"
	"github.com/koopa0/system-design/14-game-room/pkg/logger"
)

// errCodeRateLimited 限流錯誤碼（只在 HTTP 層出現）
const errCodeRateLimited = "RATE_LIMITED"

// maxBodyBytes 請求內容上限
const maxBodyBytes = 8 << 10

// Options HTTP 層選項
type Options struct {
	// PublicBaseURL 分享連結的前綴
	PublicBaseURL string
	// CORSAllow 允許的來源；空代表不加 CORS 標頭
	CORSAllow []string
	// RequestsPerSecond 每個 IP 的請求速率；<= 0 不限流
	RequestsPerSecond float64
	Burst             int
	// FramesPerSecond 每條 WebSocket 連線的訊框速率；<= 0 不限流
	FramesPerSecond float64
	FrameBurst      int
}

// Handler HTTP 請求處理器
type Handler struct {
	coord   *coordinator.Coordinator
	logger  *slog.Logger
	metrics *metrics.Metrics
	opts    Options
	limiter *ipLimiter
}

// NewHandler 創建 HTTP 處理器
func NewHandler(coord *coordinator.Coordinator, logger *slog.Logger, m *metrics.Metrics, opts Options) *Handler {
	return &Handler{
		coord:   coord,
		logger:  logger,
		metrics: m,
		opts:    opts,
		limiter: newIPLimiter(opts.RequestsPerSecond, opts.Burst),
	}
}

// register 設定 API 路由
func (h *Handler) register(mux *http.ServeMux) {
	// 中間件鏈
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	mux.HandleFunc("GET /api/v1/games", wrap(h.listGames))

	// 房間 API
	mux.HandleFunc("POST /api/v1/rooms", wrap(h.createRoom))
	mux.HandleFunc("GET /api/v1/rooms/{code}", wrap(h.getRoom))
	mux.HandleFunc("POST /api/v1/rooms/{code}/join", wrap(h.joinRoom))
	mux.HandleFunc("POST /api/v1/rooms/{code}/leave", wrap(h.leaveRoom))
	mux.HandleFunc("POST /api/v1/rooms/{code}/turn", wrap(h.advanceTurn))
	mux.HandleFunc("POST /api/v1/rooms/{code}/reactions", wrap(h.sendReaction))
	mux.HandleFunc("POST /api/v1/rooms/{code}/resign", wrap(h.resign))
	mux.HandleFunc("POST /api/v1/rooms/{code}/ack", wrap(h.acknowledge))

	mux.HandleFunc("POST /api/v1/matchmaking", wrap(h.findOpponent))
	mux.HandleFunc("GET /api/v1/links/resolve", wrap(h.resolveLink))

	// 健康檢查
	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))
	mux.Handle("GET /metrics", h.metrics.Handler())
}

// 請求結構
type profileRequest struct {
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
	Rating     int    `json:"rating"`
}

func (p profileRequest) profile() presence.Profile {
	return presence.Profile{ID: p.PlayerID, Name: p.PlayerName, Rating: p.Rating}
}

type createRoomRequest struct {
	Game string `json:"game"`
	profileRequest
}

type seatRequest struct {
	PlayerID string `json:"player_id"`
	Seat     *int   `json:"seat"`
}

type reactionRequest struct {
	seatRequest
	Symbol string `json:"symbol"`
}

type resolveResponse struct {
	roomcode.Ref
	State string `json:"state"`
	Open  bool   `json:"open"`
}

// roomResponse 建房 / 加入 / 配對的回應
type roomResponse struct {
	coordinator.RoomRef
	Link     string               `json:"link"`
	Snapshot coordinator.Snapshot `json:"snapshot"`
}

// listGames 支援的遊戲
func (h *Handler) listGames(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"games":     game.Catalog(),
		"reactions": reaction.Alphabet,
	}, http.StatusOK)
}

// createRoom 創建房間
func (h *Handler) createRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if !h.decode(w, r, &req) {
		return
	}

	kind, ok := game.ParseKind(req.Game)
	if !ok {
		h.errorResponse(w, apperrors.ErrInvalidInput.WithDetails("unknown game kind"))
		return
	}

	ref, err := h.coord.CreateRoom(kind, req.profile())
	if err != nil {
		h.errorResponse(w, err)
		return
	}
	h.roomResponse(w, ref, http.StatusCreated)
}

// getRoom 房間快照
func (h *Handler) getRoom(w http.ResponseWriter, r *http.Request) {
	snap, err := h.coord.Snapshot(r.PathValue("code"))
	if err != nil {
		h.errorResponse(w, err)
		return
	}
	h.jsonResponse(w, snap, http.StatusOK)
}

// joinRoom 以代碼加入房間
func (h *Handler) joinRoom(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if !h.decode(w, r, &req) {
		return
	}

	ref, err := h.coord.JoinRoom(r.PathValue("code"), req.profile())
	if err != nil {
		h.errorResponse(w, err)
		return
	}
	h.roomResponse(w, ref, http.StatusOK)
}

// leaveRoom 離開房間
func (h *Handler) leaveRoom(w http.ResponseWriter, r *http.Request) {
	code, seat, ok := h.authorizedSeat(w, r, nil)
	if !ok {
		return
	}
	if err := h.coord.LeaveRoom(code, seat); err != nil {
		h.errorResponse(w, err)
		return
	}
	h.jsonResponse(w, map[string]any{"success": true}, http.StatusOK)
}

// advanceTurn 結束自己的回合
func (h *Handler) advanceTurn(w http.ResponseWriter, r *http.Request) {
	code, seat, ok := h.authorizedSeat(w, r, nil)
	if !ok {
		return
	}
	move, err := h.coord.AdvanceTurn(code, seat)
	if err != nil {
		h.errorResponse(w, err)
		return
	}
	h.jsonResponse(w, move, http.StatusOK)
}

// sendReaction 送出表情
func (h *Handler) sendReaction(w http.ResponseWriter, r *http.Request) {
	var req reactionRequest
	code, seat, ok := h.authorizedSeat(w, r, &req)
	if !ok {
		return
	}
	if err := h.coord.SendReaction(code, seat, reaction.Symbol(req.Symbol)); err != nil {
		h.errorResponse(w, err)
		return
	}
	h.jsonResponse(w, map[string]any{"success": true}, http.StatusAccepted)
}

// resign 認輸
func (h *Handler) resign(w http.ResponseWriter, r *http.Request) {
	code, seat, ok := h.authorizedSeat(w, r, nil)
	if !ok {
		return
	}
	if err := h.coord.Resign(code, seat); err != nil {
		h.errorResponse(w, err)
		return
	}
	h.jsonResponse(w, map[string]any{"success": true}, http.StatusOK)
}

// acknowledge 確認看到終局
func (h *Handler) acknowledge(w http.ResponseWriter, r *http.Request) {
	code, seat, ok := h.authorizedSeat(w, r, nil)
	if !ok {
		return
	}
	if err := h.coord.Acknowledge(code, seat); err != nil {
		h.errorResponse(w, err)
		return
	}
	h.jsonResponse(w, map[string]any{"success": true}, http.StatusOK)
}

// findOpponent 依積分配對
func (h *Handler) findOpponent(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if !h.decode(w, r, &req) {
		return
	}

	kind, ok := game.ParseKind(req.Game)
	if !ok {
		h.errorResponse(w, apperrors.ErrInvalidInput.WithDetails("unknown game kind"))
		return
	}

	ref, err := h.coord.FindOpponent(r.Context(), kind, req.profile())
	if err != nil {
		h.errorResponse(w, err)
		return
	}

	status := http.StatusOK
	if ref.Created {
		status = http.StatusCreated
	}
	h.roomResponse(w, ref, status)
}

// resolveLink 把分享連結解析回房間
func (h *Handler) resolveLink(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		h.errorResponse(w, apperrors.ErrInvalidInput.WithDetails("url is required"))
		return
	}

	ref, err := roomcode.ParseLink(raw)
	if err != nil {
		h.errorResponse(w, apperrors.ErrInvalidInput.WithDetails(err.Error()))
		return
	}

	snap, err := h.coord.Snapshot(ref.Code)
	if err != nil {
		h.errorResponse(w, err)
		return
	}
	if snap.Game != ref.Game {
		h.errorResponse(w, apperrors.ErrInvalidInput.WithDetails("link game does not match room"))
		return
	}

	h.jsonResponse(w, resolveResponse{Ref: ref, State: string(snap.State), Open: snap.Open}, http.StatusOK)
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
	}, http.StatusOK)
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, h.coord.Stats(), http.StatusOK)
}

// decode 解析 JSON 請求；失敗時已寫好錯誤回應
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.errorResponse(w, apperrors.ErrInvalidInput.WithDetails("malformed request body"))
		return false
	}
	return true
}

// authorizedSeat 解析座位請求並確認玩家坐在該座位
//
// req 為 nil 時使用 seatRequest；其他請求型別需內嵌 seatRequest。
func (h *Handler) authorizedSeat(w http.ResponseWriter, r *http.Request, req interface{ seat() seatRequest }) (string, int, bool) {
	var plain seatRequest
	if req == nil {
		req = &plain
	}
	if !h.decode(w, r, req) {
		return "", 0, false
	}

	sr := req.seat()
	if sr.Seat == nil || sr.PlayerID == "" {
		h.errorResponse(w, apperrors.ErrInvalidInput.WithDetails("player_id and seat are required"))
		return "", 0, false
	}

	code := r.PathValue("code")
	if err := h.coord.Authorize(code, sr.PlayerID, *sr.Seat); err != nil {
		h.errorResponse(w, err)
		return "", 0, false
	}
	return roomcode.Normalize(code), *sr.Seat, true
}

func (s *seatRequest) seat() seatRequest { return *s }

// roomResponse 附上分享連結與快照
func (h *Handler) roomResponse(w http.ResponseWriter, ref coordinator.RoomRef, status int) {
	link, err := roomcode.Link(h.opts.PublicBaseURL, ref.Code, ref.Game)
	if err != nil {
		h.logger.Warn("無法產生分享連結", "code", ref.Code, "error", err)
	}
	snap, err := h.coord.Snapshot(ref.Code)
	if err != nil {
		// 房間可能在回應前就被銷毀（例如逾時），照實回報
		h.errorResponse(w, err)
		return
	}
	h.jsonResponse(w, roomResponse{RoomRef: ref, Link: link, Snapshot: snap}, status)
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	writeJSON(w, h.logger, data, status)
}

// errorResponse 依錯誤碼返回錯誤響應
func (h *Handler) errorResponse(w http.ResponseWriter, err error) {
	writeError(w, h.logger, err)
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("編碼 JSON 失敗", "error", err)
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	writeJSON(w, logger, map[string]any{"error": errorBody(logger, err)}, StatusOf(err))
}

// errorBody 錯誤的 JSON 表示；內部錯誤的細節不外露
func errorBody(logger *slog.Logger, err error) map[string]any {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		logger.Error("未預期的錯誤", "error", err)
		appErr = apperrors.ErrInternal
	}

	body := map[string]any{
		"code":    appErr.Code,
		"message": appErr.Message,
	}
	if appErr.Details != "" && appErr.Code != apperrors.ErrCodeInternal {
		body["details"] = appErr.Details
	}
	return body
}

// rateLimited 429 回應
func (h *Handler) rateLimited(w http.ResponseWriter) {
	h.jsonResponse(w, map[string]any{
		"error": map[string]any{
			"code":    errCodeRateLimited,
			"message": "too many requests",
		},
	}, http.StatusTooManyRequests)
}

// StatusOf 錯誤碼對應的 HTTP 狀態
func StatusOf(err error) int {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrCodeRoomNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeRoomFull,
		apperrors.ErrCodeNotYourTurn,
		apperrors.ErrCodeRoomNotActive,
		apperrors.ErrCodeSeatAlreadyOccupied:
		return http.StatusConflict
	case apperrors.ErrCodeRoomTerminal:
		return http.StatusGone
	case apperrors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case apperrors.ErrCodeForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// loggerMiddleware 日誌中間件（附上 request_id）
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		ctx := logger.WithRequestID(r.Context(), requestID)
		if code := r.PathValue("code"); code != "" {
			ctx = logger.WithRoomCode(ctx, roomcode.Normalize(code))
		}
		r = r.WithContext(ctx)

		// 包裝 ResponseWriter 以獲取狀態碼
		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(ww, r)

		h.logger.InfoContext(ctx, "HTTP 請求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("處理請求時發生 panic",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)

				h.errorResponse(w, apperrors.ErrInternal)
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
