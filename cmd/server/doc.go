// Command server 雙人遊戲房間服務器
//
// 玩家選一款遊戲、建立房間並分享連結，第二位玩家以代碼加入後開始對局。
// 房間狀態完全放在記憶體，由房間協調器序列化管理。
//
// # HTTP API
//
//	GET  /api/v1/games                    支援的遊戲與表情
//	POST /api/v1/rooms                    建立私人房間
//	GET  /api/v1/rooms/{code}             房間快照
//	POST /api/v1/rooms/{code}/join        以代碼加入
//	POST /api/v1/rooms/{code}/leave       離開
//	POST /api/v1/rooms/{code}/turn        結束自己的回合
//	POST /api/v1/rooms/{code}/reactions   送出表情
//	POST /api/v1/rooms/{code}/resign      認輸
//	POST /api/v1/rooms/{code}/ack         確認終局
//	POST /api/v1/matchmaking              依積分配對
//	GET  /api/v1/links/resolve?url=...    解析分享連結
//	GET  /health  /stats  /metrics
//
// # WebSocket
//
//	GET /ws/rooms/{code}?player_id=...&seat=0
//
// 伺服器推送 {"event":"snapshot","data":{...}} 與 {"event":"reaction",...}；客戶端送
// {"type":"reaction","symbol":"🔥"}、{"type":"turn"}、{"type":"resign"}、
// {"type":"ack"}、{"type":"ping"}。沒有 seat 的連線只能觀戰。
//
// # 配置
//
// 以 -config 或 CONFIG_PATH 指定 YAML 配置檔（範例見 configs/config.yaml），
// 常用環境變數：
//   - HTTP_ADDR：監聽位址（預設 :8080）
//   - LOG_LEVEL / LOG_FORMAT：debug|info|warn|error、text|json
//   - REDIS_ADDR：設定後啟用跨實例快照轉發
//   - NATS_URL：設定後發布房間生命週期事件（rooms.{code}.{type}）
//   - PUBLIC_BASE_URL：分享連結的前綴
//
// 啟動：
//
//	go run ./cmd/server -config configs/config.yaml
package main
