// Package coordinator 遊戲房間協調器
//
// 系統設計問題：
//
//	兩位玩家與任意數量的觀戰者同時操作同一個房間，
//	如何保證座位與回合的不變量，又不讓不同房間互相拖慢？
//
// 核心挑戰：
//  1. 兩個人同時搶最後一個座位，必須剛好一個成功
//  2. 棋鐘耗盡要在次秒級延遲內判定，且不可重複觸發
//  3. 房間結束或銷毀後不可留下任何計時器
//  4. 讀取（快照、觀察）不可阻塞寫入
//
// 設計方案：
//
//	✅ 房間鎖：每個房間一把互斥鎖，所有變更（加入、離開、換手、表情）序列化
//	✅ 註冊表讀寫鎖：只保護 code → 房間的對應，操作期間不持有
//	✅ 不可變快照：每次變更後發布新版本（atomic.Pointer），讀取不加房間鎖
//	✅ 每回合一個計時器：time.AfterFunc 加上世代號，過期回呼自動失效
//	✅ 表情 TTL：懶淘汰加上掃描迴圈，掃描間隔即為最大超時量
//	✅ 不變量斷言：被破壞時 panic，由協調器 recover 後記錄並銷毀該房間
//
// 生命週期：
//
//	CreateRoom ──► waiting ──JoinRoom──► active ──棋鐘耗盡/認輸/引擎判定──► finished
//	                  │                     │
//	                  │ 離開 / 逾時          │ 離開 / 斷線逾時
//	                  ▼                     ▼
//	               （銷毀）               abandoned
//
//	終局後雙方確認（或 TerminalGrace 到期）即銷毀房間。
//
// 使用範例：
//
//	c := coordinator.New(coordinator.DefaultConfig(), logger)
//	defer c.Stop()
//
//	ref, _ := c.CreateRoom(game.TicTacToe, presence.Profile{Name: "Alice"})
//	_, _ = c.JoinRoom(ref.Code, presence.Profile{Name: "Bob"})
//	move, err := c.AdvanceTurn(ref.Code, 0)
package coordinator
