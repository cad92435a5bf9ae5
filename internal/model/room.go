package model

import "time"

// Room 表示一个文件共享房间的对外快照。
// Members 按加入顺序排列，保证前端渲染的确定性。
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	JoinCode  string    `json:"joinCode"`
	Members   []User    `json:"members"`
	CreatedAt time.Time `json:"createdAt"`
}
