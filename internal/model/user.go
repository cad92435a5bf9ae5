// Package model 定义了应用的核心领域结构体。
package model

import "time"

// User 表示一个已加入服务的在线用户。
// 用户仅存在于进程内，进程重启后由客户端重新加入。
type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	JoinedAt    time.Time `json:"joinedAt"`
}
