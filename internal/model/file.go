package model

import "time"

// StoredFile 定义了 stored_file 表的 ORM 模型，同时也是目录查询的返回结构。
// ContentRefs 按分片顺序保存块存储中的内容引用，文件本身不持有任何原始字节。
type StoredFile struct {
	ID          string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	RoomID      string    `gorm:"type:varchar(36);index;not null" json:"roomId"`
	Name        string    `gorm:"type:varchar(255);not null" json:"name"`
	Size        int64     `gorm:"not null" json:"size"`
	MimeType    string    `gorm:"type:varchar(100)" json:"mimeType"`
	UploadedBy  string    `gorm:"type:varchar(36);not null" json:"uploadedBy"`
	Timestamp   time.Time `gorm:"not null" json:"timestamp"`
	ContentRefs []string  `gorm:"serializer:json;type:text" json:"-"`
	// Seq 是仓储内部的插入序号，用于相同时间戳下的稳定排序。
	Seq uint64 `gorm:"autoIncrement;uniqueIndex" json:"-"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (StoredFile) TableName() string {
	return "stored_file"
}
