package model

import "time"

// 在线状态枚举
const (
	StatusOnline  = "online"
	StatusAway    = "away"
	StatusBusy    = "busy"
	StatusOffline = "offline"
)

// 消息类型枚举
const (
	MsgTypeText      = "text"
	MsgTypeAIInsight = "ai_insight"
	MsgTypeSystem    = "system"
	MsgTypeCommand   = "command"
	MsgTypeFile      = "file"
)

// 讨论组类型枚举
const (
	ThreadTypeGeneral    = "general"
	ThreadTypeAIWorkflow = "ai_workflow"
	ThreadTypeUrgent     = "urgent"
)

// User 对应 t_user 表，由外部招聘系统维护，聊天核心只读
type User struct {
	UserID      string `gorm:"primaryKey;column:user_id;type:varchar(64);not null"`
	DisplayName string `gorm:"column:display_name;type:varchar(128);not null"`
	Role        string `gorm:"column:role;type:varchar(32);default:'recruiter'"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Team 对应 t_team 表
type Team struct {
	TeamID    string `gorm:"primaryKey;column:team_id;type:varchar(64);not null"`
	Name      string `gorm:"column:name;type:varchar(128);not null"`
	CreatedAt time.Time
}

// TeamMember 对应 t_team_member 表
type TeamMember struct {
	TeamID    string `gorm:"primaryKey;column:team_id;type:varchar(64);not null"`
	UserID    string `gorm:"primaryKey;column:user_id;type:varchar(64);not null;index:idx_team_member_user"`
	Role      string `gorm:"column:role;type:varchar(32);default:'member'"`
	CreatedAt time.Time
}

// Thread 对应 t_thread 表，即聊天频道；只归档不硬删除
type Thread struct {
	ThreadID       string    `gorm:"primaryKey;column:thread_id;type:varchar(64);not null"`
	TeamID         string    `gorm:"column:team_id;type:varchar(64);not null;index:idx_thread_team"`
	Name           string    `gorm:"column:name;type:varchar(128);not null"`
	Description    string    `gorm:"column:description;type:varchar(512)"`
	Type           string    `gorm:"column:type;type:varchar(32);default:'general'"`
	Priority       string    `gorm:"column:priority;type:varchar(16);default:'normal'"`
	AIEnabled      bool      `gorm:"column:ai_enabled;default:false"`
	CreatorID      string    `gorm:"column:creator_id;type:varchar(64);not null"`
	Archived       bool      `gorm:"column:archived;default:false"`
	LastActivityAt time.Time `gorm:"column:last_activity_at"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ThreadMember 对应 t_thread_member 表
// 不变量：只有存在成员记录的用户才能读写该讨论组
type ThreadMember struct {
	ThreadID   string     `gorm:"primaryKey;column:thread_id;type:varchar(64);not null"`
	UserID     string     `gorm:"primaryKey;column:user_id;type:varchar(64);not null;index:idx_thread_member_user"`
	Role       string     `gorm:"column:role;type:varchar(32);default:'member'"` // admin / member
	LastReadAt *time.Time `gorm:"column:last_read_at"`                           // nil 表示从未读过
	Muted      bool       `gorm:"column:muted;default:false"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Message 对应 t_message 表
// 发送者昵称/角色在写入时冗余一份，避免用户资料变更后改写历史
type Message struct {
	MsgID      int64          `gorm:"primaryKey;column:msg_id;type:bigint;autoIncrement:false"`
	ThreadID   string         `gorm:"column:thread_id;type:varchar(64);not null;index:idx_msg_thread_created,priority:1"`
	SenderID   string         `gorm:"column:sender_id;type:varchar(64);not null"`
	SenderName string         `gorm:"column:sender_name;type:varchar(128);not null"`
	SenderRole string         `gorm:"column:sender_role;type:varchar(32)"`
	Content    string         `gorm:"column:content;type:text"`
	MsgType    string         `gorm:"column:msg_type;type:varchar(32);default:'text'"`
	Metadata   map[string]any `gorm:"column:metadata;type:jsonb;serializer:json"`
	ReplyToID  *int64         `gorm:"column:reply_to_id;type:bigint"`
	Edited     bool           `gorm:"column:edited;default:false"`
	CreatedAt  time.Time      `gorm:"index:idx_msg_thread_created,priority:2"`
	UpdatedAt  time.Time

	Reactions []Reaction `gorm:"foreignKey:MsgID;references:MsgID"`
}

// Reaction 对应 t_reaction 表
// 唯一约束 (msg_id, user_id, emoji) 是 toggle 语义的保证
type Reaction struct {
	ID        int64  `gorm:"primaryKey;column:id;autoIncrement"`
	MsgID     int64  `gorm:"column:msg_id;type:bigint;not null;uniqueIndex:uniq_msg_user_emoji,priority:1"`
	UserID    string `gorm:"column:user_id;type:varchar(64);not null;uniqueIndex:uniq_msg_user_emoji,priority:2"`
	Emoji     string `gorm:"column:emoji;type:varchar(32);not null;uniqueIndex:uniq_msg_user_emoji,priority:3"`
	CreatedAt time.Time
}

// Presence 对应 t_presence 表，每个用户恰好一行（upsert 语义）
type Presence struct {
	UserID   string    `gorm:"primaryKey;column:user_id;type:varchar(64);not null"`
	Status   string    `gorm:"column:status;type:varchar(16);default:'offline'"`
	Activity string    `gorm:"column:activity;type:varchar(255)"`
	LastSeen time.Time `gorm:"column:last_seen"`
}

// Notification 对应 t_notification 表
type Notification struct {
	ID        int64          `gorm:"primaryKey;column:id;autoIncrement"`
	UserID    string         `gorm:"column:user_id;type:varchar(64);not null;index:idx_notify_user_read,priority:1"`
	Type      string         `gorm:"column:type;type:varchar(32);not null"` // mention / task_assigned / ...
	Title     string         `gorm:"column:title;type:varchar(255)"`
	Content   string         `gorm:"column:content;type:text"`
	Payload   map[string]any `gorm:"column:payload;type:jsonb;serializer:json"`
	IsRead    bool           `gorm:"column:is_read;default:false;index:idx_notify_user_read,priority:2"`
	CreatedAt time.Time
}

// TableName overrides the default table name
func (User) TableName() string         { return "t_user" }
func (Team) TableName() string         { return "t_team" }
func (TeamMember) TableName() string   { return "t_team_member" }
func (Thread) TableName() string       { return "t_thread" }
func (ThreadMember) TableName() string { return "t_thread_member" }
func (Message) TableName() string      { return "t_message" }
func (Reaction) TableName() string     { return "t_reaction" }
func (Presence) TableName() string     { return "t_presence" }
func (Notification) TableName() string { return "t_notification" }

// AllModels 返回所有需要迁移的模型
func AllModels() []any {
	return []any{
		&User{},
		&Team{},
		&TeamMember{},
		&Thread{},
		&ThreadMember{},
		&Message{},
		&Reaction{},
		&Presence{},
		&Notification{},
	}
}
