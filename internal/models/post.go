package models

// UnknownAuthor 作者被删除或匿名时写入的占位用户名
const UnknownAuthor = "N/A"

// CreatedUTCLayout 帖子和评论创建时间的存储格式（UTC，无时区后缀）
const CreatedUTCLayout = "2006-01-02T15:04:05"

// Post Reddit 帖子归档记录
// 帖子一经写入不再更新，也不由本系统删除
type Post struct {
	ID          string `gorm:"primaryKey" json:"id"`                 // Reddit 帖子 ID (base36)
	Title       string `gorm:"type:text;not null" json:"title"`      // 标题
	Description string `gorm:"type:text" json:"description"`         // 正文 selftext，可为空
	MediaURL    string `gorm:"type:text" json:"media_url"`           // 外部媒体链接，可为空
	PostURL     string `gorm:"uniqueIndex;not null" json:"post_url"` // 帖子规范 URL，全局唯一
	NumComments int    `gorm:"not null" json:"num_comments"`         // 上游统计的评论数
	Score       int    `gorm:"not null" json:"score"`                // 得分，可为负
	Username    string `gorm:"not null" json:"username"`             // 作者，缺失时为 UnknownAuthor
	CreatedUTC  string `gorm:"index:idx_created_utc;not null" json:"created_utc"`
	Subreddit   string `gorm:"index:idx_subreddit;not null" json:"subreddit"`
	// 上游 listing 的 subreddit 字段含逗号时为 true（跨版块 listing）
	IsMultipleSubreddits bool `gorm:"default:false" json:"is_multiple_subreddits"`

	// 关联评论，删除帖子时级联删除
	Comments []Comment `gorm:"foreignKey:PostID;references:ID;constraint:OnDelete:CASCADE" json:"comments,omitempty"`
}
