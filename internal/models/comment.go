package models

// Comment 帖子下的评论归档记录，含展开后的回复
type Comment struct {
	ID         uint   `gorm:"primaryKey" json:"id"`                   // 自增主键
	CommentID  string `gorm:"uniqueIndex;not null" json:"comment_id"` // Reddit 评论 ID，全局唯一
	PostID     string `gorm:"not null;index" json:"post_id"`          // 所属帖子 ID
	Username   string `json:"username"`                               // 作者，缺失时为 UnknownAuthor
	Body       string `gorm:"type:text;not null" json:"body"`
	Score      int    `gorm:"not null" json:"score"`
	CreatedUTC string `gorm:"not null" json:"created_utc"`
}
