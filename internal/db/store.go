package db

import (
	"context"
	"log"

	"hongcang/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SaveSummary 一次落库的结果统计
type SaveSummary struct {
	PostsInserted     int `json:"posts_inserted"`
	PostsDuplicate    int `json:"posts_duplicate"`
	PostsFailed       int `json:"posts_failed"`
	CommentsInserted  int `json:"comments_inserted"`
	CommentsDuplicate int `json:"comments_duplicate"`
}

// Add 累加另一份统计
func (s *SaveSummary) Add(o SaveSummary) {
	s.PostsInserted += o.PostsInserted
	s.PostsDuplicate += o.PostsDuplicate
	s.PostsFailed += o.PostsFailed
	s.CommentsInserted += o.CommentsInserted
	s.CommentsDuplicate += o.CommentsDuplicate
}

// Store 帖子和评论的幂等落库层
type Store struct {
	db     *gorm.DB
	logger *log.Logger
}

// NewStore 创建落库层，logger 为 nil 时退回默认日志器
func NewStore(gdb *gorm.DB, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{db: gdb, logger: logger}
}

// SavePosts 逐帖落库，每个帖子一个事务
// 单帖失败只回滚该帖并继续处理后续帖子，ctx 取消时在帖子边界停止，
// 进行中的事务会先完成
func (s *Store) SavePosts(ctx context.Context, posts []models.Post) (SaveSummary, error) {
	var sum SaveSummary
	for i := range posts {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		inserted, cIns, cDup, err := s.savePost(&posts[i])
		if err != nil {
			sum.PostsFailed++
			s.logger.Printf("Failed to save post %s: %v", posts[i].ID, err)
			continue
		}
		if inserted {
			sum.PostsInserted++
		} else {
			sum.PostsDuplicate++
			s.logger.Printf("Post %s already exists, skipping insert", posts[i].ID)
		}
		sum.CommentsInserted += cIns
		sum.CommentsDuplicate += cDup
	}
	return sum, nil
}

// savePost 在单个事务内写入帖子及其评论
// 帖子按 id 或 post_url 判重，评论按 comment_id 判重；
// 帖子已存在时仍会补写缺失的评论
func (s *Store) savePost(post *models.Post) (inserted bool, cIns, cDup int, err error) {
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Post{}).
			Where("id = ? OR post_url = ?", post.ID, post.PostURL).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			if err := tx.Omit(clause.Associations).Create(post).Error; err != nil {
				return err
			}
			inserted = true
		}

		for i := range post.Comments {
			c := &post.Comments[i]
			var dup int64
			if err := tx.Model(&models.Comment{}).
				Where("comment_id = ?", c.CommentID).
				Count(&dup).Error; err != nil {
				return err
			}
			if dup > 0 {
				cDup++
				continue
			}
			c.PostID = post.ID
			if err := tx.Create(c).Error; err != nil {
				return err
			}
			cIns++
		}
		return nil
	})
	if err != nil {
		// 事务已回滚，本帖统计全部作废
		return false, 0, 0, err
	}
	return inserted, cIns, cDup, nil
}

// CountPosts 当前帖子总数
func (s *Store) CountPosts(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Post{}).Count(&n).Error
	return n, err
}

// CountComments 当前评论总数
func (s *Store) CountComments(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Comment{}).Count(&n).Error
	return n, err
}

// RecentPosts 按创建时间倒序返回最近的帖子
func (s *Store) RecentPosts(ctx context.Context, limit int) ([]models.Post, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var posts []models.Post
	err := s.db.WithContext(ctx).
		Order("created_utc DESC").
		Limit(limit).
		Find(&posts).Error
	return posts, err
}
