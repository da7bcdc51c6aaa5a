package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"hongcang/internal/models"
)

// PermalinkBase 帖子规范 URL 的固定前缀
const PermalinkBase = "https://www.reddit.com"

// ErrMissingField 原始数据缺少必需字段
var ErrMissingField = errors.New("缺少必需字段")

// ExtractPost 把原始帖子数据转换成入库模型
// subreddit 记请求的版块名，跨版块标记则看上游自带的 subreddit 字段；
// 必需字段缺失时返回错误，由调用方跳过该帖；作者缺失不算错误，
// 用占位名代替
func ExtractPost(raw *RawPost, subreddit string) (models.Post, error) {
	switch {
	case raw.ID == "":
		return models.Post{}, fmt.Errorf("%w: id", ErrMissingField)
	case raw.Title == nil:
		return models.Post{}, fmt.Errorf("%w: title (帖子 %s)", ErrMissingField, raw.ID)
	case raw.Permalink == nil:
		return models.Post{}, fmt.Errorf("%w: permalink (帖子 %s)", ErrMissingField, raw.ID)
	case raw.NumComments == nil:
		return models.Post{}, fmt.Errorf("%w: num_comments (帖子 %s)", ErrMissingField, raw.ID)
	case raw.Score == nil:
		return models.Post{}, fmt.Errorf("%w: score (帖子 %s)", ErrMissingField, raw.ID)
	case raw.CreatedUTC == nil:
		return models.Post{}, fmt.Errorf("%w: created_utc (帖子 %s)", ErrMissingField, raw.ID)
	}

	return models.Post{
		ID:                   raw.ID,
		Title:                *raw.Title,
		Description:          raw.SelfText,
		MediaURL:             raw.URL,
		PostURL:              PermalinkBase + *raw.Permalink,
		NumComments:          *raw.NumComments,
		Score:                *raw.Score,
		Username:             authorName(raw.Author),
		CreatedUTC:           formatCreatedUTC(*raw.CreatedUTC),
		Subreddit:            subreddit,
		IsMultipleSubreddits: strings.Contains(raw.Subreddit, ","),
	}, nil
}

// ExtractComment 把原始评论数据转换成入库模型
func ExtractComment(raw *RawComment) (models.Comment, error) {
	switch {
	case raw.ID == "":
		return models.Comment{}, fmt.Errorf("%w: id", ErrMissingField)
	case raw.Body == nil:
		return models.Comment{}, fmt.Errorf("%w: body (评论 %s)", ErrMissingField, raw.ID)
	case raw.Score == nil:
		return models.Comment{}, fmt.Errorf("%w: score (评论 %s)", ErrMissingField, raw.ID)
	case raw.CreatedUTC == nil:
		return models.Comment{}, fmt.Errorf("%w: created_utc (评论 %s)", ErrMissingField, raw.ID)
	}

	return models.Comment{
		CommentID:  raw.ID,
		Username:   authorName(raw.Author),
		Body:       *raw.Body,
		Score:      *raw.Score,
		CreatedUTC: formatCreatedUTC(*raw.CreatedUTC),
	}, nil
}

// authorName 作者被删除或匿名时退回占位名
func authorName(author *string) string {
	if author == nil || *author == "" {
		return models.UnknownAuthor
	}
	return *author
}

// formatCreatedUTC 把 Unix 时间戳转成入库时间格式
func formatCreatedUTC(sec float64) string {
	return time.Unix(int64(sec), 0).UTC().Format(models.CreatedUTCLayout)
}
