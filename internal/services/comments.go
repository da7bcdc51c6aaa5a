package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// more 节点单次展开的 ID 上限，Reddit 接口限制为 100
const moreBatchSize = 100

// moreChildrenEnvelope /api/morechildren 的响应外壳
type moreChildrenEnvelope struct {
	JSON struct {
		Data struct {
			Things []listingChild `json:"things"`
		} `json:"data"`
	} `json:"json"`
}

// FetchComments 拉取帖子的评论树并展平为列表
// 先取评论页，再分批展开 more 节点，最多返回 limit 条，limit 为 0 时不限；
// 展开出的评论追加在初始评论树之后，取满 limit 后不再继续展开
func (c *RedditClient) FetchComments(ctx context.Context, postID string, limit int) ([]RawComment, error) {
	reqURL := fmt.Sprintf("%s/comments/%s.json", c.baseURL, url.PathEscape(postID))

	// 评论接口返回两个 listing：帖子本体和评论树
	var pages []listingEnvelope
	if err := c.getJSON(ctx, reqURL, &pages); err != nil {
		return nil, err
	}
	if len(pages) < 2 {
		return nil, fmt.Errorf("评论响应格式异常: 期望 2 个 listing，实际 %d 个", len(pages))
	}

	var comments []RawComment
	var moreIDs []string
	c.collectComments(pages[1].Data.Children, &comments, &moreIDs, limit)

	// 逐批展开 more 节点，直到取满或没有剩余
	for len(moreIDs) > 0 && (limit <= 0 || len(comments) < limit) {
		if err := ctx.Err(); err != nil {
			return comments, err
		}
		batch := moreIDs
		if len(batch) > moreBatchSize {
			batch = batch[:moreBatchSize]
		}
		moreIDs = moreIDs[len(batch):]

		things, err := c.fetchMoreChildren(ctx, postID, batch)
		if err != nil {
			// 展开失败不影响已取到的评论
			c.logger.Printf("展开帖子 %s 的更多评论失败: %v", postID, err)
			break
		}
		c.collectComments(things, &comments, &moreIDs, limit)
	}

	if limit > 0 && len(comments) > limit {
		comments = comments[:limit]
	}
	return comments, nil
}

// collectComments 深度优先展平评论树
// t1 节点收集并递归其回复，more 节点记下待展开的 ID
func (c *RedditClient) collectComments(children []listingChild, out *[]RawComment, moreIDs *[]string, limit int) {
	for _, ch := range children {
		if limit > 0 && len(*out) >= limit {
			return
		}
		switch ch.Kind {
		case "t1":
			var rc RawComment
			if err := json.Unmarshal(ch.Data, &rc); err != nil {
				c.logger.Printf("解析评论数据失败，跳过: %v", err)
				continue
			}
			replies := rc.Replies
			rc.Replies = nil
			*out = append(*out, rc)

			// 无回复时 replies 是空字符串，有回复时是嵌套 listing
			if len(replies) > 0 && replies[0] == '{' {
				var sub listingEnvelope
				if err := json.Unmarshal(replies, &sub); err == nil {
					c.collectComments(sub.Data.Children, out, moreIDs, limit)
				}
			}
		case "more":
			var rc RawComment
			if err := json.Unmarshal(ch.Data, &rc); err == nil {
				*moreIDs = append(*moreIDs, rc.Children...)
			}
		}
	}
}

// fetchMoreChildren 展开一批 more 节点引用的评论
func (c *RedditClient) fetchMoreChildren(ctx context.Context, postID string, ids []string) ([]listingChild, error) {
	q := url.Values{}
	q.Set("api_type", "json")
	q.Set("link_id", "t3_"+postID)
	q.Set("children", strings.Join(ids, ","))

	reqURL := fmt.Sprintf("%s/api/morechildren.json?%s", c.baseURL, q.Encode())
	var env moreChildrenEnvelope
	if err := c.getJSON(ctx, reqURL, &env); err != nil {
		return nil, err
	}
	return env.JSON.Data.Things, nil
}
