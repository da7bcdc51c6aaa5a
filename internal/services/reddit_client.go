package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"hongcang/internal/config"
)

// 支持的帖子排序类型，relevance 走搜索接口
var validPostTypes = map[string]bool{
	"hot":       true,
	"new":       true,
	"top":       true,
	"rising":    true,
	"relevance": true,
}

// 支持的时间过滤器
var validTimeFilters = map[string]bool{
	"hour":  true,
	"day":   true,
	"week":  true,
	"month": true,
	"year":  true,
	"all":   true,
}

// ListingParams 一次 listing 请求的参数
type ListingParams struct {
	Subreddit   string
	PostType    string // hot / new / top / rising / relevance
	TimeFilter  string // hour / day / week / month / year / all
	SearchQuery string // relevance 类型必填
	After       string // 翻页游标，上一页最后一条的 fullname
	Limit       int    // 单页条数
}

// Validate 校验请求参数，不合法时直接报错，不发起任何请求
func (p *ListingParams) Validate() error {
	if p.Subreddit == "" {
		return fmt.Errorf("subreddit 不能为空")
	}
	if !validPostTypes[p.PostType] {
		return fmt.Errorf("不支持的帖子类型: %q", p.PostType)
	}
	if p.TimeFilter != "" && !validTimeFilters[p.TimeFilter] {
		return fmt.Errorf("不支持的时间过滤器: %q", p.TimeFilter)
	}
	if p.PostType == "relevance" && strings.TrimSpace(p.SearchQuery) == "" {
		return fmt.Errorf("relevance 类型必须提供搜索词")
	}
	return nil
}

// RawPost listing 接口返回的帖子原始字段
// 必需字段用指针区分缺失和零值
type RawPost struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"` // fullname，形如 t3_abc123
	Title       *string  `json:"title"`
	SelfText    string   `json:"selftext"`
	URL         string   `json:"url"`
	Permalink   *string  `json:"permalink"`
	NumComments *int     `json:"num_comments"`
	Score       *int     `json:"score"`
	Author      *string  `json:"author"`
	CreatedUTC  *float64 `json:"created_utc"`
	Subreddit   string   `json:"subreddit"`
}

// Fullname 返回帖子的 fullname，作为翻页游标
func (p *RawPost) Fullname() string {
	if p.Name != "" {
		return p.Name
	}
	return "t3_" + p.ID
}

// RawComment 评论接口返回的评论原始字段
// kind 为 more 时只有 Children 有值
type RawComment struct {
	ID         string          `json:"id"`
	Author     *string         `json:"author"`
	Body       *string         `json:"body"`
	Score      *int            `json:"score"`
	CreatedUTC *float64        `json:"created_utc"`
	Replies    json.RawMessage `json:"replies"`  // 嵌套 listing，无回复时为空字符串
	Children   []string        `json:"children"` // more 节点待展开的评论 ID
}

// listingEnvelope Reddit listing 响应的固定外壳
type listingEnvelope struct {
	Kind string      `json:"kind"`
	Data listingData `json:"data"`
}

type listingData struct {
	Children []listingChild `json:"children"`
	After    string         `json:"after"`
}

type listingChild struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// httpStatusError 非 200 状态码错误
type httpStatusError struct {
	code int
	url  string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("HTTP 状态码: %d (%s)", e.code, e.url)
}

// isTransient 判断错误是否值得重试
// 网络错误、响应解析错误、429 和 5xx 视为瞬时错误，其余 4xx 直接失败
func isTransient(err error) bool {
	var se *httpStatusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return true
}

// uaTransport 给所有出站请求补上 User-Agent
// Reddit 对缺失 UA 的客户端限流非常激进
type uaTransport struct {
	base http.RoundTripper
	ua   string
}

func (t *uaTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", t.ua)
	return t.base.RoundTrip(clone)
}

// RedditClient 带限速和重试的 Reddit API 客户端
type RedditClient struct {
	httpClient *http.Client
	baseURL    string
	rateDelay  time.Duration
	maxRetries int
	logger     *log.Logger

	// 凭据模式下的令牌源，匿名模式为 nil
	tokenSource oauth2.TokenSource

	// 休眠函数，测试时可替换
	sleep func(ctx context.Context, d time.Duration)
}

// NewRedditClient 创建客户端实例，logger 为 nil 时退回默认日志器
// 配置了凭据时走 OAuth 应用令牌，否则匿名访问公开 JSON 接口
func NewRedditClient(cfg *config.Config, logger *log.Logger) *RedditClient {
	if logger == nil {
		logger = log.Default()
	}

	httpClient := &http.Client{
		Timeout: 30 * time.Second, // 30 秒超时
		Transport: &uaTransport{
			base: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				MaxIdleConnsPerHost: 2,
			},
			ua: cfg.UserAgent,
		},
	}

	c := &RedditClient{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(cfg.RedditBaseURL, "/"),
		rateDelay:  cfg.RateDelay(),
		maxRetries: cfg.MaxAPIRetries,
		logger:     logger,
		sleep:      sleepCtx,
	}

	if cfg.HasCredentials() {
		conf := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     strings.TrimSuffix(cfg.RedditAuthURL, "/") + "/api/v1/access_token",
			AuthStyle:    oauth2.AuthStyleInHeader,
		}
		// 令牌请求也要带 UA，复用同一个 HTTP 客户端
		tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
		c.tokenSource = conf.TokenSource(tokenCtx)
	}
	return c
}

// sleepCtx 可被 ctx 取消的休眠
func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// FetchListing 拉取一页帖子 listing
// 返回帖子列表和响应里的翻页游标
func (c *RedditClient) FetchListing(ctx context.Context, p ListingParams) ([]RawPost, string, error) {
	if err := p.Validate(); err != nil {
		return nil, "", err
	}

	var env listingEnvelope
	if err := c.getJSON(ctx, c.listingURL(p), &env); err != nil {
		return nil, "", err
	}

	posts := make([]RawPost, 0, len(env.Data.Children))
	for _, ch := range env.Data.Children {
		if ch.Kind != "t3" {
			continue
		}
		var rp RawPost
		if err := json.Unmarshal(ch.Data, &rp); err != nil {
			c.logger.Printf("解析帖子数据失败，跳过: %v", err)
			continue
		}
		posts = append(posts, rp)
	}
	return posts, env.Data.After, nil
}

// listingURL 拼接 listing 请求地址
func (c *RedditClient) listingURL(p ListingParams) string {
	q := url.Values{}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.After != "" {
		q.Set("after", p.After)
	}

	var path string
	if p.PostType == "relevance" {
		// 相关性排序走版块内搜索接口
		path = fmt.Sprintf("%s/r/%s/search.json", c.baseURL, p.Subreddit)
		q.Set("q", p.SearchQuery)
		q.Set("sort", "relevance")
		q.Set("restrict_sr", "1")
		if p.TimeFilter != "" {
			q.Set("t", p.TimeFilter)
		}
	} else {
		path = fmt.Sprintf("%s/r/%s/%s.json", c.baseURL, p.Subreddit, p.PostType)
		// 时间过滤只对 top 排序有意义
		if p.PostType == "top" && p.TimeFilter != "" {
			q.Set("t", p.TimeFilter)
		}
	}
	return path + "?" + q.Encode()
}

// getJSON 发起 GET 请求并解析 JSON，带指数退避重试
// 退避时长为 rateDelay * 2^attempt，重试 maxRetries 次后放弃
func (c *RedditClient) getJSON(ctx context.Context, rawURL string, out any) error {
	for attempt := 0; ; attempt++ {
		err := c.doOnce(ctx, rawURL, out)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isTransient(err) {
			return err
		}
		if attempt >= c.maxRetries {
			return fmt.Errorf("重试 %d 次后仍然失败: %w", c.maxRetries, err)
		}
		backoff := c.rateDelay * (1 << attempt)
		c.logger.Printf("请求失败 (第 %d 次): %v，%v 后重试", attempt+1, err, backoff)
		c.sleep(ctx, backoff)
	}
}

// doOnce 单次请求，成功后按限速休眠
func (c *RedditClient) doOnce(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if c.tokenSource != nil {
		token, err := c.tokenSource.Token()
		if err != nil {
			return fmt.Errorf("获取访问令牌失败: %w", err)
		}
		token.SetAuthHeader(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return &httpStatusError{code: resp.StatusCode, url: rawURL}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应失败: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}

	// 每次成功请求后休眠，把请求频率压在限速之内
	c.sleep(ctx, c.rateDelay)
	return nil
}
