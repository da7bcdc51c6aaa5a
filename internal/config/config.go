package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config 抓取器全局配置，全部可由环境变量覆盖
type Config struct {
	// Reddit API 凭据，留空时走匿名 JSON 接口
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	UserAgent    string `mapstructure:"user_agent"`

	// 数据库连接串，sqlite:/// 或 postgres:// 形式
	DBURL string `mapstructure:"db_url"`

	// API 节流与重试
	APIRateLimitDelay float64 `mapstructure:"api_rate_limit_delay"` // 每次请求后的休眠秒数
	MaxAPIRetries     int     `mapstructure:"max_api_retries"`      // 瞬时错误的最大重试次数
	PostFetchLimit    int     `mapstructure:"post_fetch_limit"`     // 每页请求的帖子数上限
	PaginationLimit   int     `mapstructure:"pagination_limit"`     // 单个订阅最多翻页数，0 只取第一页

	// 评论抓取
	FetchComments      bool `mapstructure:"fetch_comments"`
	MaxCommentsPerPost int  `mapstructure:"max_comments_per_post"`

	// 日志与运行
	LogFile               string `mapstructure:"log_file"`
	ScrapeIntervalMinutes int    `mapstructure:"scrape_interval_minutes"`
	OpsAddr               string `mapstructure:"ops_addr"`

	// Reddit 端点，测试时可指向本地 httptest 服务
	RedditBaseURL string `mapstructure:"reddit_base_url"`
	RedditAuthURL string `mapstructure:"reddit_auth_url"`
}

// Load 从环境变量加载配置并校验
func Load() (*Config, error) {
	v := viper.New()

	// 默认值
	v.SetDefault("client_id", "")
	v.SetDefault("client_secret", "")
	v.SetDefault("user_agent", "hongcang:reddit-archiver:v1.0 (by /u/hongcang)")
	v.SetDefault("db_url", "sqlite:///reddit_post.db")
	v.SetDefault("api_rate_limit_delay", 2.0)
	v.SetDefault("max_api_retries", 3)
	v.SetDefault("post_fetch_limit", 100)
	v.SetDefault("pagination_limit", 10)
	v.SetDefault("fetch_comments", true)
	v.SetDefault("max_comments_per_post", 100)
	v.SetDefault("log_file", "reddit_scraper.log")
	v.SetDefault("scrape_interval_minutes", 1)
	v.SetDefault("ops_addr", ":8080")
	v.SetDefault("reddit_base_url", "https://www.reddit.com")
	v.SetDefault("reddit_auth_url", "https://www.reddit.com")

	// 环境变量绑定
	v.AutomaticEnv()
	v.BindEnv("client_id", "CLIENT_ID")
	v.BindEnv("client_secret", "CLIENT_SECRET")
	v.BindEnv("user_agent", "USER_AGENT")
	v.BindEnv("db_url", "DB_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验配置取值范围
func (c *Config) Validate() error {
	if c.APIRateLimitDelay < 0 {
		return fmt.Errorf("api_rate_limit_delay 不能为负数: %v", c.APIRateLimitDelay)
	}
	if c.MaxAPIRetries < 0 {
		return fmt.Errorf("max_api_retries 不能为负数: %d", c.MaxAPIRetries)
	}
	if c.PostFetchLimit < 1 {
		return fmt.Errorf("post_fetch_limit 必须大于 0: %d", c.PostFetchLimit)
	}
	if c.PaginationLimit < 0 {
		return fmt.Errorf("pagination_limit 不能为负数: %d", c.PaginationLimit)
	}
	if c.MaxCommentsPerPost < 0 {
		return fmt.Errorf("max_comments_per_post 不能为负数: %d", c.MaxCommentsPerPost)
	}
	if c.ScrapeIntervalMinutes < 1 {
		return fmt.Errorf("scrape_interval_minutes 必须大于 0: %d", c.ScrapeIntervalMinutes)
	}
	if c.DBURL == "" {
		return fmt.Errorf("db_url 不能为空")
	}
	return nil
}

// RateDelay 每次 API 请求后的休眠时长
func (c *Config) RateDelay() time.Duration {
	return time.Duration(c.APIRateLimitDelay * float64(time.Second))
}

// HasCredentials 是否配置了 OAuth 凭据
func (c *Config) HasCredentials() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}
