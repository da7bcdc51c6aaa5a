package services

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"hongcang/internal/config"
	"hongcang/internal/db"
	"hongcang/internal/models"
	"hongcang/internal/utils"
)

// ErrRunInProgress 已有一次抓取在进行中
var ErrRunInProgress = errors.New("抓取已在进行中")

// RunOptions 一次抓取的运行参数，覆盖配置默认值
type RunOptions struct {
	PostType        string // hot / new / top / rising / relevance
	TimeFilter      string // hour / day / week / month / year / all
	SearchQuery     string // relevance 类型必填
	PostLimit       int    // 每个版块最多收集的新帖数，0 不限
	PaginationLimit int    // 每个版块最多翻页数，0 只取第一页
	FetchComments   bool   // 是否抓取评论
}

// FeedResult 单个版块的抓取结果
type FeedResult struct {
	Subreddit string         `json:"subreddit"`
	Fetched   int            `json:"fetched"` // API 返回的帖子数
	New       int            `json:"new"`     // 去重后提交落库的帖子数
	Partial   bool           `json:"partial"` // 翻页中途失败，结果不完整
	Error     string         `json:"error,omitempty"`
	Save      db.SaveSummary `json:"save"`
}

// RunSummary 一次完整抓取的汇总
type RunSummary struct {
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	Feeds       []FeedResult   `json:"feeds"`
	Totals      db.SaveSummary `json:"totals"`
	Interrupted bool           `json:"interrupted"`
}

// Scraper 抓取调度服务，串起客户端、字段抽取、去重和落库
type Scraper struct {
	client *RedditClient
	store  *db.Store
	cfg    *config.Config
	logger *log.Logger
	busy   atomic.Bool
}

// NewScraper 创建抓取调度服务，logger 为 nil 时退回默认日志器
func NewScraper(client *RedditClient, store *db.Store, cfg *config.Config, logger *log.Logger) *Scraper {
	if logger == nil {
		logger = log.Default()
	}
	return &Scraper{
		client: client,
		store:  store,
		cfg:    cfg,
		logger: logger,
	}
}

// Busy 是否有抓取在进行中
func (s *Scraper) Busy() bool {
	return s.busy.Load()
}

// tryAcquire 尝试占住唯一的抓取执行权
func (s *Scraper) tryAcquire() bool {
	return s.busy.CompareAndSwap(false, true)
}

func (s *Scraper) release() {
	s.busy.Store(false)
}

// TryRun 同步执行一次抓取，同一时刻只允许一次
// 已有抓取在进行时返回 ErrRunInProgress
func (s *Scraper) TryRun(ctx context.Context, subreddits []string, opts RunOptions) (RunSummary, error) {
	if !s.tryAcquire() {
		return RunSummary{}, ErrRunInProgress
	}
	defer s.release()
	return s.Run(ctx, subreddits, opts)
}

// StartRun 在后台执行一次抓取，执行权在返回前就已占住
// 已有抓取在进行时返回 ErrRunInProgress，不会启动新抓取；
// onRun 不为 nil 时在抓取成功结束后收到汇总
func (s *Scraper) StartRun(ctx context.Context, subreddits []string, opts RunOptions, onRun func(RunSummary)) error {
	if !s.tryAcquire() {
		return ErrRunInProgress
	}
	go func() {
		defer s.release()
		sum, err := s.Run(ctx, subreddits, opts)
		if err != nil {
			s.logger.Printf("后台抓取失败: %v", err)
			return
		}
		if onRun != nil {
			onRun(sum)
		}
	}()
	return nil
}

// Run 按给定顺序逐个抓取版块
// 参数不合法时直接失败，不发起任何请求；单个版块失败只影响自己；
// ctx 取消时在版块边界停止并在汇总里标记
func (s *Scraper) Run(ctx context.Context, subreddits []string, opts RunOptions) (RunSummary, error) {
	summary := RunSummary{StartedAt: time.Now()}

	// 1. 先整体校验参数，避免抓到一半才发现配置错误
	for _, sub := range subreddits {
		p := ListingParams{
			Subreddit:   sub,
			PostType:    opts.PostType,
			TimeFilter:  opts.TimeFilter,
			SearchQuery: opts.SearchQuery,
		}
		if err := p.Validate(); err != nil {
			summary.FinishedAt = time.Now()
			return summary, err
		}
	}

	// 2. 去重过滤器作用于整次抓取，跨版块共享
	seen, err := utils.NewSeenFilter(utils.DefaultSeenCapacity)
	if err != nil {
		summary.FinishedAt = time.Now()
		return summary, err
	}

	// 3. 顺序抓取，版块之间同样遵守限速
	for i, sub := range subreddits {
		if ctx.Err() != nil {
			summary.Interrupted = true
			break
		}
		if i > 0 {
			s.client.sleep(ctx, s.client.rateDelay)
		}

		res := s.scrapeFeed(ctx, sub, opts, seen)
		summary.Feeds = append(summary.Feeds, res)
		summary.Totals.Add(res.Save)

		if ctx.Err() != nil {
			summary.Interrupted = true
			break
		}
	}

	summary.FinishedAt = time.Now()
	s.logger.Printf("本次抓取完成: 帖子新增 %d / 重复 %d / 失败 %d，评论新增 %d / 重复 %d",
		summary.Totals.PostsInserted, summary.Totals.PostsDuplicate, summary.Totals.PostsFailed,
		summary.Totals.CommentsInserted, summary.Totals.CommentsDuplicate)
	return summary, nil
}

// scrapeFeed 抓取单个版块：翻页收集、抽取、去重、补评论、落库
func (s *Scraper) scrapeFeed(ctx context.Context, subreddit string, opts RunOptions, seen *utils.SeenFilter) FeedResult {
	res := FeedResult{Subreddit: subreddit}
	s.logger.Printf("开始抓取 r/%s (%s)", subreddit, opts.PostType)

	var (
		collected []models.Post
		after     string
		pages     int
	)

	// 未指定翻页数时只取第一页
	maxPages := opts.PaginationLimit
	if maxPages <= 0 {
		maxPages = 1
	}

	for {
		if ctx.Err() != nil {
			break
		}
		if pages >= maxPages {
			s.logger.Printf("r/%s 达到翻页上限 %d，停止翻页", subreddit, maxPages)
			break
		}

		// 按剩余需求收缩单页条数
		pageSize := s.cfg.PostFetchLimit
		if opts.PostLimit > 0 {
			remaining := opts.PostLimit - len(collected)
			if remaining <= 0 {
				break
			}
			if pageSize > remaining {
				pageSize = remaining
			}
		}

		raws, envAfter, err := s.client.FetchListing(ctx, ListingParams{
			Subreddit:   subreddit,
			PostType:    opts.PostType,
			TimeFilter:  opts.TimeFilter,
			SearchQuery: opts.SearchQuery,
			After:       after,
			Limit:       pageSize,
		})
		pages++
		if err != nil {
			// 翻页中途失败：保留已取到的部分，结果标记为不完整
			s.logger.Printf("抓取 r/%s 第 %d 页失败: %v", subreddit, pages, err)
			res.Partial = true
			break
		}
		if len(raws) == 0 {
			// 没有更多数据，正常结束
			break
		}
		res.Fetched += len(raws)

		// 同一页内先按 URL 去重，跨页跨版块再过一遍运行级过滤器
		pageURLs := make(map[string]bool, len(raws))
		for i := range raws {
			post, err := ExtractPost(&raws[i], subreddit)
			if err != nil {
				s.logger.Printf("跳过 r/%s 的异常帖子: %v", subreddit, err)
				continue
			}
			if pageURLs[post.PostURL] {
				continue
			}
			pageURLs[post.PostURL] = true
			if !seen.IsNew(post.PostURL) {
				continue
			}
			collected = append(collected, post)
			if opts.PostLimit > 0 && len(collected) >= opts.PostLimit {
				break
			}
		}

		// 游标取本页最后一条的 fullname
		last := &raws[len(raws)-1]
		if last.ID == "" && last.Name == "" {
			after = envAfter
		} else {
			after = last.Fullname()
		}
		if after == "" {
			break
		}
	}

	// 为收集到的新帖补齐评论，评论失败不影响帖子入库
	if opts.FetchComments {
		for i := range collected {
			if ctx.Err() != nil {
				break
			}
			rawComments, err := s.client.FetchComments(ctx, collected[i].ID, s.cfg.MaxCommentsPerPost)
			if err != nil {
				s.logger.Printf("拉取帖子 %s 的评论失败: %v", collected[i].ID, err)
				continue
			}
			for j := range rawComments {
				cm, err := ExtractComment(&rawComments[j])
				if err != nil {
					s.logger.Printf("跳过帖子 %s 的异常评论: %v", collected[i].ID, err)
					continue
				}
				// 评论也过运行级过滤器，重叠翻页下同一条评论只收一次
				if !seen.IsNew(cm.CommentID) {
					continue
				}
				collected[i].Comments = append(collected[i].Comments, cm)
			}
		}
	}

	res.New = len(collected)
	sum, saveErr := s.store.SavePosts(ctx, collected)
	res.Save = sum
	if saveErr != nil && ctx.Err() == nil {
		res.Error = saveErr.Error()
	}

	s.logger.Printf("r/%s 抓取完成: 取回 %d，新帖 %d，入库 %d，重复 %d，失败 %d",
		subreddit, res.Fetched, res.New,
		sum.PostsInserted, sum.PostsDuplicate, sum.PostsFailed)
	return res
}

// RunScheduled 按固定间隔重复抓取，直到 ctx 取消
// 启动时立即执行一次；上一轮还没结束时跳过本轮；参数错误时直接返回；
// onRun 不为 nil 时在每轮结束后收到汇总
func (s *Scraper) RunScheduled(ctx context.Context, subreddits []string, opts RunOptions, interval time.Duration, onRun func(RunSummary)) error {
	s.logger.Printf("定时抓取已启动，间隔 %v", interval)

	runOnce := func() error {
		sum, err := s.TryRun(ctx, subreddits, opts)
		if errors.Is(err, ErrRunInProgress) {
			s.logger.Println("上一轮抓取尚未结束，跳过本轮")
			return nil
		}
		if err != nil {
			return err
		}
		if onRun != nil {
			onRun(sum)
		}
		return nil
	}

	if err := runOnce(); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Println("定时抓取已停止")
			return nil
		case <-ticker.C:
			if err := runOnce(); err != nil {
				return err
			}
		}
	}
}
