package ops

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"hongcang/internal/db"
	"hongcang/internal/models"
	"hongcang/internal/services"
	"hongcang/internal/utils"
)

// hotWindow 热度排序的候选窗口，只看最近入库的这些帖子
const hotWindow = 100

// Server 运维接口：健康检查、数据统计、最近抓取结果和手动触发
type Server struct {
	store      *db.Store
	scraper    *services.Scraper
	subreddits []string
	opts       services.RunOptions
	runCtx     context.Context
	logger     *log.Logger

	mu   sync.Mutex
	last *services.RunSummary
}

// NewServer 创建运维接口服务，logger 为 nil 时退回默认日志器
// runCtx 控制手动触发的抓取，随进程退出一起取消
func NewServer(runCtx context.Context, store *db.Store, scraper *services.Scraper, subreddits []string, opts services.RunOptions, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		store:      store,
		scraper:    scraper,
		subreddits: subreddits,
		opts:       opts,
		runCtx:     runCtx,
		logger:     logger,
	}
}

// SetLast 记录最近一次抓取的汇总
func (s *Server) SetLast(sum services.RunSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = &sum
}

// Router 注册路由
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.handleHealth)
	r.GET("/stats", s.handleStats)
	r.GET("/posts", s.handlePosts)
	r.GET("/posts/hot", s.handleHotPosts)
	r.GET("/runs/last", s.handleLastRun)
	r.POST("/scrape", s.handleScrape)
	return r
}

// Start 在后台启动 HTTP 服务，返回句柄供优雅关闭
func (s *Server) Start(addr string) *http.Server {
	srv := &http.Server{Addr: addr, Handler: s.Router()}
	go func() {
		s.logger.Printf("运维接口监听 %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("运维接口退出: %v", err)
		}
	}()
	return srv
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStats(c *gin.Context) {
	posts, err := s.store.CountPosts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	comments, err := s.store.CountComments(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"posts":    posts,
		"comments": comments,
		"running":  s.scraper.Busy(),
	})
}

func (s *Server) handlePosts(c *gin.Context) {
	limit := utils.ParseLimit(c.Query("limit"), 20, 100)
	posts, err := s.store.RecentPosts(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(posts), "posts": posts})
}

// handleHotPosts 按热度返回最近入库的帖子
// 热度在读取时即时计算，不落库
func (s *Server) handleHotPosts(c *gin.Context) {
	limit := utils.ParseLimit(c.Query("limit"), 10, hotWindow)

	posts, err := s.store.RecentPosts(c.Request.Context(), hotWindow)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	type hotPost struct {
		models.Post
		Heat float64 `json:"heat"`
	}
	ranked := make([]hotPost, 0, len(posts))
	for _, p := range posts {
		created, err := time.ParseInLocation(models.CreatedUTCLayout, p.CreatedUTC, time.UTC)
		if err != nil {
			continue
		}
		ranked = append(ranked, hotPost{Post: p, Heat: utils.PostHeat(created, p.Score, p.NumComments)})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Heat > ranked[j].Heat })
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	c.JSON(http.StatusOK, gin.H{"count": len(ranked), "posts": ranked})
}

func (s *Server) handleLastRun(c *gin.Context) {
	s.mu.Lock()
	last := s.last
	s.mu.Unlock()

	if last == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no run recorded yet"})
		return
	}
	c.JSON(http.StatusOK, last)
}

// handleScrape 触发一次后台抓取，执行权在响应前就已占住
// 已有抓取在进行时返回 409，并发触发不会出现两个 202
func (s *Server) handleScrape(c *gin.Context) {
	if err := s.scraper.StartRun(s.runCtx, s.subreddits, s.opts, s.SetLast); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "scrape already in progress"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}
