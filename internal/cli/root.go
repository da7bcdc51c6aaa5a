package cli

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"hongcang/internal/config"
	"hongcang/internal/db"
	"hongcang/internal/logging"
	"hongcang/internal/services"
)

var (
	flagSubreddits   []string
	flagPostType     string
	flagTimeFilter   string
	flagSearchQuery  string
	flagPostLimit    int
	flagPageLimit    int
	flagSkipComments bool
	flagVerbose      bool
)

// RootCmd 顶层命令，不带子命令时打印帮助
var RootCmd = &cobra.Command{
	Use:   "hongcang",
	Short: "Reddit 帖子增量抓取归档工具",
	Long: `hongcang 按版块增量抓取 Reddit 帖子和评论，去重后写入关系型数据库。
支持单次抓取 (run) 和定时抓取 (watch) 两种模式。`,
}

// Execute 解析命令行并分发到子命令
// 由 main 调用，命令执行失败时以非零码退出
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	pf := RootCmd.PersistentFlags()
	pf.StringSliceVar(&flagSubreddits, "subreddits", nil, "要抓取的版块列表，逗号分隔 (必填)")
	pf.StringVar(&flagPostType, "post-type", "hot", "排序类型: hot / new / top / rising / relevance")
	pf.StringVar(&flagTimeFilter, "time-filter", "day", "时间过滤: hour / day / week / month / year / all")
	pf.StringVar(&flagSearchQuery, "search-query", "", "relevance 类型的搜索词")
	pf.IntVar(&flagPostLimit, "post-limit", 10, "每个版块最多收集的新帖数，0 不限")
	pf.IntVar(&flagPageLimit, "pagination-limit", 10, "每个版块最多翻页数，0 只取第一页")
	pf.BoolVar(&flagSkipComments, "skip-comments", false, "跳过评论抓取")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "输出调试日志")
}

// appEnv 子命令共享的运行环境
type appEnv struct {
	cfg     *config.Config
	logger  *log.Logger
	store   *db.Store
	scraper *services.Scraper
}

// setup 初始化配置、日志、数据库和抓取服务
// 日志器在这里统一构建，显式传给各组件
func setup() (*appEnv, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.LogFile, flagVerbose)

	gdb, err := db.Open(cfg.DBURL, logger)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(gdb, logger); err != nil {
		return nil, err
	}

	store := db.NewStore(gdb, logger)
	client := services.NewRedditClient(cfg, logger)
	return &appEnv{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		scraper: services.NewScraper(client, store, cfg, logger),
	}, nil
}

// resolveOptions 合并命令行参数和配置默认值
// 未显式指定翻页上限时沿用配置里的值
func resolveOptions(cmd *cobra.Command, cfg *config.Config) services.RunOptions {
	if !cmd.Flags().Changed("pagination-limit") {
		flagPageLimit = cfg.PaginationLimit
	}
	return services.RunOptions{
		PostType:        flagPostType,
		TimeFilter:      flagTimeFilter,
		SearchQuery:     flagSearchQuery,
		PostLimit:       flagPostLimit,
		PaginationLimit: flagPageLimit,
		FetchComments:   cfg.FetchComments && !flagSkipComments,
	}
}

// requireSubreddits 校验必填的版块参数
func requireSubreddits() {
	if len(flagSubreddits) == 0 {
		log.Fatal("--subreddits 不能为空")
	}
}
