package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"hongcang/internal/config"
	"hongcang/internal/db"
)

// newTestStore 打开内存库并建表
func newTestStore(t *testing.T) *db.Store {
	t.Helper()
	gdb, err := db.Open("sqlite://", nil)
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	if err := db.Migrate(gdb, nil); err != nil {
		t.Fatalf("db.Migrate: %v", err)
	}
	return db.NewStore(gdb, nil)
}

// newScraperFor 创建指向模拟服务器的抓取器，休眠为空操作
func newScraperFor(t *testing.T, store *db.Store, baseURL string) *Scraper {
	t.Helper()
	cfg := &config.Config{
		UserAgent:          "test-agent",
		RedditBaseURL:      baseURL,
		RedditAuthURL:      baseURL,
		APIRateLimitDelay:  0,
		MaxAPIRetries:      0,
		PostFetchLimit:     100,
		MaxCommentsPerPost: 100,
	}
	client := NewRedditClient(cfg, nil)
	client.sleep = func(context.Context, time.Duration) {}
	return NewScraper(client, store, cfg, nil)
}

// commentsPage 构造单条顶层评论的评论页响应
func commentsPage(commentID string) []any {
	return []any{
		map[string]any{"kind": "Listing", "data": map[string]any{"children": []map[string]any{}}},
		map[string]any{"kind": "Listing", "data": map[string]any{"children": []map[string]any{
			{"kind": "t1", "data": commentData(commentID, "body of "+commentID, nil)},
		}}},
	}
}

// TestScraperRunEndToEnd 连翻三页帖子及其评论并入库，第四页为空时正常终止
func TestScraperRunEndToEnd(t *testing.T) {
	var listingCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/r/golang/hot.json", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&listingCalls, 1)
		switch r.URL.Query().Get("after") {
		case "":
			fmt.Fprint(w, listingJSON("t3_p2", postData("p1", nil), postData("p2", nil)))
		case "t3_p2":
			fmt.Fprint(w, listingJSON("", postData("p3", nil), postData("p4", nil)))
		case "t3_p4":
			fmt.Fprint(w, listingJSON("", postData("p5", nil)))
		case "t3_p5":
			fmt.Fprint(w, listingJSON(""))
		default:
			t.Errorf("unexpected after=%q", r.URL.Query().Get("after"))
		}
	})
	mux.HandleFunc("/comments/", func(w http.ResponseWriter, r *http.Request) {
		postID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/comments/"), ".json")
		json.NewEncoder(w).Encode(commentsPage("cm_" + postID))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	store := newTestStore(t)
	s := newScraperFor(t, store, server.URL)

	summary, err := s.Run(context.Background(), []string{"golang"}, RunOptions{
		PostType: "hot", PaginationLimit: 10, FetchComments: true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// 三页有数据加一页空页，共四次请求
	if listingCalls != 4 {
		t.Errorf("listingCalls = %d, want 4", listingCalls)
	}
	if len(summary.Feeds) != 1 {
		t.Fatalf("feeds = %+v", summary.Feeds)
	}
	feed := summary.Feeds[0]
	if feed.Fetched != 5 || feed.New != 5 || feed.Partial {
		t.Errorf("feed = %+v", feed)
	}
	if summary.Totals.PostsInserted != 5 || summary.Totals.CommentsInserted != 5 {
		t.Errorf("totals = %+v", summary.Totals)
	}
	if summary.Interrupted {
		t.Error("summary.Interrupted 不应置位")
	}

	n, _ := store.CountPosts(context.Background())
	cn, _ := store.CountComments(context.Background())
	if n != 5 || cn != 5 {
		t.Errorf("store counts = %d posts / %d comments", n, cn)
	}
}

// TestScraperIncremental 第二次运行的单页里混着已入库帖和新帖，只写入新帖
func TestScraperIncremental(t *testing.T) {
	store := newTestStore(t)

	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("after") == "" {
			fmt.Fprint(w, listingJSON("", postData("p1", nil)))
			return
		}
		fmt.Fprint(w, listingJSON(""))
	}))
	defer first.Close()

	opts := RunOptions{PostType: "new", PaginationLimit: 1}
	sum1, err := newScraperFor(t, store, first.URL).Run(context.Background(), []string{"golang"}, opts)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if sum1.Totals.PostsInserted != 1 {
		t.Fatalf("first totals = %+v", sum1.Totals)
	}

	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("after") == "" {
			fmt.Fprint(w, listingJSON("", postData("p1", nil), postData("p2", nil)))
			return
		}
		fmt.Fprint(w, listingJSON(""))
	}))
	defer second.Close()

	sum2, err := newScraperFor(t, store, second.URL).Run(context.Background(), []string{"golang"}, opts)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if sum2.Totals.PostsInserted != 1 || sum2.Totals.PostsDuplicate != 1 {
		t.Errorf("second totals = %+v", sum2.Totals)
	}

	n, _ := store.CountPosts(context.Background())
	if n != 2 {
		t.Errorf("CountPosts = %d, want 2", n)
	}
}

// TestScraperPartialPage 翻页中途失败时保留已取到的帖子并标记不完整
func TestScraperPartialPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("after") == "" {
			fmt.Fprint(w, listingJSON("t3_p2", postData("p1", nil), postData("p2", nil)))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	store := newTestStore(t)
	summary, err := newScraperFor(t, store, server.URL).Run(context.Background(),
		[]string{"golang"}, RunOptions{PostType: "hot", PaginationLimit: 10})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	feed := summary.Feeds[0]
	if !feed.Partial {
		t.Error("翻页失败后 Partial 应置位")
	}
	if summary.Totals.PostsInserted != 2 {
		t.Errorf("totals = %+v", summary.Totals)
	}
}

// TestScraperFeedIsolation 单个版块整体失败不影响其他版块，顺序保持
func TestScraperFeedIsolation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/r/bad/hot.json", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/r/good/hot.json", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("after") == "" {
			fmt.Fprint(w, listingJSON("", postData("p1", nil)))
			return
		}
		fmt.Fprint(w, listingJSON(""))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	store := newTestStore(t)
	summary, err := newScraperFor(t, store, server.URL).Run(context.Background(),
		[]string{"bad", "good"}, RunOptions{PostType: "hot", PaginationLimit: 5})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(summary.Feeds) != 2 {
		t.Fatalf("feeds = %+v", summary.Feeds)
	}
	if summary.Feeds[0].Subreddit != "bad" || summary.Feeds[1].Subreddit != "good" {
		t.Errorf("版块顺序应保持请求顺序: %+v", summary.Feeds)
	}
	if !summary.Feeds[0].Partial || summary.Feeds[0].Save.PostsInserted != 0 {
		t.Errorf("bad feed = %+v", summary.Feeds[0])
	}
	if summary.Feeds[1].Save.PostsInserted != 1 {
		t.Errorf("good feed = %+v", summary.Feeds[1])
	}
}

// TestScraperInvalidOptions 参数不合法时整体失败且不发任何请求
func TestScraperInvalidOptions(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	store := newTestStore(t)
	_, err := newScraperFor(t, store, server.URL).Run(context.Background(),
		[]string{"golang"}, RunOptions{PostType: "worst"})
	if err == nil {
		t.Fatal("expected error for invalid post type")
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
}

// TestScraperPostLimit 收集满目标数量后停止翻页，单页条数按剩余需求收缩
func TestScraperPostLimit(t *testing.T) {
	var listingCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&listingCalls, 1)
		if got := r.URL.Query().Get("limit"); got != "1" {
			t.Errorf("limit = %q, want 1", got)
		}
		fmt.Fprint(w, listingJSON("t3_p1", postData("p1", nil)))
	}))
	defer server.Close()

	store := newTestStore(t)
	summary, err := newScraperFor(t, store, server.URL).Run(context.Background(),
		[]string{"golang"}, RunOptions{PostType: "hot", PostLimit: 1, PaginationLimit: 10})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if listingCalls != 1 {
		t.Errorf("listingCalls = %d, want 1", listingCalls)
	}
	if summary.Totals.PostsInserted != 1 {
		t.Errorf("totals = %+v", summary.Totals)
	}
}

// TestScraperSinglePageDefault 未指定翻页数时只请求第一页
func TestScraperSinglePageDefault(t *testing.T) {
	var listingCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&listingCalls, 1)
		fmt.Fprint(w, listingJSON("t3_p1", postData("p1", nil)))
	}))
	defer server.Close()

	store := newTestStore(t)
	summary, err := newScraperFor(t, store, server.URL).Run(context.Background(),
		[]string{"golang"}, RunOptions{PostType: "hot"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if listingCalls != 1 {
		t.Errorf("listingCalls = %d, want 1", listingCalls)
	}
	if summary.Totals.PostsInserted != 1 {
		t.Errorf("totals = %+v", summary.Totals)
	}
}

// TestScraperSamePageDuplicates 同一页内重复 URL 只收集一次
func TestScraperSamePageDuplicates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("after") == "" {
			// p1 出现两次，p1b 与 p1 同 URL 不同 ID
			dup := postData("p1b", map[string]any{
				"permalink": "/r/golang/comments/p1/x/",
			})
			fmt.Fprint(w, listingJSON("", postData("p1", nil), postData("p1", nil), dup))
			return
		}
		fmt.Fprint(w, listingJSON(""))
	}))
	defer server.Close()

	store := newTestStore(t)
	summary, err := newScraperFor(t, store, server.URL).Run(context.Background(),
		[]string{"golang"}, RunOptions{PostType: "hot", PaginationLimit: 5})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Feeds[0].New != 1 {
		t.Errorf("New = %d, want 1", summary.Feeds[0].New)
	}
	n, _ := store.CountPosts(context.Background())
	if n != 1 {
		t.Errorf("CountPosts = %d, want 1", n)
	}
}

// TestScraperSkipsBrokenPosts 缺字段的帖子跳过，其余照常入库
func TestScraperSkipsBrokenPosts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("after") == "" {
			broken := postData("p2", map[string]any{"title": nil})
			fmt.Fprint(w, listingJSON("", postData("p1", nil), broken))
			return
		}
		fmt.Fprint(w, listingJSON(""))
	}))
	defer server.Close()

	store := newTestStore(t)
	summary, err := newScraperFor(t, store, server.URL).Run(context.Background(),
		[]string{"golang"}, RunOptions{PostType: "hot", PaginationLimit: 5})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Feeds[0].Fetched != 2 || summary.Feeds[0].New != 1 {
		t.Errorf("feed = %+v", summary.Feeds[0])
	}
	if summary.Totals.PostsInserted != 1 {
		t.Errorf("totals = %+v", summary.Totals)
	}
}

// TestScraperFeedAttribution 入库帖子的版块名取请求的版块，不取上游元数据
func TestScraperFeedAttribution(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("after") == "" {
			// 上游元数据声称帖子来自 rust
			fmt.Fprint(w, listingJSON("", postData("p1", map[string]any{"subreddit": "rust"})))
			return
		}
		fmt.Fprint(w, listingJSON(""))
	}))
	defer server.Close()

	store := newTestStore(t)
	if _, err := newScraperFor(t, store, server.URL).Run(context.Background(),
		[]string{"golang"}, RunOptions{PostType: "hot", PaginationLimit: 5}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	posts, err := store.RecentPosts(context.Background(), 10)
	if err != nil || len(posts) != 1 {
		t.Fatalf("RecentPosts = %d 条, err = %v", len(posts), err)
	}
	if posts[0].Subreddit != "golang" {
		t.Errorf("Subreddit = %q, want golang", posts[0].Subreddit)
	}
	if posts[0].IsMultipleSubreddits {
		t.Error("单版块元数据不应标记为跨版块")
	}
}

// TestScraperCommentFailureKeepsPost 评论拉取失败不影响帖子入库
func TestScraperCommentFailureKeepsPost(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/r/golang/hot.json", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("after") == "" {
			fmt.Fprint(w, listingJSON("", postData("p1", nil)))
			return
		}
		fmt.Fprint(w, listingJSON(""))
	})
	mux.HandleFunc("/comments/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	store := newTestStore(t)
	summary, err := newScraperFor(t, store, server.URL).Run(context.Background(),
		[]string{"golang"}, RunOptions{PostType: "hot", PaginationLimit: 5, FetchComments: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Totals.PostsInserted != 1 || summary.Totals.CommentsInserted != 0 {
		t.Errorf("totals = %+v", summary.Totals)
	}
}

// TestScraperCancelledContext ctx 取消后不再开始新的版块
func TestScraperCancelledContext(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, listingJSON(""))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := newTestStore(t)
	summary, err := newScraperFor(t, store, server.URL).Run(ctx,
		[]string{"golang", "rust"}, RunOptions{PostType: "hot"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !summary.Interrupted {
		t.Error("summary.Interrupted 应置位")
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
	if len(summary.Feeds) != 0 {
		t.Errorf("feeds = %+v", summary.Feeds)
	}
}

// TestTryRunSingleFlight 抓取进行期间的并发触发被拒绝
func TestTryRunSingleFlight(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		fmt.Fprint(w, listingJSON(""))
	}))
	defer server.Close()

	store := newTestStore(t)
	s := newScraperFor(t, store, server.URL)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := s.TryRun(context.Background(), []string{"golang"}, RunOptions{PostType: "hot"}); err != nil {
			t.Errorf("first TryRun: %v", err)
		}
	}()

	// 等第一次抓取进入请求阶段
	deadline := time.Now().Add(5 * time.Second)
	for !s.Busy() {
		if time.Now().After(deadline) {
			t.Fatal("第一次抓取未启动")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := s.TryRun(context.Background(), []string{"golang"}, RunOptions{PostType: "hot"}); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("err = %v, want ErrRunInProgress", err)
	}

	close(release)
	<-done
}

// TestStartRunSingleFlight 后台抓取的执行权在返回前占住，并发触发立即被拒
func TestStartRunSingleFlight(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		fmt.Fprint(w, listingJSON(""))
	}))
	defer server.Close()

	store := newTestStore(t)
	s := newScraperFor(t, store, server.URL)

	done := make(chan struct{})
	err := s.StartRun(context.Background(), []string{"golang"}, RunOptions{PostType: "hot"},
		func(RunSummary) { close(done) })
	if err != nil {
		t.Fatalf("first StartRun: %v", err)
	}

	// 不等后台启动，紧随其后的触发必须立即被拒
	err = s.StartRun(context.Background(), []string{"golang"}, RunOptions{PostType: "hot"}, nil)
	if !errors.Is(err, ErrRunInProgress) {
		t.Errorf("err = %v, want ErrRunInProgress", err)
	}

	close(release)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("后台抓取未完成")
	}
}

// TestRunScheduledStopsOnCancel 定时模式在 ctx 取消后退出
func TestRunScheduledStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 第一轮抓取途中触发取消
		cancel()
		fmt.Fprint(w, listingJSON(""))
	}))
	defer server.Close()

	store := newTestStore(t)
	done := make(chan error, 1)
	go func() {
		done <- newScraperFor(t, store, server.URL).RunScheduled(ctx,
			[]string{"golang"}, RunOptions{PostType: "hot"}, time.Hour, nil)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("RunScheduled: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RunScheduled 未在取消后退出")
	}
}
