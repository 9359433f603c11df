package search

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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/TobiSchelling/hotnote/internal/config"
)

func TestSourceDomain(t *testing.T) {
	assert.Equal(t, "xiaohongshu.com", SourceDomain("https://www.XiaoHongShu.com/explore/1"))
	assert.Equal(t, "m.zhihu.com", SourceDomain("https://m.zhihu.com/q"))
	assert.Equal(t, "", SourceDomain("not a url"))
	assert.Equal(t, "", SourceDomain(""))
}

func TestMatchesDomain(t *testing.T) {
	assert.True(t, MatchesDomain("zhihu.com", "zhihu.com"))
	assert.True(t, MatchesDomain("zhuanlan.zhihu.com", "zhihu.com"))
	assert.True(t, MatchesDomain("zhihu.com", "www.zhihu.com"))
	assert.False(t, MatchesDomain("notzhihu.com", "zhihu.com"))
	assert.False(t, MatchesDomain("", "zhihu.com"))
	assert.False(t, MatchesDomain("zhihu.com", ""))
	assert.True(t, MatchesAny("b.bilibili.com", []string{"zhihu.com", "bilibili.com"}))
}

func TestTavilySearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Bearer tvly-test", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "春节减肥", body["query"])
		assert.Equal(t, "advanced", body["search_depth"])
		assert.Equal(t, []any{"xiaohongshu.com"}, body["include_domains"])

		fmt.Fprint(w, `{"results":[
			{"title":" A ","url":"https://www.xiaohongshu.com/a","content":"alpha"},
			{"title":"B","url":"https://xiaohongshu.com/b","content":"beta"}]}`)
	}))
	defer srv.Close()

	t.Setenv("TEST_TAVILY_KEY", "tvly-test")
	c := NewTavilyClient(srv.URL, "TEST_TAVILY_KEY", zaptest.NewLogger(t))
	results, err := c.Search(context.Background(), Query{
		Text: "春节减肥", Domains: []string{"xiaohongshu.com"}, Depth: "advanced", MaxResults: 8,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "A", results[0].Title)
	assert.Equal(t, "xiaohongshu.com", results[0].SourceDomain)
	assert.Equal(t, "alpha", results[0].Summary)
}

func TestTavilyUnrestrictedOmitsDomains(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, has := body["include_domains"]
		assert.False(t, has)
		fmt.Fprint(w, `{"results":[]}`)
	}))
	defer srv.Close()

	t.Setenv("TEST_TAVILY_KEY", "k")
	results, err := NewTavilyClient(srv.URL, "TEST_TAVILY_KEY", nil).Search(context.Background(), Query{Text: "x"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestTavilyExtract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/extract", r.URL.Path)
		var body struct {
			URLs []string `json:"urls"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.URLs, 1)
		if strings.Contains(body.URLs[0], "bad") {
			fmt.Fprintf(w, `{"results":[],"failed_results":[{"url":%q,"error":"blocked"}]}`, body.URLs[0])
			return
		}
		fmt.Fprintf(w, `{"results":[{"url":%q,"raw_content":"  full text  "}]}`, body.URLs[0])
	}))
	defer srv.Close()

	t.Setenv("TEST_TAVILY_KEY", "k")
	c := NewTavilyClient(srv.URL, "TEST_TAVILY_KEY", nil)

	text, err := c.Extract(context.Background(), "https://zhihu.com/good")
	require.NoError(t, err)
	assert.Equal(t, "full text", text)

	_, err = c.Extract(context.Background(), "https://zhihu.com/bad")
	assert.ErrorContains(t, err, "blocked")
}

func TestTavilyNotConfigured(t *testing.T) {
	c := NewTavilyClient("", "HOTNOTE_TEST_UNSET_KEY", nil)
	_, err := c.Search(context.Background(), Query{Text: "x"})
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = c.Extract(context.Background(), "https://a.com")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestTavilyHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	t.Setenv("TEST_TAVILY_KEY", "k")
	_, err := NewTavilyClient(srv.URL, "TEST_TAVILY_KEY", nil).Search(context.Background(), Query{Text: "x"})
	assert.ErrorContains(t, err, "429")
}

func TestNewsAPISearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "news-key", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "eastmoney.com,stcn.com", r.URL.Query().Get("domains"))
		assert.Equal(t, "5", r.URL.Query().Get("pageSize"))
		fmt.Fprint(w, `{"status":"ok","articles":[
			{"url":"https://finance.eastmoney.com/a","title":"A股","description":"desc","content":"content"},
			{"url":"https://removed.com","title":"[Removed]"},
			{"url":"https://stcn.com/b","title":"B","content":"only content"}]}`)
	}))
	defer srv.Close()

	t.Setenv("TEST_NEWSAPI_KEY", "news-key")
	c := NewNewsAPIClient("TEST_NEWSAPI_KEY")
	c.BaseURL = srv.URL
	results, err := c.Search(context.Background(), Query{Text: "A股", Domains: []string{"eastmoney.com", "stcn.com"}, MaxResults: 5})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "desc", results[0].Summary)
	assert.Equal(t, "finance.eastmoney.com", results[0].SourceDomain)
	assert.Equal(t, "only content", results[1].Summary)
}

func TestNewsAPIErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"error","message":"apiKeyInvalid"}`)
	}))
	defer srv.Close()

	t.Setenv("TEST_NEWSAPI_KEY", "news-key")
	c := NewNewsAPIClient("TEST_NEWSAPI_KEY")
	c.BaseURL = srv.URL
	_, err := c.Search(context.Background(), Query{Text: "x"})
	assert.ErrorContains(t, err, "apiKeyInvalid")
}

const testRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>T</title>
<item><title>春节减肥食谱</title><link>https://www.zhihu.com/q/1</link>
<description><![CDATA[<p>少油 <b>少糖</b></p><script>x()</script>]]></description></item>
<item><title>旅行攻略</title><link>https://bilibili.com/v/2</link><description>去云南</description></item>
<item><title>减肥打卡</title><link>https://other.com/3</link><description>每天走路</description></item>
</channel></rss>`

func TestFeedSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, testRSS)
	}))
	defer srv.Close()

	fs := NewFeedSearcher([]FeedConfig{{URL: srv.URL}}, zaptest.NewLogger(t))

	results, err := fs.Search(context.Background(), Query{Text: "减肥"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "少油 少糖", results[0].Summary)
	assert.Equal(t, "zhihu.com", results[0].SourceDomain)

	results, err = fs.Search(context.Background(), Query{Text: "减肥", Domains: []string{"zhihu.com"}})
	require.NoError(t, err)
	require.Len(t, results, 1)

	results, err = fs.Search(context.Background(), Query{Text: "减肥", MaxResults: 1})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestFeedSearchAllFeedsFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	_, err := NewFeedSearcher([]FeedConfig{{URL: srv.URL, Name: "x"}}, nil).Search(context.Background(), Query{Text: "a"})
	assert.Error(t, err)
}

func TestExtractSourceName(t *testing.T) {
	assert.Equal(t, "Zhihu", extractSourceName("https://www.zhihu.com/rss"))
	assert.Equal(t, "Rsshub", extractSourceName("https://rsshub.app/bilibili"))
}

func TestReadabilityExtract(t *testing.T) {
	para := strings.Repeat("春节期间保持饮食均衡，控制油脂摄入，同时坚持适量运动。", 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<html><head><title>减肥</title></head><body><nav>menu</nav>
<article><h1>减肥</h1><p>%s</p><p>%s</p></article></body></html>`, para, para)
	}))
	defer srv.Close()

	e := NewReadabilityExtractor(0)
	text, err := e.Extract(context.Background(), srv.URL+"/article")
	require.NoError(t, err)
	assert.Contains(t, text, "饮食均衡")

	_, err = e.Extract(context.Background(), srv.URL+"/missing")
	assert.ErrorContains(t, err, "404")
}

type countingSearcher struct {
	calls atomic.Int32
}

func (c *countingSearcher) Search(ctx context.Context, q Query) ([]Result, error) {
	c.calls.Add(1)
	return []Result{NewResult("t", "https://a.com", "s")}, nil
}

func TestThrottled(t *testing.T) {
	inner := &countingSearcher{}
	th := NewThrottled(inner, nil, 0)
	for range 3 {
		_, err := th.Search(context.Background(), Query{Text: "x"})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), inner.calls.Load())

	_, err := th.Extract(context.Background(), "https://a.com")
	assert.ErrorIs(t, err, ErrNotConfigured)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	slow := NewThrottled(inner, nil, 0.001)
	_, _ = slow.Search(context.Background(), Query{})
	_, err = slow.Search(ctx, Query{})
	assert.Error(t, err)
}

func TestNewSearcherUnknown(t *testing.T) {
	_, err := NewSearcher(config.Search{Provider: "bing"}, nil)
	assert.Error(t, err)

	s, err := NewSearcher(config.Search{Provider: "feed"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestNewExtractor(t *testing.T) {
	cfg := config.Default()
	cfg.Extract.Provider = "readability"
	e, err := NewExtractor(*cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, e)

	cfg.Extract.Provider = "nope"
	_, err = NewExtractor(*cfg, nil)
	assert.True(t, err != nil && !errors.Is(err, ErrNotConfigured))
}
