package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/TobiSchelling/hotnote/internal/search"
)

const noteOutput = "```markdown\n# 标题\n1. 面试前一晚做什么\n2. 三步准备技术面\n3. 面试官最看重的细节\n\n# 正文\n## 准备\n复盘项目，准备提问。\n\n# 标签\n#面试 #求职 #技术 #准备 #简历 #复盘 #offer #程序员 #职场 #干货\n```"

type reply struct {
	text string
	err  error
	wait bool
}

// scriptedProvider returns replies in order and records every prompt.
type scriptedProvider struct {
	mu      sync.Mutex
	replies []reply
	prompts []string
}

func (p *scriptedProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	p.mu.Lock()
	p.prompts = append(p.prompts, prompt)
	if len(p.replies) == 0 {
		p.mu.Unlock()
		return "", errors.New("no scripted reply")
	}
	r := p.replies[0]
	p.replies = p.replies[1:]
	p.mu.Unlock()

	if r.wait {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return r.text, r.err
}

func (p *scriptedProvider) IsConfigured() bool { return true }

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.prompts)
}

func testOptions() Options {
	return Options{
		MaxTokens:      512,
		Timeout:        time.Second,
		MaxRetries:     1,
		RetryBackoff:   time.Millisecond,
		ContextResults: 5,
		TitleChars:     80,
		SummaryChars:   260,
	}
}

func TestRunCompletesAllStages(t *testing.T) {
	p := &scriptedProvider{replies: []reply{
		{text: "研究要点：项目复盘最重要。"},
		{text: noteOutput},
		{text: noteOutput},
	}}
	w := New(p, testOptions(), zaptest.NewLogger(t))

	results := []search.Result{search.NewResult("面试经验", "https://www.zhihu.com/q/1", "先准备项目")}
	r := w.Run(context.Background(), "技术面试", results)

	require.Nil(t, r.Err)
	assert.Equal(t, []Stage{StageResearch, StageWrite, StageEdit}, r.Stages)
	assert.Equal(t, "研究要点：项目复盘最重要。", r.Research)
	assert.True(t, strings.HasPrefix(r.Draft, "# 标题\n1. 面试前一晚做什么"), "draft is re-rendered without fences")
	require.NotNil(t, r.Note)
	assert.Len(t, r.Note.Tags, 10)
	assert.Equal(t, r.Note.Markdown(), r.Edited)

	require.Len(t, p.prompts, 3)
	assert.Contains(t, p.prompts[0], "- 面试经验: 先准备项目 (https://www.zhihu.com/q/1)")
	assert.Contains(t, p.prompts[1], "研究要点：项目复盘最重要。")
	assert.Contains(t, p.prompts[2], "# 标题\n1. 面试前一晚做什么")
}

func TestResearchFailureStopsChain(t *testing.T) {
	p := &scriptedProvider{replies: []reply{
		{err: errors.New("upstream 503")},
		{err: errors.New("upstream 503")},
	}}
	w := New(p, testOptions(), zaptest.NewLogger(t))

	r := w.Run(context.Background(), "topic", nil)

	require.NotNil(t, r.Err)
	assert.Equal(t, StageResearch, r.Err.Stage)
	assert.Equal(t, KindProvider, r.Err.Kind)
	assert.Equal(t, 2, r.Err.Attempts)
	assert.Contains(t, r.Err.Message, "upstream 503")
	assert.Equal(t, 2, p.calls(), "write and edit must never be invoked")
	assert.Empty(t, r.Draft)
	assert.Empty(t, r.Edited)
	assert.Empty(t, r.Stages)
}

func TestRetrySucceedsOnSecondAttempt(t *testing.T) {
	p := &scriptedProvider{replies: []reply{
		{text: "notes"},
		{err: errors.New("connection reset")},
		{text: noteOutput},
		{text: noteOutput},
	}}
	w := New(p, testOptions(), zaptest.NewLogger(t))

	r := w.Run(context.Background(), "topic", nil)

	require.Nil(t, r.Err)
	assert.Equal(t, 4, p.calls())
	assert.NotEmpty(t, r.Edited)
}

func TestMalformedOutputIsNotRetried(t *testing.T) {
	p := &scriptedProvider{replies: []reply{
		{text: "notes"},
		{text: "# 标题\n1. only one\n\n# 正文\nbody\n"},
		{text: noteOutput},
	}}
	w := New(p, testOptions(), zaptest.NewLogger(t))

	r := w.Run(context.Background(), "topic", nil)

	require.NotNil(t, r.Err)
	assert.Equal(t, StageWrite, r.Err.Stage)
	assert.Equal(t, KindMalformed, r.Err.Kind)
	assert.Equal(t, 1, r.Err.Attempts)
	assert.ErrorIs(t, r.Err, ErrMalformedOutput)
	assert.Equal(t, 2, p.calls())
	assert.Equal(t, "notes", r.Research)
	assert.Empty(t, r.Draft)
	assert.Equal(t, []Stage{StageResearch}, r.Stages)
}

func TestBlankResearchIsMalformed(t *testing.T) {
	p := &scriptedProvider{replies: []reply{{text: "  \n "}}}
	w := New(p, testOptions(), zaptest.NewLogger(t))

	r := w.Run(context.Background(), "topic", nil)

	require.NotNil(t, r.Err)
	assert.Equal(t, StageResearch, r.Err.Stage)
	assert.Equal(t, KindMalformed, r.Err.Kind)
	assert.Equal(t, 1, p.calls())
}

func TestEditFailureKeepsDraft(t *testing.T) {
	p := &scriptedProvider{replies: []reply{
		{text: "notes"},
		{text: noteOutput},
		{err: errors.New("boom")},
		{err: errors.New("boom")},
	}}
	w := New(p, testOptions(), zaptest.NewLogger(t))

	r := w.Run(context.Background(), "topic", nil)

	require.NotNil(t, r.Err)
	assert.Equal(t, StageEdit, r.Err.Stage)
	assert.NotEmpty(t, r.Draft)
	assert.Empty(t, r.Edited)
	assert.Nil(t, r.Note)
}

func TestPerAttemptTimeout(t *testing.T) {
	opts := testOptions()
	opts.Timeout = 20 * time.Millisecond
	opts.MaxRetries = 0
	p := &scriptedProvider{replies: []reply{{wait: true}}}
	w := New(p, opts, zaptest.NewLogger(t))

	r := w.Run(context.Background(), "topic", nil)

	require.NotNil(t, r.Err)
	assert.Equal(t, KindTimeout, r.Err.Kind)
	assert.Equal(t, 1, r.Err.Attempts)
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &scriptedProvider{replies: []reply{{wait: true}, {wait: true}}}
	w := New(p, testOptions(), zaptest.NewLogger(t))

	r := w.Run(ctx, "topic", nil)

	require.NotNil(t, r.Err)
	assert.Equal(t, KindCanceled, r.Err.Kind)
	assert.Equal(t, 1, p.calls(), "no retry after cancellation")
}

func TestNilProvider(t *testing.T) {
	opts := testOptions()
	opts.MaxRetries = 0
	w := New(nil, opts, zaptest.NewLogger(t))

	r := w.Run(context.Background(), "topic", nil)

	require.NotNil(t, r.Err)
	assert.Equal(t, KindProvider, r.Err.Kind)
}

func TestBuildSearchContext(t *testing.T) {
	assert.Equal(t, "- no snippets", BuildSearchContext(nil, 5, 80, 260))

	results := []search.Result{
		{Title: "A  title", Summary: "line one\nline two", URL: "https://a.com"},
		{Title: "B", Summary: strings.Repeat("x", 10)},
		{Title: "C", Summary: "dropped"},
	}
	got := BuildSearchContext(results, 2, 80, 4)
	assert.Equal(t, "- A title: line...(truncated) (https://a.com)\n- B: xxxx...(truncated)", got)
}

func TestRunListFormTagsProduceParsableNote(t *testing.T) {
	listNote := "# 标题\n1. 面试前一晚做什么\n2. 三步准备技术面\n3. 面试官最看重的细节\n\n# 正文\n复盘项目。\n\n# 标签\n" +
		"- C#编程\n- 职场 干货\n- 面试\n- 求职\n- 简历\n- 复盘\n- offer\n- 程序员\n- 技术\n- 准备\n"
	p := &scriptedProvider{replies: []reply{{text: "notes"}, {text: listNote}, {text: listNote}}}
	w := New(p, testOptions(), zaptest.NewLogger(t))

	res := w.Run(context.Background(), "面试", nil)
	require.Nil(t, res.Err)
	require.NotNil(t, res.Note)
	assert.Len(t, res.Note.Tags, 10)
	assert.Equal(t, res.Note.Markdown(), res.Edited)
	assert.Contains(t, res.Edited, "#C编程 #职场干货 #面试")
}

func TestWriteProviderFailureExhaustsRetries(t *testing.T) {
	p := &scriptedProvider{replies: []reply{
		{text: "notes"},
		{err: errors.New("upstream 502")},
		{err: errors.New("upstream 502")},
	}}
	w := New(p, testOptions(), zaptest.NewLogger(t))

	res := w.Run(context.Background(), "面试", nil)
	require.NotNil(t, res.Err)
	assert.Equal(t, StageWrite, res.Err.Stage)
	assert.Equal(t, KindProvider, res.Err.Kind)
	assert.Equal(t, 2, res.Err.Attempts)
	assert.Empty(t, res.Draft)
	assert.Empty(t, res.Edited)
	assert.Nil(t, res.Note)
	assert.Equal(t, []Stage{StageResearch}, res.Stages)
	assert.Equal(t, 3, p.calls(), "edit must never be invoked")
}
