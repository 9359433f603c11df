package note

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validNote = `# 标题（3个）
1. 春节不长胖的3个秘诀
2. **过年**也能瘦
3. 节后7天回到巅峰

# 正文
## 饮食
- 少油少糖
- 先吃蔬菜

# 小结
坚持就是胜利。

# 标签（10个）
#春节 #减肥 #健康 #饮食 #运动 #自律 #打卡 #生活 #干货 #分享
`

func TestParseValid(t *testing.T) {
	n, err := Parse(validNote)
	require.NoError(t, err)

	assert.Equal(t, []string{"春节不长胖的3个秘诀", "过年也能瘦", "节后7天回到巅峰"}, n.Titles)
	assert.Contains(t, n.Body, "## 饮食")
	assert.Contains(t, n.Body, "# 小结", "unrecognized level-1 headings stay in the body")
	assert.True(t, strings.HasSuffix(n.Body, "坚持就是胜利。"))
	assert.Len(t, n.Tags, 10)
	assert.Equal(t, "春节", n.Tags[0])
	assert.Equal(t, "分享", n.Tags[9])
}

func TestParseEnglishHeadingsAndTagList(t *testing.T) {
	var tags strings.Builder
	for i := range 10 {
		tags.WriteString("- #tag" + string(rune('a'+i)) + "\n")
	}
	src := "# Titles\n- one\n- two\n- three\n\n# Body\nSome text.\n\n# Tags\n" + tags.String()

	n, err := Parse(src)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, n.Titles)
	assert.Equal(t, "Some text.", n.Body)
	assert.Equal(t, "taga", n.Tags[0])
	assert.Len(t, n.Tags, 10)
}

func TestParseMalformed(t *testing.T) {
	cases := map[string]string{
		"missing tags":     "# 标题\n1. a\n2. b\n3. c\n\n# 正文\nbody\n",
		"two titles":       strings.Replace(validNote, "3. 节后7天回到巅峰\n", "", 1),
		"nine tags":        strings.Replace(validNote, " #分享", "", 1),
		"empty body":       "# 标题\n1. a\n2. b\n3. c\n\n# 正文\n\n# 标签\n#a #b #c #d #e #f #g #h #i #j\n",
		"titles not list":  "# 标题\na b c\n\n# 正文\nbody\n\n# 标签\n#a #b #c #d #e #f #g #h #i #j\n",
		"duplicate body":   validNote + "\n# 正文\nagain\n",
		"plain prose":      "今天聊聊春节减肥。",
		"level two titles": strings.Replace(validNote, "# 标题（3个）", "## 标题", 1),
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(src)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)
		})
	}
}

func TestHeadingInsideCodeFenceIgnored(t *testing.T) {
	src := "# 标题\n1. a\n2. b\n3. c\n\n# 正文\n```\n# 标签\n```\n\n# 标签\n#a #b #c #d #e #f #g #h #i #j\n"
	n, err := Parse(src)
	require.NoError(t, err)
	assert.Contains(t, n.Body, "```\n# 标签\n```")
}

func TestMarkdownRoundTrip(t *testing.T) {
	n, err := Parse(validNote)
	require.NoError(t, err)

	canonical := n.Markdown()
	assert.True(t, strings.HasPrefix(canonical, "# 标题\n1. 春节不长胖的3个秘诀\n"))
	assert.Contains(t, canonical, "\n# 标签\n#春节 #减肥")

	again, err := Parse(canonical)
	require.NoError(t, err)
	assert.Equal(t, n, again)
}

func TestListTagsRoundTrip(t *testing.T) {
	src := "# 标题\n1. a\n2. b\n3. c\n\n# 正文\nbody\n\n# 标签\n" +
		"- C#编程\n- 职场 干货\n- #面试\n- 简历、模板\n- e\n- f\n- g\n- h\n- i\n- j\n"

	n, err := Parse(src)
	require.NoError(t, err)
	require.Len(t, n.Tags, 10)
	assert.Equal(t, []string{"C编程", "职场干货", "面试", "简历模板"}, n.Tags[:4])

	again, err := Parse(n.Markdown())
	require.NoError(t, err)
	assert.Equal(t, n, again)
}

func TestCRLFInput(t *testing.T) {
	_, err := Parse(strings.ReplaceAll(validNote, "\n", "\r\n"))
	assert.NoError(t, err)
}
