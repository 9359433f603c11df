// Package note parses and renders the three-section note format:
//
//	# 标题
//	1. <title>
//	2. <title>
//	3. <title>
//
//	# 正文
//	<body markdown>
//
//	# 标签
//	#tag1 #tag2 ... #tag10
//
// English headings (Titles / Body / Tags) are accepted on input.
package note

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

const (
	TitleCount = 3
	TagCount   = 10

	tagSeparators = "#,，、;；"
)

// ErrMalformed is returned when text does not follow the note format.
var ErrMalformed = errors.New("malformed note")

var (
	md         = goldmark.New()
	tagPattern = regexp.MustCompile(`#([^\s` + tagSeparators + `]+)`)
)

// Note is a parsed note.
type Note struct {
	Titles []string `json:"titles"`
	Body   string   `json:"body"`
	Tags   []string `json:"tags"`
}

type sectionKind int

const (
	sectionNone sectionKind = iota
	sectionTitles
	sectionBody
	sectionTags
)

func (k sectionKind) String() string {
	switch k {
	case sectionTitles:
		return "titles"
	case sectionBody:
		return "body"
	case sectionTags:
		return "tags"
	default:
		return "none"
	}
}

func classifyHeading(heading string) sectionKind {
	h := strings.ToLower(strings.TrimSpace(heading))
	switch {
	case strings.HasPrefix(h, "标题"), strings.HasPrefix(h, "title"):
		return sectionTitles
	case strings.HasPrefix(h, "正文"), strings.HasPrefix(h, "body"):
		return sectionBody
	case strings.HasPrefix(h, "标签"), strings.HasPrefix(h, "tag"):
		return sectionTags
	default:
		return sectionNone
	}
}

type section struct {
	kind  sectionKind
	nodes []ast.Node
	start int
	end   int
}

// Parse reads a note. Sections are delimited by level-1 headings whose text
// starts with a known section name; other headings stay inside the section
// they appear in.
func Parse(markdown string) (*Note, error) {
	src := []byte(strings.ReplaceAll(markdown, "\r\n", "\n"))
	doc := md.Parser().Parse(text.NewReader(src))

	var (
		sections []*section
		cur      *section
	)
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if h, ok := n.(*ast.Heading); ok && h.Level == 1 && h.Lines().Len() > 0 {
			if kind := classifyHeading(inlineText(h, src)); kind != sectionNone {
				if cur != nil {
					cur.end = headingStart(h, src)
				}
				cur = &section{kind: kind, start: headingEnd(h, src)}
				sections = append(sections, cur)
				continue
			}
		}
		if cur != nil {
			cur.nodes = append(cur.nodes, n)
		}
	}
	if cur != nil {
		cur.end = len(src)
	}

	byKind := make(map[sectionKind]*section)
	for _, s := range sections {
		if _, dup := byKind[s.kind]; dup {
			return nil, fmt.Errorf("%w: duplicate %s section", ErrMalformed, s.kind)
		}
		byKind[s.kind] = s
	}
	for _, kind := range []sectionKind{sectionTitles, sectionBody, sectionTags} {
		if byKind[kind] == nil {
			return nil, fmt.Errorf("%w: missing %s section", ErrMalformed, kind)
		}
	}

	titles, err := parseTitles(byKind[sectionTitles], src)
	if err != nil {
		return nil, err
	}

	body := strings.TrimSpace(string(src[byKind[sectionBody].start:byKind[sectionBody].end]))
	if body == "" {
		return nil, fmt.Errorf("%w: empty body", ErrMalformed)
	}

	tags, err := parseTags(byKind[sectionTags], src)
	if err != nil {
		return nil, err
	}

	return &Note{Titles: titles, Body: body, Tags: tags}, nil
}

func parseTitles(s *section, src []byte) ([]string, error) {
	list := firstList(s.nodes)
	if list == nil {
		return nil, fmt.Errorf("%w: titles must be a list", ErrMalformed)
	}
	titles := listItems(list, src)
	if len(titles) != TitleCount {
		return nil, fmt.Errorf("%w: expected %d titles, got %d", ErrMalformed, TitleCount, len(titles))
	}
	for _, t := range titles {
		if t == "" {
			return nil, fmt.Errorf("%w: empty title", ErrMalformed)
		}
	}
	return titles, nil
}

func parseTags(s *section, src []byte) ([]string, error) {
	var tags []string
	if list := firstList(s.nodes); list != nil {
		for _, item := range listItems(list, src) {
			if tag := cleanTag(item); tag != "" {
				tags = append(tags, tag)
			}
		}
	} else {
		for _, m := range tagPattern.FindAllStringSubmatch(string(src[s.start:s.end]), -1) {
			tags = append(tags, m[1])
		}
	}
	if len(tags) != TagCount {
		return nil, fmt.Errorf("%w: expected %d tags, got %d", ErrMalformed, TagCount, len(tags))
	}
	return tags, nil
}

// cleanTag drops the runes a rendered #tag token cannot carry, so list-form
// tags survive a round trip through Markdown.
func cleanTag(item string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || strings.ContainsRune(tagSeparators, r) {
			return -1
		}
		return r
	}, item)
}

func firstList(nodes []ast.Node) *ast.List {
	for _, n := range nodes {
		if l, ok := n.(*ast.List); ok {
			return l
		}
	}
	return nil
}

func listItems(list *ast.List, src []byte) []string {
	var items []string
	for c := list.FirstChild(); c != nil; c = c.NextSibling() {
		if _, ok := c.(*ast.ListItem); ok {
			items = append(items, inlineText(c, src))
		}
	}
	return items
}

// inlineText concatenates the text of n's descendants, collapsing whitespace.
func inlineText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := c.(type) {
		case *ast.Text:
			buf.Write(v.Segment.Value(src))
			if v.SoftLineBreak() || v.HardLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(v.Value)
		case *ast.AutoLink:
			buf.Write(v.URL(src))
		}
		return ast.WalkContinue, nil
	})
	return strings.Join(strings.Fields(buf.String()), " ")
}

// headingStart is the offset of the first byte of the heading's line.
func headingStart(h *ast.Heading, src []byte) int {
	pos := h.Lines().At(0).Start
	return bytes.LastIndexByte(src[:pos], '\n') + 1
}

// headingEnd is the offset just past the heading, including a setext underline.
func headingEnd(h *ast.Heading, src []byte) int {
	lines := h.Lines()
	end := lineEnd(src, lines.At(lines.Len()-1).Stop)
	next := lineEnd(src, end)
	underline := strings.TrimSpace(string(src[end:next]))
	if underline != "" && strings.Trim(underline, "=") == "" {
		return next
	}
	return end
}

func lineEnd(src []byte, pos int) int {
	if pos >= len(src) {
		return len(src)
	}
	if i := bytes.IndexByte(src[pos:], '\n'); i >= 0 {
		return pos + i + 1
	}
	return len(src)
}

// Markdown renders the note in canonical form.
func (n *Note) Markdown() string {
	var sb strings.Builder
	sb.WriteString("# 标题\n")
	for i, t := range n.Titles {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, t)
	}
	sb.WriteString("\n# 正文\n")
	sb.WriteString(strings.TrimSpace(n.Body))
	sb.WriteString("\n\n# 标签\n")
	for i, tag := range n.Tags {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString("#" + tag)
	}
	sb.WriteByte('\n')
	return sb.String()
}
