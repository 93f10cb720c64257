// Package dom 基于已解析 HTML 的元素实现，供触发插件上报的页面快照使用。
package dom

import (
	"io"
	"strings"
	"sync"

	"eventcorr/pkg/domain"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Node 包装 html.Node，实现 domain.Element
type Node struct {
	n *html.Node
}

// Parse 解析 HTML 文档或片段，返回文档根节点
func Parse(r io.Reader) (*Node, error) {
	n, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	return &Node{n: n}, nil
}

// ParseString 解析 HTML 字符串
func ParseString(s string) (*Node, error) {
	return Parse(strings.NewReader(s))
}

func wrap(n *html.Node) *Node {
	if n == nil {
		return nil
	}
	return &Node{n: n}
}

var selectors sync.Map // selector -> cascadia.Sel，编译失败缓存为 nil

func compile(sel string) cascadia.Sel {
	if v, ok := selectors.Load(sel); ok {
		s, _ := v.(cascadia.Sel)
		return s
	}
	s, err := cascadia.Parse(sel)
	if err != nil {
		selectors.Store(sel, nil)
		return nil
	}
	selectors.Store(sel, s)
	return s
}

// Query 在后代中查找第一个匹配元素，选择器无效时视为未找到
func (e *Node) Query(selector string) (domain.Element, bool) {
	found := e.query(selector)
	if found == nil {
		return nil, false
	}
	return found, true
}

func (e *Node) query(selector string) *Node {
	if e == nil || e.n == nil {
		return nil
	}
	s := compile(strings.TrimSpace(selector))
	if s == nil {
		return nil
	}
	return wrap(cascadia.Query(e.n, s))
}

// Find 同 Query，返回具体类型
func (e *Node) Find(selector string) *Node { return e.query(selector) }

// Closest 从自身向上查找第一个匹配的祖先（含自身）
func (e *Node) Closest(selector string) *Node {
	if e == nil {
		return nil
	}
	s := compile(strings.TrimSpace(selector))
	if s == nil {
		return nil
	}
	for n := e.n; n != nil; n = n.Parent {
		if n.Type == html.ElementNode && s.Match(n) {
			return wrap(n)
		}
	}
	return nil
}

// Attribute 读取属性
func (e *Node) Attribute(name string) (string, bool) {
	if e == nil || e.n == nil {
		return "", false
	}
	name = strings.ToLower(name)
	for _, a := range e.n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// Text 元素文本，空白折叠为单个空格
func (e *Node) Text() string {
	if e == nil || e.n == nil {
		return ""
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style) {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(e.n)
	return strings.Join(strings.Fields(b.String()), " ")
}

// Value 表单控件的当前值
func (e *Node) Value() string {
	if e == nil || e.n == nil {
		return ""
	}
	switch e.n.DataAtom {
	case atom.Textarea:
		return e.Text()
	case atom.Select:
		opt := e.Find("option[selected]")
		if opt == nil {
			opt = e.Find("option")
		}
		if opt == nil {
			return ""
		}
		if v, ok := opt.Attribute("value"); ok {
			return v
		}
		return opt.Text()
	case atom.Input:
		typ, _ := e.Attribute("type")
		if t := strings.ToLower(typ); t == "checkbox" || t == "radio" {
			if _, checked := e.Attribute("checked"); !checked {
				return ""
			}
		}
	}
	v, _ := e.Attribute("value")
	return v
}

var _ domain.Element = (*Node)(nil)
