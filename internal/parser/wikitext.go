// Package parser extracts the link graph from wikitext: wikilinks, template
// transclusions, category membership and redirect targets.
package parser

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// commentRegex matches HTML comments, which MediaWiki never renders
	commentRegex = regexp.MustCompile(`(?s)<!--.*?-->`)

	// verbatimRegex matches blocks whose content is not parsed as wikitext
	verbatimRegex = regexp.MustCompile(`(?is)<(nowiki|pre|syntaxhighlight|source|math|code)\b[^>]*>.*?</(?:nowiki|pre|syntaxhighlight|source|math|code)\s*>`)

	// selfClosingNowikiRegex matches <nowiki/> markers
	selfClosingNowikiRegex = regexp.MustCompile(`(?i)<nowiki\s*/>`)

	// paramRegex matches innermost template parameters {{{name|default}}}
	paramRegex = regexp.MustCompile(`\{\{\{[^{}]*\}\}\}`)

	// redirectRegex matches #REDIRECT [[Target]] at the top of a page
	redirectRegex = regexp.MustCompile(`(?i)^\s*#REDIRECT\s*:?\s*\[\[([^\[\]|]+)`)
)

// canonical namespace prefixes, keyed by lower-case name
var namespaces = map[string]string{
	"talk":           "Talk",
	"user":           "User",
	"user talk":      "User talk",
	"project":        "Project",
	"project talk":   "Project talk",
	"wikipedia":      "Wikipedia",
	"wikipedia talk": "Wikipedia talk",
	"file":           "File",
	"image":          "File",
	"file talk":      "File talk",
	"mediawiki":      "MediaWiki",
	"template":       "Template",
	"template talk":  "Template talk",
	"help":           "Help",
	"help talk":      "Help talk",
	"category":       "Category",
	"category talk":  "Category talk",
	"portal":         "Portal",
	"module":         "Module",
	"special":        "Special",
	"media":          "Media",
}

// magic words and parser functions that look like templates but are not
var magicWords = map[string]bool{
	"PAGENAME": true, "PAGENAMEE": true, "FULLPAGENAME": true, "BASEPAGENAME": true,
	"SUBPAGENAME": true, "NAMESPACE": true, "TALKPAGENAME": true, "SITENAME": true,
	"CURRENTYEAR": true, "CURRENTMONTH": true, "CURRENTDAY": true, "CURRENTTIME": true,
	"CURRENTTIMESTAMP": true, "REVISIONID": true, "REVISIONTIMESTAMP": true, "PAGESIZE": true,
	"NUMBEROFARTICLES": true, "NUMBEROFPAGES": true, "DEFAULTSORT": true, "DISPLAYTITLE": true,
	"!": true, "=": true,
	"lc": true, "uc": true, "lcfirst": true, "ucfirst": true, "urlencode": true,
	"anchorencode": true, "fullurl": true, "localurl": true, "canonicalurl": true,
	"int": true, "ns": true, "formatnum": true, "padleft": true, "padright": true,
	"plural": true, "grammar": true, "gender": true, "filepath": true,
}

// ParsedPage is the link graph of one revision's content
type ParsedPage struct {
	Links      []string
	Templates  []string
	Categories []string
	// Redirect is the normalized target when the page is a redirect
	Redirect string
}

// IsRedirect reports whether the content is a redirect
func (p *ParsedPage) IsRedirect() bool {
	return p.Redirect != ""
}

// Parse extracts links, transclusions and categories from wikitext.
// Every returned title is normalized and each list is free of duplicates.
func Parse(content string) *ParsedPage {
	page := &ParsedPage{}
	text := stripUnparsed(content)

	if m := redirectRegex.FindStringSubmatch(text); m != nil {
		page.Redirect = NormalizeTitle(stripFragment(m[1]))
	}

	links := newTitleSet()
	categories := newTitleSet()
	scanBrackets(text, "[[", "]]", func(inner string) {
		kind, target := classifyLink(inner)
		switch kind {
		case kindWikilink:
			links.add(target)
		case kindCategory:
			categories.add(target)
		}
	})

	templates := newTitleSet()
	scanBrackets(stripParams(text), "{{", "}}", func(inner string) {
		if target := templateTarget(inner); target != "" {
			templates.add(target)
		}
	})

	page.Links = links.items
	page.Templates = templates.items
	page.Categories = categories.items
	return page
}

func stripUnparsed(content string) string {
	text := commentRegex.ReplaceAllString(content, "")
	text = verbatimRegex.ReplaceAllString(text, "")
	return selfClosingNowikiRegex.ReplaceAllString(text, "")
}

// stripParams removes template parameters, innermost first
func stripParams(text string) string {
	for {
		next := paramRegex.ReplaceAllString(text, "")
		if next == text {
			return text
		}
		text = next
	}
}

// scanBrackets calls fn with the inner text of every balanced open/close
// pair, including pairs nested inside another pair's arguments.
func scanBrackets(s, open, close string, fn func(inner string)) {
	for i := 0; i+len(open) <= len(s); i++ {
		if !strings.HasPrefix(s[i:], open) {
			continue
		}

		depth := 1
		j := i + len(open)
		for j+len(close) <= len(s) && depth > 0 {
			switch {
			case strings.HasPrefix(s[j:], open):
				depth++
				j += len(open)
			case strings.HasPrefix(s[j:], close):
				depth--
				j += len(close)
			default:
				j++
			}
		}
		if depth != 0 {
			// unterminated; the rest of the text cannot hold a balanced pair
			return
		}

		inner := s[i+len(open) : j-len(close)]
		fn(inner)
		if k := strings.IndexByte(inner, '|'); k >= 0 {
			scanBrackets(inner[k+1:], open, close, fn)
		}
		i = j - 1
	}
}

type linkKind int

const (
	kindNone linkKind = iota
	kindWikilink
	kindCategory
)

func classifyLink(inner string) (linkKind, string) {
	target := inner
	if k := strings.IndexByte(target, '|'); k >= 0 {
		target = target[:k]
	}
	target = strings.TrimSpace(target)
	if target == "" || strings.ContainsAny(target, "{}[]<>") || strings.Contains(target, "://") {
		return kindNone, ""
	}

	// [[:Category:X]] links to the category page instead of joining it
	forced := strings.HasPrefix(target, ":")
	target = strings.TrimPrefix(target, ":")

	target = stripFragment(target)
	if target == "" {
		return kindNone, ""
	}
	// [[de:Seite]] is an interlanguage link, not part of this wiki's graph
	if k := strings.IndexByte(target, ':'); k > 0 && !forced && isLanguageCode(target[:k]) {
		return kindNone, ""
	}

	title := NormalizeTitle(target)
	if !forced && strings.HasPrefix(title, "Category:") {
		return kindCategory, title
	}
	return kindWikilink, title
}

func templateTarget(inner string) string {
	name := inner
	if k := strings.IndexByte(name, '|'); k >= 0 {
		name = name[:k]
	}
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, "{}[]<>") || strings.HasPrefix(name, "#") {
		return ""
	}

	for _, prefix := range []string{"subst:", "safesubst:", "msgnw:"} {
		if len(name) >= len(prefix) && strings.EqualFold(name[:len(prefix)], prefix) {
			name = strings.TrimSpace(name[len(prefix):])
		}
	}

	head := name
	if k := strings.IndexByte(head, ':'); k >= 0 {
		head = head[:k]
	}
	if magicWords[head] || magicWords[strings.ToLower(head)] {
		return ""
	}

	// {{:Page}} transcludes a main namespace page
	if strings.HasPrefix(name, ":") {
		return NormalizeTitle(strings.TrimPrefix(name, ":"))
	}
	title := NormalizeTitle(name)
	if k := strings.IndexByte(title, ':'); k >= 0 {
		if _, ok := namespaces[strings.ToLower(title[:k])]; ok {
			return title
		}
	}
	return "Template:" + title
}

func isLanguageCode(prefix string) bool {
	if len(prefix) < 2 || len(prefix) > 3 {
		return false
	}
	for _, r := range prefix {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}

func stripFragment(target string) string {
	if k := strings.IndexByte(target, '#'); k >= 0 {
		target = target[:k]
	}
	return strings.TrimSpace(target)
}

// NormalizeTitle applies MediaWiki's title canonicalization: underscores
// become spaces, whitespace collapses, known namespace prefixes take their
// canonical spelling and the first letter of the name is upper-cased.
func NormalizeTitle(title string) string {
	title = strings.Join(strings.Fields(strings.ReplaceAll(title, "_", " ")), " ")
	if title == "" {
		return ""
	}

	if k := strings.IndexByte(title, ':'); k > 0 {
		if ns, ok := namespaces[strings.ToLower(strings.TrimSpace(title[:k]))]; ok {
			name := strings.TrimSpace(title[k+1:])
			return ns + ":" + upperFirst(name)
		}
	}
	return upperFirst(title)
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// titleSet keeps first-seen order while dropping duplicates
type titleSet struct {
	seen  map[string]bool
	items []string
}

func newTitleSet() *titleSet {
	return &titleSet{seen: make(map[string]bool)}
}

func (s *titleSet) add(title string) {
	if title == "" || s.seen[title] {
		return
	}
	s.seen[title] = true
	s.items = append(s.items, title)
}
