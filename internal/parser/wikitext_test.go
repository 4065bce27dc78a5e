package parser

import (
	"slices"
	"testing"
)

func TestParse_Links(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected []string
	}{
		{
			name:     "simple link",
			content:  "Check out [[My Page]]",
			expected: []string{"My Page"},
		},
		{
			name:     "link with alias",
			content:  "See [[My Page|display text]]",
			expected: []string{"My Page"},
		},
		{
			name:     "link with section",
			content:  "[[Page Name#History]]",
			expected: []string{"Page Name"},
		},
		{
			name:     "same page anchor",
			content:  "[[#History]]",
			expected: nil,
		},
		{
			name:     "underscores and lower-case first letter",
			content:  "[[my_page]] and [[My page]]",
			expected: []string{"My page"},
		},
		{
			name:     "namespace canonicalized",
			content:  "[[user talk:bob]] [[image:Logo.png|thumb]]",
			expected: []string{"User talk:Bob", "File:Logo.png"},
		},
		{
			name:     "nested link in file caption",
			content:  "[[File:Map.png|thumb|Map of [[Europe]]]]",
			expected: []string{"File:Map.png", "Europe"},
		},
		{
			name:     "forced category link is a wikilink",
			content:  "[[:Category:Physics]]",
			expected: []string{"Category:Physics"},
		},
		{
			name:     "interlanguage and external links skipped",
			content:  "[[de:Physik]] [http://example.org x] [[http://bad]]",
			expected: nil,
		},
		{
			name:     "nowiki and comments ignored",
			content:  "<nowiki>[[Hidden]]</nowiki> <!-- [[Commented]] --> [[Shown]]",
			expected: []string{"Shown"},
		},
		{
			name:     "duplicate links",
			content:  "[[Page]] and [[Page]] again",
			expected: []string{"Page"},
		},
		{
			name:     "unterminated",
			content:  "[[Good]] then [[Broken",
			expected: []string{"Good"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Parse(tt.content).Links
			if !slices.Equal(result, tt.expected) {
				t.Errorf("Links = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestParse_Categories(t *testing.T) {
	content := "Text.\n[[Category:Physics|Newton]]\n[[category:classical mechanics]]\n[[Category:Physics]]"
	got := Parse(content).Categories
	want := []string{"Category:Physics", "Category:Classical mechanics"}
	if !slices.Equal(got, want) {
		t.Errorf("Categories = %q, want %q", got, want)
	}
	if links := Parse(content).Links; len(links) != 0 {
		t.Errorf("category membership should not be a wikilink: %q", links)
	}
}

func TestParse_Templates(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected []string
	}{
		{
			name:     "simple",
			content:  "{{Infobox person|name=Ada}}",
			expected: []string{"Template:Infobox person"},
		},
		{
			name:     "nested",
			content:  "{{Infobox|born={{birth date|1815|12|10}}}}",
			expected: []string{"Template:Infobox", "Template:Birth date"},
		},
		{
			name:     "explicit namespace and subst",
			content:  "{{Template:cite web|url=x}} {{subst:unsigned}}",
			expected: []string{"Template:Cite web", "Template:Unsigned"},
		},
		{
			name:     "page transclusion",
			content:  "{{:Main Page}} {{User:Bob/sig}}",
			expected: []string{"Main Page", "User:Bob/sig"},
		},
		{
			name:     "magic words and parser functions skipped",
			content:  "{{PAGENAME}} {{DEFAULTSORT:Lovelace, Ada}} {{#if:{{{1|}}}|{{Yes}}}} {{lc:ABC}}",
			expected: []string{"Template:Yes"},
		},
		{
			name:     "parameters are not templates",
			content:  "{{{title|{{{1}}}}}}",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Parse(tt.content).Templates
			if !slices.Equal(result, tt.expected) {
				t.Errorf("Templates = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestParse_Redirect(t *testing.T) {
	tests := []struct {
		content string
		want    string
	}{
		{"#REDIRECT [[Target page]]", "Target page"},
		{"#redirect:[[target_page#Section]]", "Target page"},
		{"  #REDIRECT [[Help:Contents]]\n{{R from move}}", "Help:Contents"},
		{"Not a redirect [[Target]]", ""},
		{"Text first\n#REDIRECT [[Target]]", ""},
	}

	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			p := Parse(tt.content)
			if p.Redirect != tt.want {
				t.Errorf("Redirect = %q, want %q", p.Redirect, tt.want)
			}
			if p.IsRedirect() != (tt.want != "") {
				t.Errorf("IsRedirect = %v", p.IsRedirect())
			}
		})
	}
}

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"foo_bar", "Foo bar"},
		{"  spaced   out  ", "Spaced out"},
		{"template:infobox", "Template:Infobox"},
		{"Image:x.png", "File:X.png"},
		{"Unknown:thing", "Unknown:thing"},
		{"ábc", "Ábc"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeTitle(tt.in); got != tt.want {
			t.Errorf("NormalizeTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
