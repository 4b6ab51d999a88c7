package content

import (
	"net/url"
	"strings"
	"testing"
)

func TestProcessRewritesLinks(t *testing.T) {
	p := NewProcessor("https://news.example.com")

	tests := []struct {
		name string
		html string
		want []string
	}{
		{
			name: "https anchor",
			html: `<body><a href="https://example.com/post?id=1">Read</a></body>`,
			want: []string{
				`/track/click?cid=c1&sid=s1&url=` + url.QueryEscape("https://example.com/post?id=1"),
			},
		},
		{
			name: "http anchor",
			html: `<body><a href="http://example.com">x</a></body>`,
			want: []string{`url=` + url.QueryEscape("http://example.com")},
		},
		{
			name: "single quoted href",
			html: `<body><a href='https://example.com'>x</a></body>`,
			want: []string{`url=` + url.QueryEscape("https://example.com")},
		},
		{
			name: "multiple anchors",
			html: `<body><a href="https://a.test">a</a><a href="https://b.test">b</a></body>`,
			want: []string{
				`url=` + url.QueryEscape("https://a.test"),
				`url=` + url.QueryEscape("https://b.test"),
			},
		},
		{
			name: "anchor with other attributes",
			html: `<body><a class="btn" target="_blank" href="https://example.com">x</a></body>`,
			want: []string{`url=` + url.QueryEscape("https://example.com")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Process(tt.html, "c1", "s1", "tok")
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("output missing %q:\n%s", w, got)
				}
			}
			if strings.Contains(got, `href="https://example.com/post?id=1"`) {
				t.Errorf("original href left unrewritten:\n%s", got)
			}
		})
	}
}

func TestProcessLeavesNonHTTPLinksAlone(t *testing.T) {
	p := NewProcessor("https://news.example.com")

	html := `<body><a href="mailto:hi@example.com">mail</a></body>`
	got := p.Process(html, "c1", "s1", "tok")
	if !strings.Contains(got, `href="mailto:hi@example.com"`) {
		t.Errorf("mailto link was rewritten:\n%s", got)
	}
}

func TestProcessLeavesNonAnchorHrefsAlone(t *testing.T) {
	p := NewProcessor("https://news.example.com")

	html := `<html><head><link rel="stylesheet" href="https://fonts.example.com/x.css"><base href="https://example.com/"></head>` +
		`<body><a href="https://example.com/post">read</a></body></html>`
	got := p.Process(html, "c1", "s1", "tok")

	if !strings.Contains(got, `href="https://fonts.example.com/x.css"`) {
		t.Errorf("stylesheet href was rewritten:\n%s", got)
	}
	if !strings.Contains(got, `<base href="https://example.com/">`) {
		t.Errorf("base href was rewritten:\n%s", got)
	}
	if strings.Contains(got, `<a href="https://example.com/post"`) {
		t.Errorf("anchor href left unrewritten:\n%s", got)
	}
}

func TestProcessInjectsBeforeBodyClose(t *testing.T) {
	p := NewProcessor("https://news.example.com")

	got := p.Process(`<html><body><p>hi</p></body></html>`, "c1", "s1", "tok")

	pixel := `/track/open?cid=c1&sid=s1`
	if !strings.Contains(got, pixel) {
		t.Fatalf("pixel missing:\n%s", got)
	}
	if !strings.Contains(got, "/unsubscribe?token=tok") {
		t.Fatalf("unsubscribe link missing:\n%s", got)
	}
	if strings.Index(got, pixel) > strings.Index(got, "</body>") {
		t.Errorf("pixel injected after closing body tag:\n%s", got)
	}
}

func TestProcessAppendsWithoutBodyTag(t *testing.T) {
	p := NewProcessor("https://news.example.com")

	got := p.Process(`<p>plain fragment</p>`, "c1", "s1", "tok")
	if !strings.HasPrefix(got, `<p>plain fragment</p>`) {
		t.Errorf("fragment was not preserved:\n%s", got)
	}
	if !strings.Contains(got, "/track/open?cid=c1&sid=s1") {
		t.Errorf("pixel missing from appended suffix:\n%s", got)
	}
}

func TestProcessIsPure(t *testing.T) {
	p := NewProcessor("https://news.example.com")

	html := `<body><a href="https://example.com">x</a></body>`
	first := p.Process(html, "c1", "s1", "tok")
	second := p.Process(html, "c1", "s1", "tok")
	if first != second {
		t.Error("identical inputs produced different output")
	}
}

func TestProcessEscapesIdentifiers(t *testing.T) {
	p := NewProcessor("https://news.example.com")

	got := p.Process(`<body></body>`, "c 1", "s&1", "t k")
	if !strings.Contains(got, "cid=c+1") {
		t.Errorf("campaign id not escaped:\n%s", got)
	}
	if !strings.Contains(got, "sid=s%261") {
		t.Errorf("subscriber id not escaped:\n%s", got)
	}
	if !strings.Contains(got, "token=t+k") {
		t.Errorf("token not escaped:\n%s", got)
	}
}
