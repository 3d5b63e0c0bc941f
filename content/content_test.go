package content

import (
	"strings"
	"testing"
)

func TestSufficient(t *testing.T) {
	long := strings.Repeat("Visible paragraph text with substance. ", 10)

	tests := []struct {
		name   string
		body   string
		minLen int
		want   bool
	}{
		{
			name: "real article",
			body: "<html><body><p>" + long + "</p></body></html>",
			want: true,
		},
		{
			name: "empty body",
			body: "",
			want: false,
		},
		{
			name: "too short",
			body: "<html><body><p>brief</p></body></html>",
			want: false,
		},
		{
			name: "spa root shell",
			body: `<html><body><div id="root"></div><script src="/bundle.js"></script>` +
				strings.Repeat("<!-- chunk manifest padding -->", 20) + `</body></html>`,
			want: false,
		},
		{
			name: "next.js shell",
			body: `<html><body><div id="__next"></div>` + strings.Repeat(" ", 400) + `</body></html>`,
			want: false,
		},
		{
			name: "script-only weight",
			body: "<html><body><script>" + long + "</script><p>tiny</p></body></html>",
			want: false,
		},
		{
			name:   "custom threshold",
			body:   "<html><body><p>just enough visible text for a small threshold</p></body></html>",
			minLen: 30,
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sufficient([]byte(tt.body), tt.minLen); got != tt.want {
				t.Fatalf("Sufficient = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTitle(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"present", "<html><head><title>  Balcony Solar Guide </title></head><body></body></html>", "Balcony Solar Guide"},
		{"absent", "<html><body><p>no title here</p></body></html>", ""},
		{"empty element", "<html><head><title></title></head></html>", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Title([]byte(tt.body)); got != tt.want {
				t.Fatalf("Title = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizer_Markdown(t *testing.T) {
	n := NewNormalizer()

	body := []byte(`<html><body>
		<h1>Heading</h1>
		<p>A paragraph with a <a href="/docs">relative link</a>.</p>
		<script>alert("stripped")</script>
	</body></html>`)

	md := n.Markdown(body, "https://a.example")

	if !strings.Contains(md, "Heading") {
		t.Fatalf("heading missing from markdown:\n%s", md)
	}
	if strings.Contains(md, "alert(") {
		t.Fatalf("script content survived sanitization:\n%s", md)
	}
	if !strings.Contains(md, "https://a.example/docs") {
		t.Fatalf("relative link not resolved against the source domain:\n%s", md)
	}
}

func TestNormalizer_EmptyConversionFallsBack(t *testing.T) {
	n := NewNormalizer()
	if got := n.Markdown([]byte(""), "https://a.example"); got != "" {
		t.Fatalf("Markdown of empty body = %q, want empty", got)
	}
}
