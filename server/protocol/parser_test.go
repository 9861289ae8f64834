package protocol

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParserCases(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		want  Code
		check func(t *testing.T, req *Request)
	}{
		{
			name: "simple get",
			raw:  "GET /index.html HTTP/1.1\r\nHost: x\r\n\r\n",
			want: GetRequest,
			check: func(t *testing.T, req *Request) {
				assert.Equal(t, MethodGet, req.Method)
				assert.Equal(t, "/index.html", string(req.Path))
				assert.Equal(t, "HTTP/1.1", string(req.Version))
				assert.Equal(t, "x", string(req.Host))
				assert.False(t, req.KeepAlive)
			},
		},
		{
			name: "keep alive flag",
			raw:  "GET / HTTP/1.1\r\nConnection: Keep-Alive\r\n\r\n",
			want: GetRequest,
			check: func(t *testing.T, req *Request) {
				assert.True(t, req.KeepAlive)
			},
		},
		{
			name: "absolute form url",
			raw:  "GET http://example.com/a/b HTTP/1.1\r\n\r\n",
			want: GetRequest,
			check: func(t *testing.T, req *Request) {
				assert.Equal(t, "/a/b", string(req.Path))
			},
		},
		{
			name: "post with full body",
			raw:  "POST /register HTTP/1.1\r\nContent-Length: 11\r\n\r\nhello world",
			want: GetRequest,
			check: func(t *testing.T, req *Request) {
				assert.Equal(t, MethodPost, req.Method)
				assert.Equal(t, "hello world", string(req.Body))
			},
		},
		{
			name: "post with partial body",
			raw:  "POST /register HTTP/1.1\r\nContent-Length: 20\r\n\r\nonly ten b",
			want: NoRequest,
		},
		{
			name: "get ignores content length",
			raw:  "GET / HTTP/1.1\r\nContent-Length: 5\r\n\r\n",
			want: GetRequest,
		},
		{
			name: "unknown header ignored",
			raw:  "GET / HTTP/1.1\r\nX-Whatever: yes\r\n\r\n",
			want: GetRequest,
		},
		{
			name: "unrecognized method",
			raw:  "GARBAGE\r\n\r\n",
			want: BadRequest,
		},
		{
			name: "lowercase method rejected",
			raw:  "get / HTTP/1.1\r\n\r\n",
			want: BadRequest,
		},
		{
			name: "verb outside the served set",
			raw:  "DELETE /x HTTP/1.1\r\n\r\n",
			want: BadRequest,
		},
		{
			name: "missing version",
			raw:  "GET / \r\n\r\n",
			want: BadRequest,
		},
		{
			name: "url without leading slash",
			raw:  "GET nope HTTP/1.1\r\n\r\n",
			want: BadRequest,
		},
		{
			name: "bare lf in request line",
			raw:  "GET / HTTP/1.1\n\r\n",
			want: BadRequest,
		},
		{
			name: "cr not followed by lf",
			raw:  "GET / HTTP/1.1\rX\r\n",
			want: BadRequest,
		},
		{
			name: "header without colon",
			raw:  "GET / HTTP/1.1\r\nNoColonHere\r\n\r\n",
			want: BadRequest,
		},
		{
			name: "content length not a number",
			raw:  "POST / HTTP/1.1\r\nContent-Length: 12x\r\n\r\n",
			want: BadRequest,
		},
		{
			name: "incomplete headers",
			raw:  "GET / HTTP/1.1\r\nHost: loc",
			want: NoRequest,
		},
		{
			name: "trailing cr waits for lf",
			raw:  "GET / HTTP/1.1\r",
			want: NoRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p Parser
			got := p.Consume([]byte(tt.raw))
			require.Equal(t, tt.want, got)
			if tt.check != nil {
				tt.check(t, p.Request())
			}
		})
	}
}

// feeding any strict prefix must yield NoRequest, and the byte-at-a-time
// outcome must match feeding the whole request at once
func TestParserIncremental(t *testing.T) {
	raws := []string{
		"GET /index.html HTTP/1.1\r\nHost: x\r\nConnection: keep-alive\r\n\r\n",
		"POST /login HTTP/1.1\r\nContent-Length: 8\r\n\r\nuser=abc",
	}

	for _, raw := range raws {
		var whole Parser
		want := whole.Consume([]byte(raw))
		require.Equal(t, GetRequest, want)

		var p Parser
		for i := 1; i < len(raw); i++ {
			got := p.Consume([]byte(raw[:i]))
			require.Equalf(t, NoRequest, got, "prefix of %d bytes", i)
		}
		assert.Equal(t, want, p.Consume([]byte(raw)))
	}
}

func TestParserContentLengthBoundary(t *testing.T) {
	head := "POST /register HTTP/1.1\r\nContent-Length: 20\r\n\r\n"
	body := "01234567890123456789"

	var p Parser
	require.Equal(t, NoRequest, p.Consume([]byte(head)))
	require.Equal(t, NoRequest, p.Consume([]byte(head+body[:10])))
	require.Equal(t, NoRequest, p.Consume([]byte(head+body[:19])))
	require.Equal(t, GetRequest, p.Consume([]byte(head+body)))
	assert.Equal(t, body, string(p.Request().Body))
}

// after Reset a parser must behave exactly like a fresh one
func TestParserReset(t *testing.T) {
	raw := []byte("GET /a HTTP/1.1\r\nConnection: keep-alive\r\n\r\n")

	var p Parser
	require.Equal(t, GetRequest, p.Consume(raw))
	p.Reset()

	next := []byte("GET /b HTTP/1.1\r\nHost: y\r\n\r\n")
	require.Equal(t, GetRequest, p.Consume(next))
	assert.Equal(t, "/b", string(p.Request().Path))
	assert.Equal(t, "y", string(p.Request().Host))
	assert.False(t, p.Request().KeepAlive)
}

func TestParserKeepAliveIgnoredOnBadRequest(t *testing.T) {
	// malformed request line classifies bad no matter what headers follow
	var p Parser
	got := p.Consume([]byte("BLAH / HTTP/1.1\r\nConnection: keep-alive\r\n\r\n"))
	assert.Equal(t, BadRequest, got)
}

func BenchmarkParse(b *testing.B) {
	raw := []byte("POST /very/long/path/for/testing/purposes HTTP/1.1\r\n" +
		"Host: localhost:8080\r\n" +
		"User-Agent: httpd-benchmark\r\n" +
		"Content-Length: 18\r\n" +
		"Content-Type: application/json\r\n" +
		"\r\n" +
		"{\"key\":\"value_12\"}")

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var p Parser
		if code := p.Consume(raw); code != GetRequest {
			b.Fatal(code)
		}
	}
}

func BenchmarkParseHeavy(b *testing.B) {
	headers := ""
	for i := 0; i < 20; i++ {
		headers += fmt.Sprintf("X-Header-%d: value-%d-extra-long-data-for-stress-test\r\n", i, i)
	}
	body := make([]byte, 1024)
	for i := range body {
		body[i] = 'a'
	}
	raw := []byte(fmt.Sprintf("POST /api/v1/resource/update/large HTTP/1.1\r\n"+
		"Host: localhost\r\n"+
		"Content-Length: %d\r\n"+
		"%s\r\n%s", len(body), headers, body))

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var p Parser
		if code := p.Consume(raw); code != GetRequest {
			b.Fatal(code)
		}
	}
}
