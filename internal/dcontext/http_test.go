package dcontext

import (
	"net/http"
	"testing"
	"time"
)

func TestWithRequest(t *testing.T) {
	var req http.Request
	start := time.Now()
	req.Method = http.MethodPost
	req.Host = "example.com"
	req.RequestURI = "/api/v1/gdelt/process"
	req.Header = http.Header{}
	req.Header.Set("User-Agent", "test/1.0")
	req.Header.Set("X-Forwarded-For", "10.0.1.1")

	ctx := WithRequest(Background(), &req)
	for _, tc := range []struct {
		key      string
		expected interface{}
	}{
		{key: "http.request", expected: &req},
		{key: "http.request.method", expected: req.Method},
		{key: "http.request.host", expected: req.Host},
		{key: "http.request.uri", expected: req.RequestURI},
		{key: "http.request.useragent", expected: req.UserAgent()},
		{key: "http.request.remoteaddr", expected: "10.0.1.1"},
	} {
		v := ctx.Value(tc.key)
		if v == nil {
			t.Fatalf("%q not found in context", tc.key)
		}
		if v != tc.expected {
			t.Fatalf("%s: %v != %v", tc.key, v, tc.expected)
		}
	}

	if GetRequestID(ctx) == "" {
		t.Fatal("request id not assigned")
	}

	startedAt, ok := ctx.Value("http.request.startedat").(time.Time)
	if !ok {
		t.Fatal("startedat not a time")
	}
	if startedAt.Before(start) {
		t.Fatalf("startedat %v before test start %v", startedAt, start)
	}
}

func TestRemoteAddrPrefersForwardedFor(t *testing.T) {
	var req http.Request
	req.RemoteAddr = "192.168.1.2:3456"
	req.Header = http.Header{}
	req.Header.Set("X-Forwarded-For", "203.0.113.10, 10.0.0.1")

	if addr := RemoteAddr(&req); addr != "203.0.113.10" {
		t.Fatalf("unexpected remote addr: %q", addr)
	}

	req.Header.Del("X-Forwarded-For")
	if addr := RemoteAddr(&req); addr != "192.168.1.2:3456" {
		t.Fatalf("unexpected remote addr: %q", addr)
	}
}
