package dcontext

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/eventmosaic/gdelt/internal/uuid"
	"github.com/sirupsen/logrus"
)

// RemoteAddr extracts the remote address of the request, taking into
// account proxy headers.
func RemoteAddr(r *http.Request) string {
	if prior := r.Header.Get("X-Forwarded-For"); prior != "" {
		remoteAddr, _, _ := strings.Cut(prior, ",")
		remoteAddr = strings.Trim(remoteAddr, " ")
		if net.ParseIP(remoteAddr) != nil {
			return remoteAddr
		}
	}

	if realIP := r.Header.Get("X-Real-Ip"); realIP != "" {
		if net.ParseIP(realIP) != nil {
			return realIP
		}
	}

	return r.RemoteAddr
}

type httpRequestContext struct {
	context.Context

	startedAt time.Time
	id        string
	r         *http.Request
}

// WithRequest places the request on the context. The context of the request
// is assigned a unique id, available at "http.request.id". The request
// itself is available at "http.request".
func WithRequest(ctx context.Context, r *http.Request) context.Context {
	if ctx.Value("http.request") != nil {
		// Don't allow nesting request contexts.
		panic("only one request per context")
	}

	return &httpRequestContext{
		Context:   ctx,
		startedAt: time.Now(),
		id:        uuid.NewString(),
		r:         r,
	}
}

// GetRequestID attempts to resolve the current request id, if possible. An
// error is returned if it is not available on the context.
func GetRequestID(ctx context.Context) string {
	return GetStringValue(ctx, "http.request.id")
}

// GetRequestLogger returns a logger that contains fields from the request
// in the current context. If the request is not available in the context,
// no fields will display.
func GetRequestLogger(ctx context.Context) Logger {
	return GetLogger(ctx,
		"http.request.id",
		"http.request.method",
		"http.request.host",
		"http.request.uri",
		"http.request.useragent",
		"http.request.remoteaddr")
}

// Value returns the request-scoped values, recognizing keys under the
// "http.request" prefix.
func (ctx *httpRequestContext) Value(key interface{}) interface{} {
	if keyStr, ok := key.(string); ok {
		if keyStr == "http.request" {
			return ctx.r
		}

		if !strings.HasPrefix(keyStr, "http.request.") {
			goto fallback
		}

		parts := strings.Split(keyStr, ".")
		if len(parts) != 3 {
			goto fallback
		}

		switch parts[2] {
		case "uri":
			return ctx.r.RequestURI
		case "remoteaddr":
			return RemoteAddr(ctx.r)
		case "method":
			return ctx.r.Method
		case "host":
			return ctx.r.Host
		case "referer":
			referer := ctx.r.Referer()
			if referer != "" {
				return referer
			}
		case "useragent":
			return ctx.r.UserAgent()
		case "id":
			return ctx.id
		case "startedat":
			return ctx.startedAt
		}
	}

fallback:
	return ctx.Context.Value(key)
}

var _ Logger = &logrus.Entry{}
