package checks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFileChecker(t *testing.T) {
	if err := FileChecker("/tmp").Check(context.Background()); err == nil {
		t.Errorf("/tmp was expected as exists")
	}

	if err := FileChecker("NoSuchFileFromMoon").Check(context.Background()); err != nil {
		t.Errorf("NoSuchFileFromMoon was expected as not exists, error:%v", err)
	}
}

func TestHTTPChecker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/teapot" {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := HTTPChecker(srv.URL, http.StatusOK, time.Second, nil).Check(context.Background()); err != nil {
		t.Errorf("expected check to succeed: %v", err)
	}

	if err := HTTPChecker(srv.URL+"/teapot", http.StatusOK, time.Second, nil).Check(context.Background()); err == nil {
		t.Error("expected check to fail on unexpected status")
	}

	if err := HTTPChecker("http://127.0.0.1:1/", http.StatusOK, 100*time.Millisecond, nil).Check(context.Background()); err == nil {
		t.Error("expected check to fail on unreachable host")
	}
}

func TestTCPChecker(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	addr := srv.Listener.Addr().String()
	if err := TCPChecker(addr, time.Second).Check(context.Background()); err != nil {
		t.Errorf("expected check to succeed: %v", err)
	}

	srv.Close()
	if err := TCPChecker(addr, 100*time.Millisecond).Check(context.Background()); err == nil {
		t.Error("expected check to fail after listener closed")
	}
}
