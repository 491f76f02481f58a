package security

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// openGuard はhttptestサーバーへ接続するためのURLGuard。
type openGuard struct{}

func (openGuard) NewSafeClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

func (openGuard) ValidateURL(string) error { return nil }

func newAvatarServer(t *testing.T, contentType string, body []byte) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/avatar" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Write(body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestAvatarFetcher_Fetch(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\nfake")
	ts := newAvatarServer(t, "image/png", png)

	f := NewAvatarFetcher(openGuard{}, 5*time.Second, 1024)
	avatar, err := f.Fetch(context.Background(), ts.URL+"/avatar")
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if avatar.ContentType != "image/png" {
		t.Errorf("ContentType = %q, want image/png", avatar.ContentType)
	}
	if !bytes.Equal(avatar.Data, png) {
		t.Error("data mismatch")
	}
}

func TestAvatarFetcher_RejectsNonImage(t *testing.T) {
	ts := newAvatarServer(t, "text/html; charset=utf-8", []byte("<html></html>"))

	f := NewAvatarFetcher(openGuard{}, 5*time.Second, 1024)
	_, err := f.Fetch(context.Background(), ts.URL+"/avatar")
	if !errors.Is(err, ErrNotImage) {
		t.Errorf("err = %v, want ErrNotImage", err)
	}
}

func TestAvatarFetcher_RejectsOversized(t *testing.T) {
	ts := newAvatarServer(t, "image/jpeg", bytes.Repeat([]byte("x"), 2048))

	f := NewAvatarFetcher(openGuard{}, 5*time.Second, 1024)
	_, err := f.Fetch(context.Background(), ts.URL+"/avatar")
	if !errors.Is(err, ErrAvatarTooLarge) {
		t.Errorf("err = %v, want ErrAvatarTooLarge", err)
	}
}

func TestAvatarFetcher_NotFound(t *testing.T) {
	ts := newAvatarServer(t, "image/png", nil)

	f := NewAvatarFetcher(openGuard{}, 5*time.Second, 1024)
	if _, err := f.Fetch(context.Background(), ts.URL+"/missing"); err == nil {
		t.Error("expected error for 404")
	}
}

// TestAvatarFetcher_BlocksLoopback は実際のガードではループバックのURLが拒否されることを検証する。
func TestAvatarFetcher_BlocksLoopback(t *testing.T) {
	ts := newAvatarServer(t, "image/png", []byte("png"))

	f := NewAvatarFetcher(NewSSRFGuard(), 5*time.Second, 1024)
	_, err := f.Fetch(context.Background(), ts.URL+"/avatar")
	if !errors.Is(err, ErrBlockedURL) {
		t.Errorf("err = %v, want ErrBlockedURL", err)
	}
}
