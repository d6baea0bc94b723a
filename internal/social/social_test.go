package social

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"

	"feedsweep/internal/ingest"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cookies.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadCookiesDropsExpired(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	future := now.Add(24 * time.Hour).Unix()
	past := now.Add(-time.Hour).Unix()

	content := `{"cookies":[
		{"name":"auth_token","value":"a","domain":".x.com","path":"/","expires":` + itoa(future) + `},
		{"name":"ct0","value":"b","domain":".x.com","path":"/","expires":` + itoa(past) + `},
		{"name":"lang","value":"en","domain":"x.com","path":"/","expires":-1}
	]}`
	cookies, err := LoadCookies(writeFile(t, content), now)
	if err != nil {
		t.Fatalf("LoadCookies: %v", err)
	}
	if len(cookies) != 2 || cookies[0].Name != "auth_token" || cookies[1].Name != "lang" {
		t.Fatalf("unexpected cookies: %+v", cookies)
	}
}

func TestLoadCookiesBareArray(t *testing.T) {
	content := `[{"name":"sid","value":"v","domain":"example.com","path":"/","expires":0}]`
	cookies, err := LoadCookies(writeFile(t, content), time.Now())
	if err != nil || len(cookies) != 1 {
		t.Fatalf("LoadCookies = %v, %v", cookies, err)
	}
}

func TestLoadCookiesEmpty(t *testing.T) {
	if _, err := LoadCookies(writeFile(t, `{"cookies":[]}`), time.Now()); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestFetchWithoutCookieFile(t *testing.T) {
	f := NewFetcher(Options{Headless: true}, nil)
	_, err := f.Fetch(context.Background(), ingest.Source{URL: "https://x.com/i/lists/1"})
	if !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestForHost(t *testing.T) {
	cookies := []*network.Cookie{
		{Name: "a", Domain: ".x.com"},
		{Name: "b", Domain: "api.x.com"},
		{Name: "c", Domain: "example.com"},
	}
	got := forHost(cookies, "x.com")
	if len(got) != 1 || got[0].Name != "a" {
		t.Fatalf("unexpected cookies for x.com: %+v", got)
	}
	got = forHost(cookies, "api.x.com")
	if len(got) != 2 {
		t.Fatalf("expected parent and exact domain cookies, got %+v", got)
	}
}

func TestToRawItems(t *testing.T) {
	long := strings.Repeat("word ", 30)
	posts := []rawPost{
		{Link: "https://x.com/ada/status/1?s=20", Author: " Ada ", Content: "first line\nsecond", Timestamp: "2024-05-01T10:00:00.000Z"},
		{Link: "https://x.com/ada/status/1", Content: "duplicate"},
		{Link: "", Content: "no link"},
		{Link: "https://x.com/bob/status/2", Content: long},
	}
	items := toRawItems(posts)
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d: %+v", len(items), items)
	}
	first := items[0]
	if first.Link != "https://x.com/ada/status/1" || first.Title != "first line" || first.Author != "Ada" {
		t.Fatalf("unexpected first item: %+v", first)
	}
	if !first.PublishedAt.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("timestamp not parsed: %v", first.PublishedAt)
	}
	if n := len([]rune(items[1].Title)); n != titleRunes+1 {
		t.Fatalf("title not truncated, %d runes", n)
	}
	if !items[1].PublishedAt.IsZero() {
		t.Fatal("missing timestamp should stay zero")
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
