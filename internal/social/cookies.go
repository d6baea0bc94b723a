package social

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
)

// ErrNoSession is returned when no usable cookies are available.
var ErrNoSession = errors.New("no valid session cookies")

// cookieFile is the exported session format. A bare JSON array of cookies
// is accepted as well.
type cookieFile struct {
	Cookies    []*network.Cookie `json:"cookies"`
	CapturedAt time.Time         `json:"captured_at"`
}

// LoadCookies reads session cookies exported from a logged-in browser and
// drops the ones that already expired.
func LoadCookies(path string, now time.Time) ([]*network.Cookie, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cookie file: %w", err)
	}

	var cookies []*network.Cookie
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &cookies); err != nil {
			return nil, fmt.Errorf("parse cookie file: %w", err)
		}
	} else {
		var f cookieFile
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse cookie file: %w", err)
		}
		cookies = f.Cookies
	}

	valid := make([]*network.Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		// Expires is -1 or 0 for session cookies.
		if c.Expires > 0 && time.Unix(int64(c.Expires), 0).Before(now) {
			continue
		}
		valid = append(valid, c)
	}
	if len(valid) == 0 {
		return nil, ErrNoSession
	}
	return valid, nil
}

// forHost keeps cookies whose domain matches host or one of its parents.
func forHost(cookies []*network.Cookie, host string) []*network.Cookie {
	host = strings.ToLower(host)
	var out []*network.Cookie
	for _, c := range cookies {
		domain := strings.ToLower(strings.TrimPrefix(c.Domain, "."))
		if domain == "" || host == domain || strings.HasSuffix(host, "."+domain) {
			out = append(out, c)
		}
	}
	return out
}
