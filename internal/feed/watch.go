package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Watch connects to a feed at feedURL and calls fn for every event until ctx
// is done or the server closes the feed. A normal close returns nil.
func Watch(ctx context.Context, feedURL, sessionID string, fn func(Event)) error {
	u, err := url.Parse(feedURL)
	if err != nil {
		return fmt.Errorf("parse feed url: %w", err)
	}
	if sessionID != "" {
		q := u.Query()
		q.Set("session_id", sessionID)
		u.RawQuery = q.Encode()
	}

	ws, resp, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial feed: status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial feed: %w", err)
	}
	defer func() { _ = ws.CloseNow() }()
	if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
		return fmt.Errorf("dial feed: unexpected status %d", resp.StatusCode)
	}

	for {
		var ev Event
		if err := wsjson.Read(ctx, ws, &ev); err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("read feed: %w", err)
		}
		fn(ev)
	}
}
