package eventserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
)

// Subscribe connects to an event stream at url and calls fn for every
// message until ctx ends or the server closes the stream. A normal close
// returns nil.
func Subscribe(ctx context.Context, url string, fn func(Message)) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	})
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return fmt.Errorf("event stream closed: %w", err)
			}
			return fmt.Errorf("failed to read event: %w", err)
		}

		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("malformed event: %w", err)
		}
		fn(m)
	}
}
