package conn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is one open socket. The manager owns exactly one at a time.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v any) error
	Close() error
}

// Dialer opens a transport to the session endpoint.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

type wsDialer struct {
	dialer *websocket.Dialer
}

// NewDialer returns the production websocket dialer.
func NewDialer() Dialer {
	return &wsDialer{dialer: websocket.DefaultDialer}
}

func (d *wsDialer) Dial(ctx context.Context, url string) (Transport, error) {
	c, _, err := d.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &wsTransport{conn: c}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return nil, &CloseError{Code: ce.Code, Reason: ce.Text}
		}
		return nil, err
	}
	return data, nil
}

func (t *wsTransport) WriteJSON(v any) error {
	return t.conn.WriteJSON(v)
}

func (t *wsTransport) Close() error {
	deadline := time.Now().Add(time.Second)
	t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return t.conn.Close()
}
