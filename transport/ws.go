package transport

import (
	"context"
	"errors"

	"nhooyr.io/websocket"
)

// errNormalClosure is returned by wsConn.Recv when the peer closed with
// code 1000.
var errNormalClosure = errors.New("normal closure")

type wsConn struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// DialFunc returns a dial closure for Open against a real backend endpoint.
func DialFunc(ctx context.Context, endpoint string) func() (Conn, error) {
	return func() (Conn, error) {
		wsCtx, cancel := context.WithCancel(ctx)
		conn, _, err := websocket.Dial(wsCtx, endpoint, nil)
		if err != nil {
			cancel()
			return nil, err
		}
		// Transcript sessions are long; disable the default read limit.
		conn.SetReadLimit(-1)
		return &wsConn{conn: conn, ctx: wsCtx, cancel: cancel}, nil
	}
}

func (w *wsConn) Send(frame []byte) error {
	return w.conn.Write(w.ctx, websocket.MessageText, frame)
}

func (w *wsConn) Recv() ([]byte, error) {
	_, data, err := w.conn.Read(w.ctx)
	if err != nil {
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			return nil, errNormalClosure
		}
		return nil, err
	}
	return data, nil
}

func (w *wsConn) Close() error {
	w.cancel()
	return w.conn.Close(websocket.StatusNormalClosure, "")
}
