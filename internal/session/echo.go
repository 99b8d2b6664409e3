package session

import (
	"context"
	"strings"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// maxCloseReason is the longest close reason a control frame can carry.
const maxCloseReason = 123

// Echo replies "Echo: <data>" to every frame until the peer leaves. It never
// touches the registry. A transport error closes with 1011.
func Echo(ctx context.Context, ws Transport, logger *zap.Logger) error {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			return closeEcho(ws, err, logger)
		}
		reply := append([]byte("Echo: "), data...)
		if err := ws.Write(ctx, typ, reply); err != nil {
			return closeEcho(ws, err, logger)
		}
	}
}

func closeEcho(ws Transport, err error, logger *zap.Logger) error {
	if closeError(err) == nil {
		_ = ws.Close(websocket.StatusNormalClosure, "")
		return nil
	}
	reason := err.Error()
	if len(reason) > maxCloseReason {
		reason = strings.ToValidUTF8(reason[:maxCloseReason], "")
	}
	logger.Warn("echo connection failed", zap.Error(err))
	_ = ws.Close(websocket.StatusInternalError, reason)
	return err
}
