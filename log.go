package websocket

import "go.uber.org/zap"

// connLog names the lifecycle events a Client reports through its
// *zap.Logger, keeping the field names client.go uses consistent in one
// place rather than repeated ad hoc across every call site.
type connLog struct {
	l *zap.Logger
}

func (c connLog) dialing(addr string) {
	c.l.Debug("dialing", zap.String("addr", addr))
}

func (c connLog) handshakeComplete() {
	c.l.Info("handshake complete")
}

func (c connLog) ping(payloadLen int) {
	c.l.Debug("received ping", zap.Int("len", payloadLen))
}

func (c connLog) closeReceived(code CloseCode) {
	c.l.Info("received close", zap.Uint16("code", uint16(code)))
}

func (c connLog) protocolError(err error, code CloseCode) {
	c.l.Warn("protocol error, sending close", zap.Error(err), zap.Uint16("code", uint16(code)))
}
