package gateway

import (
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"USync/logger"
	"USync/tools/safe"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

// HandleWS WebSocket 入口。握手流程：
// 首帧必须是 connectionInit（带 token），校验通过回 connectionOpen，
// 之后进入读循环；写协程独占 ws 写端。
func (s *Server) HandleWS(gc *gin.Context) {
	ws, err := upgrader.Upgrade(gc.Writer, gc.Request, nil)
	if err != nil {
		logger.Infof("[gateway] upgrade failed: %v", err)
		return
	}
	defer func() {
		if cerr := ws.Close(); cerr != nil {
			logger.Debugf("[gateway] close: %v", cerr)
		}
	}()

	// ---- 认证握手 ----
	_ = ws.SetReadDeadline(time.Now().Add(15 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		logger.Infof("[gateway] init read failed: %v", err)
		return
	}
	f, err := ParseFrameJSON(data)
	if err != nil || f.Type != FrameConnInit {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected connectionInit"),
			time.Now().Add(writeWait))
		return
	}
	c, err := s.authenticate(f.Init)
	if err != nil {
		_ = ws.WriteMessage(websocket.TextMessage, MarshalFrame(errorFrame(f.ReqID, err)))
		return
	}

	ctx := gc.Request.Context()
	defer s.release(ctx, c)

	if s.presence != nil {
		s.presence.Online(ctx, c.userID, c.id)
	}

	done := make(chan struct{})
	safe.SafeGo(func() { s.writePump(ws, c, done) })

	c.send <- MarshalFrame(&Frame{Type: FrameConnOpen, ReqID: f.ReqID, Open: &ConnOpen{
		UserID:   c.userID,
		ServerTs: time.Now().Unix(),
	}})

	// ---- 读循环：只读不写，出错即退出 ----
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Debugf("[gateway] peer closed conn=%s", c.id)
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				logger.Infof("[gateway] read timeout conn=%s", c.id)
			} else {
				logger.Infof("[gateway] read err conn=%s: %v", c.id, rerr)
			}
			break
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))

		frame, perr := ParseFrameJSON(data)
		if perr != nil {
			logger.Infof("[gateway] bad frame conn=%s: %v", c.id, perr)
			continue
		}
		switch frame.Type {
		case FramePing:
			s.fanout.Broadcast([]*conn{c}, MarshalFrame(&Frame{Type: FramePong, ReqID: frame.ReqID}))
		case FrameRPCCall:
			resp := s.handleRPC(ctx, c, frame)
			select {
			case c.send <- MarshalFrame(resp):
			default:
				logger.Warnf("[gateway] send queue full, drop rpc result conn=%s", c.id)
			}
		default:
			logger.Debugf("[gateway] ignore frame type=%s conn=%s", frame.Type, c.id)
		}
	}

	close(done)
}

// writePump 独占 ws 写端：send 队列 + 周期 ping
func (s *Server) writePump(ws *websocket.Conn, c *conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case payload := <-c.send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Debugf("[gateway] write err conn=%s: %v", c.id, err)
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
