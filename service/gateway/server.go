package gateway

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"USync/logger"
	"USync/middleware"
	"USync/module/send"
	"USync/module/update/inflate"
	"USync/module/update/model"
	"USync/module/update/resolver"
	"USync/tools/errs"
	"USync/tools/security"
)

// ComposePublisher 输入状态的发布端（NATS compose 总线）。
// 为 nil 时退化为本节点直推。
type ComposePublisher interface {
	Publish(chatID, userID int64, action string) error
}

// Server 接入网关：WebSocket 会话管理 + RPC 分发 + 更新推送。
type Server struct {
	reg      *Registry
	fanout   *Fanout
	res      *resolver.Resolver
	sender   *send.Sender
	presence *Presence
	compose  ComposePublisher
	jwtOpts  security.Options
}

func NewServer(res *resolver.Resolver, sender *send.Sender, presence *Presence, jwtOpts security.Options) *Server {
	return &Server{
		reg:      NewRegistry(),
		fanout:   NewFanout(8, 4096),
		res:      res,
		sender:   sender,
		presence: presence,
		jwtOpts:  jwtOpts,
	}
}

// SetComposeBus 接上输入状态总线；多节点部署时本节点的上报也经总线回放。
func (s *Server) SetComposeBus(p ComposePublisher) {
	s.compose = p
}

// Routes 注册 HTTP 入口。/ws 升级，/metrics 暴露 prometheus；
// /api/updates 是 WebSocket 不可用时的 REST 退路。
func (s *Server) Routes(r *gin.Engine) {
	r.GET("/ws", s.HandleWS)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) { c.String(200, "ok") })

	api := r.Group("/api", middleware.Auth(s.jwtOpts))
	api.GET("/updates", s.handleHTTPGetUpdates)
}

func (s *Server) handleHTTPGetUpdates(c *gin.Context) {
	userID := middleware.UserID(c)
	bucket, err := model.ParseBucket(c.Query("bucket"))
	if err != nil {
		c.JSON(400, gin.H{"code": errs.CodeBadRequest, "msg": err.Error()})
		return
	}
	if bucket.Kind == model.BucketUser && bucket.ID != userID {
		c.JSON(403, gin.H{"code": errs.CodeNotAuthenticated, "msg": "foreign user bucket"})
		return
	}
	startSeq, _ := strconv.ParseInt(c.Query("startSeq"), 10, 64)
	seqEnd, _ := strconv.ParseInt(c.Query("seqEnd"), 10, 64)
	limit, _ := strconv.Atoi(c.Query("limit"))
	r, err := s.res.GetUpdates(c.Request.Context(), bucket, userID, startSeq, seqEnd, limit)
	if err != nil {
		c.JSON(500, gin.H{"code": errs.CodeInternal, "msg": "internal server error"})
		return
	}
	c.JSON(200, r)
}

// Deliver 实现 seqlog.Sink：落库后的实时推送。只推给已订阅该桶的
// 本节点连接；跨节点由 bus 消费侧调用同一入口。
func (s *Server) Deliver(bucket model.Bucket, seq int64, date time.Time, stored *model.Stored) {
	key := bucket.Key()
	conns := s.reg.listByBucket(key)
	if len(conns) == 0 {
		return
	}
	// 展开视角因用户而异，按 conn 分组编码
	for _, c := range conns {
		u, err := inflate.Inflate(seq, date.Unix(), stored, c.userID)
		if err != nil {
			continue
		}
		payload := MarshalFrame(&Frame{Type: FrameUpdates, Updates: &UpdatesPush{
			BucketKey: key,
			Updates:   []*inflate.Update{u},
			Seq:       seq,
		}})
		s.fanout.Broadcast([]*conn{c}, payload)
	}
}

// PushTransient 不占 seq 的瞬态更新（输入状态等）：
// 只推给当前订阅了该会话桶的连接，不落日志。
func (s *Server) PushTransient(chatID int64, stored *model.Stored) {
	s.Deliver(model.ChatBucket(chatID), 0, time.Now(), stored)
}

// ---- RPC 分发 ----

func (s *Server) handleRPC(ctx context.Context, c *conn, f *Frame) *Frame {
	if f.Call == nil {
		return errorFrame(f.ReqID, errs.ErrBadRequest.WithDetail("missing call"))
	}
	switch f.Call.Method {
	case MethodGetUpdates:
		return s.rpcGetUpdates(ctx, c, f)
	case MethodSendMessage:
		return s.rpcSendMessage(ctx, c, f)
	case MethodSubscribe:
		return s.rpcSubscribe(c, f)
	case MethodComposeAction:
		return s.rpcComposeAction(c, f)
	}
	return errorFrame(f.ReqID, errs.ErrBadRequest.WithDetail("unknown method "+f.Call.Method))
}

func (s *Server) rpcGetUpdates(ctx context.Context, c *conn, f *Frame) *Frame {
	var p GetUpdatesParams
	if err := json.Unmarshal(f.Call.Params, &p); err != nil {
		return errorFrame(f.ReqID, errs.ErrBadRequest.WithDetail(err.Error()))
	}
	bucket, err := model.ParseBucket(p.BucketKey)
	if err != nil {
		return errorFrame(f.ReqID, errs.ErrBadRequest.WithDetail(err.Error()))
	}
	// 用户桶只许本人拉
	if bucket.Kind == model.BucketUser && bucket.ID != c.userID {
		return errorFrame(f.ReqID, errs.ErrNotAuthenticated.WithDetail("foreign user bucket"))
	}
	r, err := s.res.GetUpdates(ctx, bucket, c.userID, p.StartSeq, p.SeqEnd, p.TotalLimit)
	if err != nil {
		return errorFrame(f.ReqID, err)
	}
	return resultFrame(f.ReqID, r)
}

func (s *Server) rpcSendMessage(ctx context.Context, c *conn, f *Frame) *Frame {
	var p SendMessageParams
	if err := json.Unmarshal(f.Call.Params, &p); err != nil {
		return errorFrame(f.ReqID, errs.ErrBadRequest.WithDetail(err.Error()))
	}
	ack, err := s.sender.SubmitMessage(ctx, c.userID, p.RandomID,
		model.Peer{Kind: model.PeerKind(p.PeerKind), ID: p.PeerID}, p.Text)
	if err != nil {
		return errorFrame(f.ReqID, err)
	}
	return resultFrame(f.ReqID, ack)
}

func (s *Server) rpcSubscribe(c *conn, f *Frame) *Frame {
	var p SubscribeParams
	if err := json.Unmarshal(f.Call.Params, &p); err != nil {
		return errorFrame(f.ReqID, errs.ErrBadRequest.WithDetail(err.Error()))
	}
	for _, key := range p.BucketKeys {
		bucket, err := model.ParseBucket(key)
		if err != nil {
			return errorFrame(f.ReqID, errs.ErrBadRequest.WithDetail(err.Error()))
		}
		if bucket.Kind == model.BucketUser && bucket.ID != c.userID {
			return errorFrame(f.ReqID, errs.ErrNotAuthenticated.WithDetail("foreign user bucket"))
		}
		s.reg.bind(c, bucket.Key())
	}
	return resultFrame(f.ReqID, gin.H{"subscribed": len(p.BucketKeys)})
}

// rpcComposeAction 输入状态上报：有总线走总线（本节点经订阅侧回放），
// 单节点直接推给订阅了该会话桶的连接。瞬态，不落日志。
func (s *Server) rpcComposeAction(c *conn, f *Frame) *Frame {
	var p ComposeActionParams
	if err := json.Unmarshal(f.Call.Params, &p); err != nil {
		return errorFrame(f.ReqID, errs.ErrBadRequest.WithDetail(err.Error()))
	}
	if p.ChatID <= 0 || p.Action == "" {
		return errorFrame(f.ReqID, errs.ErrBadRequest.WithDetail("chatId/action required"))
	}
	if s.compose != nil {
		if err := s.compose.Publish(p.ChatID, c.userID, p.Action); err != nil {
			logger.Warnf("[gateway] compose publish chat=%d: %v", p.ChatID, err)
			return errorFrame(f.ReqID, errs.ErrInternal)
		}
	} else {
		s.PushTransient(p.ChatID, model.ComposeActionUpdate(&model.StoredComposeAction{
			Peer:   model.ThreadPeer(p.ChatID),
			UserID: c.userID,
			Action: p.Action,
		}))
	}
	return resultFrame(f.ReqID, gin.H{"ok": true})
}

// authenticate 校验 connectionInit 的 token，成功后建立连接状态
func (s *Server) authenticate(init *ConnInit) (*conn, error) {
	if init == nil || init.Token == "" {
		return nil, errs.ErrNotAuthenticated.WithDetail("missing token")
	}
	userID, err := security.Verify(s.jwtOpts, init.Token)
	if err != nil {
		logger.Warnf("[gateway] token verify failed: %v", err)
		return nil, errs.ErrNotAuthenticated
	}
	c := &conn{
		id:      uuid.NewString(),
		userID:  userID,
		send:    make(chan []byte, 256),
		buckets: make(map[string]bool),
	}
	s.reg.add(c)
	// 自己的用户桶自动订阅
	s.reg.bind(c, model.UserBucket(userID).Key())
	return c, nil
}

func (s *Server) release(ctx context.Context, c *conn) {
	s.reg.remove(c)
	if s.presence != nil {
		s.presence.Offline(ctx, c.userID, c.id)
	}
}
