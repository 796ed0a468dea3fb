package gateway

import (
	"encoding/json"

	"USync/module/update/inflate"
	"USync/tools/errs"
)

// 帧类型。客户端先 connectionInit 携带 token，服务端回 connectionOpen，
// 之后 rpcCall/rpcResult 往返，服务端随时可推 updates。
const (
	FrameConnInit = "connectionInit"
	FrameConnOpen = "connectionOpen"
	FrameRPCCall  = "rpcCall"
	FrameRPCRes   = "rpcResult"
	FrameRPCErr   = "rpcError"
	FrameUpdates  = "updates"
	FramePing     = "ping"
	FramePong     = "pong"
)

// RPC 方法名
const (
	MethodGetUpdates    = "getUpdates"
	MethodSendMessage   = "sendMessage"
	MethodSubscribe     = "subscribe"
	MethodComposeAction = "composeAction"
)

// Frame 线上帧信封。Type 决定哪个负载字段有效。
type Frame struct {
	Type  string `json:"type"`
	ReqID int64  `json:"reqId,omitempty"` // rpc 往返关联

	Init    *ConnInit       `json:"init,omitempty"`
	Open    *ConnOpen       `json:"open,omitempty"`
	Call    *RPCCall        `json:"call,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	Updates *UpdatesPush    `json:"updates,omitempty"`
}

type ConnInit struct {
	Token string `json:"token"`
}

type ConnOpen struct {
	UserID   int64 `json:"userId"`
	ServerTs int64 `json:"serverTs"`
}

// RPCCall 的参数按方法解两次 JSON，避免一个大而全的参数结构
type RPCCall struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type RPCError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// UpdatesPush 服务端主动推送：某 bucket 的一批连续更新
type UpdatesPush struct {
	BucketKey string            `json:"bucketKey"`
	Updates   []*inflate.Update `json:"updates"`
	Seq       int64             `json:"seq"`
}

// GetUpdatesParams / SendMessageParams / SubscribeParams rpc 参数
type GetUpdatesParams struct {
	BucketKey  string `json:"bucketKey"`
	StartSeq   int64  `json:"startSeq"`
	SeqEnd     int64  `json:"seqEnd,omitempty"`
	TotalLimit int    `json:"totalLimit,omitempty"`
}

type SendMessageParams struct {
	RandomID int64  `json:"randomId"`
	PeerKind int32  `json:"peerKind"`
	PeerID   int64  `json:"peerId"`
	Text     string `json:"text"`
}

type SubscribeParams struct {
	BucketKeys []string `json:"bucketKeys"`
}

// ComposeActionParams 输入状态上报（typing / uploading_photo / none ...）
type ComposeActionParams struct {
	ChatID int64  `json:"chatId"`
	Action string `json:"action"`
}

func ParseFrameJSON(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f.Type == "" {
		return nil, errs.ErrBadRequest.WithDetail("missing frame type")
	}
	return &f, nil
}

func MarshalFrame(f *Frame) []byte {
	b, err := json.Marshal(f)
	if err != nil {
		return nil
	}
	return b
}

func errorFrame(reqID int64, err error) *Frame {
	code, msg := errs.CodeInternal, "internal server error"
	if ce, ok := err.(errs.CodeErrorI); ok {
		code, msg = ce.ECode(), ce.EMsg()
	}
	return &Frame{Type: FrameRPCErr, ReqID: reqID, Error: &RPCError{Code: code, Msg: msg}}
}

func resultFrame(reqID int64, v any) *Frame {
	raw, _ := json.Marshal(v)
	return &Frame{Type: FrameRPCRes, ReqID: reqID, Result: raw}
}
