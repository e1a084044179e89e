package peer

import "context"

// Messenger sends messages to the remote peer. Channel implements it over a
// WebRTC data channel.
type Messenger interface {
	SendMessage(msg Message) error
	Close() error
}

// MessageHandler is the role-specific side of a Channel. HandleMessage is
// only ever called from the channel's incoming loop.
type MessageHandler interface {
	HandleMessage(msg Message) error

	OnChannelReady() error
	OnChannelClosed()
	OnChannelError(err error)
}

// SenderState is where the sending side is in the batch protocol
type SenderState int

const (
	SenderInitializing SenderState = iota
	SenderWaitingForReady
	SenderIdle
	SenderSendingBatch
	SenderWaitingForResult
	SenderClosed
	SenderError
)

var senderStateNames = [...]string{
	SenderInitializing:     "Initializing",
	SenderWaitingForReady:  "WaitingForReady",
	SenderIdle:             "Idle",
	SenderSendingBatch:     "SendingBatch",
	SenderWaitingForResult: "WaitingForResult",
	SenderClosed:           "Closed",
	SenderError:            "Error",
}

func (s SenderState) String() string {
	if s < 0 || int(s) >= len(senderStateNames) {
		return "Unknown"
	}
	return senderStateNames[s]
}

// ReceiverState is where the receiving side is in the batch protocol
type ReceiverState int

const (
	ReceiverInitializing ReceiverState = iota
	ReceiverReady
	ReceiverReceivingBatch
	ReceiverDiscardingBatch // a file failed; the rest of the batch is dropped
	ReceiverCompleted
	ReceiverError
)

var receiverStateNames = [...]string{
	ReceiverInitializing:    "Initializing",
	ReceiverReady:           "Ready",
	ReceiverReceivingBatch:  "ReceivingBatch",
	ReceiverDiscardingBatch: "DiscardingBatch",
	ReceiverCompleted:       "Completed",
	ReceiverError:           "Error",
}

func (r ReceiverState) String() string {
	if r < 0 || int(r) >= len(receiverStateNames) {
		return "Unknown"
	}
	return receiverStateNames[r]
}

// BaseHandler holds the context both roles share. It is cancelled when the
// channel closes or fails, which unblocks pending submissions and sink writes.
type BaseHandler struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func NewBaseHandler(ctx context.Context) *BaseHandler {
	ctx, cancel := context.WithCancel(ctx)
	return &BaseHandler{ctx: ctx, cancel: cancel}
}

// Context returns the handler's context
func (h *BaseHandler) Context() context.Context {
	return h.ctx
}

func (h *BaseHandler) OnChannelError(err error) {
	h.cancel()
}

func (h *BaseHandler) OnChannelClosed() {
	h.cancel()
}
