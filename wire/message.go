// Package wire defines the four Asterisque message variants (Open, Close,
// Block, Control) and their big-endian framed codec.
//
// Frame layout: 2-byte magic (0x2A51), 2-byte body length, 1-byte type tag,
// then the type's body. See Encode/Decode.
package wire

import (
	"github.com/google/uuid"
)

// Magic identifies an Asterisque frame and doubles as an endianness check.
const Magic uint16 = 0x2A51

// ProtocolMajor and ProtocolMinor identify the current wire version (0x0100).
const (
	ProtocolMajor uint8 = 1
	ProtocolMinor uint8 = 0
)

// MaxPayloadSize bounds a single Block's payload. It is part of the wire
// contract: 61440 bytes (60 KiB), comfortably inside the 65535-byte body a
// 16-bit frame length can express alongside a Block's other fields.
const MaxPayloadSize = 61440

// MaxFrameBody is the largest body a single frame can carry (u16 length).
const MaxFrameBody = 0xFFFF

// Type tags a Message's wire variant.
type Type uint8

const (
	TypeOpen    Type = 0x01
	TypeClose   Type = 0x02
	TypeBlock   Type = 0x03
	TypeControl Type = 0x04
)

func (t Type) String() string {
	switch t {
	case TypeOpen:
		return "Open"
	case TypeClose:
		return "Close"
	case TypeBlock:
		return "Block"
	case TypeControl:
		return "Control"
	default:
		return "Unknown"
	}
}

// Priority is a signed wire-carried tag. Normal=0, higher values are more
// urgent. Per spec §9 (open question), Asterisque never reorders delivery
// by priority; it is carried only as a hint a transport MAY use.
type Priority int8

const PriorityNormal Priority = 0

// PipeID identifies a call within one session. 0 is reserved for Control.
type PipeID uint16

// ControlPipeID is the fixed pipe id Control messages are sent on.
const ControlPipeID PipeID = 0

// Message is the sum type carried on the wire. Exactly one of Open, Close,
// Block, Control is meaningful, selected by Type.
type Message struct {
	Type    Type
	Open    *Open
	Close   *Close
	Block   *Block
	Control *Control
}

// Open initiates a call.
type Open struct {
	PipeID     PipeID
	Priority   Priority
	FunctionID uint16
	Params     []Value
}

// NewOpen builds an Open message.
func NewOpen(pipeID PipeID, priority Priority, functionID uint16, params []Value) *Message {
	return &Message{Type: TypeOpen, Open: &Open{PipeID: pipeID, Priority: priority, FunctionID: functionID, Params: params}}
}

// Close terminates a call. Exactly one of Result/Failure is meaningful,
// selected by Failed.
type Close struct {
	PipeID  PipeID
	Failed  bool
	Result  Value    // meaningful iff !Failed
	AppCode int32    // meaningful iff Failed
	Message string   // meaningful iff Failed
}

// NewCloseSuccess builds a successful Close.
func NewCloseSuccess(pipeID PipeID, result Value) *Message {
	return &Message{Type: TypeClose, Close: &Close{PipeID: pipeID, Failed: false, Result: result}}
}

// NewCloseFailure builds a failed Close.
func NewCloseFailure(pipeID PipeID, appCode int32, message string) *Message {
	return &Message{Type: TypeClose, Close: &Close{PipeID: pipeID, Failed: true, AppCode: appCode, Message: message}}
}

// Block carries a fragment of a call's streaming payload.
type Block struct {
	PipeID  PipeID
	Priority Priority
	Loss    uint8
	EOF     bool
	Payload []byte
}

// NewBlock builds a data Block.
func NewBlock(pipeID PipeID, priority Priority, payload []byte, eof bool) *Message {
	return &Message{Type: TypeBlock, Block: &Block{PipeID: pipeID, Priority: priority, Payload: payload, EOF: eof}}
}

// ControlSubcode selects a Control message's body shape.
type ControlSubcode uint8

const (
	// SubcodeSyncConfig carries the session handshake.
	SubcodeSyncConfig ControlSubcode = 0x01
	// SubcodeClose requests graceful session termination.
	SubcodeClose ControlSubcode = 0x02
	// SubcodePing is a keepalive probe (see SPEC_FULL §3).
	SubcodePing ControlSubcode = 0x03
	// SubcodePong replies to a Ping, echoing its nonce.
	SubcodePong ControlSubcode = 0x04
)

// Control carries session-level signalling. It is never bound to a pipe.
type Control struct {
	Subcode    ControlSubcode
	SyncConfig *SyncConfig // meaningful iff Subcode == SubcodeSyncConfig
	PingNonce  uint64      // meaningful iff Subcode == SubcodePing or SubcodePong
}

// SyncConfig is the handshake body exchanged by both peers.
type SyncConfig struct {
	ProtocolVersion  uint16
	NodeID           uuid.UUID
	SessionID        uuid.UUID
	UTCMillis        int64
	PingSeconds      int32
	SessionTimeoutS  int32
}

// NewSyncConfig builds a Control{SyncConfig} message.
func NewSyncConfig(cfg SyncConfig) *Message {
	return &Message{Type: TypeControl, Control: &Control{Subcode: SubcodeSyncConfig, SyncConfig: &cfg}}
}

// NewControlClose builds a Control{Close} message.
func NewControlClose() *Message {
	return &Message{Type: TypeControl, Control: &Control{Subcode: SubcodeClose}}
}

// NewPing builds a Control{Ping} message.
func NewPing(nonce uint64) *Message {
	return &Message{Type: TypeControl, Control: &Control{Subcode: SubcodePing, PingNonce: nonce}}
}

// NewPong builds a Control{Pong} message replying to nonce.
func NewPong(nonce uint64) *Message {
	return &Message{Type: TypeControl, Control: &Control{Subcode: SubcodePong, PingNonce: nonce}}
}
