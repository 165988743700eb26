package wire

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/asterisque/asterisque/internal/wirebytes"
)

// ErrBadMagic is returned by Decode when a frame's magic does not match.
var ErrBadMagic = errors.New("wire: bad magic")

// ErrShortRead is returned by Decode when r is closed/exhausted mid-frame.
// Callers reading from a stream should treat it like io.EOF; it never
// indicates a malformed frame.
var ErrShortRead = errors.New("wire: short read")

// Encode writes m to w as one complete frame: magic, u16 body length, type
// tag, body. It is the caller's responsibility to flush w if buffered.
func Encode(w io.Writer, m *Message) error {
	body, err := encodeBody(m)
	if err != nil {
		return fmt.Errorf("wire: encode body: %w", err)
	}
	if len(body) > MaxFrameBody-1 {
		return fmt.Errorf("wire: frame body too large: %d bytes", len(body))
	}
	if err := wirebytes.Put[uint16](w, Magic); err != nil {
		return err
	}
	// length covers the type tag plus body.
	if err := wirebytes.Put[uint16](w, uint16(len(body)+1)); err != nil {
		return err
	}
	if err := wirebytes.Put[uint8](w, uint8(m.Type)); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// Decode reads one complete frame from r. A truncated read (r returns EOF
// before a full frame arrives) yields ErrShortRead, distinguishable from a
// malformed frame (ErrBadMagic or another decode error) so callers
// reading from a live stream can tell "need more bytes" from "bad data".
func Decode(r io.Reader) (*Message, error) {
	magic, err := wirebytes.Get[uint16](r)
	if err != nil {
		return nil, shortReadOr(err)
	}
	if magic != Magic {
		return nil, ErrBadMagic
	}
	length, err := wirebytes.Get[uint16](r)
	if err != nil {
		return nil, shortReadOr(err)
	}
	if length == 0 {
		return nil, fmt.Errorf("wire: zero-length frame")
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, shortReadOr(err)
	}
	typ := Type(body[0])
	br := bytes.NewReader(body[1:])
	m, err := decodeBody(typ, br)
	if err != nil {
		return nil, fmt.Errorf("wire: decode %s body: %w", typ, err)
	}
	if br.Len() != 0 {
		return nil, fmt.Errorf("wire: %d trailing bytes in %s frame", br.Len(), typ)
	}
	return m, nil
}

func shortReadOr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrShortRead
	}
	return err
}

func encodeBody(m *Message) ([]byte, error) {
	var buf bytes.Buffer
	switch m.Type {
	case TypeOpen:
		o := m.Open
		if err := wirebytes.Put[uint16](&buf, uint16(o.PipeID)); err != nil {
			return nil, err
		}
		if err := wirebytes.Put[int8](&buf, int8(o.Priority)); err != nil {
			return nil, err
		}
		if err := wirebytes.Put[uint16](&buf, o.FunctionID); err != nil {
			return nil, err
		}
		if len(o.Params) > 0xFF {
			return nil, fmt.Errorf("wire: too many params: %d", len(o.Params))
		}
		if err := wirebytes.Put[uint8](&buf, uint8(len(o.Params))); err != nil {
			return nil, err
		}
		for _, p := range o.Params {
			if err := EncodeValue(&buf, p); err != nil {
				return nil, err
			}
		}
	case TypeClose:
		c := m.Close
		if err := wirebytes.Put[uint16](&buf, uint16(c.PipeID)); err != nil {
			return nil, err
		}
		var tag uint8
		if c.Failed {
			tag = 1
		}
		if err := wirebytes.Put[uint8](&buf, tag); err != nil {
			return nil, err
		}
		if c.Failed {
			if err := wirebytes.Put[int32](&buf, c.AppCode); err != nil {
				return nil, err
			}
			if err := wirebytes.PutString(&buf, c.Message); err != nil {
				return nil, err
			}
		} else {
			if err := EncodeValue(&buf, c.Result); err != nil {
				return nil, err
			}
		}
	case TypeBlock:
		b := m.Block
		if err := wirebytes.Put[uint16](&buf, uint16(b.PipeID)); err != nil {
			return nil, err
		}
		if err := wirebytes.Put[int8](&buf, int8(b.Priority)); err != nil {
			return nil, err
		}
		var eof uint8
		if b.EOF {
			eof = 1
		}
		if err := wirebytes.Put[uint8](&buf, eof); err != nil {
			return nil, err
		}
		if err := wirebytes.Put[uint8](&buf, b.Loss); err != nil {
			return nil, err
		}
		if len(b.Payload) > MaxPayloadSize {
			return nil, fmt.Errorf("wire: block payload exceeds %d bytes", MaxPayloadSize)
		}
		if err := wirebytes.Put[uint16](&buf, uint16(len(b.Payload))); err != nil {
			return nil, err
		}
		if _, err := buf.Write(b.Payload); err != nil {
			return nil, err
		}
	case TypeControl:
		ctl := m.Control
		if err := wirebytes.Put[uint8](&buf, uint8(ctl.Subcode)); err != nil {
			return nil, err
		}
		switch ctl.Subcode {
		case SubcodeSyncConfig:
			sc := ctl.SyncConfig
			if err := wirebytes.Put[uint16](&buf, sc.ProtocolVersion); err != nil {
				return nil, err
			}
			nodeBytes, err := sc.NodeID.MarshalBinary()
			if err != nil {
				return nil, err
			}
			if _, err := buf.Write(nodeBytes); err != nil {
				return nil, err
			}
			sessBytes, err := sc.SessionID.MarshalBinary()
			if err != nil {
				return nil, err
			}
			if _, err := buf.Write(sessBytes); err != nil {
				return nil, err
			}
			if err := wirebytes.Put[int64](&buf, sc.UTCMillis); err != nil {
				return nil, err
			}
			if err := wirebytes.Put[int32](&buf, sc.PingSeconds); err != nil {
				return nil, err
			}
			if err := wirebytes.Put[int32](&buf, sc.SessionTimeoutS); err != nil {
				return nil, err
			}
		case SubcodeClose:
			// no body
		case SubcodePing, SubcodePong:
			if err := wirebytes.Put[uint64](&buf, ctl.PingNonce); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("wire: unknown control subcode %d", ctl.Subcode)
		}
	default:
		return nil, fmt.Errorf("wire: unknown message type %d", m.Type)
	}
	return buf.Bytes(), nil
}

func decodeBody(typ Type, r io.Reader) (*Message, error) {
	switch typ {
	case TypeOpen:
		pipeID, err := wirebytes.Get[uint16](r)
		if err != nil {
			return nil, err
		}
		priority, err := wirebytes.Get[int8](r)
		if err != nil {
			return nil, err
		}
		functionID, err := wirebytes.Get[uint16](r)
		if err != nil {
			return nil, err
		}
		n, err := wirebytes.Get[uint8](r)
		if err != nil {
			return nil, err
		}
		params := make([]Value, 0, n)
		for i := uint8(0); i < n; i++ {
			p, err := DecodeValue(r)
			if err != nil {
				return nil, err
			}
			params = append(params, p)
		}
		return &Message{Type: TypeOpen, Open: &Open{
			PipeID: PipeID(pipeID), Priority: Priority(priority), FunctionID: functionID, Params: params,
		}}, nil
	case TypeClose:
		pipeID, err := wirebytes.Get[uint16](r)
		if err != nil {
			return nil, err
		}
		tag, err := wirebytes.Get[uint8](r)
		if err != nil {
			return nil, err
		}
		c := &Close{PipeID: PipeID(pipeID), Failed: tag != 0}
		if c.Failed {
			appCode, err := wirebytes.Get[int32](r)
			if err != nil {
				return nil, err
			}
			msg, err := wirebytes.GetString(r)
			if err != nil {
				return nil, err
			}
			c.AppCode, c.Message = appCode, msg
		} else {
			v, err := DecodeValue(r)
			if err != nil {
				return nil, err
			}
			c.Result = v
		}
		return &Message{Type: TypeClose, Close: c}, nil
	case TypeBlock:
		pipeID, err := wirebytes.Get[uint16](r)
		if err != nil {
			return nil, err
		}
		priority, err := wirebytes.Get[int8](r)
		if err != nil {
			return nil, err
		}
		eof, err := wirebytes.Get[uint8](r)
		if err != nil {
			return nil, err
		}
		loss, err := wirebytes.Get[uint8](r)
		if err != nil {
			return nil, err
		}
		n, err := wirebytes.Get[uint16](r)
		if err != nil {
			return nil, err
		}
		payload := make([]byte, n)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
		return &Message{Type: TypeBlock, Block: &Block{
			PipeID: PipeID(pipeID), Priority: Priority(priority), EOF: eof != 0, Loss: loss, Payload: payload,
		}}, nil
	case TypeControl:
		subcode, err := wirebytes.Get[uint8](r)
		if err != nil {
			return nil, err
		}
		ctl := &Control{Subcode: ControlSubcode(subcode)}
		switch ctl.Subcode {
		case SubcodeSyncConfig:
			sc, err := decodeSyncConfig(r)
			if err != nil {
				return nil, err
			}
			ctl.SyncConfig = sc
		case SubcodeClose:
		case SubcodePing, SubcodePong:
			nonce, err := wirebytes.Get[uint64](r)
			if err != nil {
				return nil, err
			}
			ctl.PingNonce = nonce
		default:
			return nil, fmt.Errorf("wire: unknown control subcode %d", subcode)
		}
		return &Message{Type: TypeControl, Control: ctl}, nil
	default:
		return nil, fmt.Errorf("wire: unknown message type %d", typ)
	}
}

func decodeSyncConfig(r io.Reader) (*SyncConfig, error) {
	version, err := wirebytes.Get[uint16](r)
	if err != nil {
		return nil, err
	}
	nodeBytes := make([]byte, 16)
	if _, err := io.ReadFull(r, nodeBytes); err != nil {
		return nil, err
	}
	nodeID, err := uuidFromBytes(nodeBytes)
	if err != nil {
		return nil, err
	}
	sessBytes := make([]byte, 16)
	if _, err := io.ReadFull(r, sessBytes); err != nil {
		return nil, err
	}
	sessionID, err := uuidFromBytes(sessBytes)
	if err != nil {
		return nil, err
	}
	utcMillis, err := wirebytes.Get[int64](r)
	if err != nil {
		return nil, err
	}
	pingSeconds, err := wirebytes.Get[int32](r)
	if err != nil {
		return nil, err
	}
	timeoutS, err := wirebytes.Get[int32](r)
	if err != nil {
		return nil, err
	}
	return &SyncConfig{
		ProtocolVersion: version,
		NodeID:          nodeID,
		SessionID:       sessionID,
		UTCMillis:       utcMillis,
		PingSeconds:     pingSeconds,
		SessionTimeoutS: timeoutS,
	}, nil
}
