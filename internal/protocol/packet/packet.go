package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
)

const (
	HeaderLen = 11
	// FlagReply is bit 0 of the flags byte.
	FlagReply = 0x01
)

// DefaultMaxPacket bounds one packet on read and write.
const DefaultMaxPacket = 16 * 1024 * 1024

var ErrShortHeader = errors.New("packet: short header")

// FormatError reports a buffer that is not one well-formed packet.
// When Skipped is set the offending packet was consumed whole, Header holds
// its decoded header, and the stream is still aligned on a packet boundary.
type FormatError struct {
	Declared int
	Actual   int
	Reason   string
	Skipped  bool
	Header   Packet
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("packet: %s (declared=%d actual=%d)", e.Reason, e.Declared, e.Actual)
}

// Packet is one wire message, either a command or a reply.
type Packet struct {
	ID         uint32
	Flags      uint8
	CommandSet uint8
	Command    uint8
	ErrorCode  uint16
	Payload    []byte
}

func (p Packet) IsReply() bool {
	return p.Flags&FlagReply != 0
}

// Len is the on-wire size including the header.
func (p Packet) Len() int {
	return HeaderLen + len(p.Payload)
}

func (p Packet) String() string {
	if p.IsReply() {
		return fmt.Sprintf("reply id=%d error=%d len=%d", p.ID, p.ErrorCode, len(p.Payload))
	}
	return fmt.Sprintf("command id=%d set=%d cmd=%d len=%d", p.ID, p.CommandSet, p.Command, len(p.Payload))
}

var lastID atomic.Uint32

// NextID returns the next packet id. Ids are strictly increasing for the
// life of the process; ordering checks elsewhere depend on it.
func NextID() uint32 {
	return lastID.Add(1)
}

// NewCommand builds a command packet with a fresh id.
func NewCommand(commandSet, command uint8, payload []byte) Packet {
	return Packet{
		ID:         NextID(),
		CommandSet: commandSet,
		Command:    command,
		Payload:    payload,
	}
}

// NewReply builds a reply packet correlated to id.
func NewReply(id uint32, errorCode uint16, payload []byte) Packet {
	return Packet{
		ID:        id,
		Flags:     FlagReply,
		ErrorCode: errorCode,
		Payload:   payload,
	}
}

func Encode(p Packet) []byte {
	buf := make([]byte, p.Len())
	putHeader(buf, p)
	copy(buf[HeaderLen:], p.Payload)
	return buf
}

func putHeader(buf []byte, p Packet) {
	binary.BigEndian.PutUint32(buf[0:4], uint32(p.Len()))
	binary.BigEndian.PutUint32(buf[4:8], p.ID)
	buf[8] = p.Flags
	if p.IsReply() {
		binary.BigEndian.PutUint16(buf[9:11], p.ErrorCode)
		return
	}
	buf[9] = p.CommandSet
	buf[10] = p.Command
}

func Decode(b []byte) (Packet, error) {
	if len(b) < HeaderLen {
		return Packet{}, &FormatError{Actual: len(b), Reason: "buffer shorter than header"}
	}
	declared := int(binary.BigEndian.Uint32(b[0:4]))
	if declared != len(b) {
		return Packet{}, &FormatError{Declared: declared, Actual: len(b), Reason: "declared length disagrees with buffer"}
	}
	p := decodeHeader(b[:HeaderLen])
	if len(b) > HeaderLen {
		p.Payload = make([]byte, len(b)-HeaderLen)
		copy(p.Payload, b[HeaderLen:])
	}
	return p, nil
}

func decodeHeader(b []byte) Packet {
	p := Packet{
		ID:    binary.BigEndian.Uint32(b[4:8]),
		Flags: b[8],
	}
	if p.IsReply() {
		p.ErrorCode = binary.BigEndian.Uint16(b[9:11])
	} else {
		p.CommandSet = b[9]
		p.Command = b[10]
	}
	return p
}

// Limits constrains packet decode/encode memory use.
type Limits struct {
	MaxPacketBytes int
}

func DefaultLimits() Limits {
	return Limits{MaxPacketBytes: DefaultMaxPacket}
}

// ReadPacket reads exactly one framed packet from r. An oversize packet is
// consumed and reported as a skipped FormatError; a declared length below the
// header leaves no packet boundary to resume from, so that error is fatal to
// the stream.
func ReadPacket(r io.Reader, limits Limits) (Packet, error) {
	var hdr [HeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Packet{}, ErrShortHeader
		}
		return Packet{}, err
	}
	declared := int(binary.BigEndian.Uint32(hdr[0:4]))
	if declared < HeaderLen {
		return Packet{}, &FormatError{Declared: declared, Actual: HeaderLen, Reason: "declared length smaller than header"}
	}
	p := decodeHeader(hdr[:])
	if limits.MaxPacketBytes > 0 && declared > limits.MaxPacketBytes {
		if _, err := io.CopyN(io.Discard, r, int64(declared-HeaderLen)); err != nil {
			return Packet{}, io.ErrUnexpectedEOF
		}
		return Packet{}, &FormatError{Declared: declared, Actual: limits.MaxPacketBytes, Reason: "packet exceeds limit", Skipped: true, Header: p}
	}
	if n := declared - HeaderLen; n > 0 {
		p.Payload = make([]byte, n)
		if _, err := io.ReadFull(r, p.Payload); err != nil {
			if errors.Is(err, io.EOF) {
				return Packet{}, io.ErrUnexpectedEOF
			}
			return Packet{}, err
		}
	}
	return p, nil
}

// WritePacket writes p as one contiguous buffer so a single Write call
// carries the whole packet.
func WritePacket(w io.Writer, p Packet, limits Limits) error {
	if limits.MaxPacketBytes > 0 && p.Len() > limits.MaxPacketBytes {
		return &FormatError{Declared: p.Len(), Actual: limits.MaxPacketBytes, Reason: "packet exceeds limit"}
	}
	_, err := w.Write(Encode(p))
	return err
}
