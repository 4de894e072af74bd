package packet

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Packet{
		{ID: 1, CommandSet: 1, Command: 7},
		{ID: 42, CommandSet: 64, Command: 100, Payload: []byte{2, 0, 0, 0, 1}},
		{ID: 9, Flags: FlagReply, ErrorCode: 0, Payload: []byte("ok")},
		{ID: 0xFFFFFFFF, Flags: FlagReply, ErrorCode: 112},
	}
	for _, in := range cases {
		b := Encode(in)
		if len(b) != in.Len() {
			t.Fatalf("encoded len got=%d want=%d", len(b), in.Len())
		}
		out, err := Decode(b)
		if err != nil {
			t.Fatalf("decode %s: %v", in, err)
		}
		if out.ID != in.ID || out.Flags != in.Flags || out.IsReply() != in.IsReply() {
			t.Fatalf("header mismatch: got=%+v want=%+v", out, in)
		}
		if out.CommandSet != in.CommandSet || out.Command != in.Command || out.ErrorCode != in.ErrorCode {
			t.Fatalf("command/error mismatch: got=%+v want=%+v", out, in)
		}
		if !bytes.Equal(out.Payload, in.Payload) {
			t.Fatalf("payload mismatch: got=%v want=%v", out.Payload, in.Payload)
		}
		if !bytes.Equal(Encode(out), b) {
			t.Fatalf("re-encode differs for %s", in)
		}
	}
}

func TestReplyFlagIsBitZero(t *testing.T) {
	b := Encode(NewReply(5, 0, nil))
	if b[8] != 0x01 {
		t.Fatalf("reply flags byte got=%#x want=0x01", b[8])
	}
	if cmd := Encode(Packet{ID: 6, CommandSet: 1, Command: 1}); cmd[8] != 0 {
		t.Fatalf("command flags byte got=%#x want=0", cmd[8])
	}

	raw := []byte{0, 0, 0, 11, 0, 0, 0, 7, 0x01, 0, 13}
	p, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !p.IsReply() || p.ID != 7 || p.ErrorCode != 13 {
		t.Fatalf("raw reply decoded wrong: %+v", p)
	}
	raw[8] = 0x80
	if p, err = Decode(raw); err != nil || p.IsReply() {
		t.Fatalf("flags=0x80 should not be a reply: %+v err=%v", p, err)
	}
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	_, err := Decode([]byte{0, 0, 0, 11, 0, 0})
	var fe *FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FormatError, got %v", err)
	}
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	b := Encode(Packet{ID: 3, CommandSet: 1, Command: 1, Payload: []byte{1, 2, 3}})
	for _, buf := range [][]byte{b[:len(b)-1], append(append([]byte{}, b...), 0)} {
		_, err := Decode(buf)
		var fe *FormatError
		if !errors.As(err, &fe) {
			t.Fatalf("expected FormatError for len=%d, got %v", len(buf), err)
		}
	}
}

func TestReadWritePacketStream(t *testing.T) {
	var buf bytes.Buffer
	in := []Packet{
		NewCommand(1, 1, nil),
		NewReply(77, 0, []byte{1, 2, 3, 4}),
	}
	for _, p := range in {
		if err := WritePacket(&buf, p, DefaultLimits()); err != nil {
			t.Fatalf("write packet: %v", err)
		}
	}
	for _, want := range in {
		got, err := ReadPacket(&buf, DefaultLimits())
		if err != nil {
			t.Fatalf("read packet: %v", err)
		}
		if got.ID != want.ID || !bytes.Equal(got.Payload, want.Payload) {
			t.Fatalf("packet mismatch: got=%s want=%s", got, want)
		}
	}
	if _, err := ReadPacket(&buf, DefaultLimits()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF at stream end, got %v", err)
	}
}

func TestReadPacketTruncatedHeader(t *testing.T) {
	_, err := ReadPacket(bytes.NewReader([]byte{0, 0, 0}), DefaultLimits())
	if !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestReadPacketDeclaredLengthTooSmall(t *testing.T) {
	b := Encode(Packet{ID: 1, CommandSet: 1, Command: 1})
	b[3] = 4
	_, err := ReadPacket(bytes.NewReader(b), DefaultLimits())
	var fe *FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FormatError, got %v", err)
	}
	if fe.Skipped {
		t.Fatalf("undersized header cannot be skipped: %+v", fe)
	}
}

func TestReadPacketOverLimit(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(Encode(Packet{ID: 1, CommandSet: 1, Command: 1, Payload: make([]byte, 64)}))
	buf.Write(Encode(Packet{ID: 2, Flags: FlagReply, Payload: []byte{9}}))

	_, err := ReadPacket(&buf, Limits{MaxPacketBytes: 32})
	var fe *FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FormatError, got %v", err)
	}
	if !fe.Skipped || fe.Header.ID != 1 {
		t.Fatalf("expected skipped oversize packet id=1, got %+v", fe)
	}
	next, err := ReadPacket(&buf, Limits{MaxPacketBytes: 32})
	if err != nil || next.ID != 2 || !next.IsReply() {
		t.Fatalf("stream not aligned after skip: %v err=%v", next, err)
	}
}

func TestNextIDStrictlyIncreasingUnderConcurrency(t *testing.T) {
	const workers, per = 8, 500
	out := make(chan []uint32, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]uint32, 0, per)
			for j := 0; j < per; j++ {
				ids = append(ids, NextID())
			}
			out <- ids
		}()
	}
	wg.Wait()
	close(out)

	seen := make(map[uint32]bool, workers*per)
	for ids := range out {
		for i, id := range ids {
			if i > 0 && id <= ids[i-1] {
				t.Fatalf("ids not increasing within a goroutine: %d then %d", ids[i-1], id)
			}
			if seen[id] {
				t.Fatalf("id reused: %d", id)
			}
			seen[id] = true
		}
	}
}
