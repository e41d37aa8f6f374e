package wire

import (
	"bytes"
	"errors"
	"testing"

	"github.com/qorix-group/message-passing/internal/domain/model"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, tc := range [...]struct {
		Name    string
		Op      ClientOpcode
		Payload []byte
	}{
		{Name: "send empty", Op: OpSend, Payload: nil},
		{Name: "send payload", Op: OpSend, Payload: []byte("hello")},
		{Name: "request payload", Op: OpRequest, Payload: []byte{1, 2, 3, 4}},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			frame, err := EncodeSend(tc.Op, tc.Payload)
			if err != nil {
				t.Fatal(err)
			}
			got, err := ReadFrame(bytes.NewReader(frame), MaxFrameSize)
			if err != nil {
				t.Fatal(err)
			}
			if got.Opcode != uint8(tc.Op) {
				t.Errorf("opcode = %d, want %d", got.Opcode, tc.Op)
			}
			if !bytes.Equal(got.Payload, tc.Payload) && !(len(got.Payload) == 0 && len(tc.Payload) == 0) {
				t.Errorf("payload = %v, want %v", got.Payload, tc.Payload)
			}
		})
	}
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	_, err := EncodeSend(OpSend, make([]byte, MaxFrameSize+1))
	if !errors.Is(err, model.ErrMessageTooLarge) {
		t.Fatalf("err = %v, want ErrMessageTooLarge", err)
	}
}

func TestReadFrameRejectsOverLimit(t *testing.T) {
	frame, err := EncodeSend(OpSend, []byte("0123456789"))
	if err != nil {
		t.Fatal(err)
	}
	_, err = ReadFrame(bytes.NewReader(frame), 4)
	if !errors.Is(err, model.ErrMessageTooLarge) {
		t.Fatalf("err = %v, want ErrMessageTooLarge", err)
	}
}

func TestReadFrameClosedByPeer(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(nil), MaxFrameSize)
	if !errors.Is(err, model.ErrClosedByPeer) {
		t.Fatalf("err = %v, want ErrClosedByPeer", err)
	}
}

func TestReadFrameTruncatedHeader(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{0, 1}), MaxFrameSize)
	if !errors.Is(err, model.ErrClosedByPeer) {
		t.Fatalf("err = %v, want ErrClosedByPeer", err)
	}
}

func TestReplyNotifyOpcodes(t *testing.T) {
	frame, err := EncodeRecv(OpNotify, []byte("evt"))
	if err != nil {
		t.Fatal(err)
	}
	got, err := ReadFrame(bytes.NewReader(frame), MaxFrameSize)
	if err != nil {
		t.Fatal(err)
	}
	if got.Opcode != uint8(OpNotify) {
		t.Errorf("opcode = %d, want NOTIFY", got.Opcode)
	}
}
