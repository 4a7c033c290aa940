package protocol

import (
	"errors"
	"testing"

	"github.com/mahaj/schemahub/pkg/model"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope(EventTyping, "ws1", Typing{UserID: "u1", Username: "alice", IsTyping: true})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	frame, err := Encode(env)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Type != EventTyping || decoded.WorkspaceID != "ws1" {
		t.Fatalf("decoded envelope = %+v", decoded)
	}

	payload, err := DecodePayload(decoded)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	typing, ok := payload.(Typing)
	if !ok {
		t.Fatalf("payload type = %T, want Typing", payload)
	}
	if typing.UserID != "u1" || typing.Username != "alice" || !typing.IsTyping {
		t.Errorf("payload = %+v", typing)
	}
}

func TestDecodeRejectsBadFrames(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", "not json"},
		{"missing type", `{"workspace_id":"ws1"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode([]byte(tc.raw)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDecodePayloadUnknownType(t *testing.T) {
	_, err := DecodePayload(Envelope{Type: "bogus", Payload: []byte(`{}`)})
	if !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("err = %v, want ErrUnknownEvent", err)
	}
}

func TestDecodePayloadMissingPayload(t *testing.T) {
	if _, err := DecodePayload(Envelope{Type: EventChange}); err == nil {
		t.Error("expected error for missing payload")
	}
}

func TestDecodePayloadVariants(t *testing.T) {
	attr := model.BlockAttribution{BlockID: "model:User", StartLine: 3, EndLine: 9, LastEditorID: "u1", UpdatedAt: 42}
	env, err := NewEnvelope(EventAttribution, "ws1", attr)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	payload, err := DecodePayload(env)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	got, ok := payload.(model.BlockAttribution)
	if !ok {
		t.Fatalf("payload type = %T", payload)
	}
	if got != attr {
		t.Errorf("payload = %+v, want %+v", got, attr)
	}
}
