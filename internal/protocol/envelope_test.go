package protocol

import (
	"errors"
	"strings"
	"testing"
)

func TestDecodeEnvelope_DefaultsEventToMessage(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"to":"2","message":"hola"}`))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if env.Event != EventMessage {
		t.Fatalf("expected default event %q, got %q", EventMessage, env.Event)
	}
	if env.To == nil || env.To.Int64() != 2 {
		t.Fatalf("expected to=2, got %+v", env.To)
	}
	if err := env.Validate(); err != nil {
		t.Fatalf("expected valid envelope, got %v", err)
	}
}

func TestDecodeEnvelope_Malformed(t *testing.T) {
	cases := []string{
		`not json`,
		`{"event":"message","to":"abc","message":"x"}`,
		`{"event":"message","to":1.5,"message":"x"}`,
	}
	for i, c := range cases {
		if _, err := DecodeEnvelope([]byte(c)); !errors.Is(err, ErrMalformedEnvelope) {
			t.Fatalf("case %d expected ErrMalformedEnvelope, got %v", i, err)
		}
	}
}

func TestEnvelopeValidate(t *testing.T) {
	t.Run("message missing fields", func(t *testing.T) {
		env, _ := DecodeEnvelope([]byte(`{"event":"message"}`))
		err := env.Validate()
		var envErr *EnvelopeError
		if !errors.As(err, &envErr) {
			t.Fatalf("expected EnvelopeError, got %v", err)
		}
		if len(envErr.Reasons) != 2 {
			t.Fatalf("expected 2 reasons, got %+v", envErr.Reasons)
		}
		if !strings.Contains(envErr.Reasons[0], "to") || !strings.Contains(envErr.Reasons[1], "message") {
			t.Fatalf("expected reasons to name json fields, got %+v", envErr.Reasons)
		}
	})

	t.Run("non positive recipient", func(t *testing.T) {
		env, _ := DecodeEnvelope([]byte(`{"event":"message","to":0,"message":"x"}`))
		var envErr *EnvelopeError
		if !errors.As(env.Validate(), &envErr) {
			t.Fatalf("expected EnvelopeError for to=0")
		}
	})

	t.Run("typing requires flag", func(t *testing.T) {
		env, _ := DecodeEnvelope([]byte(`{"event":"typing","to":3}`))
		if env.Validate() == nil {
			t.Fatalf("expected error for missing is_typing")
		}
		env, _ = DecodeEnvelope([]byte(`{"event":"typing","to":3,"is_typing":false}`))
		if err := env.Validate(); err != nil {
			t.Fatalf("expected valid typing envelope, got %v", err)
		}
	})

	t.Run("seen events", func(t *testing.T) {
		env, _ := DecodeEnvelope([]byte(`{"event":"message_seen"}`))
		if env.Validate() == nil {
			t.Fatalf("expected error for missing message_id")
		}
		env, _ = DecodeEnvelope([]byte(`{"event":"mark_messages_seen","from_user_id":"7"}`))
		if err := env.Validate(); err != nil {
			t.Fatalf("expected valid mark_messages_seen, got %v", err)
		}
	})

	t.Run("unknown and field-less events", func(t *testing.T) {
		for _, raw := range []string{`{"event":"get_connected_users"}`, `{"event":"dance"}`} {
			env, _ := DecodeEnvelope([]byte(raw))
			if err := env.Validate(); err != nil {
				t.Fatalf("expected %s to validate, got %v", raw, err)
			}
		}
		env, _ := DecodeEnvelope([]byte(`{"event":"dance"}`))
		if env.Known() {
			t.Fatalf("expected dance to be unknown")
		}
	})
}
