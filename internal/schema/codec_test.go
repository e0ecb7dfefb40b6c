package schema

import "testing"

func TestDecodeUpstream_RequiresTimestamp(t *testing.T) {
	_, err := DecodeUpstream(TopicWakewordDetected, []byte(`{"keyword":"hey rover","confidence":0.9}`))
	if err == nil {
		t.Fatal("expected error for missing timestamp")
	}
}

func TestDecodeUpstream_WakewordDetected(t *testing.T) {
	raw := []byte(`{"timestamp":1700000000,"keyword":"hey rover","confidence":0.92}`)
	got, err := DecodeUpstream(TopicWakewordDetected, raw)
	if err != nil {
		t.Fatalf("DecodeUpstream error: %v", err)
	}
	m, ok := got.(WakewordDetected)
	if !ok {
		t.Fatalf("got %T, want WakewordDetected", got)
	}
	if m.Keyword != "hey rover" {
		t.Errorf("keyword = %q", m.Keyword)
	}
}

func TestDecodeUpstream_RejectsOutOfRangeConfidence(t *testing.T) {
	raw := []byte(`{"timestamp":1700000000,"keyword":"hey rover","confidence":1.5}`)
	_, err := DecodeUpstream(TopicWakewordDetected, raw)
	if err == nil {
		t.Fatal("expected rejection of confidence > 1")
	}
}

func TestDecodeUpstream_LLMResponseRequiresRequestID(t *testing.T) {
	raw := []byte(`{"timestamp":1700000000,"speak":"hi","direction":"forward"}`)
	_, err := DecodeUpstream(TopicLLMResponse, raw)
	if err == nil {
		t.Fatal("expected error for missing request_id")
	}
}

func TestDecodeUpstream_LLMResponseRejectsBadDirection(t *testing.T) {
	raw := []byte(`{"timestamp":1700000000,"request_id":"abc","speak":"hi","direction":"sideways"}`)
	_, err := DecodeUpstream(TopicLLMResponse, raw)
	if err == nil {
		t.Fatal("expected error for invalid direction")
	}
}

func TestDecodeUpstream_LLMResponseAllowsEmptyDirection(t *testing.T) {
	raw := []byte(`{"timestamp":1700000000,"request_id":"abc","speak":"hi"}`)
	if _, err := DecodeUpstream(TopicLLMResponse, raw); err != nil {
		t.Fatalf("empty direction should be valid for llm.response: %v", err)
	}
}

func TestDecodeDownstream_NavCmdRejectsEmptyDirection(t *testing.T) {
	raw := []byte(`{"timestamp":1700000000,"direction":""}`)
	_, err := DecodeDownstream(TopicNavCmd, raw)
	if err == nil {
		t.Fatal("nav.cmd must reject empty direction")
	}
}

func TestDecodeDownstream_NavCmdAcceptsForward(t *testing.T) {
	raw := []byte(`{"timestamp":1700000000,"direction":"forward","speed":50}`)
	got, err := DecodeDownstream(TopicNavCmd, raw)
	if err != nil {
		t.Fatalf("DecodeDownstream error: %v", err)
	}
	if got.(NavCmd).Direction != DirForward {
		t.Errorf("direction = %v", got.(NavCmd).Direction)
	}
}

func TestDecodeDownstream_VisionModeRejectsUnknown(t *testing.T) {
	raw := []byte(`{"timestamp":1700000000,"mode":"fullscreen"}`)
	_, err := DecodeDownstream(TopicVisionMode, raw)
	if err == nil {
		t.Fatal("expected error for invalid vision mode")
	}
}

func TestDecodeUpstream_AlertRejectsUnknownKind(t *testing.T) {
	raw := []byte(`{"timestamp":1700000000,"kind":"explosion"}`)
	_, err := DecodeUpstream(TopicAlert, raw)
	if err == nil {
		t.Fatal("expected error for unknown alert kind")
	}
}

func TestDecodeUpstream_TolerantOfUnknownFields(t *testing.T) {
	raw := []byte(`{"timestamp":1700000000,"keyword":"hey rover","confidence":0.5,"extra_future_field":"x"}`)
	if _, err := DecodeUpstream(TopicWakewordDetected, raw); err != nil {
		t.Fatalf("unknown fields should be tolerated: %v", err)
	}
}

func TestClampConfidence(t *testing.T) {
	cases := map[float64]float64{-0.5: 0, 0.5: 0.5, 1.5: 1}
	for in, want := range cases {
		if got := ClampConfidence(in); got != want {
			t.Errorf("ClampConfidence(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestClampSpeed(t *testing.T) {
	cases := map[int]int{-10: 0, 50: 50, 150: 100}
	for in, want := range cases {
		if got := ClampSpeed(in); got != want {
			t.Errorf("ClampSpeed(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	m := WakewordDetected{Timestamp: 1700000000, Keyword: "hey rover", Confidence: 0.9}
	raw, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	got, err := DecodeUpstream(TopicWakewordDetected, raw)
	if err != nil {
		t.Fatalf("DecodeUpstream error: %v", err)
	}
	if got.(WakewordDetected) != m {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, m)
	}
}
