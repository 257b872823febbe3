package simproto_test

import (
	"encoding/json"
	"testing"

	"trajreplay/internal/simproto"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	mustJSON := func(v any) []byte {
		t.Helper()
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return b
	}
	samples := [][]byte{
		mustJSON(simproto.HelloMsg{
			Type: simproto.TypeHello, ProtocolVersion: simproto.Version, EnvName: "Lift",
			EnvKwargs: map[string]any{"has_renderer": false, "renderer": "mjviewer"},
		}),
		mustJSON(simproto.WelcomeMsg{
			Type: simproto.TypeWelcome, ProtocolVersion: simproto.Version, SessionID: "S1",
			Capabilities: []string{simproto.MethodRefreshState}, ImageOrigin: simproto.OriginBottomLeft,
		}),
		mustJSON(simproto.CallMsg{
			Type: simproto.TypeCall, ID: 1, Method: simproto.MethodStep,
			Params: mustJSON(simproto.StepParams{Action: []float64{0.1, -0.2}}),
		}),
		mustJSON(simproto.ResultMsg{
			Type: simproto.TypeResult, ID: 1, OK: true, Result: mustJSON(simproto.StepResult{Success: true}),
		}),
		mustJSON(simproto.ResultMsg{
			Type: simproto.TypeResult, ID: 2, Error: &simproto.ErrorBody{Code: simproto.ErrUnsupported, Message: "no viewer"},
		}),
	}
	for _, raw := range samples {
		if err := simproto.Validate(raw); err != nil {
			t.Fatalf("validate %s: %v", raw, err)
		}
	}
}

func TestSchemas_RejectBadMessages(t *testing.T) {
	bad := []string{
		`{"type":"HELLO","protocol_version":"1.0"}`,
		`{"type":"WELCOME","protocol_version":"1.0","session_id":"","capabilities":[]}`,
		`{"type":"CALL","id":0,"method":"step"}`,
		`{"type":"RESULT","id":3,"ok":false}`,
		`{"type":"RESULT","id":3,"ok":false,"error":{"code":"oops","message":""}}`,
		`{"type":"PING"}`,
		`not json`,
	}
	for _, raw := range bad {
		if err := simproto.Validate([]byte(raw)); err == nil {
			t.Fatalf("expected %s to be rejected", raw)
		}
	}
}
