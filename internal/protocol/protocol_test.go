package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCaseInsensitive(t *testing.T) {
	for _, line := range []string{"start", "START", "Start"} {
		req := Parse(line)
		assert.Equal(t, CommandStart, req.Cmd, "line %q", line)
		assert.False(t, req.HasParam)
	}
}

func TestParseWithParameter(t *testing.T) {
	req := Parse("GOTO 50.5")
	assert.Equal(t, CommandGoto, req.Cmd)
	assert.True(t, req.HasParam)
	assert.InDelta(t, 50.5, req.Param, 1e-9)

	req = Parse("  speed   2.5  ")
	assert.Equal(t, CommandSpeed, req.Cmd)
	assert.True(t, req.HasParam)
	assert.InDelta(t, 2.5, req.Param, 1e-9)
}

func TestParseNonNumericParameter(t *testing.T) {
	req := Parse("GOTO fast")
	assert.Equal(t, CommandGoto, req.Cmd)
	assert.False(t, req.HasParam)
}

func TestParseUnknownAndEmpty(t *testing.T) {
	assert.Equal(t, CommandUnknown, Parse("FROBNICATE").Cmd)
	assert.Equal(t, CommandNone, Parse("").Cmd)
	assert.Equal(t, CommandNone, Parse("   ").Cmd)
}

func TestParseQuestionMarkIdentifies(t *testing.T) {
	assert.Equal(t, CommandIdentify, Parse("?").Cmd)
	assert.Equal(t, CommandIdentify, Parse("id").Cmd)
}

func TestResponderFormats(t *testing.T) {
	cases := []struct {
		name string
		emit func(r *Responder)
		want string
	}{
		{"ok bare", func(r *Responder) { r.SendOK("") }, "OK\n"},
		{"ok message", func(r *Responder) { r.SendOK("Test started") }, "OK Test started\n"},
		{"error bare", func(r *Responder) { r.SendError(StatusNotReady, "") }, "ERROR 3 Not ready\n"},
		{"error message", func(r *Responder) { r.SendError(StatusOverload, "Force limit exceeded") },
			"ERROR 5 Force overload: Force limit exceeded\n"},
		{"status", func(r *Responder) { r.SendStatus("RUNNING", 12.5, 1.25, true) },
			"STATUS RUNNING F:12.50 P:1.250 R:1\n"},
		{"status idle", func(r *Responder) { r.SendStatus("IDLE", 0, 0, false) },
			"STATUS IDLE F:0.00 P:0.000 R:0\n"},
		{"force", func(r *Responder) { r.SendForce(1.5) }, "FORCE 1.500\n"},
		{"position", func(r *Responder) { r.SendPosition(42.125) }, "POS 42.125\n"},
		{"config", func(r *Responder) { r.SendConfig(1.0, 450, 100, 50) },
			"CONFIG SPD:1.00 MAXF:450.0 MAXE:100.0 SR:50\n"},
		{"data", func(r *Responder) {
			r.SendData(DataPoint{TimestampMS: 1500, Force: 10.5, Extension: 0.25})
		}, "DATA 1500,10.500,0.2500,0.000,0.000000\n"},
		{"identity", func(r *Responder) { r.SendIdentity() }, "ID TensileTester V2.0.0 DIY-Pico\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			tc.emit(NewResponder(&buf))
			assert.Equal(t, tc.want, buf.String())
		})
	}
}

func TestDataStreamingToggle(t *testing.T) {
	r := NewResponder(&bytes.Buffer{})
	assert.False(t, r.DataStreaming())
	r.SetDataStreaming(true)
	assert.True(t, r.DataStreaming())
	r.SetDataStreaming(false)
	assert.False(t, r.DataStreaming())
}
