package sim

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/yuuki/netstimtest/script"
)

func newTestDevice() *Device {
	return NewDevice(DeviceConfig{Subject: "R1999J", Version: "test", Limits: DefaultLimits()})
}

func token(reply string) string {
	return script.FirstToken(reply)
}

func TestDeviceHandshake(t *testing.T) {
	d := newTestDevice()
	reply, keep := d.Handle("R1999J\n")
	assert.Equal(t, "SPREADY,StimProc,test", reply)
	assert.True(t, keep)

	d = newTestDevice()
	reply, keep = d.Handle("R1999T\n")
	assert.Equal(t, ReplyError, token(reply))
	assert.Contains(t, reply, "R1999T")
	assert.False(t, keep)
}

func TestDeviceSessions(t *testing.T) {
	tests := []struct {
		name    string
		lines   []string
		replies []string
	}{
		{
			name: "configure and start",
			lines: []string{
				"R1999J",
				"SPSTIMCONFIG,1,1,2,500,200,750",
				"SPSTIMSTART",
				"SPSTIMCONFIG,2,1,2,500,100,1000,3,4,500,200,1000",
				"SPSTIMSTART",
				"SPSTIMTHETACONFIG,2,1,2,500,200,3,0.25,3,4,500,200,3,0.25",
				"SPSTIMSTART",
			},
			replies: []string{
				ReplyReady, ReplyConfigDone, ReplyStartDone, ReplyConfigDone,
				ReplyStartDone, ReplyConfigDone, ReplyStartDone,
			},
		},
		{
			name:    "unknown command",
			lines:   []string{"R1999J", "NONSENSE"},
			replies: []string{ReplyReady, ReplyError},
		},
		{
			name: "start without config",
			lines: []string{
				"R1999J",
				"SPSTIMSTART",
				"SPSTIMCONFIG,1,1,2,500,200,2000",
				"SPSTIMCONFIG",
				"SPSTIMSTART",
			},
			replies: []string{
				ReplyReady, ReplyStartError, ReplyConfigError, ReplyConfigDone, ReplyStartError,
			},
		},
		{
			name:    "failed config disarms",
			lines:   []string{"R1999J", "SPSTIMCONFIG,1,1,2,500,200,750", "SPSTIMCONFIG,1,1,2,5000,200,750", "SPSTIMSTART"},
			replies: []string{ReplyReady, ReplyConfigDone, ReplyConfigError, ReplyStartError},
		},
		{
			name:    "empty argument configures no stim",
			lines:   []string{"R1999J", "SPSTIMCONFIG,", "SPSTIMSTART"},
			replies: []string{ReplyReady, ReplyConfigDone, ReplyStartError},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDevice()
			var got []string
			for _, line := range tt.lines {
				reply, keep := d.Handle(line + "\n")
				assert.True(t, keep)
				got = append(got, token(reply))
			}
			assert.Equal(t, tt.replies, got)
		})
	}
}

func TestDeviceConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{"too many pairs", "SPSTIMCONFIG,7", "exceeded maximum 6"},
		{"wrong element count", "SPSTIMCONFIG,1,1,2,500,200", "expected 7 stim config line elements and got 6"},
		{"theta element count", "SPSTIMTHETACONFIG,1,1,2,500,200,3", "expected 8"},
		{"unknown pair", "SPSTIMCONFIG,1,5,6,500,200,750", "pair 5_6"},
		{"electrode out of range", "SPSTIMCONFIG,1,300,2,500,200,750", "outside of range 0 to 255"},
		{"amplitude too high", "SPSTIMCONFIG,1,1,2,1001,200,750", "outside of range 0 to 1000"},
		{"frequency too low", "SPSTIMCONFIG,1,1,2,500,0,750", "outside of range 1 to 200"},
		{"not a number", "SPSTIMCONFIG,1,1,2,abc,200,750", "not a non-negative integer"},
		{"negative", "SPSTIMCONFIG,1,1,2,-5,200,750", "not a non-negative integer"},
		{"bad pair count", "SPSTIMCONFIG,x", "invalid stim pair count"},
		{"fraction zero", "SPSTIMTHETACONFIG,1,1,2,500,200,3,0", "burst fraction"},
		{"fraction one", "SPSTIMTHETACONFIG,1,1,2,500,200,3,1", "burst fraction"},
		{"fraction junk", "SPSTIMTHETACONFIG,1,1,2,500,200,3,half", "invalid burst fraction"},
		{"slow above fast", "SPSTIMTHETACONFIG,1,1,2,500,100,150,0.5", "outside of range 1 to 100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDevice()
			d.Handle("R1999J")
			reply, keep := d.Handle(tt.line)
			assert.True(t, keep)
			assert.Equal(t, ReplyConfigError, token(reply))
			assert.Contains(t, reply, tt.want)
			assert.False(t, d.Configured())
		})
	}
}

func TestDeviceSlowFrequencyFloor(t *testing.T) {
	limits := []ChannelLimits{{Pos: 1, Neg: 2, MaxAmplitude: 1000, MinFrequency: 1, MaxFrequency: 200, MaxDuration: 100}}
	d := NewDevice(DeviceConfig{Subject: "R1999J", Limits: limits})
	d.Handle("R1999J")

	// ceil(1000*0.5/100) = 5
	reply, _ := d.Handle("SPSTIMTHETACONFIG,1,1,2,500,200,4,0.5")
	assert.Equal(t, ReplyConfigError, token(reply))
	reply, _ = d.Handle("SPSTIMTHETACONFIG,1,1,2,500,200,5,0.5")
	assert.Equal(t, ReplyConfigDone, reply)
}

func TestDeviceIgnoresBlankLines(t *testing.T) {
	d := newTestDevice()
	d.Handle("R1999J")
	reply, keep := d.Handle("\r\n")
	assert.Empty(t, reply)
	assert.True(t, keep)
}

func TestDeviceAcceptsGeneratedCases(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		seed := rapid.Uint64Min(1).Draw(t, "seed")
		gen, err := script.NewGenerator(script.DefaultBounds(), script.DefaultTemplate(), seed)
		if err != nil {
			t.Fatal(err)
		}
		tc := gen.Generate(rapid.IntRange(1, 5).Draw(t, "repeats"))

		d := newTestDevice()
		for _, cmd := range tc.Commands {
			reply, keep := d.Handle(cmd.Text())
			if !keep {
				t.Fatalf("device hung up on %q", cmd.Text())
			}
			if token(reply) != cmd.Expect() {
				t.Fatalf("%q: got %q, want %s", cmd.Text(), reply, cmd.Expect())
			}
		}
	})
}

func TestChannelLimitsPair(t *testing.T) {
	assert.Equal(t, "3_4", DefaultLimits()[1].Pair())
	_, err := findLimits(DefaultLimits(), 9, 9)
	assert.True(t, strings.Contains(err.Error(), "9_9"))
}
