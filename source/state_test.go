package source

import (
	"encoding/json"
	"testing"

	"github.com/dh1tw/gaplessAudio/audioerr"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateTransitions(t *testing.T) {
	states := []State{Idle, Loading, Decoding, Seeking, Destroyed}

	valid := map[State][]State{
		Idle:     {Loading, Seeking, Decoding, Destroyed},
		Loading:  {Idle, Seeking, Destroyed},
		Seeking:  {Idle, Decoding, Destroyed},
		Decoding: {Idle, Loading, Seeking, Destroyed},
	}

	for _, from := range states {
		for _, to := range states {
			want := false
			for _, s := range valid[from] {
				if s == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestInvalidTransitionIsAnInvariant(t *testing.T) {
	a := &Actor{state: Seeking, log: zerolog.Nop()}
	err := a.transition(Loading)
	assert.True(t, audioerr.Is(err, audioerr.ProgrammerInvariant))
	assert.Equal(t, Seeking, a.state)

	require.NoError(t, a.transition(Decoding))
	assert.Equal(t, Decoding, a.state)
}

func TestFillLoopStartsFromValidStatesOnly(t *testing.T) {
	a := &Actor{state: Loading, log: zerolog.Nop()}
	err := a.startFill(1, -1, FillNormal, nil)
	assert.True(t, audioerr.Is(err, audioerr.ProgrammerInvariant))
	assert.Equal(t, Loading, a.state)
	assert.Nil(t, a.fillToken)
}

func TestStateText(t *testing.T) {
	assert.Equal(t, "decoding", Decoding.String())
	assert.Equal(t, "state(42)", State(42).String())

	b, err := json.Marshal(map[string]State{"state": Seeking})
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"seeking"}`, string(b))

	var got map[string]State
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, Seeking, got["state"])
	assert.Error(t, json.Unmarshal([]byte(`{"state":"paused"}`), &got))
}

func TestCommandClassification(t *testing.T) {
	tests := []struct {
		cmd        Command
		queued     bool
		overriding bool
	}{
		{LoadInitialAudioData{}, true, true},
		{Seek{}, true, true},
		{LoadReplacement{}, true, true},
		{FillBuffers{}, true, false},
		{Destroy{}, false, false},
		{messageFromReplacement{}, false, false},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.queued, tc.cmd.Queued(), "%T", tc.cmd)
		assert.Equal(t, tc.overriding, tc.cmd.Overriding(), "%T", tc.cmd)
	}
}
