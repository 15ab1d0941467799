package device

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/fentz26/petfeeder/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToken(t *testing.T) {
	tests := []struct {
		kind models.CommandKind
		tok  string
		ok   bool
	}{
		{models.CommandFeed, "F", true},
		{models.CommandPause, "", false},
		{models.CommandResume, "", false},
		{"REBOOT", "", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			tok, ok := Token(tt.kind)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.tok, tok)
		})
	}
}

func TestIsComplete(t *testing.T) {
	assert.True(t, IsComplete("Feed Complete."))
	assert.True(t, IsComplete(">> Feed Complete"))
	assert.False(t, IsComplete("Dispensing Food..."))
	assert.False(t, IsComplete("feed complete"))
}

func TestDispenseWithSimulator(t *testing.T) {
	link, sim := NewSimulatedLink(20*time.Millisecond, time.Second)
	defer link.Close()

	res, err := link.Dispense(context.Background(), models.CommandFeed)
	require.NoError(t, err)
	assert.Equal(t, "F", res.Token)
	assert.Equal(t, "Feed Complete.", res.Lines[len(res.Lines)-1])
	assert.GreaterOrEqual(t, res.Elapsed, 20*time.Millisecond)

	_, err = link.Dispense(context.Background(), models.CommandFeed)
	require.NoError(t, err)
	assert.Equal(t, 2, sim.Feeds())
	assert.Equal(t, "FF", sim.Written())
}

func TestDispenseTimesOutWhenJammed(t *testing.T) {
	link, sim := NewSimulatedLink(0, 50*time.Millisecond)
	defer link.Close()
	sim.Jammed.Store(true)

	_, err := link.Dispense(context.Background(), models.CommandFeed)
	assert.ErrorIs(t, err, ErrNoCompletion)
	assert.Zero(t, sim.Feeds())
}

func TestDispenseRespectsContext(t *testing.T) {
	link, _ := NewSimulatedLink(time.Second, 5*time.Second)
	defer link.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := link.Dispense(ctx, models.CommandFeed)
	assert.ErrorIs(t, err, ErrNoCompletion)
}

func TestDispenseUnsupported(t *testing.T) {
	link, sim := NewSimulatedLink(0, time.Second)
	defer link.Close()

	_, err := link.Dispense(context.Background(), models.CommandPause)
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Empty(t, sim.Written())
}

func TestDispenseAfterPortEOF(t *testing.T) {
	pr, pw := io.Pipe()
	link := NewLink("eof", struct {
		io.Reader
		io.Writer
		io.Closer
	}{pr, io.Discard, pr}, time.Second)
	require.NoError(t, pw.Close())

	_, err := link.Dispense(context.Background(), models.CommandFeed)
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, link.Close())
	assert.NoError(t, link.Close())
}
