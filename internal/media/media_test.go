package media

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchPhrase(t *testing.T) {
	cases := map[string]Action{
		"leo pause music":           Pause,
		"leo resume music please":   Play,
		"leo play music":            Play,
		"leo next track":            Next,
		"computer previous song":    Previous,
		"leo stop music right away": Stop,
	}
	for text, want := range cases {
		got, ok := MatchPhrase(text)
		require.True(t, ok, text)
		assert.Equal(t, want, got, text)
	}

	_, ok := MatchPhrase("leo what is the weather")
	assert.False(t, ok)
}

func TestControllerDo(t *testing.T) {
	var gotBin string
	var gotArgs []string
	c := &Controller{
		Bin: "playerctl",
		run: func(_ context.Context, bin string, args ...string) ([]byte, error) {
			gotBin, gotArgs = bin, args
			return nil, nil
		},
	}
	require.NoError(t, c.Do(context.Background(), Next))
	assert.Equal(t, "playerctl", gotBin)
	assert.Equal(t, []string{"next"}, gotArgs)

	c.run = func(context.Context, string, ...string) ([]byte, error) {
		return []byte("No players found\n"), errors.New("exit status 1")
	}
	err := c.Do(context.Background(), Play)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No players found")
}
