package speech

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lcarsvoice/internal/settings"
)

func touch(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestResolveVoice(t *testing.T) {
	ws, install := t.TempDir(), t.TempDir()
	def := "voices/LibriVox/libri.onnx"

	assert.Equal(t, filepath.Join(ws, def), ResolveVoice("", def, ws, install), "nothing exists: workspace path")

	touch(t, filepath.Join(install, def), "")
	assert.Equal(t, filepath.Join(install, def), ResolveVoice("", def, ws, install))

	touch(t, filepath.Join(ws, def), "")
	assert.Equal(t, filepath.Join(ws, def), ResolveVoice("  ", def, ws, install), "user voices win")

	assert.Equal(t, "/opt/v.onnx", ResolveVoice("/opt/v.onnx", def, ws, install))
}

func TestPiperArgsSpeakerMap(t *testing.T) {
	ws := t.TempDir()
	p := &Piper{Workspace: ws, InstallDir: t.TempDir(), DefaultVoice: "v.onnx"}

	touch(t, filepath.Join(ws, "v.onnx"), "")
	assert.Equal(t, []string{"--model", filepath.Join(ws, "v.onnx"), "--output_file", "-"},
		p.Args(settings.Settings{SpeakerID: "4"}))

	touch(t, filepath.Join(ws, "v.onnx.json"), `{"speaker_id_map": {"a": 0, "b": 1}}`)
	assert.Equal(t, []string{"--model", filepath.Join(ws, "v.onnx"), "--output_file", "-", "--speaker", "4"},
		p.Args(settings.Settings{SpeakerID: "4"}))
	assert.Equal(t, "0", p.Args(settings.Settings{})[5], "speaker defaults to 0")
}

func TestPiperMissingBinaryIsNoop(t *testing.T) {
	called := false
	p := &Piper{
		PiperBin: filepath.Join(t.TempDir(), "piper", "piper"),
		pipe: func(context.Context, string, []string) error {
			called = true
			return nil
		},
	}
	require.NoError(t, p.Speak(context.Background(), "hello"))
	assert.False(t, called)
}

func TestPiperPipeline(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "played.txt")

	piper := filepath.Join(dir, "piper")
	touch(t, piper, "#!/bin/sh\necho \"args: $*\"\ncat\n")
	require.NoError(t, os.Chmod(piper, 0o700))

	aplay := filepath.Join(dir, "aplay")
	touch(t, aplay, "#!/bin/sh\ncat > '"+out+"'\n")
	require.NoError(t, os.Chmod(aplay, 0o700))

	p := &Piper{
		PiperBin:     piper,
		AplayBin:     aplay,
		Workspace:    dir,
		InstallDir:   dir,
		DefaultVoice: "voice.onnx",
		Settings:     func() settings.Settings { return settings.Settings{} },
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Speak(ctx, "Captain on the bridge."))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "args: --model "+filepath.Join(dir, "voice.onnx")+" --output_file -\nCaptain on the bridge.\n", string(data))
}

func TestWriterSpeaker(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf).Speak(context.Background(), "You have no events scheduled for Today."))
	assert.Equal(t, "You have no events scheduled for Today.\n", buf.String())
}

func TestSFXPlaysExistingFilesOnly(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "acknowledged2.mp3"), "")

	var gotBin string
	var gotArgs []string
	s := &SFX{
		Bin:  "mpg123",
		Args: []string{"-q"},
		Dir:  dir,
		start: func(bin string, args []string) error {
			gotBin, gotArgs = bin, args
			return nil
		},
	}

	played := s.Play(context.Background(), AckSounds...)
	assert.Equal(t, filepath.Join(dir, "acknowledged2.mp3"), played)
	assert.Equal(t, "mpg123", gotBin)
	assert.Equal(t, []string{"-q", filepath.Join(dir, "acknowledged2.mp3")}, gotArgs)

	gotArgs = nil
	assert.Equal(t, "", s.Play(context.Background(), PauseSound))
	assert.Nil(t, gotArgs, "missing sound is ignored")
}
