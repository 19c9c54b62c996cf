// Package recognizer streams microphone audio to a Vosk server and yields
// the recognised utterances.
package recognizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"lcarsvoice/internal/config"
	appLog "lcarsvoice/internal/log"
)

// Recognizer produces final utterances on out until ctx is done or the
// audio stream ends. Utterances are lower-cased and never empty.
type Recognizer interface {
	Run(ctx context.Context, out chan<- string) error
}

// AudioSource opens a raw 16-bit little-endian mono PCM stream.
type AudioSource interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Arecord captures audio with ALSA's arecord.
type Arecord struct {
	Bin        string
	Device     string
	SampleRate int
}

// Args returns the arecord command line.
func (a *Arecord) Args() []string {
	args := []string{"-q", "-f", "S16_LE", "-r", strconv.Itoa(a.SampleRate), "-c", "1", "-t", "raw"}
	if a.Device != "" {
		args = append(args, "-D", a.Device)
	}
	return args
}

// Open starts arecord; closing the stream stops it.
func (a *Arecord) Open(ctx context.Context) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, a.Bin, a.Args()...)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("recognizer: start %s: %w", a.Bin, err)
	}
	appLog.Info("audio capture started", "bin", a.Bin, "device", a.Device)
	return &procReader{ReadCloser: out, cmd: cmd}, nil
}

type procReader struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (p *procReader) Close() error {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	_ = p.cmd.Wait()
	return nil
}

// Vosk is a client for the vosk-server websocket protocol: a JSON config
// message, binary PCM frames, JSON results back, and {"eof" : 1} to finish.
type Vosk struct {
	URL        string
	SampleRate int
	ChunkBytes int
	Audio      AudioSource
	Dialer     *websocket.Dialer

	// DrainTimeout bounds the wait for the final result after eof.
	DrainTimeout time.Duration
}

// NewVosk builds a client from the config. device overrides the configured
// capture device when not empty.
func NewVosk(cfg *config.Config, device string) *Vosk {
	rc := cfg.Recognizer
	if device == "" {
		device = rc.Device
	}
	return &Vosk{
		URL:        rc.URL,
		SampleRate: rc.SampleRate,
		ChunkBytes: rc.ChunkBytes,
		Audio: &Arecord{
			Bin:        cfg.ResolveBin(rc.CaptureBin),
			Device:     device,
			SampleRate: rc.SampleRate,
		},
	}
}

type voskConfig struct {
	Config struct {
		SampleRate int `json:"sample_rate"`
		Words      int `json:"words"`
	} `json:"config"`
}

type voskResult struct {
	Text    *string `json:"text"`
	Partial string  `json:"partial"`
}

// Run implements Recognizer.
func (v *Vosk) Run(ctx context.Context, out chan<- string) error {
	dialer := v.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	conn, resp, err := dialer.DialContext(ctx, v.URL, nil)
	if err != nil {
		if resp != nil {
			appLog.Error("vosk dial failed", err, "status", resp.StatusCode)
		}
		return fmt.Errorf("recognizer: dial %s: %w", v.URL, err)
	}
	defer conn.Close()
	appLog.Info("connected to vosk server", "url", v.URL)

	var cfg voskConfig
	cfg.Config.SampleRate = v.SampleRate
	cfg.Config.Words = 1
	if err := conn.WriteJSON(cfg); err != nil {
		return fmt.Errorf("recognizer: send config: %w", err)
	}

	audio, err := v.Audio.Open(ctx)
	if err != nil {
		return err
	}
	defer audio.Close()

	readDone := make(chan error, 1)
	go func() { readDone <- v.readResults(ctx, conn, out) }()

	sendErr := v.pump(ctx, conn, audio)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"eof" : 1}`)); err != nil {
		appLog.Debug("vosk eof send failed", "err", err.Error())
	}

	drain := v.DrainTimeout
	if drain <= 0 {
		drain = 2 * time.Second
	}
	var readErr error
	select {
	case readErr = <-readDone:
	case <-time.After(drain):
		appLog.Warn("vosk final result timed out")
		_ = conn.Close()
		<-readDone
	}

	if ctx.Err() != nil {
		return nil
	}
	if sendErr != nil {
		return sendErr
	}
	return readErr
}

// pump sends audio in ChunkBytes frames until the stream ends or ctx is done.
func (v *Vosk) pump(ctx context.Context, conn *websocket.Conn, audio io.Reader) error {
	size := v.ChunkBytes
	if size <= 0 {
		size = 8000
	}
	buf := make([]byte, size)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := io.ReadFull(audio, buf)
		if n > 0 {
			if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
				return fmt.Errorf("recognizer: send audio: %w", werr)
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			appLog.Info("audio stream ended")
			return nil
		default:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("recognizer: read audio: %w", err)
		}
	}
}

func (v *Vosk) readResults(ctx context.Context, conn *websocket.Conn, out chan<- string) error {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("recognizer: read result: %w", err)
		}

		var res voskResult
		if err := json.Unmarshal(msg, &res); err != nil {
			appLog.Warn("vosk result unparseable", "message", string(msg))
			continue
		}
		if res.Text == nil {
			continue
		}
		text := strings.ToLower(strings.TrimSpace(*res.Text))
		if text == "" {
			continue
		}
		select {
		case out <- text:
		case <-ctx.Done():
			return nil
		}
	}
}
