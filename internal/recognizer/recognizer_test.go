package recognizer

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bytesSource struct{ data []byte }

func (b bytesSource) Open(context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

// fakeVoskServer answers frame n with replies[n] and the eof message with
// final, then closes normally. It records the frame sizes it received.
func fakeVoskServer(t *testing.T, replies []string, final string, sizes chan<- int, gotConfig chan<- map[string]any) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()

		var cfg map[string]any
		if !assert.NoError(t, conn.ReadJSON(&cfg)) {
			return
		}
		gotConfig <- cfg

		frame := 0
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.TextMessage && strings.Contains(string(msg), "eof") {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(final))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			sizes <- len(msg)
			reply := `{"partial": ""}`
			if frame < len(replies) {
				reply = replies[frame]
			}
			frame++
			_ = conn.WriteMessage(websocket.TextMessage, []byte(reply))
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestVoskStreamsAudioAndEmitsFinalResults(t *testing.T) {
	sizes := make(chan int, 10)
	cfgs := make(chan map[string]any, 1)
	srv := fakeVoskServer(t, []string{
		`{"partial": "leo"}`,
		`{"text": "Leo Play Music", "result": [{"word": "leo", "conf": 1.0}]}`,
		`{"text": ""}`,
	}, `{"text": "stop listening"}`, sizes, cfgs)
	defer srv.Close()

	v := &Vosk{
		URL:        wsURL(srv),
		SampleRate: 16000,
		ChunkBytes: 8000,
		Audio:      bytesSource{data: make([]byte, 20000)},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out := make(chan string, 10)
	require.NoError(t, v.Run(ctx, out))
	close(out)

	var got []string
	for u := range out {
		got = append(got, u)
	}
	assert.Equal(t, []string{"leo play music", "stop listening"}, got)

	close(sizes)
	var frames []int
	for n := range sizes {
		frames = append(frames, n)
	}
	assert.Equal(t, []int{8000, 8000, 4000}, frames)

	cfg := <-cfgs
	inner, ok := cfg["config"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 16000, inner["sample_rate"])
	assert.EqualValues(t, 1, inner["words"])
}

func TestVoskDialFailure(t *testing.T) {
	v := &Vosk{URL: "ws://127.0.0.1:1", Audio: bytesSource{}}
	err := v.Run(context.Background(), make(chan string, 1))
	assert.Error(t, err)
}

func TestArecordArgs(t *testing.T) {
	a := &Arecord{Bin: "arecord", SampleRate: 16000}
	assert.Equal(t, []string{"-q", "-f", "S16_LE", "-r", "16000", "-c", "1", "-t", "raw"}, a.Args())

	a.Device = "plughw:1,0"
	assert.Equal(t, []string{"-q", "-f", "S16_LE", "-r", "16000", "-c", "1", "-t", "raw", "-D", "plughw:1,0"}, a.Args())
}
