package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/coder/websocket"
)

const (
	audioPath        = "/ws/audio"
	DefaultChunkSize = 32 * 1024
)

// Segment is one transcript frame sent by the server.
type Segment struct {
	Type   string  `json:"type"`
	Text   string  `json:"text,omitempty"`
	Start  float64 `json:"start,omitempty"`
	End    float64 `json:"end,omitempty"`
	NoteID string  `json:"note_id,omitempty"`
}

// Transcript is everything received for one streamed recording.
type Transcript struct {
	NoteID   string
	Segments []Segment
	Text     string
	// Final is set when the server sent an explicit final frame rather
	// than just closing the connection.
	Final bool
}

// AudioStreamer uploads a recording over the audio WebSocket and collects
// the live transcript.
type AudioStreamer struct {
	url       string
	token     func() string
	chunkSize int
	logger    *slog.Logger
}

// NewAudioStreamer creates a streamer for the backend at baseURL (http or
// https; the ws scheme is derived).
func NewAudioStreamer(baseURL string, token func() string, chunkSize int, logger *slog.Logger) *AudioStreamer {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	u := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return &AudioStreamer{
		url:       u + audioPath,
		token:     token,
		chunkSize: chunkSize,
		logger:    logger.With("component", "audio_stream"),
	}
}

// StreamFile streams the recording at path.
func (s *AudioStreamer) StreamFile(ctx context.Context, path string, onSegment func(Segment)) (*Transcript, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()
	return s.Stream(ctx, f, onSegment)
}

// Stream sends r as binary frames followed by an end marker, and returns
// once the server sends a final frame or closes normally. onSegment, when
// non-nil, sees each partial segment as it arrives.
func (s *AudioStreamer) Stream(ctx context.Context, r io.Reader, onSegment func(Segment)) (*Transcript, error) {
	header := http.Header{}
	if s.token != nil {
		if tok := s.token(); tok != "" {
			header.Set("Authorization", "Bearer "+tok)
		}
	}

	conn, _, err := websocket.Dial(ctx, s.url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("dial audio stream: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 20)

	sendCtx, stopSend := context.WithCancel(ctx)
	defer stopSend()
	sendErr := make(chan error, 1)
	go func() {
		sendErr <- s.send(sendCtx, conn, r)
	}()

	tr, readErr := s.receive(ctx, conn, onSegment)
	if readErr != nil {
		stopSend()
		if err := <-sendErr; err != nil && !errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, readErr
	}

	// Server may finish before the upload does; the remaining audio is moot.
	stopSend()
	<-sendErr

	conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Debug("audio stream finished", "segments", len(tr.Segments), "final", tr.Final)
	return tr, nil
}

func (s *AudioStreamer) send(ctx context.Context, conn *websocket.Conn, r io.Reader) error {
	buf := make([]byte, s.chunkSize)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if werr := conn.Write(ctx, websocket.MessageBinary, buf[:n]); werr != nil {
				return fmt.Errorf("write audio chunk: %w", werr)
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read recording: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"end"}`)); err != nil {
		return fmt.Errorf("write end marker: %w", err)
	}
	return nil
}

func (s *AudioStreamer) receive(ctx context.Context, conn *websocket.Conn, onSegment func(Segment)) (*Transcript, error) {
	tr := &Transcript{}
	var text []string
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			return nil, fmt.Errorf("read transcript: %w", err)
		}
		if typ != websocket.MessageText {
			continue
		}

		var seg Segment
		if err := json.Unmarshal(data, &seg); err != nil {
			s.logger.Warn("skipping malformed transcript frame", "error", err)
			continue
		}
		if seg.NoteID != "" {
			tr.NoteID = seg.NoteID
		}
		if seg.Type == "final" {
			tr.Final = true
			if seg.Text != "" {
				tr.Text = seg.Text
				return tr, nil
			}
			break
		}

		tr.Segments = append(tr.Segments, seg)
		if seg.Text != "" {
			text = append(text, seg.Text)
		}
		if onSegment != nil {
			onSegment(seg)
		}
	}
	tr.Text = strings.Join(text, " ")
	return tr, nil
}
