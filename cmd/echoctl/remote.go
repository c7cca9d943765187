package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"echo-civic-assistant/backend/internal/models"
	"echo-civic-assistant/backend/internal/service"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

const closeGrace = 2 * time.Second

var (
	remoteURL   string
	remoteToken string
	audioDir    string
)

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Chat with a running server over WebSocket",
	Long: `Connect to the server's /ws endpoint. Plain lines are sent as chat
messages. /voice <file> uploads a recorded clip for transcription and
/speak <message-id> saves the spoken reply under --audio-dir.`,
	Args: cobra.NoArgs,
	RunE: runRemote,
}

func init() {
	remoteCmd.Flags().StringVar(&remoteURL, "url", "ws://localhost:8081/ws", "WebSocket endpoint")
	remoteCmd.Flags().StringVar(&remoteToken, "token", "", "JWT (default: minted from JWT_SECRET for --user)")
	remoteCmd.Flags().StringVar(&audioDir, "audio-dir", "./audio_samples", "Where spoken replies are saved")
}

// frame is the envelope used in both directions
type frame struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
}

func runRemote(cmd *cobra.Command, args []string) error {
	token := remoteToken
	if token == "" {
		var err error
		if token, err = mintToken(loadConfig().JWT.Secret); err != nil {
			return err
		}
	}

	target, err := url.Parse(remoteURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	q := target.Query()
	q.Set("token", token)
	target.RawQuery = q.Encode()

	ctx := cmdContext(cmd)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target.String(), nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", remoteURL, err)
	}
	defer conn.Close()

	return remoteSession(ctx, conn, cmd.InOrStdin(), cmd.OutOrStdout(), audioDir)
}

// lockedWriter serializes output from the reader and the prompt loop
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func remoteSession(ctx context.Context, conn *websocket.Conn, in io.Reader, rawOut io.Writer, dir string) error {
	out := &lockedWriter{w: rawOut}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					fmt.Fprintf(out, "connection closed: %v\n", err)
				}
				return
			}
			renderFrame(out, f, dir)
		}
	}()

	send := func(msgType string, content interface{}) error {
		raw, err := json.Marshal(content)
		if err != nil {
			return err
		}
		return conn.WriteJSON(frame{Type: msgType, Content: raw})
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-done:
			return nil
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			var err error
			switch fields := strings.Fields(line); fields[0] {
			case "/quit", "/exit":
				break loop
			case "/voice":
				err = sendVoice(send, strings.TrimSpace(strings.TrimPrefix(line, "/voice")))
			case "/speak":
				var id int64
				if len(fields) == 2 {
					id, err = strconv.ParseInt(fields[1], 10, 64)
				}
				if err == nil {
					err = send("speak", map[string]int64{"messageId": id})
				}
			case "/history":
				err = send("history", nil)
			default:
				err = send("chat", map[string]string{"text": line})
			}
			if err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
			}
		}
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	select {
	case <-done:
	case <-time.After(closeGrace):
	}
	return nil
}

func sendVoice(send func(string, interface{}) error, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return send("audio", map[string]string{
		"data":     base64.StdEncoding.EncodeToString(data),
		"filename": filepath.Base(path),
	})
}

func renderFrame(out io.Writer, f frame, dir string) {
	switch f.Type {
	case "message":
		var m models.Message
		if json.Unmarshal(f.Content, &m) == nil && !m.IsTyping {
			fmt.Fprintf(out, "#%d ", m.ID)
			printMessage(out, m)
		}
	case "chat_history":
		var h struct {
			Messages []models.Message `json:"messages"`
		}
		if json.Unmarshal(f.Content, &h) == nil {
			for _, m := range h.Messages {
				fmt.Fprintf(out, "#%d ", m.ID)
				printMessage(out, m)
			}
		}
	case "event":
		var e service.Event
		if json.Unmarshal(f.Content, &e) == nil {
			printEvent(out, e)
		}
	case "speech_text":
		var t struct {
			Text string `json:"text"`
		}
		if json.Unmarshal(f.Content, &t) == nil {
			fmt.Fprintf(out, "(heard: %s) send it as a message to submit\n", t.Text)
		}
	case "audio":
		saveAudio(out, f.Content, dir)
	case "warning", "error":
		var m struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(f.Content, &m) == nil {
			fmt.Fprintf(out, "%s: %s\n", f.Type, m.Message)
		}
	}
}

func saveAudio(out io.Writer, raw json.RawMessage, dir string) {
	var a struct {
		Data      string `json:"data"`
		MessageID int64  `json:"messageId"`
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		return
	}
	data, err := base64.StdEncoding.DecodeString(a.Data)
	if err != nil {
		fmt.Fprintf(out, "Error: bad audio payload: %v\n", err)
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	path := filepath.Join(dir, fmt.Sprintf("message-%d.mp3", a.MessageID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(out, "(saved audio to %s)\n", path)
}
