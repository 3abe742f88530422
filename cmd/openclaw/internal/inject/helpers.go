package inject

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/mingtsay/openclaw/cmd/openclaw/internal"
	"github.com/mingtsay/openclaw/pkg/bridge"
)

// TokenEnv supplies the bridge secret when --token is not given.
const TokenEnv = "OPENCLAW_BRIDGE_TOKEN"

const requestTimeout = 30 * time.Second

type options struct {
	url            string
	token          string
	accountID      string
	chatID         int64
	messageID      int
	senderName     string
	senderUsername string
	senderID       int64
	text           string
	replyTo        int
	threadID       int
	timestamp      int64
}

type payload struct {
	AccountID        string `json:"accountId,omitempty"`
	ChatID           int64  `json:"chatId"`
	MessageID        int    `json:"messageId"`
	SenderName       string `json:"senderName"`
	SenderUsername   string `json:"senderUsername,omitempty"`
	SenderID         int64  `json:"senderId,omitempty"`
	Text             string `json:"text"`
	Timestamp        int64  `json:"timestamp"`
	ReplyToMessageID int    `json:"replyToMessageId,omitempty"`
	ThreadID         int    `json:"threadId,omitempty"`
}

// response covers both the success and the error body.
type response struct {
	bridge.Response
	Error string `json:"error,omitempty"`
}

func tokenFromEnv() string {
	return strings.TrimSpace(os.Getenv(TokenEnv))
}

func injectCmd(ctx context.Context, out io.Writer, opts options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.token == "" {
		return fmt.Errorf("no bridge secret: pass --token or set %s", TokenEnv)
	}
	if opts.url == "" {
		cfg, err := internal.LoadConfig()
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		opts.url = "http://" + net.JoinHostPort(cfg.Gateway.Host, strconv.Itoa(cfg.Gateway.Port))
	}

	client := &http.Client{Timeout: requestTimeout}

	if opts.text != "" {
		resp, err := postMessage(ctx, client, opts.url, opts.token, buildPayload(opts, opts.text, time.Now()))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "✓ Injected update %d (message %d in chat %d)\n", resp.UpdateID, resp.MessageID, resp.ChatID)
		return nil
	}

	fmt.Fprintf(out, "%s Interactive mode as %s in chat %d (Ctrl+C to exit)\n\n", internal.Logo, opts.senderName, opts.chatID)
	interactiveMode(ctx, out, client, opts)
	return nil
}

// buildPayload fills a request body from opts. A zero timestamp is taken
// from now, in whole seconds.
func buildPayload(opts options, text string, now time.Time) payload {
	ts := opts.timestamp
	if ts == 0 {
		ts = now.Unix()
	}
	return payload{
		AccountID:        opts.accountID,
		ChatID:           opts.chatID,
		MessageID:        opts.messageID,
		SenderName:       opts.senderName,
		SenderUsername:   strings.TrimPrefix(opts.senderUsername, "@"),
		SenderID:         opts.senderID,
		Text:             text,
		Timestamp:        ts,
		ReplyToMessageID: opts.replyTo,
		ThreadID:         opts.threadID,
	}
}

// postMessage sends p to the gateway at baseURL, authenticating with a
// bearer token.
func postMessage(ctx context.Context, client *http.Client, baseURL, token string, p payload) (bridge.Response, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return bridge.Response{}, err
	}

	endpoint := strings.TrimRight(baseURL, "/") + bridge.PathFor("telegram")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return bridge.Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := client.Do(req)
	if err != nil {
		return bridge.Response{}, fmt.Errorf("error contacting gateway: %w", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return bridge.Response{}, fmt.Errorf("error reading response: %w", err)
	}

	var decoded response
	if err := json.Unmarshal(data, &decoded); err != nil {
		return bridge.Response{}, fmt.Errorf("gateway returned %d: %s", res.StatusCode, strings.TrimSpace(string(data)))
	}
	if res.StatusCode != http.StatusOK || !decoded.OK {
		msg := decoded.Error
		if msg == "" {
			msg = http.StatusText(res.StatusCode)
		}
		return bridge.Response{}, fmt.Errorf("gateway returned %d: %s", res.StatusCode, msg)
	}
	return decoded.Response, nil
}

// session posts each line as the next message of the same sender.
type session struct {
	ctx    context.Context
	out    io.Writer
	client *http.Client
	opts   options
}

// send posts text and advances the message id after a success.
func (s *session) send(text string) {
	resp, err := postMessage(s.ctx, s.client, s.opts.url, s.opts.token, buildPayload(s.opts, text, time.Now()))
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "✓ update %d, message %d\n", resp.UpdateID, resp.MessageID)
	s.opts.messageID++
	s.opts.replyTo = 0
	s.opts.timestamp = 0
}

func interactiveMode(ctx context.Context, out io.Writer, client *http.Client, opts options) {
	s := &session{ctx: ctx, out: out, client: client, opts: opts}
	prompt := fmt.Sprintf("%s %s: ", internal.Logo, opts.senderName)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     filepath.Join(os.TempDir(), ".openclaw_inject_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(out, "Error initializing readline: %v\n", err)
		fmt.Fprintln(out, "Falling back to simple input mode...")
		simpleInteractiveMode(os.Stdin, s)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Fprintln(out, "\nGoodbye!")
				return
			}
			fmt.Fprintf(out, "Error reading input: %v\n", err)
			continue
		}
		if !s.handleLine(line) {
			return
		}
	}
}

func simpleInteractiveMode(in io.Reader, s *session) {
	reader := bufio.NewReader(in)
	for {
		fmt.Fprintf(s.out, "%s %s: ", internal.Logo, s.opts.senderName)
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(s.out, "\nGoodbye!")
				return
			}
			fmt.Fprintf(s.out, "Error reading input: %v\n", err)
			continue
		}
		if !s.handleLine(line) {
			return
		}
	}
}

// handleLine returns false when the user asked to leave.
func (s *session) handleLine(line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return true
	}
	if input == "exit" || input == "quit" {
		fmt.Fprintln(s.out, "Goodbye!")
		return false
	}
	s.send(input)
	return true
}
