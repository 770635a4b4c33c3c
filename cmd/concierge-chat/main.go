// ABOUTME: Command-line chat client for a running concierge server.
// ABOUTME: Submits a visitor message and polls until the agent replies.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"

	"github.com/2389/concierge/internal/retry"
)

type chatRequest struct {
	Type      string `json:"type,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Message   string `json:"message,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Name      string `json:"name,omitempty"`
}

type chatResponse struct {
	OK        bool   `json:"ok,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Status    string `json:"status,omitempty"`
	Reply     string `json:"reply,omitempty"`
	Error     string `json:"error,omitempty"`
}

func main() {
	serverURL := flag.String("url", "http://localhost:8080", "concierge server base URL")
	session := flag.String("session", "cli", "session identifier")
	name := flag.String("name", "", "visitor name")
	interval := flag.Duration("poll-interval", 2*time.Second, "delay between status polls")
	attempts := flag.Int("poll-attempts", 30, "maximum status polls before giving up")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: concierge-chat [flags] <message>")
		flag.PrintDefaults()
		os.Exit(1)
	}
	message := flag.Arg(0)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, *serverURL, message, *session, *name, *interval, *attempts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, serverURL, message, session, name string, interval time.Duration, attempts int) error {
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)

	gray.Printf("you> ")
	fmt.Println(message)

	resp, err := postChat(ctx, serverURL, chatRequest{
		Message:   message,
		SessionID: session,
		Name:      name,
	})
	if err != nil {
		return fmt.Errorf("submitting message: %w", err)
	}

	switch resp.Status {
	case "demo", "complete", "error":
		green.Printf("agent> ")
		fmt.Println(resp.Reply)
		return nil
	case "processing":
		// fall through to polling
	default:
		return fmt.Errorf("unexpected status %q: %s", resp.Status, resp.Error)
	}

	gray.Printf("... waiting (request %s)\n", resp.RequestID)

	requestID := resp.RequestID
	var reply string
	err = retry.Do(ctx, attempts, interval, retry.RealClock, func() (bool, error) {
		polled, err := postChat(ctx, serverURL, chatRequest{Type: "status", RequestID: requestID})
		if err != nil {
			return true, fmt.Errorf("polling: %w", err)
		}
		if polled.Status != "complete" {
			return false, nil
		}
		reply = polled.Reply
		return true, nil
	})
	if err != nil {
		if errors.Is(err, retry.ErrExhausted) {
			return fmt.Errorf("no reply after %d polls; the agent may still respond later", attempts)
		}
		return err
	}

	green.Printf("agent> ")
	fmt.Println(reply)
	return nil
}

func postChat(ctx context.Context, serverURL string, body chatRequest) (*chatResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decoding response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, parsed.Error)
	}
	return &parsed, nil
}
