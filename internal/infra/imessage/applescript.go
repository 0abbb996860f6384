package imessage

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// sendScript receives the chat id and text as argv so neither is ever parsed as AppleScript
const sendScript = `on run argv
	set chatID to item 1 of argv
	set messageText to item 2 of argv
	tell application "Messages"
		send messageText to chat id chatID
	end tell
end run`

// CommandRunner runs an external command and returns its combined output
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Sender injects messages into Messages.app through osascript
type Sender struct {
	osascript string
	timeout   time.Duration
	maxLength int
	run       CommandRunner
}

// NewSender creates an AppleScript sender
func NewSender(osascript string, timeout time.Duration, maxLength int) *Sender {
	if osascript == "" {
		osascript = "osascript"
	}
	return &Sender{
		osascript: osascript,
		timeout:   timeout,
		maxLength: maxLength,
		run:       execRunner,
	}
}

// SetRunner replaces the command runner
func (s *Sender) SetRunner(run CommandRunner) {
	s.run = run
}

// Send sends text to the chat identified by chatGUID
func (s *Sender) Send(ctx context.Context, chatGUID, text string) error {
	if strings.TrimSpace(chatGUID) == "" {
		return fmt.Errorf("empty chat id")
	}
	text = Sanitize(text, s.maxLength)
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("empty message")
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	out, err := s.run(ctx, s.osascript, "-e", sendScript, chatGUID, text)
	if err != nil {
		return fmt.Errorf("osascript failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

const ellipsis = "..."

// Sanitize drops characters argv cannot carry and truncates to at most maxLength
// runes, the last three being "..." when there is room for them
func Sanitize(text string, maxLength int) string {
	text = strings.ReplaceAll(text, "\x00", "")
	if maxLength <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxLength {
		return text
	}
	if maxLength <= len(ellipsis) {
		return string(runes[:maxLength])
	}
	return string(runes[:maxLength-len(ellipsis)]) + ellipsis
}
