package openclaw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

const defaultCLISession = "mnemo"

// CLIAdapter executes the OpenClaw CLI and extracts a textual reply.
type CLIAdapter struct {
	binaryPath string
	thinking   string
	agentID    string
}

func NewCLIAdapter(binaryPath string) *CLIAdapter {
	return &CLIAdapter{binaryPath: strings.TrimSpace(binaryPath)}
}

func (a *CLIAdapter) StreamResponse(
	ctx context.Context,
	req MessageRequest,
	onDelta DeltaHandler,
) (MessageResponse, error) {
	cmd := exec.CommandContext(ctx, a.binaryPath, a.args(req)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			// A killed process reports "signal: killed"; surface the context error instead.
			return MessageResponse{}, ctx.Err()
		}
		errText := strings.TrimSpace(stderr.String())
		if errText == "" {
			errText = strings.TrimSpace(stdout.String())
		}
		if errText != "" {
			return MessageResponse{}, fmt.Errorf("openclaw cli failed: %w: %s", err, errText)
		}
		return MessageResponse{}, fmt.Errorf("openclaw cli failed: %w", err)
	}

	text := parseCLIReply(stdout.String())
	if text == "" {
		text = strings.TrimSpace(stdout.String())
	}
	if text != "" && onDelta != nil {
		if err := onDelta(text); err != nil {
			return MessageResponse{}, err
		}
	}
	return MessageResponse{Text: text}, nil
}

func (a *CLIAdapter) args(req MessageRequest) []string {
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = defaultCLISession
	}
	args := []string{"agent", "--local", "--json", "--no-color"}
	if a.agentID != "" {
		args = append(args, "--agent", a.agentID)
	}
	args = append(args, "--session-id", sessionID, "--message", buildPrompt(req))
	if a.thinking != "" {
		args = append(args, "--thinking", a.thinking)
	}
	return args
}

// buildPrompt prepends memory context, when there is any, to the user's query.
func buildPrompt(req MessageRequest) string {
	input := strings.TrimSpace(req.InputText)
	if input == "" || len(req.MemoryContext) == 0 {
		return input
	}

	var b strings.Builder
	b.WriteString("Things you remember about this user:\n")
	for _, line := range req.MemoryContext {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		b.WriteString("- ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("User question:\n")
	b.WriteString(input)
	return b.String()
}

// cliReply is the JSON the CLI prints with --json. Replies carry either a
// payload list, at the root or under result, or a single text field.
type cliReply struct {
	Payloads []cliPayload `json:"payloads"`
	Result   struct {
		Payloads []cliPayload `json:"payloads"`
	} `json:"result"`
	Text    string `json:"text"`
	Output  string `json:"output"`
	Message string `json:"message"`
}

type cliPayload struct {
	Text string `json:"text"`
}

func parseCLIReply(raw string) string {
	reply, ok := decodeCLIReply(raw)
	if !ok {
		return ""
	}
	payloads := reply.Payloads
	if len(payloads) == 0 {
		payloads = reply.Result.Payloads
	}
	if len(payloads) == 0 {
		for _, s := range []string{reply.Text, reply.Output, reply.Message} {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
		return ""
	}
	parts := make([]string, 0, len(payloads))
	for _, p := range payloads {
		if t := strings.TrimSpace(p.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

// decodeCLIReply decodes the last JSON object in raw; the CLI may print log
// lines before it.
func decodeCLIReply(raw string) (cliReply, bool) {
	raw = strings.TrimSpace(raw)
	for raw != "" {
		var reply cliReply
		if err := json.Unmarshal([]byte(raw), &reply); err == nil {
			return reply, true
		}
		next := strings.Index(raw[1:], "{")
		if next < 0 {
			break
		}
		raw = raw[next+1:]
	}
	return cliReply{}, false
}
