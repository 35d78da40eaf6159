package backend

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// claude -p --output-format json
//
//	{"session_id": "...", "num_turns": 4, "result": "text"}
//
// Older releases nest the text as result.content[].text; both are accepted.
var claudeDialect = dialect{
	binary:       "claude",
	newSessionID: uuid.NewString,
	buildArgs: func(s cliSession, msg Message) []string {
		args := []string{"-p", msg.Content, "--output-format", "json"}
		if s.started {
			args = append(args, "--resume", s.id)
		} else {
			args = append(args, "--session-id", s.id)
		}
		if s.model != "" {
			args = append(args, "--model", s.model)
		}
		if s.systemPrompt != "" {
			args = append(args, "--system-prompt", s.systemPrompt)
		}
		if s.maxTurns > 0 {
			args = append(args, "--max-turns", strconv.Itoa(s.maxTurns))
		}
		return args
	},
	parse: func(stdout, _ []byte) (Response, error) {
		return parseClaudeResponse(stdout)
	},
}

type claudeResponse struct {
	SessionID string          `json:"session_id"`
	NumTurns  int             `json:"num_turns"`
	IsError   bool            `json:"is_error"`
	Result    json.RawMessage `json:"result"`
}

func parseClaudeResponse(data []byte) (Response, error) {
	var cr claudeResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return Response{}, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	content, err := claudeResultText(cr.Result)
	if err != nil {
		return Response{}, err
	}
	if cr.IsError {
		return Response{}, fmt.Errorf("claude reported an error: %s", content)
	}

	return Response{
		Content:   content,
		SessionID: cr.SessionID,
		Turns:     cr.NumTurns,
	}, nil
}

func claudeResultText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}

	var nested struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &nested); err != nil {
		return "", fmt.Errorf("failed to decode result: %w", err)
	}

	var b strings.Builder
	for _, item := range nested.Content {
		if item.Type == "text" {
			b.WriteString(item.Text)
		}
	}
	return b.String(), nil
}

// codex exec PROMPT --json / codex resume THREAD PROMPT --json
//
// Output is newline-delimited events. ThreadStarted carries the thread id
// and every TurnCompleted carries the latest assistant text.
var codexDialect = dialect{
	binary: "codex",
	buildArgs: func(s cliSession, msg Message) []string {
		var args []string
		if !s.started && s.id == "" {
			args = []string{"exec", msg.Content, "--json"}
		} else {
			args = []string{"resume", s.id, msg.Content, "--json"}
		}
		if s.model != "" {
			args = append(args, "--model", s.model)
		}
		return args
	},
	parse: func(stdout, _ []byte) (Response, error) {
		return parseCodexEvents(stdout)
	},
}

type codexEvent struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id"`
	Content  string `json:"content"`
}

func parseCodexEvents(data []byte) (Response, error) {
	var resp Response
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var evt codexEvent
		if err := json.Unmarshal(line, &evt); err != nil {
			return Response{}, fmt.Errorf("failed to parse event type: %w", err)
		}

		switch evt.Type {
		case "ThreadStarted":
			resp.SessionID = evt.ThreadID
		case "TurnCompleted":
			resp.Content = evt.Content
			resp.Turns++
		}
	}
	if err := scanner.Err(); err != nil {
		return Response{}, fmt.Errorf("error reading events: %w", err)
	}
	return resp, nil
}

// goose run --text PROMPT --output-format json --name SESSION
//
// JSON output is not stable across goose releases, so a single object,
// stream-json lines and plain text are all accepted.
var gooseDialect = dialect{
	binary: "goose",
	newSessionID: func() string {
		return "grape-coder-" + uuid.NewString()[:8]
	},
	buildArgs: func(s cliSession, msg Message) []string {
		args := []string{"run", "--text", msg.Content, "--output-format", "json"}
		if !s.started {
			args = append(args, "--name", s.id)
		} else {
			args = append(args, "--name", s.id, "--resume")
		}
		if s.provider != "" {
			args = append(args, "--provider", s.provider)
		}
		if s.model != "" {
			args = append(args, "--model", s.model)
		}
		if s.systemPrompt != "" {
			args = append(args, "--system", s.systemPrompt)
		}
		if s.maxTurns > 0 {
			args = append(args, "--max-turns", strconv.Itoa(s.maxTurns))
		}
		return args
	},
	parse: func(stdout, stderr []byte) (Response, error) {
		resp, err := parseGooseResponse(stdout)
		if err != nil {
			resp = Response{Content: string(stdout)}
			if len(stderr) > 0 {
				resp.Content += "\n[stderr]: " + string(stderr)
			}
		}
		return resp, nil
	},
}

type gooseResponse struct {
	Content string `json:"content"`
	Turns   int    `json:"turns"`
}

func parseGooseResponse(data []byte) (Response, error) {
	var single gooseResponse
	if err := json.Unmarshal(data, &single); err == nil {
		return Response{Content: single.Content, Turns: single.Turns}, nil
	}

	var (
		contents []string
		turns    int
	)
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var lr gooseResponse
		if err := json.Unmarshal([]byte(line), &lr); err != nil {
			continue
		}
		if lr.Content != "" {
			contents = append(contents, lr.Content)
		}
		turns += lr.Turns
	}

	if len(contents) == 0 {
		return Response{}, fmt.Errorf("failed to parse goose JSON response")
	}
	return Response{Content: strings.Join(contents, "\n"), Turns: turns}, nil
}
