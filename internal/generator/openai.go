package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/EdwardJXLi/TinyGen/internal/fetcher"
)

// OpenAIGenerator prompts an OpenAI-compatible chat completions endpoint for
// a set of file operations, applies them to a copy of the repository tree,
// runs one reflection round, and renders the outcome as a unified diff.
type OpenAIGenerator struct {
	client      *http.Client
	apiKey      string
	baseURL     string
	model       string
	temperature float64
}

type OpenAIOption func(*OpenAIGenerator)

func WithHTTPClient(client *http.Client) OpenAIOption {
	return func(g *OpenAIGenerator) {
		g.client = client
	}
}

func WithModel(model string) OpenAIOption {
	return func(g *OpenAIGenerator) {
		g.model = model
	}
}

func WithTemperature(temperature float64) OpenAIOption {
	return func(g *OpenAIGenerator) {
		g.temperature = temperature
	}
}

func NewOpenAIGenerator(apiKey, baseURL string, opts ...OpenAIOption) *OpenAIGenerator {
	g := &OpenAIGenerator{
		client:      &http.Client{Timeout: 120 * time.Second},
		apiKey:      apiKey,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		model:       "gpt-3.5-turbo",
		temperature: 0.4,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// fileOp mirrors the tool schema the original service exposed to the model.
type fileOp struct {
	Action   string `json:"action"` // create_file, modify_file, delete_file
	FilePath string `json:"file_path"`
	Content  string `json:"content,omitempty"`
}

const systemPrompt = `You are TinyGen, a code modification assistant.
You are given the file listing and contents of a repository, followed by a user request.
Reply with ONLY a JSON array of file operations implementing the request, no prose.
Each operation is an object with:
  "action": one of "create_file", "modify_file", "delete_file"
  "file_path": path relative to the repository root
  "content": full new file content (required for create_file and modify_file)
Do not call create_file on an existing file or modify_file/delete_file on a missing one.`

const reflectionPrompt = `Review the unified diff you produced for the request above.
If it is correct and complete, reply with exactly APPROVE.
Otherwise reply with a corrected JSON array of file operations in the same format as before.`

func (g *OpenAIGenerator) Generate(ctx context.Context, tree *fetcher.FileTree, prompt string, progress func(string)) (string, error) {
	if progress == nil {
		progress = func(string) {}
	}

	messages := []chatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: describeTree(tree)},
		{Role: "user", Content: prompt},
	}

	progress(fmt.Sprintf("[TinyGen > GPT] Generating response from OpenAI (%s)...", g.model))
	content, err := g.complete(ctx, messages)
	if err != nil {
		return "", &GenerationError{Err: err}
	}
	progress(fmt.Sprintf("[TinyGen < GPT] Response received! Content Length: %d", len(content)))

	ops, err := parseFileOps(content)
	if err != nil {
		return "", &GenerationError{Err: err}
	}
	modified, err := applyFileOps(tree, ops)
	if err != nil {
		return "", &GenerationError{Err: err}
	}
	diff, err := renderDiff(tree, modified)
	if err != nil {
		return "", &GenerationError{Err: err}
	}
	if diff == "" {
		return "", &GenerationError{Err: errors.New("model proposed no changes")}
	}

	// Reflection round: let the model double-check its own diff once.
	progress("[TinyGen > GPT] Reflecting on the proposed changes...")
	messages = append(messages,
		chatMessage{Role: "assistant", Content: content},
		chatMessage{Role: "user", Content: reflectionPrompt + "\n\n" + diff},
	)
	reflection, err := g.complete(ctx, messages)
	if err != nil {
		return "", &GenerationError{Err: err}
	}
	if strings.Contains(reflection, "APPROVE") {
		progress("[TinyGen < GPT] Changes approved")
		return diff, nil
	}

	correctedOps, err := parseFileOps(reflection)
	if err != nil {
		// The model rambled instead of correcting; keep the first diff.
		progress("[TinyGen < GPT] Reflection was inconclusive, keeping initial changes")
		return diff, nil
	}
	progress("[TinyGen < GPT] Applying corrected changes from reflection")
	modified, err = applyFileOps(tree, correctedOps)
	if err != nil {
		return "", &GenerationError{Err: err}
	}
	diff, err = renderDiff(tree, modified)
	if err != nil {
		return "", &GenerationError{Err: err}
	}
	if diff == "" {
		return "", &GenerationError{Err: errors.New("reflection removed all changes")}
	}
	return diff, nil
}

// describeTree renders the repository for the model: the path listing first,
// then each file's contents fenced and labeled.
func describeTree(tree *fetcher.FileTree) string {
	paths := tree.Paths()
	var sb strings.Builder
	sb.WriteString("Repository files:\n")
	for _, p := range paths {
		sb.WriteString(p)
		sb.WriteByte('\n')
	}
	for _, p := range paths {
		sb.WriteString("\n--- ")
		sb.WriteString(p)
		sb.WriteString(" ---\n")
		sb.WriteString(tree.Files[p])
	}
	return sb.String()
}

// parseFileOps extracts the JSON operation list from a model reply, tolerating
// surrounding prose or code fences.
func parseFileOps(content string) ([]fileOp, error) {
	start := strings.IndexByte(content, '[')
	end := strings.LastIndexByte(content, ']')
	if start < 0 || end <= start {
		return nil, errors.New("model reply contained no JSON operation list")
	}
	var ops []fileOp
	if err := json.Unmarshal([]byte(content[start:end+1]), &ops); err != nil {
		return nil, fmt.Errorf("failed to parse model operations: %w", err)
	}
	if len(ops) == 0 {
		return nil, errors.New("model reply contained an empty operation list")
	}
	return ops, nil
}

func applyFileOps(tree *fetcher.FileTree, ops []fileOp) (*fetcher.FileTree, error) {
	modified := tree.Clone()
	for _, op := range ops {
		if op.FilePath == "" {
			return nil, errors.New("operation is missing file_path")
		}
		_, exists := modified.Files[op.FilePath]
		switch op.Action {
		case "create_file":
			if exists {
				return nil, fmt.Errorf("create_file on existing file %s", op.FilePath)
			}
			modified.Files[op.FilePath] = op.Content
		case "modify_file":
			if !exists {
				return nil, fmt.Errorf("modify_file on missing file %s", op.FilePath)
			}
			modified.Files[op.FilePath] = op.Content
		case "delete_file":
			if !exists {
				return nil, fmt.Errorf("delete_file on missing file %s", op.FilePath)
			}
			delete(modified.Files, op.FilePath)
		default:
			return nil, fmt.Errorf("unknown operation %q", op.Action)
		}
	}
	return modified, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (g *OpenAIGenerator) complete(ctx context.Context, messages []chatMessage) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       g.model,
		Temperature: g.temperature,
		Messages:    messages,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read chat response: %w", err)
	}
	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode chat response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := "chat completion failed"
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return "", fmt.Errorf("%s (status %d)", msg, resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("chat response contained no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}
