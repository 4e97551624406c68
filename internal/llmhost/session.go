// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llmhost defines the generic interface the daemon uses to
// host an LLM conversation as a generic provider-agnostic session and
// a concrete driver backed by
// go-openai. AgentHost (L8) and SubagentManager (L6) depend only on
// the Session interface; swapping providers means writing a new
// driver, not touching those packages.
package llmhost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// EventType identifies the kind of event a Session emits while
// streaming.
type EventType string

const (
	EventStart      EventType = "start"
	EventToken      EventType = "token"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventAgentEnd   EventType = "agent_end"
	EventError      EventType = "error"
)

// Event is delivered to every subscriber of a Session.
type Event struct {
	Type     EventType
	Text     string // token text, or the final assistant text on agent_end
	ToolName string
	ToolArgs string
	ToolID   string
	Err      error
}

// Message is one turn in a session's transcript.
type Message struct {
	Role    string // "user", "assistant", "tool", "system"
	Content string
	At      time.Time
}

// ToolSpec describes one tool exposed to the model.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema
}

// ToolExecutor runs a tool call by name and returns its textual
// result. SubagentManager and GalCoordinator supply implementations
// that dispatch into their own tool tables.
type ToolExecutor interface {
	Execute(ctx context.Context, name, argsJSON string) (string, error)
}

// Session is the generic contract AgentHost/SubagentManager program
// against. One Session == one logical LLM conversation.
type Session interface {
	ID() string
	Name() string
	IsStreaming() bool

	// Prompt starts a new turn. If the session is already streaming,
	// callers should use Steer instead: an in-flight turn absorbs new
	// text as an in-stream steer rather than starting a second turn.
	Prompt(ctx context.Context, text string) error

	// Steer injects text into an in-flight turn.
	Steer(ctx context.Context, text string) error

	Abort()
	History() []Message
	Subscribe(func(Event))
	SetSilent(silent bool)
	Close() error
}

// Config configures a new OpenAISession.
type Config struct {
	ID          string
	Name        string
	Model       string
	SystemPrompt string
	Tools       []ToolSpec
	Executor    ToolExecutor
	MaxToolHops int // bound on tool-call/response round trips per turn
}

// OpenAISession drives a conversation through go-openai's streaming
// chat completions API, executing tool calls synchronously against an
// injected ToolExecutor and re-issuing follow-up completions until the
// model stops calling tools or MaxToolHops is reached.
type OpenAISession struct {
	client *openai.Client
	cfg    Config

	mu         sync.Mutex
	history    []Message
	streaming  bool
	silent     bool
	subscribers []func(Event)
	cancel      context.CancelFunc
	steerCh     chan string
}

// NewOpenAISession creates a session bound to client. A nil client is
// permitted for tests that only exercise subscription/history
// plumbing and never call Prompt.
func NewOpenAISession(client *openai.Client, cfg Config) *OpenAISession {
	if cfg.MaxToolHops <= 0 {
		cfg.MaxToolHops = 8
	}
	s := &OpenAISession{client: client, cfg: cfg, steerCh: make(chan string, 8)}
	if cfg.SystemPrompt != "" {
		s.history = append(s.history, Message{Role: "system", Content: cfg.SystemPrompt, At: time.Now()})
	}
	return s
}

func (s *OpenAISession) ID() string   { return s.cfg.ID }
func (s *OpenAISession) Name() string { return s.cfg.Name }

func (s *OpenAISession) IsStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

func (s *OpenAISession) SetSilent(silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent = silent
}

func (s *OpenAISession) Subscribe(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

func (s *OpenAISession) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.history))
	copy(out, s.history)
	return out
}

func (s *OpenAISession) emit(ev Event) {
	s.mu.Lock()
	silent := s.silent
	subs := append([]func(Event){}, s.subscribers...)
	s.mu.Unlock()
	if silent {
		return
	}
	for _, fn := range subs {
		fn(ev)
	}
}

// Prompt starts a new turn. If already streaming it delegates to
// Steer so the running turn absorbs the new text.
func (s *OpenAISession) Prompt(ctx context.Context, text string) error {
	if s.IsStreaming() {
		return s.Steer(ctx, text)
	}
	if s.client == nil {
		return errors.New("llmhost: session has no client configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.streaming = true
	s.cancel = cancel
	s.history = append(s.history, Message{Role: "user", Content: text, At: time.Now()})
	s.mu.Unlock()

	go s.run(runCtx)
	return nil
}

// Steer queues text to be appended to the conversation; the running
// turn picks it up between tool hops. If no turn is running, Steer is
// equivalent to a fresh Prompt.
func (s *OpenAISession) Steer(ctx context.Context, text string) error {
	if !s.IsStreaming() {
		return s.Prompt(ctx, text)
	}
	select {
	case s.steerCh <- text:
		return nil
	default:
		return errors.New("llmhost: steer queue full")
	}
}

// Abort cancels the in-flight turn, if any.
func (s *OpenAISession) Abort() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *OpenAISession) Close() error {
	s.Abort()
	return nil
}

func (s *OpenAISession) run(ctx context.Context) {
	s.emit(Event{Type: EventStart})
	defer func() {
		s.mu.Lock()
		s.streaming = false
		s.cancel = nil
		s.mu.Unlock()
	}()

	tools := toOpenAITools(s.cfg.Tools)

	for hop := 0; hop < s.cfg.MaxToolHops; hop++ {
		select {
		case extra := <-s.steerCh:
			s.mu.Lock()
			s.history = append(s.history, Message{Role: "user", Content: extra, At: time.Now()})
			s.mu.Unlock()
		default:
		}

		text, calls, err := s.streamOnce(ctx, tools)
		if err != nil {
			s.emit(Event{Type: EventError, Err: err})
			return
		}
		s.mu.Lock()
		s.history = append(s.history, Message{Role: "assistant", Content: text, At: time.Now()})
		s.mu.Unlock()

		if len(calls) == 0 {
			s.emit(Event{Type: EventAgentEnd, Text: text})
			return
		}

		for _, call := range calls {
			s.emit(Event{Type: EventToolCall, ToolName: call.Function.Name, ToolArgs: call.Function.Arguments, ToolID: call.ID})
			result := s.executeTool(ctx, call)
			s.emit(Event{Type: EventToolResult, ToolName: call.Function.Name, ToolID: call.ID, Text: result})
			s.mu.Lock()
			s.history = append(s.history, Message{Role: "tool", Content: fmt.Sprintf("%s -> %s", call.Function.Name, result), At: time.Now()})
			s.mu.Unlock()
		}
	}
	s.emit(Event{Type: EventAgentEnd, Text: "(tool-hop limit reached)"})
}

func (s *OpenAISession) executeTool(ctx context.Context, call openai.ToolCall) string {
	if s.cfg.Executor == nil {
		return "error: no tool executor configured"
	}
	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	result, err := s.cfg.Executor.Execute(callCtx, call.Function.Name, call.Function.Arguments)
	if err != nil {
		return "error: " + err.Error()
	}
	return result
}

func (s *OpenAISession) streamOnce(ctx context.Context, tools []openai.Tool) (string, []openai.ToolCall, error) {
	req := openai.ChatCompletionRequest{
		Model:    s.cfg.Model,
		Messages: toOpenAIMessages(s.History()),
		Tools:    tools,
		Stream:   true,
	}

	stream, err := s.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return "", nil, fmt.Errorf("llmhost: starting stream: %w", err)
	}
	defer stream.Close()

	var textBuf []byte
	calls := map[int]openai.ToolCall{}
	var order []int

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", nil, fmt.Errorf("llmhost: reading stream: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			textBuf = append(textBuf, delta.Content...)
			s.emit(Event{Type: EventToken, Text: delta.Content})
		}
		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			existing, ok := calls[idx]
			if !ok {
				order = append(order, idx)
				existing = tc
			} else {
				existing.Function.Arguments += tc.Function.Arguments
				existing.Function.Name += tc.Function.Name
			}
			calls[idx] = existing
		}
	}

	ordered := make([]openai.ToolCall, 0, len(order))
	for _, idx := range order {
		ordered = append(ordered, calls[idx])
	}
	return string(textBuf), ordered, nil
}

func toOpenAITools(specs []ToolSpec) []openai.Tool {
	out := make([]openai.Tool, 0, len(specs))
	for _, t := range specs {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

func toOpenAIMessages(history []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, m := range history {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// ToolParamsSchema is a convenience builder used by callers that want
// a trivial {type: object, properties: {...}} schema without pulling
// in a JSON-schema library.
func ToolParamsSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// MarshalArgs is a small helper for tests/tools that need to produce
// the JSON-encoded argument string a ToolExecutor receives.
func MarshalArgs(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
