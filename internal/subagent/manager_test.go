// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package subagent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tau-assistant/tau-daemon/internal/messagebus"
)

// fakeSession is a hand-rolled Session used only by this package's
// tests; it lets tests drive agent_end/streaming without a real LLM
// client.
type fakeSession struct {
	mu        sync.Mutex
	id, name  string
	streaming bool
	history   []HistoryEntry
	handlers  []func(AgentEvent)
	prompts   []string
	aborted   bool
	closed    bool
	tools     []ToolSpec
}

func newFakeSession(id, name string) *fakeSession { return &fakeSession{id: id, name: name} }

func (f *fakeSession) ID() string   { return f.id }
func (f *fakeSession) Name() string { return f.name }
func (f *fakeSession) IsStreaming() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streaming
}
func (f *fakeSession) SetSilent(bool) {}
func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
func (f *fakeSession) Prompt(ctx context.Context, text string) error {
	f.mu.Lock()
	f.prompts = append(f.prompts, text)
	f.streaming = true
	f.mu.Unlock()
	return nil
}
func (f *fakeSession) Steer(ctx context.Context, text string) error {
	f.mu.Lock()
	f.prompts = append(f.prompts, text)
	f.mu.Unlock()
	return nil
}
func (f *fakeSession) Abort() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = true
	f.streaming = false
}
func (f *fakeSession) History() []HistoryEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]HistoryEntry, len(f.history))
	copy(out, f.history)
	return out
}
func (f *fakeSession) Subscribe(fn func(AgentEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, fn)
}

// emit drives a fake event from the test to exercise the manager's
// completion bridge.
func (f *fakeSession) emit(ev AgentEvent) {
	f.mu.Lock()
	handlers := append([]func(AgentEvent){}, f.handlers...)
	if ev.Type == "agent_end" {
		f.streaming = false
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

func newTestManager(t *testing.T, capN int) (*Manager, map[string]*fakeSession) {
	t.Helper()
	sessions := make(map[string]*fakeSession)
	var mu sync.Mutex
	factory := func(id string, cfg Config, tools []ToolSpec) Session {
		s := newFakeSession(id, cfg.Name)
		s.tools = tools
		mu.Lock()
		sessions[id] = s
		mu.Unlock()
		return s
	}
	m := New(factory, messagebus.New(), nil, capN)
	return m, sessions
}

func TestSpawnInjectsStandardToolsAndFiresInitialTask(t *testing.T) {
	m, sessions := newTestManager(t, 10)

	infos, err := m.Spawn(context.Background(), []Config{{Name: "Worker1", Task: "do the thing"}}, 0)
	require.NoError(t, err)
	require.Len(t, infos, 1)

	sess := sessions[infos[0].ID]
	names := make([]string, 0, len(sess.tools))
	for _, tool := range sess.tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"message_agent", "wait_for_agents", "list_agents", "request_input"}, names)

	require.Eventually(t, func() bool {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		return len(sess.prompts) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSpawnRespectsHardCapAfterPurge(t *testing.T) {
	m, _ := newTestManager(t, 2)

	_, err := m.Spawn(context.Background(), []Config{{Name: "A"}, {Name: "B"}}, 0)
	require.NoError(t, err)

	_, err = m.Spawn(context.Background(), []Config{{Name: "C"}}, 0)
	assert.Error(t, err)
}

func TestSpawnCapAllowsReuseAfterPurgingFinishedNonPersistent(t *testing.T) {
	m, sessions := newTestManager(t, 1)

	infos, err := m.Spawn(context.Background(), []Config{{Name: "A", TaskID: "t1"}}, 0)
	require.NoError(t, err)

	sessions[infos[0].ID].emit(AgentEvent{Type: "agent_end", Text: "done"})

	require.Eventually(t, func() bool {
		st, ok := m.GetStatus(infos[0].ID)
		return ok && st.Finished
	}, time.Second, 5*time.Millisecond)

	// The finished entry is still registered (it counts toward the cap
	// until purged), so a second spawn at cap 1 only succeeds because
	// Spawn purges finished non-persistent entries first.
	_, err = m.Spawn(context.Background(), []Config{{Name: "B"}}, 0)
	assert.NoError(t, err)

	_, stillThere := m.GetStatus(infos[0].ID)
	assert.False(t, stillThere, "finished entry should have been purged by the second spawn")
}

type recordingTaskNotifier struct {
	mu      sync.Mutex
	taskID  string
	result  string
	count   int
}

func (r *recordingTaskNotifier) MarkDone(taskID, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.taskID, r.result = taskID, result
	r.count++
}

type recordingGalNotifier struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingGalNotifier) OnWorkerComplete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

func TestCompletionBridgeMarksTaskNotifiesGalAndClosesSession(t *testing.T) {
	m, sessions := newTestManager(t, 10)
	tasks := &recordingTaskNotifier{}
	gal := &recordingGalNotifier{}
	m.SetTaskNotifier(tasks)
	m.SetGalNotifier(gal)

	infos, err := m.Spawn(context.Background(), []Config{{Name: "Worker1", TaskID: "task-42"}}, 0)
	require.NoError(t, err)
	id := infos[0].ID

	longText := ""
	for i := 0; i < 600; i++ {
		longText += "x"
	}
	sessions[id].emit(AgentEvent{Type: "agent_end", Text: longText})

	require.Eventually(t, func() bool {
		tasks.mu.Lock()
		defer tasks.mu.Unlock()
		return tasks.count == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, "task-42", tasks.taskID)
	assert.Len(t, tasks.result, 500)
	assert.Contains(t, gal.ids, id)

	st, ok := m.GetStatus(id)
	require.True(t, ok)
	assert.True(t, st.Finished)
	sessions[id].mu.Lock()
	assert.True(t, sessions[id].closed)
	sessions[id].mu.Unlock()
}

func TestSendAgentMessageResolvesNameCaseInsensitively(t *testing.T) {
	m, _ := newTestManager(t, 10)

	infos, err := m.Spawn(context.Background(), []Config{{Name: "Researcher"}}, 0)
	require.NoError(t, err)

	var delivered messagebus.Message
	m.bus.Subscribe(infos[0].ID, func(msg messagebus.Message) { delivered = msg })

	ack := m.SendAgentMessage("main", "researcher", "hello", nil)
	assert.Contains(t, ack, infos[0].ID)
	assert.Equal(t, "hello", delivered.Content)
}

func TestRequestInputMarksRefinementAndDetaches(t *testing.T) {
	m, _ := newTestManager(t, 10)
	var gotTask, gotQuestions string
	m.SetRefinementNotifier(refinementFunc(func(taskID, q string) {
		gotTask, gotQuestions = taskID, q
	}))

	infos, err := m.Spawn(context.Background(), []Config{{Name: "Worker1", TaskID: "task-7"}}, 0)
	require.NoError(t, err)
	id := infos[0].ID

	tool := m.requestInputTool(id)
	out, err := tool.Execute(context.Background(), `{"questions":"which branch should I use?"}`)
	require.NoError(t, err)
	assert.NotEmpty(t, out)

	assert.Equal(t, "task-7", gotTask)
	assert.Equal(t, "which branch should I use?", gotQuestions)

	st, ok := m.GetStatus(id)
	require.True(t, ok)
	assert.True(t, st.Finished)
}

type refinementFunc func(taskID, questions string)

func (f refinementFunc) OnRefinement(taskID, questions string) { f(taskID, questions) }

func TestWaitForAgentsReturnsOnceAllIdle(t *testing.T) {
	m, sessions := newTestManager(t, 10)
	infos, err := m.Spawn(context.Background(), []Config{{Name: "Worker1", Task: "go"}}, 0)
	require.NoError(t, err)
	id := infos[0].ID
	// The initial task is prompted from a goroutine, so streaming starts
	// shortly after Spawn returns.
	require.Eventually(t, sessions[id].IsStreaming, time.Second, 5*time.Millisecond)

	go func() {
		time.Sleep(20 * time.Millisecond)
		sessions[id].emit(AgentEvent{Type: "agent_end", Text: "done"})
	}()

	tool := m.waitForAgentsTool()
	start := time.Now()
	out, err := tool.Execute(context.Background(), `{"targets":["*"],"timeoutSeconds":5}`)
	require.NoError(t, err)
	assert.Contains(t, out, "idle")
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestSpawnAgentsToolSpawnsChildAtIncrementedDepth(t *testing.T) {
	m, _ := newTestManager(t, 10)

	infos, err := m.Spawn(context.Background(), []Config{{Name: "Lead", CanSpawn: true}}, 0)
	require.NoError(t, err)
	id := infos[0].ID

	tool := m.spawnAgentsTool(id)
	_, err = tool.Execute(context.Background(), `{"configs":[{"name":"Helper","task":"assist"}]}`)
	require.NoError(t, err)

	all := m.ListAll()
	assert.Len(t, all, 2)
	// ListAll is name-sorted, so "Helper" comes before "Lead".
	require.NotEmpty(t, all)
	assert.Equal(t, "Helper", all[0].Name)
	assert.Equal(t, 1, m.depthOf(all[0].ID))
}
