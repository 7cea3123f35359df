package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/clawbridge/internal/adapters"
	"github.com/nextlevelbuilder/clawbridge/internal/agentproc"
	"github.com/nextlevelbuilder/clawbridge/internal/sessions"
	"github.com/nextlevelbuilder/clawbridge/internal/store"
	"github.com/nextlevelbuilder/clawbridge/internal/subagents"
)

// maxMemoryToolDepth bounds memory-tool recursion within one user turn.
const maxMemoryToolDepth = 2

// typingInterval is the cadence of typing indicators while an agent runs.
const typingInterval = 4 * time.Second

// runContext carries where a prompt came from through the turn.
type runContext struct {
	Source string // "user", "cron", "memory-tool"
	JobID  string // cron only
	Model  string // per-run model override (cron jobs)
	Depth  int    // memory-tool recursion depth
}

// spawnInstructions is prepended to user-sourced prompts so the model knows
// the delegation contract.
const spawnInstructions = `[Subagent instructions]
To delegate a task to a background subagent, reply with exactly one line:
/spawn [--label <name>] [--cli <cli>] "<task>"
Any other text in the reply disables the directive.`

// processMessage runs one full agent turn on the calling lane worker.
func (b *Bridge) processMessage(chatID, userText string, rctx runContext) {
	prompt := b.assemblePrompt(chatID, userText, rctx)

	role := "user"
	if rctx.Source != "user" {
		role = "system"
	}
	b.logEntry(store.SessionLogEntry{ChatID: chatID, Role: role, Text: userText})

	cli := b.resume.ActiveCLI(chatID, b.defaultCLI)
	manifest := b.registry.Get(cli)
	if manifest == nil {
		b.send(chatID, fmt.Sprintf("❌ Unknown CLI %q. Use /use <cli> with one of: %s", cli, strings.Join(b.registry.Names(), ", ")))
		b.finishCron(rctx, fmt.Errorf("unknown cli %s", cli))
		return
	}

	model := rctx.Model
	if model == "" {
		model = b.resume.Settings(chatID).Model
	}
	// the in-memory cache wins over the durable store: /new empties it for
	// the chat while the persisted token stays on disk
	var resumeSession string
	if tok, seen := b.sess.ResumeToken(chatID, cli); seen {
		resumeSession = tok
	} else if tok, ok := b.resume.Token(chatID, cli); ok {
		resumeSession = tok.SessionID
	}

	sess := &sessions.Session{
		ChatID:       chatID,
		CLI:          cli,
		Model:        model,
		State:        sessions.StateActive,
		StartedAt:    time.Now(),
		PendingTools: make(map[string]string),
	}
	b.sess.Put(sess)

	outcome := b.runTurn(sess, manifest, prompt, resumeSession, rctx)

	b.sess.Drop(chatID)

	// memory-tool recursion happens after the turn fully ends so the session
	// store never holds two main sessions for the chat
	if outcome.memoryCall != "" && rctx.Depth < maxMemoryToolDepth {
		result, err := b.memory.Execute(chatID, outcome.memoryCall)
		if err != nil {
			result = "memory tool error: " + err.Error()
		}
		followup := fmt.Sprintf("[Memory tool result]\n%s\n\n[Original request]\n%s", result, userText)
		b.processMessage(chatID, followup, runContext{Source: "memory-tool", Depth: rctx.Depth + 1})
		return
	}

	b.drainQueue(chatID)
}

// turnOutcome is what runTurn reports back for post-turn work.
type turnOutcome struct {
	memoryCall string
}

// runTurn owns the event loop for one agent process.
func (b *Bridge) runTurn(sess *sessions.Session, manifest *adapters.Manifest, prompt, resumeSession string, rctx runContext) turnOutcome {
	chatID := sess.ChatID
	var outcome turnOutcome

	agg := newStreamAggregator(
		func() bool { return b.resume.Settings(chatID).Streaming },
		func(text string) { b.send(chatID, text) },
	)

	stopTyping := b.startTypingPump(chatID)
	typingStopped := false
	stopTypingOnce := func() {
		if !typingStopped {
			typingStopped = true
			stopTyping()
		}
	}
	defer stopTypingOnce()

	events := make(chan adapters.BridgeEvent, 64)
	exitCh := make(chan int, 1)
	proc := agentproc.New(manifest,
		func(ev adapters.BridgeEvent) { events <- ev },
		func(code int) { exitCh <- code },
	)
	sess.Terminate = proc.Terminate
	if b.memory != nil {
		if te, ok := proc.Translator().(interface {
			SetToolExecutor(adapters.ToolExecutor)
		}); ok {
			te.SetToolExecutor(memoryToolExecutor{bridge: b, chatID: chatID})
		}
	}

	if err := proc.Run(agentproc.RunOpts{
		Prompt:        prompt,
		ResumeSession: resumeSession,
		Model:         sess.Model,
		Workdir:       b.workdir,
	}); err != nil {
		// the error event and exit(1) arrive through the channels
		slog.Debug("turn spawn failed", "chat", chatID, "cli", sess.CLI, "error", err)
	}

	lastToolStatus := ""
	proxyRuns := make(map[string]string) // toolID → proxy subagent runID
	completed := false

	for {
		select {
		case ev := <-events:
			switch ev.Type {
			case adapters.EventStarted:
				sess.SessionID = ev.SessionID

			case adapters.EventText:
				agg.OnText(ev.Text)

			case adapters.EventThinking:
				// internal reasoning, never forwarded

			case adapters.EventToolStart:
				sess.PendingTools[ev.ToolID] = ev.ToolName
				if ev.ToolName == "Task" {
					// Droid's built-in subagent: surface it like our own
					if rec, err := b.subs.Spawn(subagents.SpawnOpts{
						ChatID:          chatID,
						ParentSessionID: sess.SessionID,
						CLI:             sess.CLI,
						Task:            preview(string(ev.ToolInput), 200),
						Label:           "Task",
					}); err == nil {
						b.subs.MarkRunning(rec.RunID, sess.SessionID)
						proxyRuns[ev.ToolID] = rec.RunID
					}
				} else if b.resume.Settings(chatID).Verbose {
					status := "🔧 " + ev.ToolName
					if status != lastToolStatus {
						lastToolStatus = status
						b.send(chatID, status)
					}
				}

			case adapters.EventToolEnd:
				delete(sess.PendingTools, ev.ToolID)
				if runID, ok := proxyRuns[ev.ToolID]; ok {
					delete(proxyRuns, ev.ToolID)
					if ev.IsError {
						b.subs.MarkError(runID, ev.Preview)
					} else {
						b.subs.MarkCompleted(runID, ev.Preview)
					}
					b.subs.Persist()
				} else if b.resume.Settings(chatID).Verbose {
					if ev.IsError {
						b.send(chatID, "❌ Tool failed")
					} else if ev.Preview != "" {
						b.send(chatID, preview(ev.Preview, 200))
					}
				}

			case adapters.EventCompleted:
				completed = true
				stopTypingOnce()
				outcome.memoryCall = b.handleCompleted(sess, agg, ev, rctx)

			case adapters.EventError:
				stopTypingOnce()
				b.send(chatID, "❌ "+ev.Message)
				b.finishCron(rctx, fmt.Errorf("%s", ev.Message))
			}

		case code := <-exitCh:
			stopTypingOnce()
			// drain any events emitted before exit; trailing text must reach
			// the aggregator before the completed fallback reads its buffer
			for {
				select {
				case ev := <-events:
					switch {
					case ev.Type == adapters.EventText:
						agg.OnText(ev.Text)
					case ev.Type == adapters.EventCompleted && !completed:
						completed = true
						outcome.memoryCall = b.handleCompleted(sess, agg, ev, rctx)
					}
					continue
				default:
				}
				break
			}
			if !completed {
				// unexpected death mid-turn: fail any tool-tied proxy runs
				for _, runID := range proxyRuns {
					b.subs.MarkError(runID, fmt.Sprintf("agent exited with code %d", code))
				}
				if len(proxyRuns) > 0 {
					b.subs.Persist()
				}
				if code != 0 && rctx.Source != "user" {
					b.finishCron(rctx, fmt.Errorf("agent exited with code %d", code))
				}
			}
			sess.State = sessions.StateCompleted
			return outcome
		}
	}
}

// handleCompleted applies the terminal-event contract. Returns a detected
// memory-tool call for the caller to recurse on, or "".
func (b *Bridge) handleCompleted(sess *sessions.Session, agg *streamAggregator, ev adapters.BridgeEvent, rctx runContext) string {
	chatID := sess.ChatID
	answer := ev.Answer
	if answer == "" {
		answer = agg.Buffer()
	}

	if ev.SessionID != "" {
		sess.SessionID = ev.SessionID
		b.sess.SetResumeToken(chatID, sess.CLI, ev.SessionID)
		b.resume.SetToken(chatID, sess.CLI, ev.SessionID)
	}

	// assistant-initiated delegation consumes the whole reply
	if args, ok := DetectAssistantSpawn(answer); ok {
		if args.CLI == "" {
			args.CLI = sess.CLI
		}
		b.logEntry(store.SessionLogEntry{ChatID: chatID, Role: "assistant", Text: answer, SessionID: sess.SessionID, CLI: sess.CLI})
		b.SpawnSubagent(chatID, args, sess.Model)
		b.finishCron(rctx, nil)
		return ""
	}

	if b.memory != nil && rctx.Depth < maxMemoryToolDepth {
		if call, ok := b.memory.DetectCall(answer); ok {
			return call
		}
	}

	b.logEntry(store.SessionLogEntry{ChatID: chatID, Role: "assistant", Text: answer, SessionID: sess.SessionID, CLI: sess.CLI})

	text, files := agg.Finalize(answer)
	for _, f := range files {
		b.sendFile(chatID, f.Path, f.Caption)
	}
	for _, chunk := range SplitMessage(text, MaxChunk) {
		b.send(chatID, chunk)
	}
	if ev.CostUSD != nil {
		b.send(chatID, fmt.Sprintf("💰 Cost: $%.4f", *ev.CostUSD))
	}
	if ev.IsError {
		b.finishCron(rctx, fmt.Errorf("turn completed with error"))
	} else {
		b.finishCron(rctx, nil)
	}
	return ""
}

// assemblePrompt applies the prefix contract, outermost first, blank-line
// separated.
func (b *Bridge) assemblePrompt(chatID, userText string, rctx runContext) string {
	var parts []string

	if rctx.Source == "user" {
		parts = append(parts, spawnInstructions)
	}
	if b.memory != nil {
		if recall := b.memory.Recall(chatID); recall != "" {
			parts = append(parts, recall)
		}
		if rctx.Source != "memory-tool" {
			if instr := b.memory.Instructions(); instr != "" {
				parts = append(parts, instr)
			}
		}
	}

	parentSession := ""
	cli := b.resume.ActiveCLI(chatID, b.defaultCLI)
	if tok, ok := b.resume.Token(chatID, cli); ok {
		parentSession = tok.SessionID
	}
	pending := b.subs.GetPendingResults(chatID, parentSession)
	if len(pending) > 0 {
		parts = append(parts, formatPendingResults(pending))
		ids := make([]string, len(pending))
		for i, rec := range pending {
			ids[i] = rec.RunID
		}
		b.subs.MarkResultsInjected(ids)
		b.subs.Persist()
	}

	parts = append(parts, userText)

	if b.concepts != nil {
		if related := b.concepts.RelatedFiles(userText); related != "" {
			parts = append(parts, related)
		}
	}
	return strings.Join(parts, "\n\n")
}

// startTypingPump sends a typing indicator every 4 seconds until stopped.
func (b *Bridge) startTypingPump(chatID string) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(typingInterval)
		defer ticker.Stop()
		b.typing(chatID)
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				b.typing(chatID)
			}
		}
	}()
	return func() { close(done) }
}

func (b *Bridge) typing(chatID string) {
	if err := b.sink.Typing(context.Background(), chatID); err != nil {
		slog.Debug("typing indicator failed", "chat", chatID, "error", err)
	}
}

// finishCron marks the cron job terminal when the turn came from one.
func (b *Bridge) finishCron(rctx runContext, runErr error) {
	if rctx.Source != "cron" || rctx.JobID == "" || b.cron == nil {
		return
	}
	b.cron.MarkJobResult(rctx.JobID, runErr)
}

func (b *Bridge) logEntry(e store.SessionLogEntry) {
	if b.sessionLog == nil {
		return
	}
	if err := b.sessionLog.Append(e); err != nil {
		slog.Warn("session log append failed", "chat", e.ChatID, "error", err)
	}
}

// memoryToolExecutor adapts the bridge's memory collaborator to the
// in-loop tool protocol.
type memoryToolExecutor struct {
	bridge *Bridge
	chatID string
}

func (m memoryToolExecutor) Execute(name string, input json.RawMessage) (string, error) {
	if m.bridge.memory == nil {
		return "", fmt.Errorf("no memory backend")
	}
	return m.bridge.memory.Execute(m.chatID, name+" "+string(input))
}
