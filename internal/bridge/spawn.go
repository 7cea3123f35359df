package bridge

import (
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/clawbridge/internal/adapters"
	"github.com/nextlevelbuilder/clawbridge/internal/agentproc"
	"github.com/nextlevelbuilder/clawbridge/internal/scheduler"
	"github.com/nextlevelbuilder/clawbridge/internal/store"
	"github.com/nextlevelbuilder/clawbridge/internal/subagents"
)

// SpawnSubagent registers a background run and fires it on the subagent
// lane. model overrides the run's model (empty uses chat settings). The
// caller's main session is never blocked.
func (b *Bridge) SpawnSubagent(chatID string, args SpawnArgs, model string) {
	if args.Label == "" {
		args.Label = firstWords(args.Task, 4)
	}
	cli := args.CLI
	if cli == "" {
		cli = b.resume.ActiveCLI(chatID, b.defaultCLI)
	}

	fallbackFrom := ""
	if b.registry.Get(cli) == nil && cli == "droid" && b.adapterFallback != "" {
		fallbackFrom = cli
		cli = b.adapterFallback
	}
	if b.registry.Get(cli) == nil {
		b.send(chatID, fmt.Sprintf("❌ Unknown CLI %q for subagent", cli))
		return
	}

	parentSession := ""
	if tok, ok := b.resume.Token(chatID, cli); ok {
		parentSession = tok.SessionID
	}

	rec, err := b.subs.Spawn(subagents.SpawnOpts{
		ChatID:          chatID,
		ParentSessionID: parentSession,
		CLI:             cli,
		Task:            args.Task,
		Label:           args.Label,
	})
	if err != nil {
		b.send(chatID, "❌ "+err.Error())
		return
	}
	b.subs.Persist()
	b.send(chatID, formatSpawnAck(rec.Label, cli, fallbackFrom, args.Task))

	if model == "" {
		model = b.resume.Settings(chatID).Model
	}

	b.sched.Enqueue(scheduler.LaneSubagent, func() {
		b.runSubagent(rec.RunID, chatID, cli, model, args.Task)
	})
}

// runSubagent is the subagent lane task: a fresh agent process, no resume
// token, text accumulated silently, terminal announcement at the end.
func (b *Bridge) runSubagent(runID, chatID, cli, model, task string) {
	manifest := b.registry.Get(cli)
	if manifest == nil {
		b.subs.MarkError(runID, "adapter vanished before start")
		b.subs.Persist()
		return
	}

	events := make(chan adapters.BridgeEvent, 64)
	exitCh := make(chan int, 1)
	proc := agentproc.New(manifest,
		func(ev adapters.BridgeEvent) { events <- ev },
		func(code int) { exitCh <- code },
	)

	if err := proc.Run(agentproc.RunOpts{Prompt: task, Model: model, Workdir: b.workdir}); err != nil {
		slog.Debug("subagent spawn failed", "run", runID, "error", err)
	}

	lastText := ""
	terminal := false
	for {
		select {
		case ev := <-events:
			switch ev.Type {
			case adapters.EventStarted:
				b.subs.MarkRunning(runID, ev.SessionID)
				if rec := b.subs.Get(runID); rec != nil {
					if rec.Status == subagents.StatusStopped {
						// stopped while queued; kill the child now
						proc.Terminate()
					} else {
						b.send(chatID, formatStarted(rec.Label))
					}
				}

			case adapters.EventText:
				lastText = accumulate(lastText, ev.Text)

			case adapters.EventCompleted:
				answer := ev.Answer
				if answer == "" {
					answer = lastText
				}
				b.subs.MarkCompleted(runID, answer)
				terminal = true

			case adapters.EventError:
				b.subs.MarkError(runID, ev.Message)
				terminal = true
			}

		case code := <-exitCh:
			if !terminal {
				b.subs.MarkError(runID, fmt.Sprintf("agent exited with code %d", code))
			}
			b.announceSubagent(runID, chatID)
			b.subs.Prune(chatID, subagents.DefaultKeepLast)
			b.subs.PruneExpired(subagents.DefaultTTL)
			b.subs.Persist()
			return
		}
	}
}

// announceSubagent emits the terminal announcement and logs the result.
func (b *Bridge) announceSubagent(runID, chatID string) {
	rec := b.subs.Get(runID)
	if rec == nil {
		return
	}
	b.send(chatID, formatCompletion(rec))
	b.logEntry(store.SessionLogEntry{
		ChatID:    chatID,
		Role:      "assistant",
		Text:      rec.Result,
		SessionID: rec.ChildSessionID,
		CLI:       rec.CLI,
		Meta:      &store.LogMeta{Subagent: &store.SubagentMeta{RunID: rec.RunID, Label: rec.Label, Status: rec.Status}},
	})
}

// accumulate applies the snapshot-or-incremental merge used for subagent
// text tracking.
func accumulate(buf, text string) string {
	switch {
	case text == buf:
		return buf
	case len(text) > len(buf) && text[:len(buf)] == buf:
		return text
	case len(buf) >= len(text) && buf[:len(text)] == text:
		return buf
	default:
		return buf + text
	}
}
