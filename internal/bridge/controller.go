package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/nextlevelbuilder/clawbridge/internal/adapters"
	"github.com/nextlevelbuilder/clawbridge/internal/bus"
	"github.com/nextlevelbuilder/clawbridge/internal/cron"
	"github.com/nextlevelbuilder/clawbridge/internal/scheduler"
	"github.com/nextlevelbuilder/clawbridge/internal/sessions"
	"github.com/nextlevelbuilder/clawbridge/internal/store"
	"github.com/nextlevelbuilder/clawbridge/internal/subagents"
)

// Memory is the optional recall collaborator. All methods are best-effort;
// the bridge degrades gracefully without one.
type Memory interface {
	Recall(chatID string) string
	Instructions() string
	DetectCall(answer string) (string, bool)
	Execute(chatID, call string) (string, error)
	FlushSummary(chatID string, entries []store.SessionLogEntry) error
}

// Concepts is the external workspace-index collaborator behind /concepts,
// /related, /file and /aliases, plus related-files prompt context.
type Concepts interface {
	Concepts(term string) string
	Related(term string) string
	File(path string) string
	Aliases(arg string) string
	RelatedFiles(prompt string) string
}

// Options wires the bridge's collaborators.
type Options struct {
	Registry   *adapters.Registry
	Resume     *store.ResumeStore
	SessionLog *store.SessionLog
	Sessions   *sessions.Store
	Subagents  *subagents.Registry
	Scheduler  *scheduler.Scheduler
	Cron       *cron.Service
	Sink       bus.Sink
	Memory     Memory   // optional
	Concepts   Concepts // optional

	DefaultCLI      string
	AdapterFallback string // reroute target when a droid spawn has no droid binary
	Workdir         string
}

// Bridge is the session controller.
type Bridge struct {
	registry   *adapters.Registry
	resume     *store.ResumeStore
	sessionLog *store.SessionLog
	sess       *sessions.Store
	subs       *subagents.Registry
	sched      *scheduler.Scheduler
	cron       *cron.Service
	sink       bus.Sink
	memory     Memory
	concepts   Concepts

	defaultCLI      string
	adapterFallback string
	workdir         string

	mu          sync.Mutex
	primaryChat string
	closed      bool
}

func New(opts Options) *Bridge {
	if opts.DefaultCLI == "" {
		opts.DefaultCLI = "claude"
	}
	return &Bridge{
		registry:        opts.Registry,
		resume:          opts.Resume,
		sessionLog:      opts.SessionLog,
		sess:            opts.Sessions,
		subs:            opts.Subagents,
		sched:           opts.Scheduler,
		cron:            opts.Cron,
		sink:            opts.Sink,
		memory:          opts.Memory,
		concepts:        opts.Concepts,
		defaultCLI:      opts.DefaultCLI,
		adapterFallback: opts.AdapterFallback,
		workdir:         opts.Workdir,
	}
}

// PrimaryChat is the chat cron jobs and MCP spawns target: the first chat
// that ever talked to the gateway in this process.
func (b *Bridge) PrimaryChat() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.primaryChat
}

// Close terminates all live sessions. Queue contents are dropped.
func (b *Bridge) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	for _, s := range b.sess.All() {
		if s.Terminate != nil {
			s.Terminate()
		}
	}
}

// HandleInbound routes one inbound message: command dispatch, spawn
// detection, queue-or-process. Safe to call from any goroutine.
func (b *Bridge) HandleInbound(msg bus.InboundMessage) {
	chatID := msg.ChatID
	prompt := buildPromptText(msg)

	b.mu.Lock()
	if b.primaryChat == "" {
		b.primaryChat = chatID
	}
	b.mu.Unlock()

	rctx := runContext{Source: "user"}
	if msg.IsCron() {
		rctx = runContext{Source: "cron", JobID: msg.CronJobID()}
	} else {
		// user interaction wakes any parked heartbeat jobs
		b.triggerHeartbeat(chatID)
	}

	if rctx.Source == "user" {
		if cmd, ok := ParseCommand(msg.Text); ok {
			b.executeCommand(chatID, cmd)
			return
		}
		if task, ok := DetectNaturalSpawn(msg.Text); ok {
			b.SpawnSubagent(chatID, SpawnArgs{Task: task, Label: firstWords(task, 4)}, "")
			return
		}
	}

	b.enqueueOrProcess(chatID, prompt, rctx)
}

// enqueueOrProcess applies the busy check and the bounded per-chat queue.
func (b *Bridge) enqueueOrProcess(chatID, prompt string, rctx runContext) {
	if b.sess.Busy(chatID) {
		if !b.sess.Enqueue(chatID, sessions.QueuedMessage{Prompt: prompt, Source: rctx.Source, JobID: rctx.JobID}) {
			b.send(chatID, fmt.Sprintf("Queue full (%d pending), message dropped.", sessions.QueueBound))
			return
		}
		b.send(chatID, fmt.Sprintf("Queued (%d pending)", b.sess.QueueLen(chatID)))
		return
	}
	b.sched.Enqueue(scheduler.LaneMain, func() {
		b.processMessage(chatID, prompt, rctx)
	})
}

// buildPromptText annotates attachments and forwards into the prompt.
func buildPromptText(msg bus.InboundMessage) string {
	var lines []string
	for _, att := range msg.Media {
		path := att.LocalPath
		if path == "" {
			path = att.FileID
		}
		switch att.Type {
		case "photo":
			lines = append(lines, "[Image: "+path+"]")
		case "document":
			lines = append(lines, "[File: "+path+"]")
		case "audio":
			lines = append(lines, "[Audio: "+path+"]")
		case "voice":
			lines = append(lines, "[Voice: "+path+"]")
		}
	}
	if msg.Forward != nil {
		who := msg.Forward.FromUser
		if who == "" {
			who = msg.Forward.FromChat
		}
		lines = append(lines, "[Forwarded message from "+who+"]")
	}
	lines = append(lines, msg.Text)
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// executeCommand runs one parsed slash command.
func (b *Bridge) executeCommand(chatID string, cmd Command) {
	switch cmd.Kind {
	case CmdUse:
		cli := strings.TrimSpace(cmd.Arg)
		if b.registry.Get(cli) == nil {
			b.send(chatID, fmt.Sprintf("❌ Unknown CLI %q. Available: %s", cli, strings.Join(b.registry.Names(), ", ")))
			return
		}
		b.resume.SetActiveCLI(chatID, cli)
		b.send(chatID, "Active CLI set to "+cli)

	case CmdModel:
		alias := strings.TrimSpace(cmd.Arg)
		if alias == "" {
			b.send(chatID, "Usage: /model <alias>. Known: "+strings.Join(adapters.KnownModelAliases(), ", "))
			return
		}
		b.resume.UpdateSettings(chatID, func(cs *store.ChatSettings) { cs.Model = alias })
		b.send(chatID, fmt.Sprintf("Model set to %s (%s)", alias, adapters.ResolveModelAlias(alias)))

	case CmdStream:
		cur := b.resume.UpdateSettings(chatID, func(cs *store.ChatSettings) {
			cs.Streaming = toggle(cmd.Arg, cs.Streaming)
		})
		b.send(chatID, "Streaming "+onOff(cur.Streaming))

	case CmdVerbose:
		cur := b.resume.UpdateSettings(chatID, func(cs *store.ChatSettings) {
			cs.Verbose = toggle(cmd.Arg, cs.Verbose)
		})
		b.send(chatID, "Verbose "+onOff(cur.Verbose))

	case CmdNew:
		b.handleNew(chatID)

	case CmdStop:
		b.handleStop(chatID)

	case CmdInterrupt:
		b.handleInterrupt(chatID)

	case CmdRestart:
		b.send(chatID, "Restarting in 500ms…")
		time.AfterFunc(500*time.Millisecond, func() {
			syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
		})

	case CmdStatus:
		b.send(chatID, b.statusText(chatID))

	case CmdSpawn:
		args, err := ParseSpawnArgs(cmd.Arg)
		if err != nil {
			b.send(chatID, "❌ "+err.Error())
			return
		}
		b.SpawnSubagent(chatID, args, "")

	case CmdSubagents:
		b.handleSubagentsCmd(chatID, cmd)

	case CmdCron:
		b.handleCronCmd(chatID, cmd)

	case CmdConcepts, CmdRelated, CmdFile, CmdAliases:
		b.handleConceptsCmd(chatID, cmd)
	}
}

func (b *Bridge) handleNew(chatID string) {
	// best-effort memory flush of today's conversation
	if b.memory != nil && b.sessionLog != nil {
		if entries, err := b.sessionLog.ReadDay(time.Now()); err == nil && len(entries) > 0 {
			if err := b.memory.FlushSummary(chatID, entries); err != nil {
				slog.Warn("memory flush failed", "chat", chatID, "error", err)
			}
		}
	}
	if s := b.sess.Drop(chatID); s != nil && s.Terminate != nil {
		s.Terminate()
	}
	// persisted tokens stay; clearing the cache makes the next turn start
	// without a resume flag
	b.sess.ClearResume(chatID)
	b.send(chatID, "Starting fresh")
}

func (b *Bridge) handleStop(chatID string) {
	stopped := 0
	if s := b.sess.Get(chatID); s != nil && s.Terminate != nil {
		s.Terminate()
		stopped++
	}
	stopped += b.subs.StopAll(chatID)
	b.subs.Persist()
	b.send(chatID, fmt.Sprintf("🛑 Stopped %d task(s)", stopped))
}

func (b *Bridge) handleInterrupt(chatID string) {
	if s := b.sess.Get(chatID); s != nil && s.Terminate != nil {
		s.Terminate()
		b.send(chatID, "__INTERRUPT__: current task terminated, continuing with queue")
	} else {
		b.send(chatID, "Nothing to interrupt")
	}
	// the exit handler of the terminated session drains the queue; when no
	// session was live, flush here
	if !b.sess.Busy(chatID) {
		b.drainQueue(chatID)
	}
}

func (b *Bridge) statusText(chatID string) string {
	settings := b.resume.Settings(chatID)
	cli := b.resume.ActiveCLI(chatID, b.defaultCLI)
	var bld strings.Builder
	fmt.Fprintf(&bld, "CLI: %s\n", cli)
	if settings.Model != "" {
		fmt.Fprintf(&bld, "Model: %s\n", settings.Model)
	}
	fmt.Fprintf(&bld, "Streaming: %s, Verbose: %s\n", onOff(settings.Streaming), onOff(settings.Verbose))
	if tok, ok := b.resume.Token(chatID, cli); ok {
		fmt.Fprintf(&bld, "Resume: %s\n", tok.SessionID)
	}
	if b.sess.Busy(chatID) {
		bld.WriteString("Main session: running\n")
	} else {
		bld.WriteString("Main session: idle\n")
	}
	fmt.Fprintf(&bld, "Queued: %d\n", b.sess.QueueLen(chatID))
	fmt.Fprintf(&bld, "Active subagents: %d\n", len(b.subs.ListActive(chatID)))
	fmt.Fprintf(&bld, "Adapters: %s", strings.Join(b.registry.Names(), ", "))
	return bld.String()
}

func (b *Bridge) handleSubagentsCmd(chatID string, cmd Command) {
	switch cmd.Sub {
	case "", "list":
		recs := b.subs.ListByChat(chatID)
		if len(recs) == 0 {
			b.send(chatID, "No subagents")
			return
		}
		var bld strings.Builder
		for _, rec := range recs {
			label := rec.Label
			if label == "" {
				label = rec.RunID[:8]
			}
			fmt.Fprintf(&bld, "%s %s [%s] %s\n", statusIcon(rec.Status), label, rec.Status, rec.RunID[:8])
		}
		b.send(chatID, strings.TrimRight(bld.String(), "\n"))

	case "stop":
		if len(cmd.Args) == 1 && cmd.Args[0] == "all" {
			n := b.subs.StopAll(chatID)
			b.subs.Persist()
			b.send(chatID, fmt.Sprintf("🛑 Stopped %d subagent(s)", n))
			return
		}
		if len(cmd.Args) != 1 {
			b.send(chatID, subagentsUsage)
			return
		}
		if rec := b.findSubagent(chatID, cmd.Args[0]); rec != nil && b.subs.Stop(rec.RunID) {
			b.subs.Persist()
			b.send(chatID, "🛑 Stopped "+rec.RunID[:8])
		} else {
			b.send(chatID, "❌ No stoppable subagent "+cmd.Args[0])
		}

	case "log":
		if len(cmd.Args) != 1 {
			b.send(chatID, subagentsUsage)
			return
		}
		rec := b.findSubagent(chatID, cmd.Args[0])
		if rec == nil {
			b.send(chatID, "❌ No subagent "+cmd.Args[0])
			return
		}
		b.send(chatID, formatCompletion(rec))

	default:
		b.send(chatID, subagentsUsage)
	}
}

// findSubagent resolves a full or prefix run id within a chat.
func (b *Bridge) findSubagent(chatID, id string) *subagents.Record {
	for _, rec := range b.subs.ListByChat(chatID) {
		if rec.RunID == id || strings.HasPrefix(rec.RunID, id) {
			return rec
		}
	}
	return nil
}

func (b *Bridge) handleConceptsCmd(chatID string, cmd Command) {
	if b.concepts == nil {
		b.send(chatID, "❌ Concept index is not configured")
		return
	}
	var out string
	switch cmd.Kind {
	case CmdConcepts:
		out = b.concepts.Concepts(cmd.Arg)
	case CmdRelated:
		out = b.concepts.Related(cmd.Arg)
	case CmdFile:
		out = b.concepts.File(cmd.Arg)
	case CmdAliases:
		out = b.concepts.Aliases(cmd.Arg)
	}
	if out == "" {
		out = "(no matches)"
	}
	b.send(chatID, out)
}

// triggerHeartbeat runs any cron jobs parked for the next user interaction.
func (b *Bridge) triggerHeartbeat(chatID string) {
	if b.cron == nil {
		return
	}
	for _, job := range b.cron.TakeHeartbeatJobs() {
		job := job
		b.sched.Enqueue(scheduler.LaneMain, func() {
			b.processMessage(chatID, job.Message, runContext{Source: "cron", JobID: job.ID, Model: job.Model})
		})
	}
}

// drainQueue pulls the next queued message onto the main lane.
func (b *Bridge) drainQueue(chatID string) {
	msg, ok := b.sess.Dequeue(chatID)
	if !ok {
		return
	}
	b.sched.Enqueue(scheduler.LaneMain, func() {
		b.processMessage(chatID, msg.Prompt, runContext{Source: sourceOrUser(msg.Source), JobID: msg.JobID})
	})
}

func sourceOrUser(s string) string {
	if s == "" {
		return "user"
	}
	return s
}

// SendMessage delivers text to a chat on behalf of an external caller (the
// MCP server). Empty chatID targets the primary chat.
func (b *Bridge) SendMessage(chatID, text string) {
	if chatID == "" {
		chatID = b.PrimaryChat()
	}
	if chatID == "" {
		return
	}
	b.send(chatID, text)
}

// send delivers text to the transport. Transport failures are logged with a
// preview and swallowed.
func (b *Bridge) send(chatID, text string) {
	if err := b.sink.Send(context.Background(), chatID, text); err != nil {
		slog.Warn("send failed", "chat", chatID, "error", err, "preview", preview(text, 1000))
	}
}

func (b *Bridge) sendFile(chatID, path, caption string) {
	if err := b.sink.SendFile(context.Background(), chatID, path, caption); err != nil {
		slog.Warn("send file failed", "chat", chatID, "path", path, "error", err)
	}
}

func preview(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func toggle(arg string, cur bool) bool {
	switch strings.TrimSpace(strings.ToLower(arg)) {
	case "on":
		return true
	case "off":
		return false
	default:
		return !cur
	}
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
