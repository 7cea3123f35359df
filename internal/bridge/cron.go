package bridge

import (
	"fmt"
	"strings"
	"time"

	"github.com/nextlevelbuilder/clawbridge/internal/adapters"
	"github.com/nextlevelbuilder/clawbridge/internal/agentproc"
	"github.com/nextlevelbuilder/clawbridge/internal/cron"
	"github.com/nextlevelbuilder/clawbridge/internal/scheduler"
)

// CronHandlers builds the handler set wired into the cron service. Due jobs
// join the primary chat's main lane like a user message; isolated jobs get
// a fresh session on the cron lane.
func (b *Bridge) CronHandlers() cron.Handlers {
	return cron.Handlers{
		OnDue: func(job cron.Job) {
			chatID := b.PrimaryChat()
			if chatID == "" {
				// right after a restart no chat has talked yet; hold the
				// job for the first user interaction instead of dropping it
				b.cron.Park(job)
				return
			}
			b.sched.Enqueue(scheduler.LaneMain, func() {
				b.processMessage(chatID, job.Message, runContext{Source: "cron", JobID: job.ID, Model: job.Model})
			})
		},
		OnIsolated: func(job cron.Job, rec cron.RunRecord) {
			b.sched.Enqueue(scheduler.LaneCron, func() {
				b.runIsolatedJob(job, rec)
			})
		},
	}
}

// runIsolatedJob runs a cron job in a clean session: no resume token, no
// chat output beyond the optional delivery target, full run-record history.
func (b *Bridge) runIsolatedJob(job cron.Job, rec cron.RunRecord) {
	cli := b.defaultCLI
	manifest := b.registry.Get(cli)
	if manifest == nil {
		b.cron.CompleteIsolatedRun(rec, "", fmt.Errorf("unknown cli %s", cli))
		return
	}

	events := make(chan adapters.BridgeEvent, 64)
	exitCh := make(chan int, 1)
	proc := agentproc.New(manifest,
		func(ev adapters.BridgeEvent) { events <- ev },
		func(code int) { exitCh <- code },
	)

	if err := proc.Run(agentproc.RunOpts{Prompt: job.Message, Model: job.Model, Workdir: b.workdir}); err != nil {
		// terminal outcome arrives via exitCh
		_ = err
	}

	var answer string
	var runErr error
	done := false
	for !done {
		select {
		case ev := <-events:
			switch ev.Type {
			case adapters.EventText:
				answer = accumulate(answer, ev.Text)
			case adapters.EventCompleted:
				if ev.Answer != "" {
					answer = ev.Answer
				}
				if ev.IsError {
					runErr = fmt.Errorf("turn completed with error")
				}
			case adapters.EventError:
				runErr = fmt.Errorf("%s", ev.Message)
			}
		case code := <-exitCh:
			if runErr == nil && code != 0 {
				runErr = fmt.Errorf("agent exited with code %d", code)
			}
			done = true
		}
	}

	b.cron.CompleteIsolatedRun(rec, TruncateMiddle(answer, 500), runErr)

	if job.Delivery != "" && runErr == nil && answer != "" {
		b.send(job.Delivery, answer)
	}
}

// handleCronCmd executes the /cron sub-verbs.
func (b *Bridge) handleCronCmd(chatID string, cmd Command) {
	if b.cron == nil {
		b.send(chatID, "❌ Cron is not enabled")
		return
	}

	switch cmd.Sub {
	case "", "list":
		jobs := b.cron.List()
		if len(jobs) == 0 {
			b.send(chatID, "No cron jobs")
			return
		}
		var bld strings.Builder
		for _, j := range jobs {
			state := "enabled"
			if !j.Enabled {
				state = "disabled"
			}
			fmt.Fprintf(&bld, "%s  %s  %s  [%s]", j.ID[:8], j.Name, cron.FormatSchedule(j.Schedule), state)
			if j.NextRunAtMs != nil {
				fmt.Fprintf(&bld, "  next %s", time.UnixMilli(*j.NextRunAtMs).Format("2006-01-02 15:04"))
			}
			if j.LastStatus != "" {
				fmt.Fprintf(&bld, "  last %s", j.LastStatus)
			}
			bld.WriteByte('\n')
		}
		b.send(chatID, strings.TrimRight(bld.String(), "\n"))

	case "add":
		name, sched, message, err := parseCronAdd(cmd.Arg)
		if err != nil {
			b.send(chatID, "❌ "+err.Error()+"\n"+cronUsage)
			return
		}
		job, err := b.cron.Add(name, sched, message, cron.AddOpts{})
		if err != nil {
			b.send(chatID, "❌ "+err.Error())
			return
		}
		b.send(chatID, fmt.Sprintf("⏰ Added %s (%s), next run %s",
			job.Name, cron.FormatSchedule(job.Schedule), formatNextRun(job)))

	case "remove":
		if len(cmd.Args) != 1 {
			b.send(chatID, cronUsage)
			return
		}
		id := b.resolveCronID(cmd.Args[0])
		if ok, err := b.cron.Remove(id); err != nil {
			b.send(chatID, "❌ "+err.Error())
		} else if !ok {
			b.send(chatID, "❌ No cron job "+cmd.Args[0])
		} else {
			b.send(chatID, "Removed")
		}

	case "run":
		if len(cmd.Args) != 1 {
			b.send(chatID, cronUsage)
			return
		}
		if err := b.cron.RunNow(b.resolveCronID(cmd.Args[0])); err != nil {
			b.send(chatID, "❌ "+err.Error())
		} else {
			b.send(chatID, "Running now")
		}

	case "enable", "disable":
		if len(cmd.Args) != 1 {
			b.send(chatID, cronUsage)
			return
		}
		enable := cmd.Sub == "enable"
		if ok, err := b.cron.SetEnabled(b.resolveCronID(cmd.Args[0]), enable); err != nil {
			b.send(chatID, "❌ "+err.Error())
		} else if !ok {
			b.send(chatID, "❌ No cron job "+cmd.Args[0])
		} else if enable {
			b.send(chatID, "Enabled")
		} else {
			b.send(chatID, "Disabled")
		}

	default:
		b.send(chatID, cronUsage)
	}
}

// resolveCronID accepts a full id or a unique prefix.
func (b *Bridge) resolveCronID(arg string) string {
	for _, j := range b.cron.List() {
		if j.ID == arg || strings.HasPrefix(j.ID, arg) {
			return j.ID
		}
	}
	return arg
}

func formatNextRun(job *cron.Job) string {
	if job.NextRunAtMs == nil {
		return "never"
	}
	return time.UnixMilli(*job.NextRunAtMs).Format("2006-01-02 15:04:05")
}

// parseCronAdd splits `add "<name>" <schedule> <message>` where schedule is
// one of the three forms understood by ParseScheduleArg.
func parseCronAdd(arg string) (name, sched, message string, err error) {
	arg = strings.TrimSpace(arg)
	if !strings.HasPrefix(arg, `"`) {
		return "", "", "", fmt.Errorf(`job name must be quoted`)
	}
	end := strings.Index(arg[1:], `"`)
	if end < 0 {
		return "", "", "", fmt.Errorf("unterminated job name")
	}
	name = arg[1 : 1+end]
	rest := strings.TrimSpace(arg[2+end:])

	switch {
	case strings.HasPrefix(rest, "at "):
		fields := strings.SplitN(rest, " ", 3)
		if len(fields) < 3 {
			return "", "", "", fmt.Errorf("at-schedule needs a time and a message")
		}
		return name, fields[0] + " " + fields[1], strings.TrimSpace(fields[2]), nil
	case strings.HasPrefix(rest, "every "):
		fields := strings.SplitN(rest, " ", 3)
		if len(fields) < 3 {
			return "", "", "", fmt.Errorf("every-schedule needs an interval and a message")
		}
		return name, fields[0] + " " + fields[1], strings.TrimSpace(fields[2]), nil
	case strings.HasPrefix(rest, `cron "`):
		end := strings.Index(rest[6:], `"`)
		if end < 0 {
			return "", "", "", fmt.Errorf("unterminated cron expression")
		}
		return name, rest[:7+end], strings.TrimSpace(rest[7+end:]), nil
	}
	return "", "", "", fmt.Errorf("unrecognized schedule")
}
