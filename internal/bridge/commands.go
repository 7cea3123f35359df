package bridge

import (
	"fmt"
	"strings"
)

// Command kinds produced by ParseCommand.
const (
	CmdUse       = "use"
	CmdModel     = "model"
	CmdNew       = "new"
	CmdStop      = "stop"
	CmdInterrupt = "interrupt"
	CmdRestart   = "restart"
	CmdStatus    = "status"
	CmdStream    = "stream"
	CmdVerbose   = "verbose"
	CmdSpawn     = "spawn"
	CmdSubagents = "subagents"
	CmdCron      = "cron"
	CmdConcepts  = "concepts"
	CmdRelated   = "related"
	CmdFile      = "file"
	CmdAliases   = "aliases"
)

// Command is a parsed slash command.
type Command struct {
	Kind string
	Arg  string   // raw remainder after the command word
	Sub  string   // sub-verb for cron/subagents
	Args []string // tokens after the sub-verb
}

// ParseCommand turns a message into a typed command. Returns false for
// anything that is not a recognized slash command, which then falls through
// to the model.
func ParseCommand(text string) (Command, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return Command{}, false
	}

	word, rest, _ := strings.Cut(text[1:], " ")
	// strip a bot-mention suffix (/status@mybot)
	if at := strings.IndexByte(word, '@'); at >= 0 {
		word = word[:at]
	}
	rest = strings.TrimSpace(rest)

	switch word {
	case CmdUse, CmdModel, CmdConcepts, CmdRelated, CmdFile, CmdAliases,
		CmdStream, CmdVerbose, CmdSpawn:
		return Command{Kind: word, Arg: rest}, true
	case CmdNew, CmdStop, CmdInterrupt, CmdRestart, CmdStatus:
		return Command{Kind: word, Arg: rest}, true
	case CmdSubagents, CmdCron:
		sub, args, _ := strings.Cut(rest, " ")
		cmd := Command{Kind: word, Arg: rest, Sub: sub}
		if args = strings.TrimSpace(args); args != "" {
			cmd.Args = strings.Fields(args)
		}
		return cmd, true
	}
	return Command{}, false
}

// SpawnArgs are the parsed parameters of a /spawn invocation.
type SpawnArgs struct {
	Task  string
	Label string
	CLI   string
}

// ParseSpawnArgs parses `/spawn [--label L] [--cli C] "task"` (or an
// unquoted task trailing the flags).
func ParseSpawnArgs(arg string) (SpawnArgs, error) {
	var out SpawnArgs
	tokens := tokenize(arg)
	i := 0
	for i < len(tokens) {
		switch tokens[i] {
		case "--label":
			if i+1 >= len(tokens) {
				return out, fmt.Errorf("--label needs a value")
			}
			out.Label = tokens[i+1]
			i += 2
		case "--cli":
			if i+1 >= len(tokens) {
				return out, fmt.Errorf("--cli needs a value")
			}
			out.CLI = tokens[i+1]
			i += 2
		default:
			out.Task = strings.Join(tokens[i:], " ")
			i = len(tokens)
		}
	}
	if out.Task == "" {
		return out, fmt.Errorf("spawn needs a task: /spawn [--label L] [--cli C] \"task\"")
	}
	if out.Label == "" {
		out.Label = firstWords(out.Task, 4)
	}
	return out, nil
}

// tokenize splits on spaces, honoring double quotes.
func tokenize(s string) []string {
	var tokens []string
	var cur strings.Builder
	inQuote := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			inQuote = !inQuote
		case c == ' ' && !inQuote:
			if cur.Len() > 0 {
				tokens = append(tokens, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens
}

func firstWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) > n {
		fields = fields[:n]
	}
	return strings.Join(fields, " ")
}

// naturalSpawnPrefixes match conversational spawn requests that skip the
// slash syntax.
var naturalSpawnPrefixes = []string{
	"spawn a subagent to ",
	"spawn a sub-agent to ",
	"spawn subagent to ",
	"start a subagent to ",
	"launch a subagent to ",
}

// DetectNaturalSpawn recognizes phrases like "spawn a subagent to review the
// diff" and returns the task portion.
func DetectNaturalSpawn(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, p := range naturalSpawnPrefixes {
		if strings.HasPrefix(lower, p) {
			task := strings.TrimSpace(text[len(p):])
			if task != "" {
				return task, true
			}
		}
	}
	return "", false
}

// DetectAssistantSpawn applies the strict assistant-initiated /spawn rule:
// the whole answer must be exactly one line starting with /spawn. Anything
// else disqualifies the directive.
func DetectAssistantSpawn(answer string) (SpawnArgs, bool) {
	trimmed := strings.TrimSpace(answer)
	if !strings.HasPrefix(trimmed, "/spawn") {
		return SpawnArgs{}, false
	}
	if strings.ContainsRune(trimmed, '\n') {
		return SpawnArgs{}, false
	}
	args, err := ParseSpawnArgs(strings.TrimSpace(strings.TrimPrefix(trimmed, "/spawn")))
	if err != nil {
		return SpawnArgs{}, false
	}
	return args, true
}

// cronUsage and subagentsUsage are returned for unknown sub-verbs.
const (
	cronUsage      = `Usage: /cron list | add "<name>" <schedule> <message> | remove <id> | run <id> | enable <id> | disable <id>`
	subagentsUsage = `Usage: /subagents [list | stop <id> | stop all | log <id>]`
)
