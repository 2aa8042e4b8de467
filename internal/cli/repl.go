package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for REPL output.
var printlnFn = fmt.Println

// execIface is the command surface the REPL drives. App implements it.
type execIface interface {
	Register(ctx context.Context) error
	Say(ctx context.Context, transcript string) error
	Activate(ctx context.Context, tag string) error
	Write(ctx context.Context, tag string) error
	Read(ctx context.Context, tag, entryID string) error
	List(ctx context.Context, tag string) error
	Tags(ctx context.Context) error
	Status(ctx context.Context) error
	Extend(ctx context.Context, tag, duration string) error
	Lock(ctx context.Context, tag string) error
	Unlock(ctx context.Context, tag string) error
	End(ctx context.Context, tag string) error
	EndAll(ctx context.Context) error
	Panic(ctx context.Context) error
	Metrics(ctx context.Context) error
}

const helpText = `Available commands:
  register                 register a secret tag and its activation phrase
  tags                     list registered tags
  say <words...>           unlock the tag whose phrase appears in the words
  activate <tag>           unlock a tag by typing its phrase
  write <tag>              write an encrypted entry
  read <tag> <entry-id>    decrypt an entry
  list <tag>               list entries of a tag
  status                   show unlocked tags and their countdowns
  extend <tag> [duration]  extend a session (e.g. 10m)
  lock <tag> | unlock <tag>
  end <tag> | endall       end one or all sessions
  panic                    destroy every session key immediately
  metrics                  show security metrics
  exit | quit`

// runREPL reads commands from reader and dispatches them to a until EOF or
// exit. Handlers report their own errors. Commands that prompt for more
// input read from the same reader.
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	for {
		if ctx.Err() != nil {
			return
		}
		printlnFn(fmt.Sprintf("journal %s > ", statusFn()))
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "help":
			printlnFn(helpText)

		case "register":
			_ = a.Register(ctx)

		case "tags":
			_ = a.Tags(ctx)

		case "say":
			if len(args) == 0 {
				printlnFn("Usage: say <words...>")
				continue
			}
			_ = a.Say(ctx, strings.Join(args, " "))

		case "activate", "write", "list", "lock", "unlock", "end":
			if len(args) != 1 {
				printlnFn(fmt.Sprintf("Usage: %s <tag>", cmd))
				continue
			}
			dispatchTag(ctx, a, cmd, args[0])

		case "read":
			if len(args) != 2 {
				printlnFn("Usage: read <tag> <entry-id>")
				continue
			}
			_ = a.Read(ctx, args[0], args[1])

		case "extend":
			if len(args) < 1 || len(args) > 2 {
				printlnFn("Usage: extend <tag> [duration]")
				continue
			}
			d := ""
			if len(args) == 2 {
				d = args[1]
			}
			_ = a.Extend(ctx, args[0], d)

		case "status":
			_ = a.Status(ctx)

		case "endall":
			_ = a.EndAll(ctx)

		case "panic":
			_ = a.Panic(ctx)

		case "metrics":
			_ = a.Metrics(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}

func dispatchTag(ctx context.Context, a execIface, cmd, tag string) {
	switch cmd {
	case "activate":
		_ = a.Activate(ctx, tag)
	case "write":
		_ = a.Write(ctx, tag)
	case "list":
		_ = a.List(ctx, tag)
	case "lock":
		_ = a.Lock(ctx, tag)
	case "unlock":
		_ = a.Unlock(ctx, tag)
	case "end":
		_ = a.End(ctx, tag)
	}
}
