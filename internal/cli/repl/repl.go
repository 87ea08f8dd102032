// Package repl runs ojkit commands, either one at a time from the command line or
// interactively with line editing.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"ojkit/internal/cli/command"
	"ojkit/internal/cli/config"
	"ojkit/internal/cli/state"
	"ojkit/internal/judge/model"
	"ojkit/internal/judge/service"
	"ojkit/internal/judge/session"
	pkgerrors "ojkit/pkg/errors"
	"ojkit/pkg/utils/contextkey"
	"ojkit/pkg/utils/logger"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrExit is returned by Exec for the exit command.
var ErrExit = errors.New("exit")

// Prompter asks the user for a missing value.
type Prompter interface {
	Prompt(label string, secret bool) (string, error)
}

// Session holds REPL state.
type Session struct {
	svc      *service.Service
	cfg      config.Config
	commands map[string]command.Command
	cookies  state.CookieState
	out      io.Writer
	prompter Prompter
}

func New(svc *service.Service, cfg config.Config, commands map[string]command.Command, cookies state.CookieState, out io.Writer, prompter Prompter) *Session {
	if cookies.Judges == nil {
		cookies.Judges = map[string][]session.Cookie{}
	}
	return &Session{
		svc:      svc,
		cfg:      cfg,
		commands: commands,
		cookies:  cookies,
		out:      out,
		prompter: prompter,
	}
}

// Run reads commands from rl until exit or end of input. Ctrl-C cancels the running
// command only.
func (s *Session) Run(ctx context.Context, rl *readline.Instance) error {
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		tokens, err := shlex.Split(line)
		if err != nil {
			s.printLine("error: parse command failed: %v", err)
			continue
		}
		cmdCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		err = s.Exec(cmdCtx, tokens)
		stop()
		if errors.Is(err, ErrExit) {
			s.printLine("bye")
			return nil
		}
		if err != nil {
			s.printError(err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Exec runs one command given as tokens, e.g. {"fetch", "atcoder", "abc300", "abc300_a"}.
func (s *Session) Exec(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	name := strings.ToLower(tokens[0])
	if name == "quit" {
		name = "exit"
	}
	cmd, ok := s.commands[name]
	if !ok {
		return pkgerrors.Newf(pkgerrors.InvalidParams, "unknown command %q, try help", tokens[0])
	}
	params, err := command.Parse(cmd, tokens[1:])
	if err != nil {
		return pkgerrors.Wrap(err, pkgerrors.InvalidParams)
	}
	if err := s.promptMissing(cmd, params); err != nil {
		return err
	}
	ctx = context.WithValue(ctx, contextkey.TraceID, uuid.NewString())
	logger.Debug(ctx, "exec command", zap.String("command", name))

	switch name {
	case "help":
		return s.help()
	case "exit":
		return ErrExit
	case "judges":
		return s.judges()
	case "login":
		return s.login(ctx, params)
	case "logout":
		return s.logout(ctx, params)
	case "problems":
		return s.problems(ctx, params)
	case "fetch":
		return s.fetch(ctx, params)
	case "test":
		return s.test(ctx, params)
	case "submit":
		return s.submit(ctx, params)
	case "status":
		return s.status(ctx, params)
	case "cache":
		return s.cache(ctx, params)
	}
	return pkgerrors.Newf(pkgerrors.InternalError, "command %q has no handler", name)
}

func (s *Session) promptMissing(cmd command.Command, params command.Params) error {
	for _, field := range command.Missing(cmd, params) {
		if s.prompter == nil {
			return pkgerrors.ValidationError(field.Name, "required").
				WithMessagef("missing %s, usage: %s", field.Name, cmd.Usage())
		}
		value, err := s.prompter.Prompt(field.Prompt, field.Secret)
		if err != nil {
			return err
		}
		value = strings.TrimSpace(value)
		if value == "" {
			return pkgerrors.ValidationError(field.Name, "required").WithMessagef("missing %s", field.Name)
		}
		params.Set(field.Name, value)
	}
	return nil
}

func (s *Session) help() error {
	rows := make([][]string, 0, len(s.commands))
	for _, name := range command.Names(s.commands) {
		cmd := s.commands[name]
		rows = append(rows, []string{cmd.Usage(), cmd.Summary})
	}
	writeTable(s.out, []string{"COMMAND", "DESCRIPTION"}, rows)
	s.printLine("judges: %s", strings.Join(judgeNames(s.svc.Judges()), ", "))
	return nil
}

func judgeNames(judges []model.Judge) []string {
	out := make([]string, 0, len(judges))
	for _, j := range judges {
		out = append(out, string(j))
	}
	return out
}

func (s *Session) printError(err error) {
	s.printLine("error: %s", pkgerrors.Describe(err))
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}
