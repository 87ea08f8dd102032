package repl

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"ojkit/internal/cli/command"

	"github.com/chzyer/readline"
)

const prompt = "ojkit> "

// NewReadline creates the interactive line editor with history and command completion.
func NewReadline(historyFile string, commands map[string]command.Command) (*readline.Instance, error) {
	items := make([]readline.PrefixCompleterInterface, 0, len(commands))
	for _, name := range command.Names(commands) {
		items = append(items, readline.PcItem(name))
	}
	return readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyFile,
		AutoComplete:    readline.NewPrefixCompleter(items...),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
}

// ReadlinePrompter prompts through rl and hides secret input.
type ReadlinePrompter struct {
	rl *readline.Instance
}

func NewReadlinePrompter(rl *readline.Instance) *ReadlinePrompter {
	return &ReadlinePrompter{rl: rl}
}

func (p *ReadlinePrompter) Prompt(label string, secret bool) (string, error) {
	if secret {
		data, err := p.rl.ReadPassword(label + ": ")
		if err != nil {
			return "", fmt.Errorf("read input failed: %w", err)
		}
		return string(data), nil
	}
	p.rl.SetPrompt(label + ": ")
	defer p.rl.SetPrompt(prompt)
	line, err := p.rl.Readline()
	if err != nil {
		return "", fmt.Errorf("read input failed: %w", err)
	}
	return line, nil
}

// LinePrompter reads answers line by line, e.g. from a pipe. Secrets are echoed.
type LinePrompter struct {
	reader *bufio.Reader
	out    io.Writer
}

func NewLinePrompter(in io.Reader, out io.Writer) *LinePrompter {
	return &LinePrompter{reader: bufio.NewReader(in), out: out}
}

func (p *LinePrompter) Prompt(label string, _ bool) (string, error) {
	_, _ = fmt.Fprintf(p.out, "%s: ", label)
	line, err := p.reader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("read input failed: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

var (
	_ Prompter = (*ReadlinePrompter)(nil)
	_ Prompter = (*LinePrompter)(nil)
)
