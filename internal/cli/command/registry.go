package command

import (
	"fmt"
	"sort"
	"strings"
)

var (
	judgeField   = Field{Name: "judge", Aliases: []string{"j", "oj"}, Prompt: "judge", Type: FieldString, Required: true}
	contestField = Field{Name: "contest", Aliases: []string{"c"}, Prompt: "contest", Type: FieldString, Required: true}
	problemField = Field{Name: "problem", Aliases: []string{"p"}, Prompt: "problem", Type: FieldString, Required: true}
)

// Registry returns all CLI commands keyed by name.
func Registry() map[string]Command {
	commands := []Command{
		{
			Name:    "judges",
			Summary: "list supported judges and their session state",
		},
		{
			Name:       "login",
			Summary:    "log in to a judge (secrets come from OJKIT_<JUDGE>_PASSWORD / _API_KEY or a prompt)",
			Positional: []string{"judge"},
			Fields: []Field{
				judgeField,
				{Name: "username", Aliases: []string{"user", "u"}, Prompt: "username", Type: FieldString},
				{Name: "password", Prompt: "password", Type: FieldString, Secret: true},
				{Name: "api_key", Aliases: []string{"key"}, Prompt: "api key", Type: FieldString, Secret: true},
			},
		},
		{
			Name:       "logout",
			Summary:    "forget a judge session and its saved cookies",
			Positional: []string{"judge"},
			Fields:     []Field{judgeField},
		},
		{
			Name:       "problems",
			Summary:    "list the problems of a contest",
			Positional: []string{"judge", "contest"},
			Fields:     []Field{judgeField, contestField},
		},
		{
			Name:       "fetch",
			Summary:    "download test cases into the local store",
			Positional: []string{"judge", "contest", "problem"},
			Fields: []Field{
				judgeField, contestField, problemField,
				{Name: "refresh", Aliases: []string{"r"}, Prompt: "refresh", Type: FieldBool},
				{Name: "full", Prompt: "full", Type: FieldBool},
			},
		},
		{
			Name:       "test",
			Summary:    "run a solution against the stored test cases",
			Positional: []string{"judge", "contest", "problem"},
			Fields: []Field{
				judgeField, contestField, problemField,
				{Name: "cmd", Aliases: []string{"command", "run"}, Prompt: "command", Type: FieldString, Required: true},
				{Name: "compile", Prompt: "compile command", Type: FieldString},
				{Name: "dir", Prompt: "working directory", Type: FieldString},
				{Name: "tl", Aliases: []string{"time_limit"}, Prompt: "time limit", Type: FieldDuration},
				{Name: "mle", Aliases: []string{"memory"}, Prompt: "enforce memory limit", Type: FieldBool},
				{Name: "compare", Aliases: []string{"mode"}, Prompt: "compare mode", Type: FieldString},
				{Name: "refresh", Prompt: "refresh", Type: FieldBool},
			},
		},
		{
			Name:       "submit",
			Summary:    "submit a source file and wait for the verdict",
			Positional: []string{"judge", "contest", "problem"},
			Fields: []Field{
				judgeField, contestField, problemField,
				{Name: "file", Aliases: []string{"f", "source"}, Prompt: "source file", Type: FieldFile, Required: true},
				{Name: "lang", Aliases: []string{"language"}, Prompt: "language id", Type: FieldString},
				{Name: "force", Prompt: "force", Type: FieldBool},
				{Name: "wait", Prompt: "wait", Type: FieldBool},
			},
		},
		{
			Name:       "status",
			Summary:    "show the verdict of a submission",
			Positional: []string{"judge", "contest", "id"},
			Fields: []Field{
				judgeField, contestField,
				{Name: "id", Prompt: "submission id", Type: FieldString, Required: true},
				{Name: "problem", Aliases: []string{"p"}, Prompt: "problem", Type: FieldString},
				{Name: "wait", Prompt: "wait", Type: FieldBool},
			},
		},
		{
			Name:       "cache",
			Summary:    "inspect or move the local test case store (list|import|export|restore|clear)",
			Positional: []string{"action", "judge", "contest", "problem"},
			Fields: []Field{
				{Name: "action", Prompt: "action", Type: FieldString, Required: true},
				{Name: "judge", Prompt: "judge", Type: FieldString},
				{Name: "contest", Prompt: "contest", Type: FieldString},
				{Name: "problem", Prompt: "problem", Type: FieldString},
				{Name: "file", Aliases: []string{"f"}, Prompt: "file", Type: FieldFile},
			},
		},
		{Name: "help", Summary: "show this help"},
		{Name: "exit", Summary: "leave the shell"},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Name] = cmd
	}
	return result
}

// Names returns the command names sorted.
func Names(commands map[string]Command) []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Parse turns the arguments after the command name into params. Arguments of the form
// key=value set a field; others fill the positional fields in order.
func Parse(cmd Command, args []string) (Params, error) {
	params := Params{}
	next := 0
	for _, arg := range args {
		if key, value, ok := strings.Cut(arg, "="); ok && key != "" && !strings.ContainsAny(key, " /") {
			params.Set(key, value)
			continue
		}
		if next >= len(cmd.Positional) {
			return nil, fmt.Errorf("unexpected argument %q, usage: %s", arg, cmd.Usage())
		}
		params.Set(cmd.Positional[next], arg)
		next++
	}
	params.Canonicalize(cmd.Fields)

	for key := range params {
		if _, ok := cmd.Field(key); !ok {
			return nil, fmt.Errorf("unknown param %q, usage: %s", key, cmd.Usage())
		}
	}
	return params, nil
}

// Missing returns the required fields that have no value yet.
func Missing(cmd Command, params Params) []Field {
	var missing []Field
	for _, field := range cmd.Fields {
		if field.Required && params.Get(field.Name) == "" {
			missing = append(missing, field)
		}
	}
	return missing
}
