package command

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// FieldType describes input type.
type FieldType int

const (
	FieldString FieldType = iota
	FieldInt
	FieldBool
	FieldDuration
	FieldFile
)

// Field defines a CLI input field.
type Field struct {
	Name     string
	Aliases  []string
	Prompt   string
	Type     FieldType
	Required bool
	// Secret fields are prompted for without echo.
	Secret bool
}

// Command defines a CLI command.
type Command struct {
	Name    string
	Summary string
	// Positional names the fields that may be given without key=, in order.
	Positional []string
	Fields     []Field
}

// Usage renders "name <a> <b> [key=value ...]".
func (c Command) Usage() string {
	var b strings.Builder
	b.WriteString(c.Name)
	for _, p := range c.Positional {
		b.WriteString(" <" + p + ">")
	}
	optional := false
	for _, f := range c.Fields {
		if !c.isPositional(f.Name) {
			optional = true
			break
		}
	}
	if optional {
		b.WriteString(" [key=value ...]")
	}
	return b.String()
}

func (c Command) isPositional(name string) bool {
	for _, p := range c.Positional {
		if p == name {
			return true
		}
	}
	return false
}

// Field returns the field called name.
func (c Command) Field(name string) (Field, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Params holds parsed input params.
type Params map[string]string

func (p Params) Get(key string) string {
	return p[strings.ToLower(key)]
}

func (p Params) Set(key, value string) {
	p[strings.ToLower(key)] = value
}

func (p Params) Has(key string) bool {
	_, ok := p[strings.ToLower(key)]
	return ok
}

func (p Params) Canonicalize(fields []Field) {
	for _, field := range fields {
		for _, alias := range field.Aliases {
			aliasKey := strings.ToLower(alias)
			if value, ok := p[aliasKey]; ok {
				p[strings.ToLower(field.Name)] = value
				delete(p, aliasKey)
			}
		}
	}
}

// Bool reads key as a boolean. Absent means false.
func (p Params) Bool(key string) (bool, error) {
	v := p.Get(key)
	if v == "" {
		return false, nil
	}
	return ParseBool(v)
}

// Duration reads key as a duration. Absent means zero.
func (p Params) Duration(key string) (time.Duration, error) {
	v := p.Get(key)
	if v == "" {
		return 0, nil
	}
	return ParseDuration(v)
}

// Int reads key as an int. Absent means zero.
func (p Params) Int(key string) (int, error) {
	v := p.Get(key)
	if v == "" {
		return 0, nil
	}
	return ParseInt(v)
}

func ParseInt(value string) (int, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 32)
	return int(n), err
}

func ParseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean: %q", value)
}

// ParseDuration accepts Go durations and bare numbers of seconds.
func ParseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(value)
}

func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file failed: %w", err)
	}
	return string(data), nil
}
