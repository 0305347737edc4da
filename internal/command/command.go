// Package command parses and executes slash commands against the vault.
package command

import (
	"regexp"
	"strings"
)

// Command is a parsed directive: the lowercase name after "/" and the
// trimmed remainder of the message.
type Command struct {
	Name string `json:"name"`
	Args string `json:"args"`
}

// Definition is static metadata describing a supported command.
type Definition struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Usage       string   `json:"usage"`
	Examples    []string `json:"examples"`
}

// Kind identifies a registered command. The set is closed.
type Kind int

const (
	KindUnknown Kind = iota
	KindHelp
	KindSearch
	KindRecent
	KindToday
)

var kindNames = map[string]Kind{
	"help":   KindHelp,
	"search": KindSearch,
	"recent": KindRecent,
	"today":  KindToday,
}

// KindOf maps a command name to its Kind. Lookup is case-sensitive.
func KindOf(name string) Kind {
	if k, ok := kindNames[name]; ok {
		return k
	}
	return KindUnknown
}

var commandRe = regexp.MustCompile(`(?s)^/(\w+)(?:\s+(.*))?$`)

// Parse reports the command encoded in message, or nil when the message is
// freeform text. A bare "/" is not a command.
func Parse(message string) *Command {
	m := commandRe.FindStringSubmatch(strings.TrimSpace(message))
	if m == nil {
		return nil
	}
	return &Command{
		Name: strings.ToLower(m[1]),
		Args: strings.TrimSpace(m[2]),
	}
}

// definitions is the fixed command table, kept in display order.
var definitions = []Definition{
	{
		Name:        "help",
		Description: "Show available commands or details for one command",
		Usage:       "/help [command]",
		Examples:    []string{"/help", "/help search"},
	},
	{
		Name:        "recent",
		Description: "List recently modified notes",
		Usage:       "/recent [count]",
		Examples:    []string{"/recent", "/recent 5"},
	},
	{
		Name:        "search",
		Description: "Search your vault for text",
		Usage:       "/search <query>",
		Examples:    []string{"/search meeting notes", "/search TODO"},
	},
	{
		Name:        "today",
		Description: "Show today's daily note",
		Usage:       "/today",
		Examples:    []string{"/today"},
	},
}

// Definitions returns a copy of the command table sorted by name.
func Definitions() []Definition {
	out := make([]Definition, len(definitions))
	copy(out, definitions)
	return out
}

func lookup(name string) (Definition, bool) {
	for _, d := range definitions {
		if d.Name == name {
			return d, true
		}
	}
	return Definition{}, false
}
