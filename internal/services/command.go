package services

import (
	"strings"
)

// CommandKind is the normalized intent of one inbound chat message
type CommandKind string

const (
	CommandHelp      CommandKind = "help"
	CommandListDeals CommandKind = "list_deals"
	CommandJoin      CommandKind = "join"
	CommandMyDeals   CommandKind = "my_deals"
	CommandUnknown   CommandKind = "unknown"
)

// Command is derived from one inbound message and never persisted
type Command struct {
	Kind       CommandKind
	Argument   string
	ActorPhone string
	// Text is the lower-cased, trimmed body the command was parsed from
	Text string
}

var slashCommands = map[string]CommandKind{
	"/start":   CommandHelp,
	"/help":    CommandHelp,
	"/deals":   CommandListDeals,
	"/join":    CommandJoin,
	"/mydeals": CommandMyDeals,
}

// ParseCommand maps a raw body and sender to a Command. The only error is
// ErrInvalidSender; unrecognised text becomes CommandUnknown.
func ParseCommand(body, from, channelPrefix string) (Command, error) {
	sender := strings.TrimSpace(from)
	if sender == "" || channelPrefix == "" || !strings.HasPrefix(sender, channelPrefix) || sender == channelPrefix {
		return Command{}, newDealError(ErrInvalidSender, nil)
	}

	text := strings.ToLower(strings.TrimSpace(body))
	cmd := Command{Kind: CommandUnknown, ActorPhone: sender, Text: text}

	tokens := strings.Fields(text)
	if len(tokens) == 0 || !strings.HasPrefix(tokens[0], "/") {
		return cmd, nil
	}

	kind, ok := slashCommands[tokens[0]]
	if !ok {
		return cmd, nil
	}
	cmd.Kind = kind

	if kind == CommandJoin && len(tokens) > 1 {
		cmd.Argument = tokens[1]
	}
	return cmd, nil
}
