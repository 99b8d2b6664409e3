package tui

import (
	"fmt"
	"strconv"
	"strings"
)

// Command names understood by the composer.
const (
	CmdSay     = ""
	CmdTo      = "to"
	CmdRoom    = "room"
	CmdHistory = "history"
	CmdQuit    = "quit"
)

// Command represents a parsed composer line.
type Command struct {
	Name string
	Args string
	ID   int64
}

// ParseCommand parses a composer line. Lines starting with '/' are commands;
// anything else is text to send to the open conversation.
func ParseCommand(input string) (Command, error) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") || strings.HasPrefix(input, "//") {
		return Command{Name: CmdSay, Args: strings.TrimPrefix(input, "/")}, nil
	}

	parts := strings.SplitN(input[1:], " ", 2)
	cmd := Command{Name: strings.ToLower(parts[0])}
	if len(parts) > 1 {
		cmd.Args = strings.TrimSpace(parts[1])
	}

	switch cmd.Name {
	case CmdTo, CmdRoom:
		fields := strings.SplitN(cmd.Args, " ", 2)
		id, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil || id <= 0 {
			return Command{}, fmt.Errorf("usage: /%s <id> [message]", cmd.Name)
		}
		cmd.ID = id
		cmd.Args = ""
		if len(fields) > 1 {
			cmd.Args = strings.TrimSpace(fields[1])
		}
	case CmdHistory, CmdQuit:
	default:
		return Command{}, fmt.Errorf("unknown command /%s", cmd.Name)
	}
	return cmd, nil
}
