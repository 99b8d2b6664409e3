package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/matheus3301/relay/internal/api"
	"github.com/matheus3301/relay/internal/instance"
	"github.com/matheus3301/relay/internal/tui/client"
)

func main() {
	instanceFlag := flag.String("instance", "", "instance name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	name := instance.Resolve(*instanceFlag)
	if err := instance.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c, err := client.New(instance.SocketPath(name))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for instance %q: %v\n", name, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	if args[0] == "watch" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		cmdWatch(ctx, c, *jsonFlag)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out := output{json: *jsonFlag}
	switch args[0] {
	case "status":
		cmdStatus(ctx, c, out)
	case "users":
		cmdUsers(ctx, c, args[1:], out)
	case "token":
		if len(args) < 2 {
			fail(errors.New("usage: relayctl token <email> [ttl]"))
		}
		cmdToken(ctx, c, args[1:], out)
	case "post":
		if len(args) < 4 {
			fail(errors.New("usage: relayctl post <sender-id> <receiver-id> <message>"))
		}
		cmdPost(ctx, c, args[1:], out)
	case "rooms":
		cmdRooms(ctx, c, args[1:], out)
	case "presence":
		if len(args) < 2 {
			fail(errors.New("usage: relayctl presence <user-id>"))
		}
		cmdPresence(ctx, c, parseID(args[1]), out)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: relayctl [--instance <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                              Show daemon status")
	fmt.Fprintln(os.Stderr, "  users online                        List online users")
	fmt.Fprintln(os.Stderr, "  users create <name> <email>         Create a user")
	fmt.Fprintln(os.Stderr, "  users disable|enable <id>           Disable (and disconnect) or enable a user")
	fmt.Fprintln(os.Stderr, "  token <email> [ttl]                 Issue an access token")
	fmt.Fprintln(os.Stderr, "  post <sender> <receiver> <message>  Deliver a direct message")
	fmt.Fprintln(os.Stderr, "  rooms create <name> <creator-id>    Create a chat room")
	fmt.Fprintln(os.Stderr, "  rooms add <room-id> <user-id>       Add a room participant")
	fmt.Fprintln(os.Stderr, "  presence <user-id>                  Show a user's presence")
	fmt.Fprintln(os.Stderr, "  watch                               Stream presence changes")
}

type output struct {
	json bool
}

// print writes v as JSON, or runs text for human output.
func (o output) print(v any, text func()) {
	if !o.json {
		text()
		return
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func parseID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		fail(fmt.Errorf("invalid id %q", s))
	}
	return id
}

func cmdStatus(ctx context.Context, c *client.Client, out output) {
	resp, err := c.Control.GetStatus(ctx, &api.GetStatusRequest{})
	if err != nil {
		fail(err)
	}
	out.print(resp, func() {
		fmt.Printf("Instance:    %s\n", resp.Instance)
		fmt.Printf("Status:      %s (since %s)\n", resp.Status, time.UnixMilli(resp.StatusSinceMs).Format(time.RFC3339))
		fmt.Printf("Listen:      %s\n", resp.Listen)
		fmt.Printf("Uptime:      %s\n", (time.Duration(resp.UptimeMs) * time.Millisecond).Round(time.Second))
		fmt.Printf("Online:      %d users, %d connections\n", resp.OnlineUsers, resp.Connections)
		fmt.Printf("Schema:      v%d\n", resp.SchemaVersion)
		fmt.Printf("Dropped:     %d events\n", resp.DroppedEvents)
	})
}

func cmdUsers(ctx context.Context, c *client.Client, args []string, out output) {
	switch {
	case len(args) >= 1 && args[0] == "online":
		resp, err := c.Control.ListOnlineUsers(ctx, &api.ListOnlineUsersRequest{})
		if err != nil {
			fail(err)
		}
		out.print(resp, func() {
			if len(resp.Users) == 0 {
				fmt.Println("No users online.")
				return
			}
			for _, u := range resp.Users {
				fmt.Printf("%-6d %-20s %s\n", u.ID, u.Name, u.Email)
			}
		})
	case len(args) >= 3 && args[0] == "create":
		resp, err := c.Control.CreateUser(ctx, &api.CreateUserRequest{Name: args[1], Email: args[2]})
		if err != nil {
			fail(err)
		}
		out.print(resp, func() {
			fmt.Printf("Created user %d (%s)\n", resp.User.ID, resp.User.Email)
		})
	case len(args) >= 2 && (args[0] == "disable" || args[0] == "enable"):
		req := &api.SetUserActiveRequest{UserID: parseID(args[1]), Active: args[0] == "enable"}
		resp, err := c.Control.SetUserActive(ctx, req)
		if err != nil {
			fail(err)
		}
		out.print(resp, func() {
			fmt.Printf("User %d %sd", req.UserID, args[0])
			if resp.DroppedConnections > 0 {
				fmt.Printf(", %d connections dropped", resp.DroppedConnections)
			}
			fmt.Println()
		})
	default:
		fail(errors.New("usage: relayctl users <online|create <name> <email>|disable <id>|enable <id>>"))
	}
}

func cmdPresence(ctx context.Context, c *client.Client, user int64, out output) {
	resp, err := c.Control.GetPresence(ctx, &api.GetPresenceRequest{UserID: user})
	if err != nil {
		fail(err)
	}
	out.print(resp, func() {
		state := "offline"
		if resp.Online {
			state = fmt.Sprintf("online (%d connections)", resp.Connections)
		}
		fmt.Printf("User %d: %s\n", resp.UserID, state)
		if resp.Mirrored {
			fmt.Printf("Mirror: held by %s\n", resp.MirrorOwner)
		}
	})
}

func cmdToken(ctx context.Context, c *client.Client, args []string, out output) {
	req := &api.IssueTokenRequest{Email: args[0]}
	if len(args) > 1 {
		ttl, err := time.ParseDuration(args[1])
		if err != nil {
			fail(fmt.Errorf("invalid ttl %q: %w", args[1], err))
		}
		req.TTLSeconds = int64(ttl / time.Second)
	}
	resp, err := c.Control.IssueToken(ctx, req)
	if err != nil {
		fail(err)
	}
	out.print(resp, func() {
		fmt.Println(resp.Token)
	})
}

func cmdPost(ctx context.Context, c *client.Client, args []string, out output) {
	receiver := parseID(args[1])
	resp, err := c.Control.PostMessage(ctx, &api.PostMessageRequest{
		SenderID:   parseID(args[0]),
		ReceiverID: &receiver,
		Message:    args[2],
	})
	if err != nil {
		fail(err)
	}
	out.print(resp, func() {
		fmt.Printf("Delivered chat %d\n", resp.ChatID)
	})
}

func cmdRooms(ctx context.Context, c *client.Client, args []string, out output) {
	switch {
	case len(args) >= 3 && args[0] == "create":
		resp, err := c.Control.CreateRoom(ctx, &api.CreateRoomRequest{Name: args[1], CreatedBy: parseID(args[2])})
		if err != nil {
			fail(err)
		}
		out.print(resp, func() {
			fmt.Printf("Created room %d\n", resp.RoomID)
		})
	case len(args) >= 3 && args[0] == "add":
		req := &api.AddParticipantRequest{RoomID: parseID(args[1]), UserID: parseID(args[2])}
		if len(args) > 3 {
			req.Role = args[3]
		}
		resp, err := c.Control.AddParticipant(ctx, req)
		if err != nil {
			fail(err)
		}
		out.print(resp, func() {
			fmt.Printf("Added user %d to room %d\n", req.UserID, req.RoomID)
		})
	default:
		fail(errors.New("usage: relayctl rooms <create <name> <creator-id>|add <room-id> <user-id> [role]>"))
	}
}

func cmdWatch(ctx context.Context, c *client.Client, jsonOut bool) {
	w, err := c.Control.WatchPresence(ctx, &api.WatchPresenceRequest{})
	if err != nil {
		fail(err)
	}
	out := output{json: jsonOut}
	for {
		evt, err := w.Recv()
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return
		}
		if err != nil {
			fail(err)
		}
		out.print(evt, func() {
			state := "offline"
			if evt.Online {
				state = "online"
			}
			fmt.Printf("%s user %d %s\n", time.UnixMilli(evt.OccurredAtMs).Format("15:04:05"), evt.UserID, state)
		})
	}
}
