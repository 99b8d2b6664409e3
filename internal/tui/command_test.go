package tui

import "testing"

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in      string
		want    Command
		wantErr bool
	}{
		{in: "hello there", want: Command{Name: CmdSay, Args: "hello there"}},
		{in: "//not a command", want: Command{Name: CmdSay, Args: "/not a command"}},
		{in: "/to 7", want: Command{Name: CmdTo, ID: 7}},
		{in: "/TO 7  hi bob ", want: Command{Name: CmdTo, ID: 7, Args: "hi bob"}},
		{in: "/room 3 standup", want: Command{Name: CmdRoom, ID: 3, Args: "standup"}},
		{in: "/history", want: Command{Name: CmdHistory}},
		{in: "/quit", want: Command{Name: CmdQuit}},
		{in: "/to bob", wantErr: true},
		{in: "/to -1", wantErr: true},
		{in: "/room", wantErr: true},
		{in: "/dance", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCommand(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCommand(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseCommand(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}
