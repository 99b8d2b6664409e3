package instance

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDirHonoursRelayHome(t *testing.T) {
	base := t.TempDir()
	t.Setenv("RELAY_HOME", base)

	got := Dir("main")
	want := filepath.Join(base, "instances", "main")
	if got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestDirDefaultsToHome(t *testing.T) {
	t.Setenv("RELAY_HOME", "")
	home, _ := os.UserHomeDir()
	got := Dir("main")
	want := filepath.Join(home, ".relay", "instances", "main")
	if got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestInstancePaths(t *testing.T) {
	base := t.TempDir()
	t.Setenv("RELAY_HOME", base)
	dir := filepath.Join(base, "instances", "test")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"socket", SocketPath("test"), filepath.Join(dir, "control.sock")},
		{"lock", LockPath("test"), filepath.Join(dir, "LOCK")},
		{"db", DBPath("test"), filepath.Join(dir, "relay.db")},
		{"log", LogPath("test"), filepath.Join(dir, "logs", "relayd.log")},
		{"config", ConfigPath(), filepath.Join(base, "config.toml")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestEnsureDir(t *testing.T) {
	t.Setenv("RELAY_HOME", t.TempDir())

	if err := EnsureDir("test"); err != nil {
		t.Fatalf("EnsureDir() error = %v", err)
	}

	for _, d := range []string{Dir("test"), LogDir("test")} {
		info, err := os.Stat(d)
		if err != nil {
			t.Fatalf("%s not created: %v", d, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", d)
		}
		if perm := info.Mode().Perm(); perm != 0700 {
			t.Errorf("%s permission = %o, want 0700", d, perm)
		}
	}
}

func TestResolvePrecedence(t *testing.T) {
	base := t.TempDir()
	t.Setenv("RELAY_HOME", base)

	if got := Resolve("flag"); got != "flag" {
		t.Errorf("Resolve(flag) = %q, want flag", got)
	}
	if got := Resolve(""); got != DefaultName {
		t.Errorf("Resolve() without config = %q, want %q", got, DefaultName)
	}

	if err := os.WriteFile(ConfigPath(), []byte(`default_instance = "work"`+"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if got := Resolve(""); got != "work" {
		t.Errorf("Resolve() with config = %q, want work", got)
	}
}
