package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestActionValidate(t *testing.T) {
	tests := []struct {
		name    string
		action  Action
		wantErr bool
	}{
		{"code", Action{Kind: ActionExecuteCode, Code: "x = 1"}, false},
		{"blank code", Action{Kind: ActionExecuteCode, Code: "  "}, true},
		{"click", Action{Kind: ActionUI, UI: &UIAction{Op: UIClick, X: 1000, Y: 0}}, false},
		{"click out of range", Action{Kind: ActionUI, UI: &UIAction{Op: UIClick, X: 1001, Y: 0}}, true},
		{"drag out of range", Action{Kind: ActionUI, UI: &UIAction{Op: UIDrag, X: 1, Y: 1, X2: -1, Y2: 5}}, true},
		{"type empty", Action{Kind: ActionUI, UI: &UIAction{Op: UIType}}, true},
		{"key", Action{Kind: ActionUI, UI: &UIAction{Op: UIKey, Key: "Enter"}}, false},
		{"navigate blank", Action{Kind: ActionUI, UI: &UIAction{Op: UINavigate, URL: " "}}, true},
		{"unknown op", Action{Kind: ActionUI, UI: &UIAction{Op: "scroll"}}, true},
		{"missing ui", Action{Kind: ActionUI}, true},
		{"wait", Action{Kind: ActionWait, Wait: time.Second}, false},
		{"negative wait", Action{Kind: ActionWait, Wait: -time.Second}, true},
		{"terminate", Action{Kind: ActionTerminate}, false},
		{"unknown kind", Action{Kind: "dance"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.action.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestActionString(t *testing.T) {
	tests := []struct {
		action Action
		want   string
	}{
		{Action{Kind: ActionExecuteCode, Code: "x = 1"}, "EXECUTE x = 1"},
		{Action{Kind: ActionUI, UI: &UIAction{Op: UIDrag, X: 1, Y: 2, X2: 3, Y2: 4}}, "DRAG 1 2 3 4"},
		{Action{Kind: ActionUI, UI: &UIAction{Op: UIType, Text: "hello"}}, "TYPE hello"},
		{Action{Kind: ActionUI, UI: &UIAction{Op: UINavigate, URL: "https://example.com"}}, "NAVIGATE https://example.com"},
		{Action{Kind: ActionWait, Wait: 2 * time.Second}, "WAIT 2000"},
		{Action{Kind: ActionTerminate}, "DONE"},
	}
	for _, tt := range tests {
		if got := tt.action.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestWatchStopFile(t *testing.T) {
	t.Run("already present", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "STOP")
		if err := os.WriteFile(path, nil, 0o600); err != nil {
			t.Fatal(err)
		}
		ch, err := WatchStopFile(context.Background(), path, discardLogger())
		if err != nil {
			t.Fatalf("WatchStopFile() error = %v", err)
		}
		select {
		case <-ch:
		default:
			t.Error("channel should already be closed")
		}
	})

	t.Run("created later", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		path := filepath.Join(t.TempDir(), "STOP")
		ch, err := WatchStopFile(ctx, path, discardLogger())
		if err != nil {
			t.Fatalf("WatchStopFile() error = %v", err)
		}
		select {
		case <-ch:
			t.Fatal("channel closed before the file exists")
		default:
		}
		if err := os.WriteFile(path, []byte("stop"), 0o600); err != nil {
			t.Fatal(err)
		}
		select {
		case <-ch:
		case <-time.After(5 * time.Second):
			t.Fatal("stop file was not detected")
		}
	})

	t.Run("missing directory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nope", "STOP")
		if _, err := WatchStopFile(context.Background(), path, discardLogger()); err == nil {
			t.Error("expected error for a missing directory")
		}
	})
}
