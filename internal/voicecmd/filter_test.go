package voicecmd

import (
	"context"
	"errors"
	"testing"
)

type mockControls struct {
	calls    []string
	edited   string
	err      error
	confirms int
}

func (m *mockControls) Confirm(context.Context) error {
	m.calls = append(m.calls, "confirm")
	m.confirms++
	return m.err
}

func (m *mockControls) Cancel() error {
	m.calls = append(m.calls, "cancel")
	return m.err
}

func (m *mockControls) Edit(text string) error {
	m.calls = append(m.calls, "edit")
	m.edited = text
	return m.err
}

func (m *mockControls) StopSpeaking() { m.calls = append(m.calls, "stop-talking") }
func (m *mockControls) RepeatLast()   { m.calls = append(m.calls, "repeat") }

func TestFilter_Match(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want string
	}{
		{"yes", "confirm"},
		{"Yes.", "confirm"},
		{"  do it  ", "confirm"},
		{"go ahead, please", "confirm"},
		{"Confirmed!", "confirm"},
		{"no", "cancel"},
		{"Never mind", "cancel"},
		{"nevermind", "cancel"},
		{"cancel that", "cancel"},
		{"stop talking", "stop-talking"},
		{"Be quiet.", "stop-talking"},
		{"repeat that", "repeat"},
		{"say it again?", "repeat"},
		{"change it to close issue 12", "edit"},
		{"No, I meant assign to Alice", "edit"},
		{"set priority to high", ""},
		{"yes set priority to high", ""},
		{"", ""},
		{"   ", ""},
	}
	f := New()
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()
			if got := f.Match(tt.text); got != tt.want {
				t.Errorf("Match(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestFilter_CheckRunsAction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text      string
		wantCall  string
		wantEdit  string
		wantMatch bool
	}{
		{text: "yes", wantCall: "confirm", wantMatch: true},
		{text: "cancel", wantCall: "cancel", wantMatch: true},
		{text: "quiet", wantCall: "stop-talking", wantMatch: true},
		{text: "come again", wantCall: "repeat", wantMatch: true},
		{text: "I said move ISSUE-4 to done.", wantCall: "edit", wantEdit: "move ISSUE-4 to done", wantMatch: true},
		{text: "close the sprint"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()
			c := &mockControls{}
			matched, err := New().Check(context.Background(), tt.text, c)
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			if matched != tt.wantMatch {
				t.Fatalf("matched = %v, want %v", matched, tt.wantMatch)
			}
			if !tt.wantMatch {
				if len(c.calls) != 0 {
					t.Errorf("unexpected calls %v", c.calls)
				}
				return
			}
			if len(c.calls) != 1 || c.calls[0] != tt.wantCall {
				t.Errorf("calls = %v, want [%s]", c.calls, tt.wantCall)
			}
			if c.edited != tt.wantEdit {
				t.Errorf("edited = %q, want %q", c.edited, tt.wantEdit)
			}
		})
	}
}

func TestFilter_ActionError(t *testing.T) {
	t.Parallel()

	boom := errors.New("nothing pending")
	c := &mockControls{err: boom}
	matched, err := New().Check(context.Background(), "confirm", c)
	if !matched {
		t.Error("expected match")
	}
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped %v", err, boom)
	}
}
