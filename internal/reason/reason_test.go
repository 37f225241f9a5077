package reason

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
)

func TestScriptedQueueOrder(t *testing.T) {
	s := NewScripted("fallback")
	s.Queue("first").Queue("second").QueueError(errors.New("backend down"))

	ctx := context.Background()
	res, err := s.Respond(ctx, Request{Prompt: "a"})
	if err != nil || res.Text != "first" {
		t.Fatalf("first call = %q, %v", res.Text, err)
	}
	res, err = s.Respond(ctx, Request{Prompt: "b"})
	if err != nil || res.Text != "second" {
		t.Fatalf("second call = %q, %v", res.Text, err)
	}
	if _, err = s.Respond(ctx, Request{Prompt: "c"}); err == nil {
		t.Fatal("queued error not returned")
	}
	res, err = s.Respond(ctx, Request{Prompt: "d"})
	if err != nil || res.Text != "fallback" {
		t.Fatalf("drained call = %q, %v", res.Text, err)
	}

	if got := len(s.Calls()); got != 4 {
		t.Errorf("recorded calls = %d, want 4", got)
	}
}

func TestScriptedHonorsContext(t *testing.T) {
	s := NewScripted("ok")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Respond(ctx, Request{}); err == nil {
		t.Fatal("cancelled context not surfaced")
	}
}

func TestBedrockModelTranslation(t *testing.T) {
	got := translateModelForBedrock(anthropic.ModelClaudeSonnet4_20250514)
	if !strings.HasPrefix(string(got), "us.anthropic.") {
		t.Errorf("translated model = %q, want us.anthropic. prefix", got)
	}

	custom := anthropic.Model("us.anthropic.custom-model-v1:0")
	if translateModelForBedrock(custom) != custom {
		t.Error("already-translated model should pass through")
	}
}

func TestTokenTracker(t *testing.T) {
	tr := NewTokenTracker()
	tr.Add(100, 20)
	tr.Add(50, 10)

	in, out := tr.Total()
	if in != 150 || out != 30 {
		t.Errorf("totals = %d/%d, want 150/30", in, out)
	}
	if tr.Calls() != 2 {
		t.Errorf("calls = %d, want 2", tr.Calls())
	}
}
