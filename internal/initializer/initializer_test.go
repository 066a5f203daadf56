package initializer

import (
	"context"
	"testing"
	"time"

	"github.com/agentmux/agentmux/internal/fsys"
	"github.com/agentmux/agentmux/internal/prompt"
	"github.com/agentmux/agentmux/internal/readiness"
	"github.com/agentmux/agentmux/internal/registry"
	"github.com/agentmux/agentmux/internal/term/fake"
)

// fastClock reports real wall-clock time but never actually sleeps, so
// tests exercise the spec's "wait 1s"/poll-loop logic without paying
// for it in wall time.
type fastClock struct{}

func (fastClock) Now() time.Time        { return time.Now() }
func (fastClock) Sleep(time.Duration) {}

func newTestInitializer(driver *fake.Driver) (*Initializer, *registry.Registry) {
	reg := registry.New("orchestrator", nil)
	det := readiness.New(driver).WithClock(fastClock{})
	fs := fsys.NewFake()
	fs.Files["/prompts/developer.md"] = []byte("hello {{SESSION_ID}}")
	ps := prompt.New(fs)
	in := New(driver, det, reg, ps).WithClock(fastClock{})
	in.L1Budget = 50 * time.Millisecond
	in.L2Budget = 50 * time.Millisecond
	in.L3Budget = 50 * time.Millisecond
	in.OverallBudget = 300 * time.Millisecond
	return in, reg
}

func TestInitialize_NeverInteractive_EscalatesToL4(t *testing.T) {
	driver := fake.New()
	if err := driver.CreateSession("dev-1", "/proj", ""); err != nil {
		t.Fatal(err)
	}
	driver.SetFrozenPane("dev-1", "$ ")

	in, _ := newTestInitializer(driver)
	desc := AgentDescriptor{
		SessionName:      "dev-1",
		Role:             RoleDeveloper,
		SystemPromptPath: "/prompts/developer.md",
		ProjectPath:      "/proj",
	}
	failure := in.Initialize(context.Background(), desc, Options{})
	if failure == nil {
		t.Fatal("expected a terminal failure for a session that never becomes interactive")
	}
	if failure.LevelReached != L3 {
		t.Fatalf("expected failure to be reached at L3, got %s", failure.LevelReached)
	}
	if failure.Reason != ReasonTimedOut {
		t.Fatalf("expected TimedOut, got %s", failure.Reason)
	}
}

func TestInitialize_MissingSession_ReportsNotFound(t *testing.T) {
	driver := fake.New()
	in, _ := newTestInitializer(driver)
	desc := AgentDescriptor{
		SessionName:      "ghost",
		Role:             RoleDeveloper,
		SystemPromptPath: "/prompts/developer.md",
		ProjectPath:      "/proj",
	}
	failure := in.Initialize(context.Background(), desc, Options{})
	if failure == nil {
		t.Fatal("expected a failure for a nonexistent session")
	}
	if failure.Reason != ReasonNotFound {
		t.Fatalf("expected NotFound, got %s (%v)", failure.Reason, failure.Err)
	}
}

func TestInitialize_Busy_SecondCallerRejected(t *testing.T) {
	driver := fake.New()
	if err := driver.CreateSession("dev-1", "/proj", ""); err != nil {
		t.Fatal(err)
	}
	driver.SetFrozenPane("dev-1", "$ ")

	in, _ := newTestInitializer(driver)
	in.OverallBudget = 200 * time.Millisecond
	desc := AgentDescriptor{
		SessionName:      "dev-1",
		Role:             RoleDeveloper,
		SystemPromptPath: "/prompts/developer.md",
		ProjectPath:      "/proj",
	}

	done := make(chan *Failure, 1)
	go func() {
		done <- in.Initialize(context.Background(), desc, Options{})
	}()
	time.Sleep(5 * time.Millisecond) // let the first call acquire its lock

	second := in.Initialize(context.Background(), desc, Options{})
	if second == nil || second.Reason != ReasonBusy {
		t.Fatalf("expected ReasonBusy for the concurrent caller, got %+v", second)
	}
	<-done
}

func TestInitialize_PreserveOrchestrator_SkipsL3(t *testing.T) {
	driver := fake.New()
	if err := driver.CreateSession("orchestrator", "/proj", ""); err != nil {
		t.Fatal(err)
	}
	driver.SetFrozenPane("orchestrator", "$ ")

	in, _ := newTestInitializer(driver)
	desc := AgentDescriptor{
		SessionName:      "orchestrator",
		Role:             RoleOrchestrator,
		SystemPromptPath: "/prompts/developer.md",
		ProjectPath:      "/proj",
	}
	failure := in.Initialize(context.Background(), desc, Options{PreserveOrchestrator: true})
	if failure == nil {
		t.Fatal("expected a failure")
	}
	if failure.LevelReached != L2 {
		t.Fatalf("expected escalation to stop at L2 (L3 skipped), got %s", failure.LevelReached)
	}
	for _, c := range driver.Calls {
		if c.Method == "KillSession" {
			t.Fatal("expected no KillSession call when PreserveOrchestrator is set")
		}
	}
}

func TestInitialize_CancelledContext(t *testing.T) {
	driver := fake.New()
	if err := driver.CreateSession("dev-1", "/proj", ""); err != nil {
		t.Fatal(err)
	}
	driver.SetFrozenPane("dev-1", "$ ")

	in, _ := newTestInitializer(driver)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	desc := AgentDescriptor{
		SessionName:      "dev-1",
		Role:             RoleDeveloper,
		SystemPromptPath: "/prompts/developer.md",
		ProjectPath:      "/proj",
	}
	failure := in.Initialize(ctx, desc, Options{})
	if failure == nil || failure.Reason != ReasonCancelled {
		t.Fatalf("expected ReasonCancelled, got %+v", failure)
	}
}
