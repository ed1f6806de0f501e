package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mo-hossam-stack/slate"
	"github.com/mo-hossam-stack/slate/api"
	"github.com/mo-hossam-stack/slate/client"
	"github.com/mo-hossam-stack/slate/credential"
	"github.com/mo-hossam-stack/slate/executor"
	"github.com/mo-hossam-stack/slate/intake"
	"github.com/mo-hossam-stack/slate/item"
	"github.com/mo-hossam-stack/slate/publisher"
	"github.com/mo-hossam-stack/slate/run"
	"github.com/mo-hossam-stack/slate/store/memory"
)

// setup spins up the real API server on httptest and returns a client
// pointed at it.
func setup(t *testing.T) (*client.Client, *memory.Store) {
	t.Helper()
	s := memory.New()
	s.PutItem(&item.Item{
		ID:      "item-1",
		OwnerID: "owner-1",
		Content: "an announcement worth scheduling",
	})
	creds := credential.NewStaticProvider(map[string]credential.Credential{
		"owner-1": {Token: "tok", MemberURN: "urn:li:person:abc"},
	}, slate.ErrNotConnected)
	adapter := publisher.AdapterFunc(func(context.Context, publisher.Request) (*publisher.Result, error) {
		return &publisher.Result{ExternalID: "urn:li:share:1"}, nil
	})
	runner := executor.NewRunner(s, s, creds, adapter, nil)
	in := intake.New(s, s, creds, runner, nil)
	srv := httptest.NewServer(api.New(in, s, s))
	t.Cleanup(srv.Close)
	return client.New(srv.URL, client.WithHTTPClient(srv.Client())), s
}

func TestClient_TriggerAndGetRun(t *testing.T) {
	t.Parallel()
	c, _ := setup(t)
	ctx := context.Background()

	scheduledAt := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	r, err := c.Trigger(ctx, "item-1", &scheduledAt)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if r.Key != run.KeyForItem("item-1") {
		t.Errorf("key = %q", r.Key)
	}
	if !r.ScheduledAt.Equal(scheduledAt) {
		t.Errorf("ScheduledAt = %v, want %v", r.ScheduledAt, scheduledAt)
	}

	got, err := c.GetRun(ctx, r.Key)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.State != run.StateWaiting {
		t.Errorf("state = %q, want %q", got.State, run.StateWaiting)
	}
}

func TestClient_TriggerRedelivery(t *testing.T) {
	t.Parallel()
	c, _ := setup(t)
	ctx := context.Background()

	first, err := c.Trigger(ctx, "item-1", nil)
	if err != nil {
		t.Fatalf("first Trigger: %v", err)
	}
	second, err := c.Trigger(ctx, "item-1", nil)
	if err != nil {
		t.Fatalf("redelivered Trigger: %v", err)
	}
	if second.Key != first.Key {
		t.Errorf("keys differ: %q vs %q", first.Key, second.Key)
	}
}

func TestClient_TriggerConflictOnCompleted(t *testing.T) {
	t.Parallel()
	c, s := setup(t)
	ctx := context.Background()

	r, err := c.Trigger(ctx, "item-1", nil)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	r.State = run.StateCompleted
	if err := s.UpdateRun(ctx, r); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	_, err = c.Trigger(ctx, "item-1", nil)
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Status != http.StatusConflict {
		t.Errorf("status = %d, want %d", apiErr.Status, http.StatusConflict)
	}
}

func TestClient_GetRunNotFound(t *testing.T) {
	t.Parallel()
	c, _ := setup(t)

	_, err := c.GetRun(context.Background(), "publish.missing")
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", apiErr.Status)
	}
}

func TestClient_ListRunsAndSteps(t *testing.T) {
	t.Parallel()
	c, s := setup(t)
	ctx := context.Background()
	s.PutItem(&item.Item{ID: "item-2", OwnerID: "owner-1", Content: "a second scheduled announcement"})

	if _, err := c.Trigger(ctx, "item-1", nil); err != nil {
		t.Fatalf("Trigger item-1: %v", err)
	}
	if _, err := c.Trigger(ctx, "item-2", nil); err != nil {
		t.Fatalf("Trigger item-2: %v", err)
	}

	runs, err := c.ListRuns(ctx, run.ListOpts{State: run.StateWaiting})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("runs = %d, want 2", len(runs))
	}

	runs, err = c.ListRuns(ctx, run.ListOpts{Limit: 1})
	if err != nil {
		t.Fatalf("ListRuns limit: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("limited runs = %d, want 1", len(runs))
	}

	steps, err := c.ListSteps(ctx, run.KeyForItem("item-1"))
	if err != nil {
		t.Fatalf("ListSteps: %v", err)
	}
	if len(steps) != 2 {
		t.Errorf("steps = %d, want 2 after trigger", len(steps))
	}
}

func TestClient_History(t *testing.T) {
	t.Parallel()
	c, _ := setup(t)
	ctx := context.Background()

	r, err := c.Trigger(ctx, "item-1", nil)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	// No journal extension is wired in this setup; the endpoint still
	// answers with an empty list.
	entries, err := c.History(ctx, r.Key)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("entries = %d, want 0", len(entries))
	}
}
