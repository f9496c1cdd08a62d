package income

import (
	"context"
	"testing"
	"time"

	"github.com/wagerhall/betledger/internal/engine"
	"github.com/wagerhall/betledger/internal/model"
	"github.com/wagerhall/betledger/internal/store"
)

func TestRunDistributesOnTick(t *testing.T) {
	e := engine.New(store.NewMemoryStore())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e.CreateAccount(ctx, "S", "alice", 100)
	e.CreateAccount(ctx, "S", "bob", 200)

	got := make(chan []model.AccountUpdate, 1)
	s := &Scheduler{
		Engine:   e,
		Amount:   50,
		Interval: 5 * time.Millisecond,
		OnDistributed: func(updates []model.AccountUpdate) {
			select {
			case got <- updates:
			default:
			}
		},
	}
	go s.Run(ctx)

	select {
	case updates := <-got:
		if len(updates) != 2 {
			t.Fatalf("expected 2 updates, got %d", len(updates))
		}
		for _, u := range updates {
			if u.Diff != 50 {
				t.Errorf("diff = %d, want 50", u.Diff)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no distribution within deadline")
	}

	cancel()

	balance, err := e.Balance(context.Background(), "S", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if balance < 150 {
		t.Errorf("alice balance = %d, want at least 150", balance)
	}
}

func TestRunDisabledWithoutAmount(t *testing.T) {
	s := &Scheduler{
		Engine:   engine.New(store.NewMemoryStore()),
		Amount:   0,
		Interval: time.Hour,
	}

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler with zero amount should return immediately")
	}
}
