package queue_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"storm-arena/internal/model"
	"storm-arena/internal/service/balance"
	"storm-arena/internal/service/match"
	"storm-arena/internal/service/queue"
	"storm-arena/pkg/logger"
)

type stubCreator struct {
	mu      sync.Mutex
	created []match.CreateParams
	fail    bool
}

func (c *stubCreator) Create(ctx context.Context, params match.CreateParams) (*model.Match, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return nil, fmt.Errorf("store down")
	}
	c.created = append(c.created, params)
	return &model.Match{
		ID:      int64(len(c.created)),
		Status:  model.MatchStatusInProgress,
		MapName: params.MapName,
	}, nil
}

func (c *stubCreator) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.created)
}

type stubMaps struct{}

func (stubMaps) PickRandom(ctx context.Context) (string, error) {
	return "Cursed Hollow", nil
}

func newQueueService(t *testing.T, cfg queue.Config) (*queue.Service, *stubCreator) {
	t.Helper()
	logger.InitTestLogger()
	creator := &stubCreator{}
	return queue.NewService(nil, creator, stubMaps{}, cfg), creator
}

func joinN(t *testing.T, svc *queue.Service, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 1; i <= n; i++ {
		_, err := svc.Join(ctx, queue.JoinRequest{
			UserID:         int64(i),
			DisplayName:    fmt.Sprintf("Player%02d#1%03d", i, i),
			RatingSnapshot: 2000 + i*25,
		})
		if err != nil {
			t.Fatalf("join %d failed: %v", i, err)
		}
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newQueueService(t, queue.Config{})

	first, err := svc.Join(ctx, queue.JoinRequest{UserID: 1, DisplayName: "Alar#1992", RatingSnapshot: 2400})
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	second, err := svc.Join(ctx, queue.JoinRequest{UserID: 1, DisplayName: "Alar#1992", RatingSnapshot: 2400})
	if err != nil {
		t.Fatalf("repeat join failed: %v", err)
	}

	if !second.AlreadyQueued {
		t.Fatalf("expected AlreadyQueued on repeat join")
	}
	if !second.JoinedAt.Equal(first.JoinedAt) {
		t.Fatalf("repeat join changed joinedAt: %v vs %v", second.JoinedAt, first.JoinedAt)
	}
	if svc.TotalQueued() != 1 {
		t.Fatalf("expected one entry, got %d", svc.TotalQueued())
	}
}

func TestLeaveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newQueueService(t, queue.Config{})

	if _, err := svc.Join(ctx, queue.JoinRequest{UserID: 1, DisplayName: "Alar#1992"}); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	svc.Leave(ctx, 1)
	svc.Leave(ctx, 1) // absent, still fine
	svc.Leave(ctx, 999)

	if svc.TotalQueued() != 0 {
		t.Fatalf("expected empty queue, got %d", svc.TotalQueued())
	}
}

func TestStatusReportsPositionAndWait(t *testing.T) {
	ctx := context.Background()
	svc, _ := newQueueService(t, queue.Config{})
	joinN(t, svc, 3)

	status, err := svc.Status(ctx, 2)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !status.InQueue || status.QueuePosition != 2 || status.TotalQueued != 3 {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.EstimatedWaitSeconds <= 0 {
		t.Fatalf("estimate should be positive: %+v", status)
	}

	outsider, err := svc.Status(ctx, 42)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if outsider.InQueue || outsider.TotalQueued != 3 {
		t.Fatalf("unexpected outsider status: %+v", outsider)
	}
}

func TestEstimateShrinksAsQueueFills(t *testing.T) {
	ctx := context.Background()
	svc, _ := newQueueService(t, queue.Config{})

	joinN(t, svc, 2)
	early, err := svc.Status(ctx, 1)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}

	joinN(t, svc, 8) // idempotent for 1-2, adds 3-8
	late, err := svc.Status(ctx, 1)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}

	if late.EstimatedWaitSeconds > early.EstimatedWaitSeconds {
		t.Fatalf("estimate grew as queue filled: %d -> %d", early.EstimatedWaitSeconds, late.EstimatedWaitSeconds)
	}
}

func TestTenthJoinFormsMatch(t *testing.T) {
	svc, creator := newQueueService(t, queue.Config{})

	joinN(t, svc, 9)
	if creator.count() != 0 {
		t.Fatalf("match formed below threshold")
	}

	joinN(t, svc, 10)
	if creator.count() != 1 {
		t.Fatalf("expected one match, got %d", creator.count())
	}
	if svc.TotalQueued() != 0 {
		t.Fatalf("queue should drain after formation, got %d", svc.TotalQueued())
	}

	params := creator.created[0]
	if len(params.Split.Blue) != 5 || len(params.Split.Red) != 5 {
		t.Fatalf("formed match is not 5v5: %+v", params.Split)
	}
	if params.MapName != "Cursed Hollow" {
		t.Fatalf("map not picked: %q", params.MapName)
	}
	if !params.InProgress {
		t.Fatalf("matchmade games start in progress")
	}
}

func TestEleventhPlayerStaysQueued(t *testing.T) {
	svc, creator := newQueueService(t, queue.Config{})
	joinN(t, svc, 11)

	if creator.count() != 1 {
		t.Fatalf("expected one match, got %d", creator.count())
	}
	if svc.TotalQueued() != 1 {
		t.Fatalf("expected one leftover entry, got %d", svc.TotalQueued())
	}

	status, err := svc.Status(context.Background(), 11)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !status.InQueue || status.QueuePosition != 1 {
		t.Fatalf("leftover player should head the queue: %+v", status)
	}
}

func TestFailedCreationRequeuesPlayers(t *testing.T) {
	svc, creator := newQueueService(t, queue.Config{})
	creator.fail = true

	joinN(t, svc, 10)

	if creator.count() != 0 {
		t.Fatalf("no match should persist")
	}
	if svc.TotalQueued() != 10 {
		t.Fatalf("players should be re-queued on failure, got %d", svc.TotalQueued())
	}

	// Store recovers: the next formation attempt succeeds.
	creator.fail = false
	if _, err := svc.TryFormMatch(context.Background()); err != nil {
		t.Fatalf("retry formation failed: %v", err)
	}
	if creator.count() != 1 || svc.TotalQueued() != 0 {
		t.Fatalf("expected recovery, got %d matches and %d queued", creator.count(), svc.TotalQueued())
	}
}

func TestExpiryEvictsStaleEntries(t *testing.T) {
	ctx := context.Background()
	svc, _ := newQueueService(t, queue.Config{TTL: 50 * time.Millisecond})

	joinN(t, svc, 3)
	time.Sleep(80 * time.Millisecond)

	status, err := svc.Status(ctx, 1)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.InQueue || status.TotalQueued != 0 {
		t.Fatalf("stale entries not evicted: %+v", status)
	}
}

func TestConcurrentJoinLeave(t *testing.T) {
	ctx := context.Background()
	// Large match size so formation never fires during the churn.
	svc, _ := newQueueService(t, queue.Config{MatchSize: 1000})

	const workers = 50
	var wg sync.WaitGroup
	for i := 1; i <= workers; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if _, err := svc.Join(ctx, queue.JoinRequest{UserID: id, DisplayName: fmt.Sprintf("P%d", id)}); err != nil {
					t.Errorf("join: %v", err)
					return
				}
				if _, err := svc.Status(ctx, id); err != nil {
					t.Errorf("status: %v", err)
					return
				}
				svc.Leave(ctx, id)
			}
			if _, err := svc.Join(ctx, queue.JoinRequest{UserID: id, DisplayName: fmt.Sprintf("P%d", id)}); err != nil {
				t.Errorf("final join: %v", err)
			}
		}(int64(i))
	}
	wg.Wait()

	// Every worker ends with exactly one live entry.
	if svc.TotalQueued() != workers {
		t.Fatalf("expected %d entries after churn, got %d", workers, svc.TotalQueued())
	}
}

func TestFormationUsesSnakeDraftOrdering(t *testing.T) {
	svc, creator := newQueueService(t, queue.Config{})
	joinN(t, svc, 10)

	params := creator.created[0]
	recombined := append(append([]balance.Player{}, params.Split.Blue...), params.Split.Red...)
	direct := balance.SplitTeams(recombined)

	if direct.RatingGap != params.Split.RatingGap {
		t.Fatalf("formation split diverges from balancer: %d vs %d", params.Split.RatingGap, direct.RatingGap)
	}
}
