package calendar_sync

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kinsync/kinsync/internal/config"
	"github.com/kinsync/kinsync/internal/utils"
	"github.com/kinsync/kinsync/pkg/calendar"
	"github.com/kinsync/kinsync/pkg/external_account"
	"github.com/kinsync/kinsync/pkg/google"
	"github.com/kinsync/kinsync/pkg/sync_mapping"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

var ErrSyncDisabled = errors.New("external calendar sync is disabled")

type State string

const (
	StateDisconnected State = "disconnected"
	StateIdle         State = "idle"
	StateSyncing      State = "syncing"
)

// Result summarizes one sync pass.
type Result struct {
	Pushed         int
	Pulled         int
	Deleted        int
	Conflicts      int
	FailedEventIds []string
}

type TokenVault interface {
	GetValidToken(ctx context.Context, userId int) (*oauth2.Token, error)
	Account(ctx context.Context, userId int) (external_account.Account, error)
	SaveSyncState(ctx context.Context, userId int, syncToken string) error
	MarkReauthRequired(ctx context.Context, userId int) error
	ListSyncEnabledUserIds(ctx context.Context) ([]int, error)
}

type EventStore interface {
	ListSyncableEvents(ctx context.Context, userId int, endAfter time.Time) ([]calendar.Event, error)
	LiveEventIds(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error)
	ApplyRemoteChange(ctx context.Context, userId int, id uuid.UUID, change calendar.RemoteChange) (calendar.Event, error)
	ImportRemoteEvent(ctx context.Context, userId int, calendarId string, change calendar.RemoteChange) (calendar.Event, error)
	DeleteEventAs(ctx context.Context, userId int, id uuid.UUID) error
}

// Orchestrator runs push/pull passes between the event store and the users' external calendars.
// Passes of one user never overlap, passes of different users run concurrently.
type Orchestrator struct {
	vault    TokenVault
	events   EventStore
	mappings sync_mapping.Repository
	client   google.Client
	clock    utils.Clock
	cfg      config.Sync

	group singleflight.Group

	mu      sync.Mutex
	syncing map[int]bool
	// passSeq numbers the passes of each user in start order.
	passSeq map[int]uint64

	queued map[int]bool
	// wantAfter is the pass number a queued trigger must get past.
	wantAfter map[int]uint64

	baseCtx  context.Context
	shutdown context.CancelFunc
	wg       sync.WaitGroup
}

func NewOrchestrator(
	vault TokenVault,
	events EventStore,
	mappings sync_mapping.Repository,
	client google.Client,
	clock utils.Clock,
	cfg config.Sync,
) *Orchestrator {
	baseCtx, shutdown := context.WithCancel(context.Background())
	return &Orchestrator{
		vault:    vault,
		events:   events,
		mappings: mappings,
		client:   client,
		clock:    clock,
		cfg:      cfg,
		syncing:   make(map[int]bool),
		passSeq:   make(map[int]uint64),
		queued:    make(map[int]bool),
		wantAfter: make(map[int]uint64),
		baseCtx:   baseCtx,
		shutdown:  shutdown,
	}
}

type passOutcome struct {
	result Result
	seq    uint64
}

// RunSync runs a pass for the user and waits for its result. A call arriving while a pass
// of the same user is running joins that pass. The pass itself is detached from ctx
// cancellation and bounded by the pass timeout.
func (o *Orchestrator) RunSync(ctx context.Context, userId int) (Result, error) {
	outcome, err := o.runOnce(ctx, userId)
	return outcome.result, err
}

func (o *Orchestrator) runOnce(ctx context.Context, userId int) (passOutcome, error) {
	ch := o.group.DoChan(strconv.Itoa(userId), func() (any, error) {
		o.mu.Lock()
		o.passSeq[userId]++
		seq := o.passSeq[userId]
		o.mu.Unlock()

		passCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.PassTimeout)
		defer cancel()
		result, err := o.runPass(passCtx, userId)
		return passOutcome{result: result, seq: seq}, err
	})
	select {
	case res := <-ch:
		outcome, _ := res.Val.(passOutcome)
		return outcome, res.Err
	case <-ctx.Done():
		return passOutcome{}, ctx.Err()
	}
}

// Trigger schedules a pass that starts after the call, whoever started the pass running
// at that moment. Triggers arriving while one is queued are collapsed into a single
// follow-up pass.
func (o *Orchestrator) Trigger(userId int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.baseCtx.Err() != nil {
		return
	}
	o.wantAfter[userId] = o.passSeq[userId]
	if o.queued[userId] {
		return
	}
	o.queued[userId] = true
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		for {
			outcome, err := o.runOnce(context.WithoutCancel(o.baseCtx), userId)
			if err != nil && !expectedSkip(err) {
				log.Warnf("background sync of user %d failed: %v", userId, err)
			}
			o.mu.Lock()
			// a joined pass that started before the latest trigger does not count
			if outcome.seq > o.wantAfter[userId] || o.baseCtx.Err() != nil {
				delete(o.queued, userId)
				delete(o.wantAfter, userId)
				o.mu.Unlock()
				return
			}
			o.mu.Unlock()
		}
	}()
}

// Shutdown stops accepting triggers and waits for background passes.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.shutdown()
	o.mu.Unlock()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State reports the sync state of a user: disconnected without a usable account, syncing during a pass, idle otherwise.
func (o *Orchestrator) State(ctx context.Context, userId int) (State, error) {
	account, err := o.vault.Account(ctx, userId)
	if errors.Is(err, external_account.ErrNotConnected) {
		return StateDisconnected, nil
	}
	if err != nil {
		return "", err
	}
	if account.ReauthRequired {
		return StateDisconnected, nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.syncing[userId] {
		return StateSyncing, nil
	}
	return StateIdle, nil
}

func (o *Orchestrator) setSyncing(userId int, syncing bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if syncing {
		o.syncing[userId] = true
	} else {
		delete(o.syncing, userId)
	}
}

func (o *Orchestrator) runPass(ctx context.Context, userId int) (Result, error) {
	o.setSyncing(userId, true)
	defer o.setSyncing(userId, false)

	started := time.Now()
	result, err := o.pass(ctx, userId)
	passDuration.Observe(time.Since(started).Seconds())

	fields := log.Fields{
		"userId":    userId,
		"pushed":    result.Pushed,
		"pulled":    result.Pulled,
		"deleted":   result.Deleted,
		"conflicts": result.Conflicts,
		"failed":    len(result.FailedEventIds),
		"duration":  time.Since(started).Round(time.Millisecond),
	}
	switch {
	case err == nil:
		recordPass("success", result)
		log.WithFields(fields).Info("sync pass finished")
	case expectedSkip(err):
		recordPass("skipped", result)
		log.WithFields(fields).Debugf("sync pass skipped: %v", err)
	default:
		recordPass("error", result)
		log.WithFields(fields).Errorf("sync pass failed: %v", err)
	}
	return result, err
}

func expectedSkip(err error) bool {
	return errors.Is(err, ErrSyncDisabled) ||
		errors.Is(err, external_account.ErrNotConnected) ||
		errors.Is(err, external_account.ErrReauthRequired)
}

func (o *Orchestrator) now() time.Time {
	return o.clock.Now().UTC()
}
