package calendar_sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kinsync/kinsync/pkg/calendar"
	"github.com/kinsync/kinsync/pkg/external_account"
	"github.com/kinsync/kinsync/pkg/google"
	"github.com/kinsync/kinsync/pkg/sync_mapping"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

var errStore = errors.New("sync store failure")

type pass struct {
	o          *Orchestrator
	userId     int
	calendarId string
	token      *oauth2.Token
	now        time.Time
	// remote holds the fetched changes by external id
	remote map[string]google.RemoteEvent
	// handled are external ids written by this pass, their listed versions are stale
	handled    map[string]bool
	conflicted map[string]bool
	pullFailed bool
	result     Result
}

func (o *Orchestrator) pass(ctx context.Context, userId int) (Result, error) {
	account, err := o.vault.Account(ctx, userId)
	if err != nil {
		return Result{}, err
	}
	if account.ReauthRequired {
		return Result{}, external_account.ErrReauthRequired
	}
	if !account.SyncEnabled {
		return Result{}, ErrSyncDisabled
	}
	token, err := o.vault.GetValidToken(ctx, userId)
	if err != nil {
		return Result{}, err
	}

	p := &pass{
		o:          o,
		userId:     userId,
		calendarId: account.CalendarId,
		token:      token,
		now:        o.now(),
		remote:     make(map[string]google.RemoteEvent),
		handled:    make(map[string]bool),
		conflicted: make(map[string]bool),
		result:     Result{FailedEventIds: []string{}},
	}

	changes, err := p.fetchChanges(ctx, account.SyncToken)
	if err != nil {
		return p.result, p.abort(ctx, err)
	}
	for _, change := range changes.Events {
		p.remote[change.Id] = change
	}
	if err := p.push(ctx); err != nil {
		return p.result, p.abort(ctx, err)
	}
	if err := p.deleteOrphans(ctx); err != nil {
		return p.result, p.abort(ctx, err)
	}
	if err := p.pull(ctx, changes.Events); err != nil {
		return p.result, p.abort(ctx, err)
	}

	// failed pulls are listed again by the next pass
	nextSyncToken := changes.NextSyncToken
	if p.pullFailed {
		nextSyncToken = account.SyncToken
	}
	if err := o.vault.SaveSyncState(ctx, userId, nextSyncToken); err != nil {
		return p.result, fmt.Errorf("failed to save sync state of user %d: %w", userId, err)
	}
	return p.result, nil
}

func (p *pass) abort(ctx context.Context, err error) error {
	if errors.Is(err, google.ErrUnauthorized) {
		if markErr := p.o.vault.MarkReauthRequired(context.WithoutCancel(ctx), p.userId); markErr != nil {
			log.Errorf("failed to mark account of user %d for reauthorization: %v", p.userId, markErr)
		}
		return fmt.Errorf("%w: %w", external_account.ErrReauthRequired, err)
	}
	return err
}

// recoverable records a per-event failure. It returns err when the whole pass has to stop.
func (p *pass) recoverable(ctx context.Context, id string, err error) error {
	if errors.Is(err, google.ErrUnauthorized) || errors.Is(err, errStore) || ctx.Err() != nil {
		return err
	}
	log.Warnf("sync of event %s for user %d failed: %v", id, p.userId, err)
	p.result.FailedEventIds = append(p.result.FailedEventIds, id)
	return nil
}

func (p *pass) fetchChanges(ctx context.Context, syncToken string) (google.ChangeSet, error) {
	timeMin := p.now.AddDate(0, 0, -p.o.cfg.PastDays)
	var changes google.ChangeSet
	list := func(token string) error {
		return p.o.call(ctx, func(ctx context.Context) error {
			var err error
			changes, err = p.o.client.ListEventChanges(ctx, p.token, p.calendarId, token, timeMin)
			return err
		})
	}
	err := list(syncToken)
	if errors.Is(err, google.ErrSyncTokenExpired) && syncToken != "" {
		log.Infof("sync token of user %d expired, listing calendar %q again", p.userId, p.calendarId)
		err = list("")
	}
	if err != nil {
		return google.ChangeSet{}, fmt.Errorf("failed to list changes of calendar %q: %w", p.calendarId, err)
	}
	return changes, nil
}

func (p *pass) push(ctx context.Context) error {
	events, err := p.o.events.ListSyncableEvents(ctx, p.userId, p.now.AddDate(0, 0, -p.o.cfg.PastDays))
	if err != nil {
		return fmt.Errorf("%w: failed to list syncable events: %w", errStore, err)
	}
	relinkable, err := p.relinkCandidates(ctx)
	if err != nil {
		return err
	}
	for _, event := range events {
		if err := p.pushEvent(ctx, event, relinkable); err != nil {
			if err := p.recoverable(ctx, event.Id.String(), err); err != nil {
				return err
			}
		}
	}
	return nil
}

// relinkCandidates are listed external events carrying our id without a mapping, e.g. after a reconnect.
func (p *pass) relinkCandidates(ctx context.Context) (map[uuid.UUID]google.RemoteEvent, error) {
	candidates := make(map[uuid.UUID]google.RemoteEvent)
	for _, remote := range p.remote {
		if remote.Cancelled() || remote.InternalId == "" {
			continue
		}
		eventId, err := uuid.Parse(remote.InternalId)
		if err != nil {
			continue
		}
		_, err = p.o.mappings.GetByExternalId(ctx, p.userId, p.calendarId, remote.Id)
		if errors.Is(err, sync_mapping.ErrMappingNotFound) {
			candidates[eventId] = remote
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errStore, err)
		}
	}
	return candidates, nil
}

func (p *pass) pushEvent(ctx context.Context, event calendar.Event, relinkable map[uuid.UUID]google.RemoteEvent) error {
	mapping, err := p.o.mappings.GetByEventId(ctx, p.userId, p.calendarId, event.Id)
	if errors.Is(err, sync_mapping.ErrMappingNotFound) {
		remote, ok := relinkable[event.Id]
		if !ok {
			return p.insert(ctx, event)
		}
		mapping, err = p.saveMapping(ctx, sync_mapping.Mapping{
			UserId:          p.userId,
			EventId:         event.Id,
			CalendarId:      p.calendarId,
			ExternalEventId: remote.Id,
			Etag:            remote.Etag,
		})
		if err != nil {
			return err
		}
		log.Debugf("relinked event %s to external event %s", event.Id, remote.Id)
	} else if err != nil {
		return fmt.Errorf("%w: %w", errStore, err)
	}

	if !event.UpdatedAt.After(mapping.LastSynced) {
		return nil
	}
	if remote, ok := p.remote[mapping.ExternalEventId]; ok && remote.Etag != mapping.Etag {
		// changed on both sides, the remote version is applied by pull
		p.conflicted[mapping.ExternalEventId] = true
		return nil
	}
	return p.update(ctx, event, mapping)
}

func (p *pass) insert(ctx context.Context, event calendar.Event) error {
	var created google.RemoteEvent
	err := p.o.call(ctx, func(ctx context.Context) error {
		var err error
		created, err = p.o.client.InsertEvent(ctx, p.token, p.calendarId, toRemote(event))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to insert event %s: %w", event.Id, err)
	}
	p.handled[created.Id] = true
	_, err = p.saveMapping(ctx, sync_mapping.Mapping{
		UserId:          p.userId,
		EventId:         event.Id,
		CalendarId:      p.calendarId,
		ExternalEventId: created.Id,
		LastSynced:      event.UpdatedAt,
		Etag:            created.Etag,
	})
	if err != nil {
		return err
	}
	p.result.Pushed++
	return nil
}

func (p *pass) update(ctx context.Context, event calendar.Event, mapping sync_mapping.Mapping) error {
	remote := toRemote(event)
	remote.Id = mapping.ExternalEventId
	var updated google.RemoteEvent
	err := p.o.call(ctx, func(ctx context.Context) error {
		var err error
		updated, err = p.o.client.UpdateEvent(ctx, p.token, p.calendarId, remote)
		return err
	})
	if errors.Is(err, google.ErrNotFound) {
		log.Infof("external copy of event %s is gone, inserting it again", event.Id)
		return p.insert(ctx, event)
	}
	if err != nil {
		return fmt.Errorf("failed to update event %s: %w", event.Id, err)
	}
	p.handled[updated.Id] = true
	mapping.ExternalEventId = updated.Id
	mapping.LastSynced = event.UpdatedAt
	mapping.Etag = updated.Etag
	mapping.Conflict = false
	if _, err := p.saveMapping(ctx, mapping); err != nil {
		return err
	}
	p.result.Pushed++
	return nil
}

// deleteOrphans removes external copies of events that were deleted or rejected internally.
func (p *pass) deleteOrphans(ctx context.Context) error {
	mappings, err := p.o.mappings.ListForCalendar(ctx, p.userId, p.calendarId)
	if err != nil {
		return fmt.Errorf("%w: %w", errStore, err)
	}
	if len(mappings) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(mappings))
	for _, m := range mappings {
		ids = append(ids, m.EventId)
	}
	live, err := p.o.events.LiveEventIds(ctx, ids)
	if err != nil {
		return fmt.Errorf("%w: %w", errStore, err)
	}

	for _, m := range mappings {
		if live[m.EventId] {
			continue
		}
		err := p.o.call(ctx, func(ctx context.Context) error {
			return p.o.client.DeleteEvent(ctx, p.token, p.calendarId, m.ExternalEventId)
		})
		if err != nil && !errors.Is(err, google.ErrNotFound) {
			if err := p.recoverable(ctx, m.EventId.String(), fmt.Errorf("failed to delete external event %s: %w", m.ExternalEventId, err)); err != nil {
				return err
			}
			continue
		}
		p.handled[m.ExternalEventId] = true
		if err := p.o.mappings.Delete(ctx, m.Id); err != nil {
			return fmt.Errorf("%w: %w", errStore, err)
		}
		p.result.Deleted++
	}
	return nil
}

func (p *pass) pull(ctx context.Context, changes []google.RemoteEvent) error {
	for _, change := range changes {
		if p.handled[change.Id] {
			continue
		}
		if err := p.pullChange(ctx, change); err != nil {
			if err := p.recoverable(ctx, change.Id, err); err != nil {
				return err
			}
			p.pullFailed = true
		}
	}
	return nil
}

func (p *pass) pullChange(ctx context.Context, change google.RemoteEvent) error {
	mapping, err := p.o.mappings.GetByExternalId(ctx, p.userId, p.calendarId, change.Id)
	if errors.Is(err, sync_mapping.ErrMappingNotFound) {
		return p.pullUnmapped(ctx, change)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", errStore, err)
	}

	if change.Cancelled() {
		err := p.o.events.DeleteEventAs(ctx, p.userId, mapping.EventId)
		switch {
		case err == nil, errors.Is(err, calendar.ErrEventNotFound):
			p.result.Deleted++
		case errors.Is(err, calendar.ErrPermissionDenied):
			log.Infof("user %d may not delete event %s, its external copy will be restored", p.userId, mapping.EventId)
		default:
			return fmt.Errorf("failed to delete event %s: %w", mapping.EventId, err)
		}
		if err := p.o.mappings.Delete(ctx, mapping.Id); err != nil {
			return fmt.Errorf("%w: %w", errStore, err)
		}
		return nil
	}

	if change.Etag == mapping.Etag {
		return nil
	}

	updated, err := p.o.events.ApplyRemoteChange(ctx, p.userId, mapping.EventId, toChange(change))
	switch {
	case errors.Is(err, calendar.ErrPermissionDenied):
		// the next push overwrites the external copy
		mapping.LastSynced = time.Time{}
		mapping.Etag = change.Etag
		_, err := p.saveMapping(ctx, mapping)
		return err
	case errors.Is(err, calendar.ErrEventNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("failed to apply change of external event %s: %w", change.Id, err)
	}

	conflict := p.conflicted[change.Id]
	mapping.LastSynced = updated.UpdatedAt
	mapping.Etag = change.Etag
	mapping.Conflict = conflict
	if _, err := p.saveMapping(ctx, mapping); err != nil {
		return err
	}
	p.result.Pulled++
	if conflict {
		p.result.Conflicts++
	}
	return nil
}

func (p *pass) pullUnmapped(ctx context.Context, change google.RemoteEvent) error {
	if change.Cancelled() {
		return nil
	}
	if change.InternalId != "" {
		log.Debugf("ignoring stale copy %s of event %s", change.Id, change.InternalId)
		return nil
	}
	imported, err := p.o.events.ImportRemoteEvent(ctx, p.userId, p.calendarId, toChange(change))
	if err != nil {
		return fmt.Errorf("failed to import external event %s: %w", change.Id, err)
	}
	_, err = p.saveMapping(ctx, sync_mapping.Mapping{
		UserId:          p.userId,
		EventId:         imported.Id,
		CalendarId:      p.calendarId,
		ExternalEventId: change.Id,
		LastSynced:      imported.UpdatedAt,
		Etag:            change.Etag,
	})
	if err != nil {
		return err
	}
	p.result.Pulled++
	return nil
}

func (p *pass) saveMapping(ctx context.Context, mapping sync_mapping.Mapping) (sync_mapping.Mapping, error) {
	saved, err := p.o.mappings.Upsert(ctx, mapping)
	if err != nil {
		return sync_mapping.Mapping{}, fmt.Errorf("%w: %w", errStore, err)
	}
	return saved, nil
}

func toRemote(e calendar.Event) google.RemoteEvent {
	return google.RemoteEvent{
		Summary:     e.Title,
		Description: e.Description,
		Location:    e.Location,
		Start:       e.StartTime,
		End:         e.EndTime,
		AllDay:      e.AllDay,
		InternalId:  e.Id.String(),
	}
}

func toChange(r google.RemoteEvent) calendar.RemoteChange {
	return calendar.RemoteChange{
		Title:       r.Summary,
		Description: r.Description,
		Location:    r.Location,
		StartTime:   r.Start,
		EndTime:     r.End,
		AllDay:      r.AllDay,
	}
}
