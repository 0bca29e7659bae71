package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fenilmodi00/giftlist-backend/models"
	"github.com/fenilmodi00/giftlist-backend/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopbackChannel drives a real coordinator in process
type loopbackChannel struct {
	coordinator *UpdateCoordinator
	updates     chan models.SessionMessage
	sent        []models.SessionMessage
	mutex       sync.Mutex
}

func (l *loopbackChannel) Broadcast(msg models.SessionMessage) {
	l.updates <- msg
}

func (l *loopbackChannel) Request(ctx context.Context, msg models.SessionMessage) (models.SessionMessage, error) {
	reply, err := l.coordinator.HandleMessage(ctx, msg)
	if err != nil || reply == nil {
		return models.SessionMessage{}, err
	}
	return *reply, nil
}

func (l *loopbackChannel) Send(ctx context.Context, msg models.SessionMessage) error {
	l.mutex.Lock()
	l.sent = append(l.sent, msg)
	l.mutex.Unlock()

	go func() {
		reply, _ := l.coordinator.HandleMessage(context.Background(), msg)
		if reply != nil {
			l.updates <- *reply
		}
	}()
	return nil
}

func (l *loopbackChannel) Updates() <-chan models.SessionMessage {
	return l.updates
}

type scriptedPrompter struct {
	answer    bool
	questions []string
}

func (p *scriptedPrompter) Confirm(ctx context.Context, question string) (bool, error) {
	p.questions = append(p.questions, question)
	return p.answer, nil
}

type recordingReloader struct {
	channel  *loopbackChannel
	versions []string
	active   []string
}

func (r *recordingReloader) Reload(ctx context.Context, version string) error {
	r.versions = append(r.versions, version)
	status, err := r.channel.coordinator.Status(ctx)
	if err != nil {
		return err
	}
	if status.Active != nil {
		r.active = append(r.active, status.Active.Version)
	}
	return nil
}

func newCheckerFixture(t *testing.T, answer bool) (*UpdateChecker, *loopbackChannel, *scriptedPrompter, *recordingReloader) {
	t.Helper()
	channel := &loopbackChannel{updates: make(chan models.SessionMessage, 16)}
	coordinator, _, _, _ := testCoordinator(false)
	coordinator.broadcaster = channel
	channel.coordinator = coordinator

	ctx := context.Background()
	_, err := coordinator.Install(ctx, GenerationSpec{Version: "v1", Resources: defaultResources})
	require.NoError(t, err)
	require.NoError(t, coordinator.SkipWaiting(ctx))

	prompter := &scriptedPrompter{answer: answer}
	reloader := &recordingReloader{channel: channel}
	return NewUpdateChecker(channel, prompter, reloader, time.Second), channel, prompter, reloader
}

func TestCheckForUpdateActivatesWaitingGenerationBeforeReload(t *testing.T) {
	checker, channel, prompter, reloader := newCheckerFixture(t, true)
	_, err := channel.coordinator.Install(context.Background(), GenerationSpec{Version: "v2", Resources: defaultResources})
	require.NoError(t, err)

	outcome, err := checker.CheckForUpdate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeUpdated, outcome)
	require.Len(t, prompter.questions, 1)
	assert.Contains(t, prompter.questions[0], "v2")
	assert.Equal(t, []string{"v2"}, reloader.versions)
	assert.Equal(t, []string{"v2"}, reloader.active, "new generation controls before reload")
	assert.Equal(t, models.MessageSkipWaiting, channel.sent[0].Type)
}

func TestCheckForUpdateDeclined(t *testing.T) {
	checker, channel, _, reloader := newCheckerFixture(t, false)
	_, err := channel.coordinator.Install(context.Background(), GenerationSpec{Version: "v2", Resources: defaultResources})
	require.NoError(t, err)

	outcome, err := checker.CheckForUpdate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeclined, outcome)
	assert.Empty(t, reloader.versions)
	assert.Empty(t, channel.sent)
}

func TestCheckForUpdateOffersHardReset(t *testing.T) {
	checker, channel, prompter, reloader := newCheckerFixture(t, true)

	outcome, err := checker.CheckForUpdate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeReset, outcome)
	assert.Contains(t, prompter.questions[0], "Clear all caches")
	assert.Equal(t, models.MessageClearCaches, channel.sent[0].Type)
	assert.Equal(t, []string{"v1"}, reloader.versions)
}

func TestCheckForUpdateNothingWaitingDeclined(t *testing.T) {
	checker, _, _, reloader := newCheckerFixture(t, false)

	outcome, err := checker.CheckForUpdate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpToDate, outcome)
	assert.Empty(t, reloader.versions)
}

func TestCheckForUpdateFailedResetDoesNotReload(t *testing.T) {
	checker, channel, _, reloader := newCheckerFixture(t, true)
	channel.coordinator.fetcher.(*fakeFetcher).setOffline(true)

	_, err := checker.CheckForUpdate(context.Background())
	require.Error(t, err)
	assert.True(t, shared.IsCategory(err, shared.ErrorCategoryLifecycle))
	assert.Empty(t, reloader.versions)
}

type silentChannel struct {
	updates chan models.SessionMessage
}

func (s *silentChannel) Request(ctx context.Context, msg models.SessionMessage) (models.SessionMessage, error) {
	return models.SessionMessage{Type: models.MessageCacheInfo, RequestID: msg.RequestID, WaitingVersion: "v9"}, nil
}

func (s *silentChannel) Send(ctx context.Context, msg models.SessionMessage) error { return nil }

func (s *silentChannel) Updates() <-chan models.SessionMessage { return s.updates }

func TestCheckForUpdateTimesOutWithoutBroadcast(t *testing.T) {
	channel := &silentChannel{updates: make(chan models.SessionMessage, 1)}
	channel.updates <- models.SessionMessage{Type: models.MessageUpdated, Version: "v9"}
	reloader := &recordingReloader{}
	checker := NewUpdateChecker(channel, &scriptedPrompter{answer: true}, reloader, 20*time.Millisecond)

	_, err := checker.CheckForUpdate(context.Background())
	require.Error(t, err)
	assert.True(t, shared.IsCategory(err, shared.ErrorCategoryTimeout), "stale broadcast is ignored")
	assert.Empty(t, reloader.versions)
}
