package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fenilmodi00/giftlist-backend/models"
	"github.com/fenilmodi00/giftlist-backend/shared"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const updateCheckerService = "UpdateChecker"

// CoordinatorChannel is the session end of the coordinator channel
type CoordinatorChannel interface {
	Request(ctx context.Context, msg models.SessionMessage) (models.SessionMessage, error)
	Send(ctx context.Context, msg models.SessionMessage) error
	Updates() <-chan models.SessionMessage
}

// Prompter asks the user a yes/no question
type Prompter interface {
	Confirm(ctx context.Context, question string) (bool, error)
}

// Reloader restarts the session on the new generation
type Reloader interface {
	Reload(ctx context.Context, version string) error
}

// UpdateOutcome is how a manual update check ended
type UpdateOutcome string

const (
	OutcomeUpdated  UpdateOutcome = "updated"
	OutcomeDeclined UpdateOutcome = "declined"
	OutcomeReset    UpdateOutcome = "reset"
	OutcomeUpToDate UpdateOutcome = "up_to_date"
)

// UpdateChecker runs the user-triggered update choreography
type UpdateChecker struct {
	channel  CoordinatorChannel
	prompter Prompter
	reloader Reloader
	timeout  time.Duration
}

// NewUpdateChecker creates a checker; timeout bounds the wait for SW_UPDATED
func NewUpdateChecker(channel CoordinatorChannel, prompter Prompter, reloader Reloader, timeout time.Duration) *UpdateChecker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &UpdateChecker{
		channel:  channel,
		prompter: prompter,
		reloader: reloader,
		timeout:  timeout,
	}
}

// CheckForUpdate offers a waiting generation, or a hard reset when none waits.
// The session is reloaded only after the coordinator broadcasts that the
// expected generation is in control.
func (u *UpdateChecker) CheckForUpdate(ctx context.Context) (UpdateOutcome, error) {
	logger := logrus.WithField("component", updateCheckerService)

	info, err := u.channel.Request(ctx, models.SessionMessage{
		Type:      models.MessageGetCacheInfo,
		RequestID: uuid.NewString(),
	})
	if err != nil {
		return "", err
	}
	if info.Type == models.MessageError {
		return "", shared.NewServiceError(shared.ErrorCategoryLifecycle, "CACHE_INFO_FAILED",
			info.Error, updateCheckerService, "CheckForUpdate", false, nil)
	}

	if info.WaitingVersion != "" {
		ok, err := u.prompter.Confirm(ctx, fmt.Sprintf("Version %s is available. Update now?", info.WaitingVersion))
		if err != nil {
			return "", err
		}
		if !ok {
			return OutcomeDeclined, nil
		}

		logger.WithField("version", info.WaitingVersion).Info("Activating waiting generation")
		msg := models.SessionMessage{Type: models.MessageSkipWaiting, RequestID: uuid.NewString()}
		if err := u.sendAndAwait(ctx, msg, info.WaitingVersion); err != nil {
			return "", err
		}
		if err := u.reloader.Reload(ctx, info.WaitingVersion); err != nil {
			return "", err
		}
		return OutcomeUpdated, nil
	}

	ok, err := u.prompter.Confirm(ctx, "No update is waiting. Clear all caches and reload?")
	if err != nil {
		return "", err
	}
	if !ok {
		return OutcomeUpToDate, nil
	}

	logger.WithField("version", info.Version).Warn("Clearing caches")
	msg := models.SessionMessage{Type: models.MessageClearCaches, RequestID: uuid.NewString()}
	if err := u.sendAndAwait(ctx, msg, info.Version); err != nil {
		return "", err
	}
	if err := u.reloader.Reload(ctx, info.Version); err != nil {
		return "", err
	}
	return OutcomeReset, nil
}

// sendAndAwait sends msg and waits for SW_UPDATED carrying version (any
// version when empty) or an ERROR answering msg
func (u *UpdateChecker) sendAndAwait(ctx context.Context, msg models.SessionMessage, version string) error {
	updates := u.channel.Updates()
	drain(updates)

	if err := u.channel.Send(ctx, msg); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	for {
		select {
		case <-waitCtx.Done():
			if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
				return shared.NewTimeoutError(updateCheckerService, string(msg.Type), u.timeout, waitCtx.Err())
			}
			return waitCtx.Err()
		case update, open := <-updates:
			if !open {
				return shared.NewNetworkError(updateCheckerService, string(msg.Type), errors.New("session channel closed"))
			}
			switch {
			case update.Type == models.MessageUpdated && (version == "" || update.Version == version):
				return nil
			case update.Type == models.MessageError && update.RequestID == msg.RequestID:
				return shared.NewServiceError(shared.ErrorCategoryLifecycle, "UPDATE_FAILED",
					update.Error, updateCheckerService, string(msg.Type), false, nil)
			}
		}
	}
}

func drain(ch <-chan models.SessionMessage) {
	for {
		select {
		case _, open := <-ch:
			if !open {
				return
			}
		default:
			return
		}
	}
}
