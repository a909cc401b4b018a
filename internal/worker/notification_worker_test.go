package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardops/internal/models"
	"cardops/internal/util"
)

type fakeNotificationStore struct {
	notifications []models.Notification
	prunedAfter   []time.Duration
	pruneErr      error
}

func (f *fakeNotificationStore) CreateNotification(_ context.Context, n *models.Notification) error {
	f.notifications = append(f.notifications, *n)
	return nil
}

func (f *fakeNotificationStore) PruneNotifications(_ context.Context, olderThan time.Duration) (int64, error) {
	f.prunedAfter = append(f.prunedAfter, olderThan)
	return 3, f.pruneErr
}

type fakeFailureMailer struct {
	subjects []string
}

func (f *fakeFailureMailer) Send(subject, _ string) error {
	f.subjects = append(f.subjects, subject)
	return nil
}

func newTestNotificationWorker(st *fakeNotificationStore, mailer FailureMailer) *NotificationWorker {
	return &NotificationWorker{
		store:     st,
		mailer:    mailer,
		retention: 14 * 24 * time.Hour,
		logger:    util.GetLogger(),
		stop:      make(chan struct{}),
	}
}

func TestPruneExpiredUsesRetentionWindow(t *testing.T) {
	st := &fakeNotificationStore{}
	w := newTestNotificationWorker(st, nil)

	w.pruneExpired(context.Background())

	require.Len(t, st.prunedAfter, 1)
	assert.Equal(t, 14*24*time.Hour, st.prunedAfter[0])
}

func TestPruneExpiredSurvivesStoreError(t *testing.T) {
	st := &fakeNotificationStore{pruneErr: errors.New("db down")}
	w := newTestNotificationWorker(st, nil)

	w.pruneExpired(context.Background())

	assert.Len(t, st.prunedAfter, 1)
}

func TestTerminalFailureMailsAndRecords(t *testing.T) {
	st := &fakeNotificationStore{}
	mailer := &fakeFailureMailer{}
	w := newTestNotificationWorker(st, mailer)

	err := w.onFailed(context.Background(), &models.JobFailedEvent{
		JobID:      "job-9",
		Kind:       models.JobKindPSACert,
		ExternalID: "555",
		Attempt:    4,
		Reason:     "upstream down",
		ErrorKind:  "NETWORK_ERROR",
	})
	require.NoError(t, err)

	require.Len(t, mailer.subjects, 1)
	assert.Contains(t, mailer.subjects[0], "555")

	require.Len(t, st.notifications, 1)
	assert.Equal(t, models.NotificationError, st.notifications[0].Type)
}

func TestTerminalFailureWithoutMailerStillRecords(t *testing.T) {
	st := &fakeNotificationStore{}
	w := newTestNotificationWorker(st, nil)

	err := w.onFailed(context.Background(), &models.JobFailedEvent{
		JobID: "job-10", Kind: models.JobKindPSACert, ExternalID: "556", Attempt: 4,
	})
	require.NoError(t, err)
	assert.Len(t, st.notifications, 1)
}
