package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TBoris/gorynych/pkg/eventstore"
)

func archiveURL(url string) eventstore.PersistedEvent {
	return eventstore.PersistedEvent{
		Seq: 1,
		Event: eventstore.ArchiveURLReceived{
			Base: eventstore.NewBase("race-1", eventstore.AggregateRace,
				time.Unix(1347704100, 0).UTC()),
			URL: url,
		},
	}
}

func TestArchiveURLHeldLease(t *testing.T) {
	svc := InitProcessorService(nil, nil, &fakeAPI{})
	require.True(t, svc.leases.Acquire("http://race/archive.zip"))

	err := svc.HandleArchiveURL(context.Background(),
		archiveURL("http://race/archive.zip"))
	assert.ErrorIs(t, err, ErrInProgress)
}

func TestArchiveURLReleasesLeaseOnFailure(t *testing.T) {
	svc := InitProcessorService(nil, nil, &fakeAPI{})

	err := svc.HandleArchiveURL(context.Background(),
		archiveURL("http://race/archive.zip"))
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrInProgress)

	// the failed unpack attempt freed the lease for the redelivery
	err = svc.HandleArchiveURL(context.Background(),
		archiveURL("http://race/archive.zip"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInProgress)
}
