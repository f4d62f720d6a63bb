package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPinger struct{ mock.Mock }

func (m *mockPinger) Ping(ctx context.Context) error { return m.Called(ctx).Error(0) }

type pingResult struct{ err error }

func (p pingResult) Err() error { return p.err }

type fakeRedis struct{ err error }

func (f fakeRedis) Ping(context.Context) RedisPingResult { return pingResult{f.err} }

func TestBuildReadinessChecks_Database(t *testing.T) {
	db, red := BuildReadinessChecks(nil, nil)
	assert.Error(t, db(context.Background()))
	assert.Nil(t, red)

	p := &mockPinger{}
	p.On("Ping", mock.Anything).Return(nil).Once()
	p.On("Ping", mock.Anything).Return(errors.New("connection failed")).Once()
	db, _ = BuildReadinessChecks(p, nil)
	require.NoError(t, db(context.Background()))
	assert.EqualError(t, db(context.Background()), "connection failed")
	p.AssertExpectations(t)
}

func TestBuildReadinessChecks_Redis(t *testing.T) {
	_, red := BuildReadinessChecks(nil, fakeRedis{})
	require.NotNil(t, red)
	assert.NoError(t, red(context.Background()))

	_, red = BuildReadinessChecks(nil, fakeRedis{err: context.DeadlineExceeded})
	assert.ErrorIs(t, red(context.Background()), context.DeadlineExceeded)
}
