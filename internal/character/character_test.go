package character

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/eve-market/internal/esi"
)

type fakeProfiles struct {
	err   error
	calls int
}

func (f *fakeProfiles) Character(_ context.Context, id int64) (*esi.Character, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &esi.Character{Name: "Trader One", CorporationID: 1000125}, nil
}

func TestRun_NoCharacterIsSkipped(t *testing.T) {
	api := &fakeProfiles{}
	res, err := New(0, api, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Items)
	assert.Contains(t, res.Details, "skipped")
	assert.Zero(t, api.calls)
}

func TestRun_FetchesProfile(t *testing.T) {
	res, err := New(90000001, &fakeProfiles{}, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Items)
	assert.Equal(t, "Trader One", res.Details["name"])
	assert.Equal(t, "skipped: requires SSO", res.Details["wallet"])
}

func TestRun_ProfileError(t *testing.T) {
	_, err := New(90000001, &fakeProfiles{err: errors.New("esi error 404: not found")}, nil).Run(context.Background())
	assert.ErrorContains(t, err, "not found")
}
