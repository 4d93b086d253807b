package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablebook/internal/model"
	"tablebook/internal/store"
	"tablebook/internal/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Conn {
		conn, err := NewDataset().Dial(context.Background())
		require.NoError(t, err)
		return conn
	})
}

func TestConnectionsShareDataset(t *testing.T) {
	ctx := context.Background()
	ds := NewDataset()
	a, _ := ds.Dial(ctx)
	b, _ := ds.Dial(ctx)

	require.NoError(t, a.UpsertTable(ctx, &model.Table{Number: 1, Capacity: 2}))
	tables, err := b.ListTables(ctx)
	require.NoError(t, err)
	assert.Len(t, tables, 1)
}

func TestReturnedValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	conn, _ := NewDataset().Dial(ctx)

	n := 3
	r := &model.Reservation{Code: "C", PartySize: 2, Status: model.StatusActive, TableNumber: &n, StartsAt: storetest.Base}
	require.NoError(t, conn.CreateReservation(ctx, r))
	n = 4

	got, err := conn.GetReservation(ctx, "C")
	require.NoError(t, err)
	assert.Equal(t, 3, *got.TableNumber)
}

func TestInjectError(t *testing.T) {
	ctx := context.Background()
	ds := NewDataset()
	conn, _ := ds.Dial(ctx)
	boom := errors.New("disk gone")

	ds.InjectError(boom)
	_, err := conn.ListTables(ctx)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, conn.Ping(ctx), boom)

	ds.InjectError(nil)
	_, err = conn.ListTables(ctx)
	assert.NoError(t, err)
}

func TestClosedConn(t *testing.T) {
	ctx := context.Background()
	conn, _ := NewDataset().Dial(ctx)
	require.NoError(t, conn.Close())
	assert.Error(t, conn.Ping(ctx))
	assert.Error(t, conn.InTx(ctx, func(store.Tx) error { return nil }))
}
