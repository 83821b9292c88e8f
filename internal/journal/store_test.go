package journal

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"sessiongate.local/gateway/internal/adapter"
	"sessiongate.local/gateway/internal/db"
	"sessiongate.local/gateway/internal/events"
)

func journalsUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	gormDB, err := db.OpenGorm(db.DriverSQLite, filepath.Join(t.TempDir(), "journal.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(gormDB) })

	gormStore, err := NewGormStore(gormDB)
	require.NoError(t, err)
	return map[string]Store{
		"memory": NewMemoryStore(0),
		"gorm":   gormStore,
	}
}

func TestJournalRecentOrderAndLimit(t *testing.T) {
	base := time.Unix(1_700_000_000, 0).UTC()
	for name, store := range journalsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 5; i++ {
				n := events.New(events.TypeStatusChanged, "t1", base.Add(time.Duration(i)*time.Second))
				n.Status = fmt.Sprintf("s%d", i)
				require.NoError(t, store.Append(ctx, n))
			}
			other := events.New(events.TypeEvicted, "t2", base)
			require.NoError(t, store.Append(ctx, other))

			recent, err := store.Recent(ctx, "t1", 3)
			require.NoError(t, err)
			require.Len(t, recent, 3)
			require.Equal(t, []string{"s2", "s3", "s4"}, []string{recent[0].Status, recent[1].Status, recent[2].Status})

			all, err := store.Recent(ctx, "t1", 0)
			require.NoError(t, err)
			require.Len(t, all, 5)

			none, err := store.Recent(ctx, "missing", 10)
			require.NoError(t, err)
			require.Empty(t, none)
		})
	}
}

func TestJournalKeepsInboundMessages(t *testing.T) {
	for name, store := range journalsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			n := events.New(events.TypeMessageReceived, "t1", time.Now())
			n.Message = &adapter.InboundMessage{ID: "m1", From: "15550001111", Body: "hello"}
			require.NoError(t, store.Append(context.Background(), n))

			recent, err := store.Recent(context.Background(), "t1", 1)
			require.NoError(t, err)
			require.Len(t, recent, 1)
			require.NotNil(t, recent[0].Message)
			require.Equal(t, "hello", recent[0].Message.Body)
		})
	}
}

func TestMemoryJournalRetention(t *testing.T) {
	store := NewMemoryStore(2)
	for i := 0; i < 4; i++ {
		n := events.New(events.TypeQRUpdated, "t1", time.Now())
		n.Detail = fmt.Sprintf("d%d", i)
		require.NoError(t, store.Append(context.Background(), n))
	}
	recent, err := store.Recent(context.Background(), "t1", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "d2", recent[0].Detail)
	require.Equal(t, "d3", recent[1].Detail)
}
