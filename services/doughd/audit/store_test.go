package audit

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"dough/core/events"
)

func newStore(t *testing.T) (*Store, string) {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "audit.db")
	db, err := Open(DriverSQLite, dsn)
	require.NoError(t, err)
	store, err := NewStore(db, func() string { return "abcd" })
	require.NoError(t, err)
	return store, dsn
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "x")
	require.ErrorIs(t, err, ErrUnsupportedDriver)
}

func TestStoreRecordsEventsInOrder(t *testing.T) {
	store, _ := newStore(t)
	alice := common.HexToAddress("0xa11ce")
	store.Emit(events.Deposited{Account: alice, Collateral: big.NewInt(1000), Minted: big.NewInt(950)})
	store.Emit(events.FeeUpdated{Previous: 0, Current: 500})
	store.Emit(events.Redeemed{Account: alice, Claims: big.NewInt(950), Payout: big.NewInt(950), Pulled: big.NewInt(950)})

	all, err := store.List(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, uint64(1), all[0].Seq)
	require.Equal(t, events.TypeDeposited, all[0].Type)
	require.Equal(t, "abcd", all[0].LedgerRoot)
	attrs, err := all[0].AttributeMap()
	require.NoError(t, err)
	require.Equal(t, "950", attrs["minted"])

	mine, err := store.List(context.Background(), Filter{Account: alice.Hex()})
	require.NoError(t, err)
	require.Len(t, mine, 2)

	fees, err := store.List(context.Background(), Filter{Type: events.TypeFeeUpdated})
	require.NoError(t, err)
	require.Len(t, fees, 1)
}

func TestStoreResumesSequence(t *testing.T) {
	store, dsn := newStore(t)
	store.Emit(events.FeeUpdated{Previous: 0, Current: 1})
	store.Emit(events.FeeUpdated{Previous: 1, Current: 2})

	db, err := Open(DriverSQLite, dsn)
	require.NoError(t, err)
	reopened, err := NewStore(db, nil)
	require.NoError(t, err)
	reopened.Emit(events.FeeUpdated{Previous: 2, Current: 3})

	all, err := reopened.List(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, uint64(3), all[2].Seq)
}

func TestListSinceFilter(t *testing.T) {
	store, _ := newStore(t)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	store.SetNowFunc(func() time.Time { return now })
	store.Emit(events.FeeUpdated{Current: 1})
	now = start.Add(time.Hour)
	store.Emit(events.FeeUpdated{Current: 2})

	recent, err := store.List(context.Background(), Filter{Since: start.Add(30 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, uint64(2), recent[0].Seq)
}

func TestExportParquet(t *testing.T) {
	store, _ := newStore(t)
	store.Emit(events.FeeUpdated{Previous: 0, Current: 500})
	store.Emit(events.SlippageUpdated{Previous: 50, Current: 100})

	path := filepath.Join(t.TempDir(), "audit.parquet")
	file, err := os.Create(path)
	require.NoError(t, err)
	n, err := store.Export(context.Background(), file, Filter{})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NoError(t, file.Close())

	pf, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	pr, err := reader.NewParquetReader(pf, new(parquetRow), 1)
	require.NoError(t, err)
	defer pf.Close()
	defer pr.ReadStop()
	require.Equal(t, int64(2), pr.GetNumRows())
	rows := make([]parquetRow, 2)
	require.NoError(t, pr.Read(&rows))
	require.Equal(t, events.TypeFeeUpdated, rows[0].Type)
	require.Equal(t, int64(2), rows[1].Seq)
	require.Equal(t, "abcd", rows[1].LedgerRoot)
}
