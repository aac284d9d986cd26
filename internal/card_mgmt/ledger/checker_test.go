package ledger

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCheckerStore struct {
	flags   []CardFlag
	records map[string][]Record
}

func (f *fakeCheckerStore) ListCardFlags(ctx context.Context) ([]CardFlag, error) {
	return f.flags, nil
}

func (f *fakeCheckerStore) LedgerCardIdms(ctx context.Context) ([]string, error) {
	idms := make([]string, 0, len(f.records))
	for idm := range f.records {
		idms = append(idms, idm)
	}
	return idms, nil
}

func (f *fakeCheckerStore) ListByCardAsc(ctx context.Context, idm string) ([]Record, error) {
	return f.records[idm], nil
}

func openRec(id int64, idm string, balance int64, lentAt time.Time) Record {
	return Record{
		ID:           id,
		CardIdm:      idm,
		Date:         lentAt,
		Summary:      SummaryLending,
		Balance:      balance,
		IsLentRecord: true,
		LentAt:       sql.NullTime{Time: lentAt, Valid: true},
	}
}

func closedRec(id int64, idm string, balance int64, lentAt, returnedAt time.Time) Record {
	r := openRec(id, idm, balance, lentAt)
	r.Summary = SummaryLent
	r.ReturnedAt = sql.NullTime{Time: returnedAt, Valid: true}
	return r
}

func newTestChecker(store CheckerStore) *Checker {
	return NewChecker(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestChecker_AllConsistent(t *testing.T) {
	lentAt := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	store := &fakeCheckerStore{
		flags: []CardFlag{
			{Idm: "CARD-A", IsLent: false},
			{Idm: "CARD-B", IsLent: true},
		},
		records: map[string][]Record{
			"CARD-A": {closedRec(1, "CARD-A", 0, lentAt, lentAt.Add(time.Hour))},
			"CARD-B": {openRec(2, "CARD-B", 0, lentAt)},
		},
	}

	report, err := newTestChecker(store).Check(context.Background())

	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, 2, report.CheckedCards)
	assert.False(t, report.CheckedAt.IsZero())
}

func TestChecker_DetectsViolations(t *testing.T) {
	lentAt := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	store := &fakeCheckerStore{
		flags: []CardFlag{
			{Idm: "CARD-A", IsLent: true}, // 未返却記録なしなのに貸出中フラグ
			{Idm: "CARD-B", IsLent: true},
			{Idm: "CARD-C", IsLent: false},
		},
		records: map[string][]Record{
			"CARD-A": {closedRec(1, "CARD-A", 0, lentAt, lentAt.Add(time.Hour))},
			// 未返却記録が2件
			"CARD-B": {
				openRec(2, "CARD-B", 0, lentAt),
				openRec(3, "CARD-B", 0, lentAt.Add(time.Hour)),
			},
			// 残高連鎖が破れている
			"CARD-C": {
				rec(4, "チャージ", 1000, 0, 1000),
				rec(5, "鉄道（博多駅～天神駅）", 0, 210, 999),
			},
		},
	}

	report, err := newTestChecker(store).Check(context.Background())

	require.NoError(t, err)
	assert.False(t, report.OK())
	assert.Equal(t, 3, report.CheckedCards)

	kinds := make(map[string][]string)
	for _, v := range report.Violations {
		kinds[v.CardIdm] = append(kinds[v.CardIdm], v.Kind)
	}
	assert.Equal(t, []string{"lent_flag_mismatch"}, kinds["CARD-A"])
	assert.Equal(t, []string{"open_record_count"}, kinds["CARD-B"])
	assert.Equal(t, []string{"balance_chain"}, kinds["CARD-C"])
}

func TestChecker_IncludesLedgerOnlyCards(t *testing.T) {
	// 台帳にだけ登場するカード（登録前の記録など）も検査対象になる
	store := &fakeCheckerStore{
		flags: nil,
		records: map[string][]Record{
			"GHOST": {rec(1, "チャージ", 1000, 0, 900)},
		},
	}

	report, err := newTestChecker(store).Check(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.CheckedCards)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, "GHOST", report.Violations[0].CardIdm)
	assert.Equal(t, "balance_chain", report.Violations[0].Kind)
}

func TestChecker_CanceledContext(t *testing.T) {
	store := &fakeCheckerStore{
		flags:   []CardFlag{{Idm: "CARD-A"}},
		records: map[string][]Record{"CARD-A": nil},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestChecker(store).Check(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
