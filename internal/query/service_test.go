package query_test

import (
	"context"
	"testing"
	"time"

	"ForgeLedger/internal/persistence"
	"ForgeLedger/internal/projection"
	"ForgeLedger/internal/query"
	"ForgeLedger/internal/testutil"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type QuerySuite struct {
	suite.Suite
	qs *query.QueryService
	sc *testutil.Scenario
}

func (s *QuerySuite) SetupTest() {
	db := testutil.OpenSQLite(s.T())
	s.sc = testutil.LogScenario(s.T(), db, persistence.SQLite)

	pw := projection.NewProjectionWorker(db, persistence.SQLite, nil, nil, zerolog.Nop())
	for _, o := range s.sc.Outputs {
		s.Require().NoError(pw.Apply(context.Background(), o))
	}
	s.qs = query.NewQueryService(db, persistence.SQLite, nil)
}

func TestQuerySuite(t *testing.T) {
	suite.Run(t, new(QuerySuite))
}

func (s *QuerySuite) TestGetBalance() {
	b, err := s.qs.GetBalance(context.Background(), s.sc.Bond.String(), testutil.Issuer.String())
	s.Require().NoError(err)
	s.True(decimal.NewFromInt(800).Equal(b.Balance))
	s.True(b.Locked.IsZero())
	s.True(decimal.NewFromInt(800).Equal(b.Disposable))
	s.EqualValues(3, b.AsOfSequence)

	unknown, err := s.qs.GetBalance(context.Background(), s.sc.Bond.String(), "tz1nobody")
	s.Require().NoError(err)
	s.True(unknown.Balance.IsZero())
	s.EqualValues(-1, unknown.LastSequence)
}

func (s *QuerySuite) TestListBalances() {
	list, err := s.qs.ListBalances(context.Background(), s.sc.Bond.String())
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	s.Equal(testutil.Investor.String(), list[0].Account)
	s.True(decimal.NewFromInt(200).Equal(list[0].Balance))
}

func (s *QuerySuite) TestSettlements() {
	ctx := context.Background()
	tx, err := s.qs.GetSettlement(ctx, s.sc.Bond.String(), 1)
	s.Require().NoError(err)
	s.Equal("CASH_SENT", tx.Status)
	s.Equal(testutil.Investor.String(), tx.Receiver)
	s.EqualValues(1, tx.OperationID)

	_, err = s.qs.GetSettlement(ctx, s.sc.Bond.String(), 99)
	s.ErrorIs(err, query.ErrNotFound)

	list, err := s.qs.ListSettlements(ctx, s.sc.Bond.String(), "CASH_SENT", 0, 10)
	s.Require().NoError(err)
	s.Len(list, 1)

	list, err = s.qs.ListSettlements(ctx, s.sc.Bond.String(), "TOKEN_LOCKED", 0, 10)
	s.Require().NoError(err)
	s.Empty(list)
}

func (s *QuerySuite) TestInstruments() {
	ctx := context.Background()
	inst, err := s.qs.GetInstrumentByISIN(ctx, "FR0000000001")
	s.Require().NoError(err)
	s.Equal(s.sc.Bond.String(), inst.Address)
	s.Equal("Forge Bond 2027", inst.Name)

	got, err := s.qs.GetInstrument(ctx, s.sc.Bond.String())
	s.Require().NoError(err)
	s.Equal(inst, got)

	s.Require().NotNil(got.Terms)
	s.True(decimal.NewFromInt(1000).Equal(got.Terms.FaceValue), "face value %s", got.Terms.FaceValue)
	s.True(decimal.RequireFromString("17.50").Equal(got.Terms.CouponPerUnit), "coupon %s", got.Terms.CouponPerUnit)
	s.Len(got.Terms.CouponSchedule, 6)
	s.Equal(time.Date(2024, time.July, 15, 0, 0, 0, 0, time.UTC), got.Terms.CouponSchedule[0])
	s.Equal(got.Terms.MaturityDate, got.Terms.CouponSchedule[5])
	s.Nil(got.Terms.ExtendedMaturityDate)

	_, err = s.qs.GetInstrument(ctx, "KT1missing")
	s.ErrorIs(err, query.ErrNotFound)

	list, err := s.qs.ListInstruments(ctx, true)
	s.Require().NoError(err)
	s.Len(list, 1)
}

func (s *QuerySuite) TestJournalHistory() {
	ctx := context.Background()
	entries, err := s.qs.GetJournalHistory(ctx, s.sc.Bond.String(), testutil.Issuer.String(), 10, nil)
	s.Require().NoError(err)
	s.Require().Len(entries, 3)
	s.Equal("settle", entries[0].JournalType)
	s.Equal("issue", entries[2].JournalType)

	before := entries[0].Sequence
	older, err := s.qs.GetJournalHistory(ctx, s.sc.Bond.String(), testutil.Issuer.String(), 10, &before)
	s.Require().NoError(err)
	s.Len(older, 2)
}

func (s *QuerySuite) TestGetOperations() {
	ops, err := s.qs.GetOperations(context.Background(), 1, 2)
	s.Require().NoError(err)
	s.Require().Len(ops, 2)
	s.Equal("initiate_subscription", ops[0].CommandKind)
	s.Equal(ops[0].StateHash, ops[1].PrevHash)
}

func (s *QuerySuite) TestVerifyIntegrity_Healthy() {
	report, err := s.qs.VerifyIntegrity(context.Background())
	s.Require().NoError(err)
	s.True(report.IsHealthy, "%+v", report)
	s.EqualValues(4, report.Operations)
}

func TestVerifyIntegrity_DetectsBreaks(t *testing.T) {
	db := testutil.OpenSQLite(t)
	sc := testutil.LogScenario(t, db, persistence.SQLite)
	pw := projection.NewProjectionWorker(db, persistence.SQLite, nil, nil, zerolog.Nop())
	for _, o := range sc.Outputs {
		require.NoError(t, pw.Apply(context.Background(), o))
	}

	_, err := db.Exec(`UPDATE event_log_operations SET prev_hash = $1 WHERE sequence = 2`, make([]byte, 32))
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE projections_balances SET balance = '1' WHERE account = $1`, testutil.Issuer.String())
	require.NoError(t, err)

	report, err := query.NewQueryService(db, persistence.SQLite, nil).VerifyIntegrity(context.Background())
	require.NoError(t, err)
	assert.False(t, report.IsHealthy)
	assert.Equal(t, []int64{2}, report.HashChainBreaks)
	require.Len(t, report.UnbalancedSupplies, 1)
	assert.True(t, decimal.NewFromInt(201).Equal(report.UnbalancedSupplies[0].Held))
}
