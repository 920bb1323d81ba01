package server

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	"ForgeLedger/internal/bond"
	"ForgeLedger/internal/command"
	"ForgeLedger/internal/core"
	"ForgeLedger/internal/ingestion"
	"ForgeLedger/internal/ledger"
	"ForgeLedger/internal/observability"
	"ForgeLedger/internal/persistence"
	"ForgeLedger/internal/projection"
	"ForgeLedger/internal/query"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// CallerHeader carries the authenticated caller in gRPC metadata and
// HTTP requests.
const CallerHeader = "x-forge-caller"

// Deps holds everything the Ledger service reaches into.
type Deps struct {
	DB               *sql.DB
	Dialect          persistence.Dialect
	Submit           *ingestion.SubmitService
	Queries          *query.QueryService
	Snapshots        *persistence.SnapshotManager
	SnapshotRequests chan<- core.SnapshotRequest
	Deployment       core.Deployment
	HealthChecker    *observability.HealthChecker
	Metrics          *observability.Metrics
	StartTime        time.Time
	Logger           zerolog.Logger
}

// LedgerServer implements forgeledger.v1.Ledger. The gRPC service and
// the HTTP routes both call into it.
type LedgerServer struct {
	deps Deps
}

func NewLedgerServer(deps Deps) *LedgerServer {
	if deps.StartTime.IsZero() {
		deps.StartTime = time.Now()
	}
	return &LedgerServer{deps: deps}
}

// Execute authenticates cmd with the caller found in ctx and submits it
// to the core loop.
func (s *LedgerServer) Execute(ctx context.Context, cmd command.Command) (*CommandResponse, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	cmd.Authenticate(caller)

	if s.deps.Metrics != nil {
		s.deps.Metrics.IngestReceived.WithLabelValues("grpc", cmd.Kind().String()).Inc()
	}

	res, err := s.deps.Submit.Submit(ctx, cmd)
	if err != nil {
		return nil, toStatus(err)
	}
	resp, err := newCommandResponse(res)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode result: %v", err)
	}
	return resp, nil
}

func callerFrom(ctx context.Context) (ledger.Address, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get(CallerHeader)
	if len(values) == 0 || values[0] == "" {
		return "", status.Errorf(codes.Unauthenticated, "missing %s", CallerHeader)
	}
	caller, err := ledger.ParseAddress(values[0])
	if err != nil {
		return "", status.Errorf(codes.Unauthenticated, "%s: %v", CallerHeader, err)
	}
	return caller, nil
}

// --- queries ---

func (s *LedgerServer) GetBalance(ctx context.Context, req *BalanceRequest) (*query.BalanceResponse, error) {
	resp, err := s.deps.Queries.GetBalance(ctx, req.Instrument, req.Account)
	return resp, toStatus(err)
}

func (s *LedgerServer) ListBalances(ctx context.Context, req *ListBalancesRequest) (*ListBalancesResponse, error) {
	balances, err := s.deps.Queries.ListBalances(ctx, req.Instrument)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListBalancesResponse{Balances: balances}, nil
}

func (s *LedgerServer) GetSettlement(ctx context.Context, req *SettlementRequest) (*query.SettlementResponse, error) {
	resp, err := s.deps.Queries.GetSettlement(ctx, req.Instrument, req.TxID)
	return resp, toStatus(err)
}

func (s *LedgerServer) ListSettlements(ctx context.Context, req *ListSettlementsRequest) (*ListSettlementsResponse, error) {
	out, err := s.deps.Queries.ListSettlements(ctx, req.Instrument, req.Status, req.AfterTxID, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListSettlementsResponse{Settlements: out}, nil
}

func (s *LedgerServer) GetInstrument(ctx context.Context, req *InstrumentRequest) (*query.InstrumentResponse, error) {
	var (
		resp *query.InstrumentResponse
		err  error
	)
	switch {
	case req.Address != "":
		resp, err = s.deps.Queries.GetInstrument(ctx, req.Address)
	case req.ISIN != "":
		resp, err = s.deps.Queries.GetInstrumentByISIN(ctx, req.ISIN)
	default:
		return nil, status.Error(codes.InvalidArgument, "address or isin required")
	}
	return resp, toStatus(err)
}

func (s *LedgerServer) ListInstruments(ctx context.Context, req *ListInstrumentsRequest) (*ListInstrumentsResponse, error) {
	out, err := s.deps.Queries.ListInstruments(ctx, req.ListedOnly)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListInstrumentsResponse{Instruments: out}, nil
}

func (s *LedgerServer) GetJournalHistory(ctx context.Context, req *JournalHistoryRequest) (*JournalHistoryResponse, error) {
	out, err := s.deps.Queries.GetJournalHistory(ctx, req.Instrument, req.Account, req.Limit, req.BeforeSequence)
	if err != nil {
		return nil, toStatus(err)
	}
	return &JournalHistoryResponse{Entries: out}, nil
}

func (s *LedgerServer) GetOperations(ctx context.Context, req *OperationsRequest) (*OperationsResponse, error) {
	out, err := s.deps.Queries.GetOperations(ctx, req.FromSequence, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return &OperationsResponse{Operations: out}, nil
}

// --- admin ---

func (s *LedgerServer) VerifyIntegrity(ctx context.Context, _ *Empty) (*query.IntegrityReport, error) {
	report, err := s.deps.Queries.VerifyIntegrity(ctx)
	return report, toStatus(err)
}

// RebuildProjections refolds the read models from the operation log.
func (s *LedgerServer) RebuildProjections(ctx context.Context, _ *Empty) (*RebuildResponse, error) {
	watermark, err := projection.Rebuild(ctx, s.deps.DB, s.deps.Dialect, s.deps.Logger)
	if err != nil {
		return nil, toStatus(err)
	}
	return &RebuildResponse{Watermark: watermark}, nil
}

// TakeSnapshot captures the engine state and stores it pending
// verification against the log.
func (s *LedgerServer) TakeSnapshot(ctx context.Context, _ *Empty) (*SnapshotResponse, error) {
	if s.deps.Snapshots == nil {
		return nil, status.Error(codes.Unimplemented, "snapshots disabled")
	}
	snap, err := core.RequestSnapshot(ctx, s.deps.SnapshotRequests)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.deps.Snapshots.SaveSnapshot(ctx, snap, time.Now().UTC()); err != nil {
		return nil, toStatus(err)
	}
	s.deps.Logger.Info().Int64("seq", snap.Sequence).Msg("snapshot taken on request")
	return &SnapshotResponse{Sequence: snap.Sequence, StateHash: hex.EncodeToString(snap.StateHash[:])}, nil
}

func (s *LedgerServer) GetStatus(ctx context.Context, _ *Empty) (*StatusResponse, error) {
	resp := &StatusResponse{
		Deployment:     s.deps.Deployment,
		LoggedSequence: -1,
		Uptime:         time.Since(s.deps.StartTime).Truncate(time.Second).String(),
	}
	if s.deps.HealthChecker != nil {
		resp.Ready = s.deps.HealthChecker.IsReady()
	}
	if s.deps.Snapshots != nil {
		seq, err := s.deps.Snapshots.LatestSequence(ctx)
		if err != nil {
			return nil, toStatus(err)
		}
		resp.LoggedSequence = seq
	}
	watermark, err := s.deps.Queries.Watermark(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	resp.Watermark = watermark
	return resp, nil
}

// toStatus maps domain errors onto gRPC status codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, query.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, command.ErrInvalidCommand):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, core.ErrLoopStopped):
		return status.Error(codes.Unavailable, err.Error())
	}

	switch bond.Classify(err) {
	case bond.CategoryAuthorization:
		return status.Error(codes.PermissionDenied, err.Error())
	case bond.CategoryValidation:
		return status.Error(codes.InvalidArgument, err.Error())
	case bond.CategoryNotFound:
		return status.Error(codes.NotFound, err.Error())
	case bond.CategoryLedger:
		return status.Error(codes.FailedPrecondition, err.Error())
	case bond.CategoryDownstream:
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
