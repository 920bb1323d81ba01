package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"ForgeLedger/internal/command"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const maxCommandBody = 1 << 20

// NewGateway maps the HTTP/JSON routes onto the Ledger service. Handlers
// call the service in-process; errors go through the gateway's status to
// HTTP code mapping.
func NewGateway(ledger *LedgerServer) (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux()
	g := &gateway{ledger: ledger, mux: mux, marshaler: &runtime.JSONPb{}}

	routes := []struct {
		method, pattern string
		handler         runtime.HandlerFunc
	}{
		{http.MethodPost, "/v1/commands/{kind}", g.execute},

		{http.MethodGet, "/v1/instruments", g.listInstruments},
		{http.MethodGet, "/v1/instruments/{address}", g.getInstrument},
		{http.MethodGet, "/v1/isin/{isin}", g.getInstrumentByISIN},
		{http.MethodGet, "/v1/instruments/{instrument}/balances", g.listBalances},
		{http.MethodGet, "/v1/instruments/{instrument}/balances/{account}", g.getBalance},
		{http.MethodGet, "/v1/instruments/{instrument}/settlements", g.listSettlements},
		{http.MethodGet, "/v1/instruments/{instrument}/settlements/{tx_id}", g.getSettlement},
		{http.MethodGet, "/v1/instruments/{instrument}/journals/{account}", g.journalHistory},
		{http.MethodGet, "/v1/operations", g.operations},

		{http.MethodGet, "/v1/admin/status", g.getStatus},
		{http.MethodGet, "/v1/admin/integrity", g.integrity},
		{http.MethodPost, "/v1/admin/rebuild", g.rebuild},
		{http.MethodPost, "/v1/admin/snapshot", g.snapshot},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, r.handler); err != nil {
			return nil, fmt.Errorf("route %s %s: %w", r.method, r.pattern, err)
		}
	}
	return mux, nil
}

type gateway struct {
	ledger    *LedgerServer
	mux       *runtime.ServeMux
	marshaler runtime.Marshaler
}

func (g *gateway) reply(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err != nil {
		runtime.HTTPError(r.Context(), g.mux, g.marshaler, w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		runtime.HTTPError(r.Context(), g.mux, g.marshaler, w, r, status.Error(codes.Internal, err.Error()))
	}
}

func (g *gateway) execute(w http.ResponseWriter, r *http.Request, params map[string]string) {
	cmd, err := command.New(command.Kind(params["kind"]))
	if err != nil {
		g.reply(w, r, nil, status.Error(codes.NotFound, err.Error()))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody))
	if err != nil {
		g.reply(w, r, nil, status.Errorf(codes.InvalidArgument, "read body: %v", err))
		return
	}
	if err := json.Unmarshal(body, cmd); err != nil {
		g.reply(w, r, nil, status.Errorf(codes.InvalidArgument, "decode %s: %v", cmd.Kind(), err))
		return
	}

	ctx := metadata.NewIncomingContext(r.Context(), metadata.Pairs(CallerHeader, r.Header.Get(CallerHeader)))
	resp, err := g.ledger.Execute(ctx, cmd)
	g.reply(w, r, resp, err)
}

func (g *gateway) listInstruments(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	listed, err := boolParam(r, "listed")
	if err != nil {
		g.reply(w, r, nil, err)
		return
	}
	resp, err := g.ledger.ListInstruments(r.Context(), &ListInstrumentsRequest{ListedOnly: listed})
	g.reply(w, r, resp, err)
}

func (g *gateway) getInstrument(w http.ResponseWriter, r *http.Request, params map[string]string) {
	resp, err := g.ledger.GetInstrument(r.Context(), &InstrumentRequest{Address: params["address"]})
	g.reply(w, r, resp, err)
}

func (g *gateway) getInstrumentByISIN(w http.ResponseWriter, r *http.Request, params map[string]string) {
	resp, err := g.ledger.GetInstrument(r.Context(), &InstrumentRequest{ISIN: params["isin"]})
	g.reply(w, r, resp, err)
}

func (g *gateway) listBalances(w http.ResponseWriter, r *http.Request, params map[string]string) {
	resp, err := g.ledger.ListBalances(r.Context(), &ListBalancesRequest{Instrument: params["instrument"]})
	g.reply(w, r, resp, err)
}

func (g *gateway) getBalance(w http.ResponseWriter, r *http.Request, params map[string]string) {
	resp, err := g.ledger.GetBalance(r.Context(), &BalanceRequest{
		Instrument: params["instrument"],
		Account:    params["account"],
	})
	g.reply(w, r, resp, err)
}

func (g *gateway) listSettlements(w http.ResponseWriter, r *http.Request, params map[string]string) {
	after, err := uintParam(r, "after")
	if err != nil {
		g.reply(w, r, nil, err)
		return
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		g.reply(w, r, nil, err)
		return
	}
	resp, err := g.ledger.ListSettlements(r.Context(), &ListSettlementsRequest{
		Instrument: params["instrument"],
		Status:     r.URL.Query().Get("status"),
		AfterTxID:  after,
		Limit:      int(limit),
	})
	g.reply(w, r, resp, err)
}

func (g *gateway) getSettlement(w http.ResponseWriter, r *http.Request, params map[string]string) {
	txID, err := strconv.ParseUint(params["tx_id"], 10, 64)
	if err != nil {
		g.reply(w, r, nil, status.Errorf(codes.InvalidArgument, "tx_id: %v", err))
		return
	}
	resp, err := g.ledger.GetSettlement(r.Context(), &SettlementRequest{Instrument: params["instrument"], TxID: txID})
	g.reply(w, r, resp, err)
}

func (g *gateway) journalHistory(w http.ResponseWriter, r *http.Request, params map[string]string) {
	limit, err := intParam(r, "limit")
	if err != nil {
		g.reply(w, r, nil, err)
		return
	}
	req := &JournalHistoryRequest{
		Instrument: params["instrument"],
		Account:    params["account"],
		Limit:      int(limit),
	}
	if r.URL.Query().Has("before") {
		before, err := intParam(r, "before")
		if err != nil {
			g.reply(w, r, nil, err)
			return
		}
		req.BeforeSequence = &before
	}
	resp, err := g.ledger.GetJournalHistory(r.Context(), req)
	g.reply(w, r, resp, err)
}

func (g *gateway) operations(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	from, err := intParam(r, "from")
	if err != nil {
		g.reply(w, r, nil, err)
		return
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		g.reply(w, r, nil, err)
		return
	}
	resp, err := g.ledger.GetOperations(r.Context(), &OperationsRequest{FromSequence: from, Limit: int(limit)})
	g.reply(w, r, resp, err)
}

func (g *gateway) getStatus(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := g.ledger.GetStatus(r.Context(), &Empty{})
	g.reply(w, r, resp, err)
}

func (g *gateway) integrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := g.ledger.VerifyIntegrity(r.Context(), &Empty{})
	g.reply(w, r, resp, err)
}

func (g *gateway) rebuild(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := g.ledger.RebuildProjections(r.Context(), &Empty{})
	g.reply(w, r, resp, err)
}

func (g *gateway) snapshot(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := g.ledger.TakeSnapshot(r.Context(), &Empty{})
	g.reply(w, r, resp, err)
}

func intParam(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "%s: %v", name, err)
	}
	return v, nil
}

func uintParam(r *http.Request, name string) (uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "%s: %v", name, err)
	}
	return v, nil
}

func boolParam(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, status.Errorf(codes.InvalidArgument, "%s: %v", name, err)
	}
	return v, nil
}
