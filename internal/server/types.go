package server

import (
	"encoding/hex"
	"encoding/json"

	"ForgeLedger/internal/core"
	"ForgeLedger/internal/query"
)

// Empty is the request of methods that take no arguments.
type Empty struct{}

// CommandResponse is returned by every command method.
type CommandResponse struct {
	Sequence      int64              `json:"sequence"`
	Duplicate     bool               `json:"duplicate"`
	StateHash     string             `json:"state_hash,omitempty"`
	Created       string             `json:"created,omitempty"`
	Notifications []NotificationView `json:"notifications,omitempty"`
}

// NotificationView is a notification emitted by a command.
type NotificationView struct {
	Sink    string          `json:"sink"`
	Emitter string          `json:"emitter"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func newCommandResponse(res *core.Result) (*CommandResponse, error) {
	resp := &CommandResponse{
		Sequence:  res.Sequence,
		Duplicate: res.Duplicate,
		Created:   res.Created.String(),
	}
	if res.Duplicate {
		return resp, nil
	}
	resp.StateHash = hex.EncodeToString(res.StateHash[:])

	for _, out := range res.Notifications {
		payload, err := json.Marshal(out.Notification)
		if err != nil {
			return nil, err
		}
		resp.Notifications = append(resp.Notifications, NotificationView{
			Sink:    out.Sink.String(),
			Emitter: out.Emitter.String(),
			Kind:    out.Notification.Kind().String(),
			Payload: payload,
		})
	}
	return resp, nil
}

type BalanceRequest struct {
	Instrument string `json:"instrument"`
	Account    string `json:"account"`
}

type ListBalancesRequest struct {
	Instrument string `json:"instrument"`
}

type ListBalancesResponse struct {
	Balances []query.BalanceResponse `json:"balances"`
}

type SettlementRequest struct {
	Instrument string `json:"instrument"`
	TxID       uint64 `json:"tx_id"`
}

type ListSettlementsRequest struct {
	Instrument string `json:"instrument"`
	Status     string `json:"status,omitempty"`
	AfterTxID  uint64 `json:"after_tx_id,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

type ListSettlementsResponse struct {
	Settlements []query.SettlementResponse `json:"settlements"`
}

// InstrumentRequest looks an instrument up by address, or by ISIN when
// Address is empty.
type InstrumentRequest struct {
	Address string `json:"address,omitempty"`
	ISIN    string `json:"isin,omitempty"`
}

type ListInstrumentsRequest struct {
	ListedOnly bool `json:"listed_only"`
}

type ListInstrumentsResponse struct {
	Instruments []query.InstrumentResponse `json:"instruments"`
}

type JournalHistoryRequest struct {
	Instrument     string `json:"instrument"`
	Account        string `json:"account"`
	Limit          int    `json:"limit,omitempty"`
	BeforeSequence *int64 `json:"before_sequence,omitempty"`
}

type JournalHistoryResponse struct {
	Entries []query.JournalHistoryEntry `json:"entries"`
}

type OperationsRequest struct {
	FromSequence int64 `json:"from_sequence"`
	Limit        int   `json:"limit,omitempty"`
}

type OperationsResponse struct {
	Operations []query.OperationEntry `json:"operations"`
}

type RebuildResponse struct {
	Watermark int64 `json:"watermark"`
}

type SnapshotResponse struct {
	Sequence  int64  `json:"sequence"`
	StateHash string `json:"state_hash"`
}

// StatusResponse describes the running deployment.
type StatusResponse struct {
	Deployment     core.Deployment `json:"deployment"`
	LoggedSequence int64           `json:"logged_sequence"`
	Watermark      int64           `json:"watermark"`
	Ready          bool            `json:"ready"`
	Uptime         string          `json:"uptime"`
}
