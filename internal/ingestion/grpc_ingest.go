package ingestion

import (
	"context"

	"ForgeLedger/internal/command"
	"ForgeLedger/internal/core"
)

// SubmitService hands commands to the core loop and waits for the result.
// It backs the synchronous gRPC and HTTP surfaces; bulk traffic goes
// through NATS.
type SubmitService struct {
	submissions chan<- core.Submission
	parser      *Parser
}

func NewSubmitService(submissions chan<- core.Submission, parser *Parser) *SubmitService {
	return &SubmitService{submissions: submissions, parser: parser}
}

// Submit validates cmd and blocks until the core applied or rejected it.
func (s *SubmitService) Submit(ctx context.Context, cmd command.Command) (*core.Result, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	reply := make(chan core.Reply, 1)
	select {
	case s.submissions <- core.Submission{Ctx: ctx, Command: cmd, Reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-reply:
		return r.Result, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SubmitRaw parses a JSON command of kind k and submits it.
func (s *SubmitService) SubmitRaw(ctx context.Context, k command.Kind, data []byte) (*core.Result, error) {
	cmd, err := s.parser.Parse(k, data)
	if err != nil {
		return nil, err
	}
	return s.Submit(ctx, cmd)
}
