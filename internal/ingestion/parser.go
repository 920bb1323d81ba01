package ingestion

import (
	"fmt"
	"strings"

	"ForgeLedger/internal/command"
	"ForgeLedger/internal/observability"
)

// CommandSubjectPrefix is the NATS subject root of inbound commands.
const CommandSubjectPrefix = "forge.commands"

// SubjectFor returns the subject a command of kind k is published on.
func SubjectFor(k command.Kind) string {
	return CommandSubjectPrefix + "." + k.String()
}

// KindFromSubject extracts the command kind from forge.commands.<kind>[.suffix].
func KindFromSubject(subject string) (command.Kind, error) {
	rest, ok := strings.CutPrefix(subject, CommandSubjectPrefix+".")
	if !ok || rest == "" {
		return "", fmt.Errorf("%w: subject %q outside %s", command.ErrInvalidCommand, subject, CommandSubjectPrefix)
	}
	kind, _, _ := strings.Cut(rest, ".")
	return command.Kind(kind), nil
}

// Parser turns raw transport payloads into validated commands.
type Parser struct {
	source  string
	metrics *observability.Metrics
}

func NewParser(source string, metrics *observability.Metrics) *Parser {
	return &Parser{source: source, metrics: metrics}
}

// Parse decodes data as a command of kind k.
func (p *Parser) Parse(k command.Kind, data []byte) (command.Command, error) {
	cmd, err := command.Decode(k, data)
	if err != nil {
		if p.metrics != nil {
			p.metrics.IngestInvalid.WithLabelValues(p.source).Inc()
		}
		return nil, err
	}
	if p.metrics != nil {
		p.metrics.IngestReceived.WithLabelValues(p.source, k.String()).Inc()
	}
	return cmd, nil
}

// ParseRaw resolves the kind from the message subject, then parses.
func (p *Parser) ParseRaw(raw RawCommand) (command.Command, error) {
	k, err := KindFromSubject(raw.Subject)
	if err != nil {
		if p.metrics != nil {
			p.metrics.IngestInvalid.WithLabelValues(p.source).Inc()
		}
		return nil, err
	}
	return p.Parse(k, raw.Data)
}
