package access

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/kavelund/accessgate/pkg/log"
)

// Auditor appends one AccessLogEntry per evaluated request. A failed write is
// logged and dropped; availability of the decision path outranks the audit trail.
type Auditor struct {
	store   AuditStore
	headers []string
	timeout time.Duration
}

func NewAuditor(store AuditStore, capturedHeaders []string, timeout time.Duration) *Auditor {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	return &Auditor{store: store, headers: capturedHeaders, timeout: timeout}
}

func (a *Auditor) Record(ctx context.Context, request Request, decision Decision) {
	entry := &AccessLogEntry{
		AccessLogID: uuid.Must(uuid.NewV4()),
		Address:     request.Address,
		UserAgent:   request.UserAgent,
		Endpoint:    request.Endpoint,
		Method:      request.Method,
		ClientID:    request.ClientID,
		RuleID:      decision.RuleID,
		RuleKind:    decision.RuleKind,
		Result:      decision.Result,
		BlockReason: decision.BlockReason,
		Headers:     a.capture(request.Headers),
		AttemptedAt: time.Now(),
	}

	// The audit write must survive the caller hanging up mid-request, but it runs on
	// the decision path and so still needs its own deadline.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()

	if errRecord := a.store.RecordAccess(writeCtx, entry); errRecord != nil {
		slog.Error("Failed to record access decision",
			slog.String("address", request.Address),
			slog.String("result", string(decision.Result)),
			log.ErrAttr(errRecord))
	}
}

func (a *Auditor) capture(headers map[string]string) map[string]string {
	if len(headers) == 0 || len(a.headers) == 0 {
		return nil
	}

	captured := map[string]string{}

	for _, name := range a.headers {
		if value, found := headers[name]; found {
			captured[name] = value
		}
	}

	if len(captured) == 0 {
		return nil
	}

	return captured
}
