package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/coaching-scheduler/internal/persistence"
)

// CreditLedger reads balances and moves credits for (coach, client) pairs. Every
// movement goes through the store's guarded ApplyCreditTransaction, so concurrent
// bookings cannot spend the same balance twice.
type CreditLedger struct {
	credits     persistence.CreditRepository
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
	recorder    Recorder
}

// CreditStatement is a pair's balance with its history.
type CreditStatement struct {
	CoachID      string
	ClientID     string
	Balance      int
	Transactions []persistence.CreditTransaction
}

// NewCreditLedger wires the ledger over a credit repository.
func NewCreditLedger(credits persistence.CreditRepository, idGenerator func() string, now func() time.Time) *CreditLedger {
	return NewCreditLedgerWithLogger(credits, idGenerator, now, nil)
}

// NewCreditLedgerWithLogger wires the ledger with a specified logger.
func NewCreditLedgerWithLogger(credits persistence.CreditRepository, idGenerator func() string, now func() time.Time, logger *slog.Logger) *CreditLedger {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &CreditLedger{
		credits:     credits,
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
		recorder:    nopRecorder{},
	}
}

// SetRecorder installs a metrics recorder.
func (l *CreditLedger) SetRecorder(recorder Recorder) {
	if recorder != nil {
		l.recorder = recorder
	}
}

// AvailableCredits returns the client's balance with the coach. Unknown pairs hold zero.
func (l *CreditLedger) AvailableCredits(ctx context.Context, coachID, clientID string) (int, error) {
	if l == nil || l.credits == nil {
		return 0, nil
	}
	balance, err := l.credits.GetBalance(ctx, coachID, clientID)
	if err != nil {
		return 0, mapRepoError("get balance", err)
	}
	if balance < 0 {
		balance = 0
	}
	return balance, nil
}

// SeatCharge identifies the credits held by one participant seat. Seat
// distinguishes a re-invitation from the original invitation of the same client.
type SeatCharge struct {
	CoachID   string
	ClientID  string
	MeetingID string
	Seat      string
	Amount    int
	Reason    string
}

// Debit consumes charge.Amount credits for a seat. Repeating the debit for the
// same seat is recognised by its idempotency key and leaves the balance alone.
func (l *CreditLedger) Debit(ctx context.Context, charge SeatCharge) (int, error) {
	if l == nil || l.credits == nil {
		return 0, fmt.Errorf("credit repository not configured")
	}
	if charge.Amount <= 0 {
		return 0, newValidationError("amount", "must be positive")
	}

	balance, err := l.credits.ApplyCreditTransaction(ctx, persistence.CreditTransaction{
		ID:             l.idGenerator(),
		CoachID:        charge.CoachID,
		ClientID:       charge.ClientID,
		Delta:          -charge.Amount,
		MeetingID:      charge.MeetingID,
		Reason:         charge.Reason,
		IdempotencyKey: "debit:" + charge.Seat,
		CreatedAt:      l.now(),
	})
	switch {
	case err == nil:
		return balance, nil
	case errors.Is(err, persistence.ErrDuplicate):
		return l.AvailableCredits(ctx, charge.CoachID, charge.ClientID)
	default:
		return 0, &LedgerError{ClientID: charge.ClientID, Amount: charge.Amount, Err: err}
	}
}

// Refund returns whatever the meeting still holds of the client's credits. It
// is safe to call repeatedly and for clients that were never charged.
func (l *CreditLedger) Refund(ctx context.Context, charge SeatCharge) (int, error) {
	if l == nil || l.credits == nil {
		return 0, nil
	}
	history, err := l.credits.ListCreditTransactions(ctx, persistence.CreditTransactionFilter{
		CoachID:   charge.CoachID,
		ClientID:  charge.ClientID,
		MeetingID: charge.MeetingID,
	})
	if err != nil {
		return 0, mapRepoError("list credit transactions", err)
	}

	net := 0
	for _, tx := range history {
		net += tx.Delta
	}
	if net >= 0 {
		return 0, nil
	}

	refund := -net
	_, err = l.credits.ApplyCreditTransaction(ctx, persistence.CreditTransaction{
		ID:             l.idGenerator(),
		CoachID:        charge.CoachID,
		ClientID:       charge.ClientID,
		Delta:          refund,
		MeetingID:      charge.MeetingID,
		Reason:         "refund",
		IdempotencyKey: "refund:" + charge.Seat,
		CreatedAt:      l.now(),
	})
	if err != nil {
		if errors.Is(err, persistence.ErrDuplicate) {
			return 0, nil
		}
		return 0, &LedgerError{ClientID: charge.ClientID, Amount: refund, Err: err}
	}
	l.recorder.CreditDebit("refund", "ok")
	return refund, nil
}

// Grant tops up a client's balance. Only the coach or an administrator may grant.
func (l *CreditLedger) Grant(ctx context.Context, params GrantCreditsParams) (balance int, err error) {
	if l == nil {
		err = fmt.Errorf("CreditLedger is nil")
		return
	}
	if l.credits == nil {
		err = fmt.Errorf("credit repository not configured")
		return
	}

	logger := serviceLogger(ctx, l.logger, "CreditLedger", "Grant",
		"coach_id", params.CoachID,
		"client_id", params.ClientID,
		"amount", params.Amount,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "credit grant failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "credits granted", "balance", balance)
	}()

	if params.Principal.UserID != params.CoachID && !params.Principal.IsAdmin {
		err = ErrUnauthorized
		return
	}

	vErr := &ValidationError{}
	if strings.TrimSpace(params.CoachID) == "" {
		vErr.add("coach_id", "coach is required")
	}
	if strings.TrimSpace(params.ClientID) == "" {
		vErr.add("client_id", "client is required")
	}
	if params.Amount <= 0 {
		vErr.add("amount", "must be positive")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	id := l.idGenerator()
	reason := strings.TrimSpace(params.Reason)
	if reason == "" {
		reason = "grant"
	}
	balance, err = l.credits.ApplyCreditTransaction(ctx, persistence.CreditTransaction{
		ID:             id,
		CoachID:        params.CoachID,
		ClientID:       params.ClientID,
		Delta:          params.Amount,
		Reason:         reason,
		IdempotencyKey: "grant:" + id,
		CreatedAt:      l.now(),
	})
	if err != nil {
		err = mapRepoError("grant credits", err)
	}
	return
}

// Statement returns a pair's balance and history to the coach, the client or an administrator.
func (l *CreditLedger) Statement(ctx context.Context, principal Principal, coachID, clientID string) (CreditStatement, error) {
	if l == nil || l.credits == nil {
		return CreditStatement{}, fmt.Errorf("credit repository not configured")
	}
	if principal.UserID != coachID && principal.UserID != clientID && !principal.IsAdmin {
		return CreditStatement{}, ErrUnauthorized
	}

	balance, err := l.AvailableCredits(ctx, coachID, clientID)
	if err != nil {
		return CreditStatement{}, err
	}
	history, err := l.credits.ListCreditTransactions(ctx, persistence.CreditTransactionFilter{CoachID: coachID, ClientID: clientID})
	if err != nil {
		return CreditStatement{}, mapRepoError("list credit transactions", err)
	}
	return CreditStatement{CoachID: coachID, ClientID: clientID, Balance: balance, Transactions: history}, nil
}

// seatOf derives the seat token of a participant. A guest removed and invited
// again gets a new CreatedAt and therefore a new seat.
func seatOf(participant persistence.Participant) string {
	return fmt.Sprintf("%s:%s:%d", participant.MeetingID, participant.PersonID, participant.CreatedAt.UnixNano())
}
