package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/parametriq/settlement-core/internal/adapter/remoteledger"
	"github.com/parametriq/settlement-core/internal/commons"
	"github.com/parametriq/settlement-core/internal/domain"
	"github.com/parametriq/settlement-core/internal/logger"
	"github.com/parametriq/settlement-core/internal/usecase/service_interfaces"
)

const (
	failureCodeInsufficientLiquidity = "INSUFFICIENT_LIQUIDITY"
	failureCodeExecutionError        = "EXECUTION_ERROR"
	failureCodeRailRejected          = "RAIL_REJECTED"
)

// SettlementService reconciles payout authorizations from the remote ledger
// into exactly-once payout executions. It owns only ephemeral state: the
// polling cursor and per-claim correlation records, both rebuilt from the
// remote log after a restart.
type SettlementService struct {
	remote                  remoteledger.Client
	ledger                  service_interfaces.LedgerService
	treasury                service_interfaces.TreasuryService
	executor                service_interfaces.PayoutExecutor
	producer                string
	defaultPoolID           string
	lockTTL                 time.Duration
	approvalThresholdMicros int64

	mu       sync.Mutex
	cursor   int64
	payouts  map[string]*domain.PayoutTransaction
	held     map[string]remoteledger.PayoutAuthorization
	approved map[string]struct{}
}

func NewSettlementService(
	remote remoteledger.Client,
	ledger service_interfaces.LedgerService,
	treasury service_interfaces.TreasuryService,
	executor service_interfaces.PayoutExecutor,
	producer string,
	defaultPoolID string,
	lockTTL time.Duration,
	approvalThresholdMicros int64,
) *SettlementService {
	return &SettlementService{
		remote:                  remote,
		ledger:                  ledger,
		treasury:                treasury,
		executor:                executor,
		producer:                producer,
		defaultPoolID:           defaultPoolID,
		lockTTL:                 lockTTL,
		approvalThresholdMicros: approvalThresholdMicros,
		payouts:                 make(map[string]*domain.PayoutTransaction),
		held:                    make(map[string]remoteledger.PayoutAuthorization),
		approved:                make(map[string]struct{}),
	}
}

// DeterministicTransactionRef derives the settlement reference from the claim
// and its authorizing event, so repeated executions of the same authorization
// produce the same reference. This is the second line of defense against
// double payment if the remote gate is bypassed by a race.
func DeterministicTransactionRef(claimID, authorizingEventID string) string {
	prefix := authorizingEventID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("txn_%s_%s", claimID, prefix)
}

// RunCycle performs one reconciliation pass. The cursor advances only past
// events that were fully handled: accepted, skipped as duplicate, or logged
// as malformed. A transient failure aborts the cycle without advancing, so
// the event is observed again next cycle.
func (s *SettlementService) RunCycle(ctx context.Context) error {
	if err := s.processApproved(ctx); err != nil {
		return err
	}

	events, err := s.remote.ListEvents(ctx, remoteledger.EventClaimPayoutAuthorized, s.Cursor())
	if err != nil {
		logger.Error("settlement service poll failed", err, nil)
		return err
	}

	for _, ev := range events {
		if err := s.handleAuthorization(ctx, ev); err != nil {
			return err
		}
		s.setCursor(ev.Sequence)
	}
	return nil
}

func (s *SettlementService) handleAuthorization(ctx context.Context, ev remoteledger.Event) error {
	auth, err := remoteledger.DecodeAuthorization(ev)
	if err != nil {
		var malformed *domain.MalformedEventError
		if errors.As(err, &malformed) {
			logger.Error("settlement service malformed authorization skipped", err, logger.Fields{
				"eventId":  ev.ID,
				"sequence": ev.Sequence,
			})
			return nil
		}
		return err
	}

	s.trackObserved(auth)
	return s.reconcile(ctx, auth, true)
}

// reconcile runs the idempotency gates for one authorization and executes
// the payout only if none fires. Retried authorizations (held claims,
// transient failures) re-enter through here, so a claim whose ledger posting
// already committed finishes with the write-back instead of a second
// execution. allowHold parks over-threshold claims for manual review;
// approved claims re-enter with allowHold false.
func (s *SettlementService) reconcile(ctx context.Context, auth remoteledger.PayoutAuthorization, allowHold bool) error {
	terminalStatus, err := s.terminalConsequence(ctx, auth.ClaimID)
	if err != nil {
		return err
	}
	if terminalStatus != "" {
		logger.Info("settlement service claim already settled remotely", logger.Fields{
			"claimId": auth.ClaimID,
			"status":  terminalStatus,
		})
		s.setStatus(auth.ClaimID, terminalStatus)
		return nil
	}

	paid, err := s.ledger.HasClaimBeenPaid(ctx, auth.ClaimID)
	if err != nil {
		return err
	}
	if paid {
		// The ledger committed but the consequence event never made it to
		// the remote log (crash mid-cycle). Finish the write-back; the
		// deterministic key makes the append idempotent.
		logger.Info("settlement service claim paid locally, completing write-back", logger.Fields{
			"claimId": auth.ClaimID,
		})
		return s.completeSuccess(ctx, auth, DeterministicTransactionRef(auth.ClaimID, auth.AuthorizingEventID))
	}

	if allowHold && s.approvalThresholdMicros > 0 && auth.AmountMicros > s.approvalThresholdMicros && !s.isApproved(auth.ClaimID) {
		s.hold(auth)
		logger.Info("settlement service payout parked for manual review", logger.Fields{
			"claimId":      auth.ClaimID,
			"amountMicros": auth.AmountMicros,
		})
		return nil
	}

	return s.executePayout(ctx, auth)
}

func (s *SettlementService) executePayout(ctx context.Context, auth remoteledger.PayoutAuthorization) error {
	poolID := auth.PoolID
	if poolID == "" {
		poolID = s.defaultPoolID
	}

	if _, err := s.treasury.LockFunds(ctx, poolID, auth.ClaimID, auth.AmountMicros, s.lockTTL); err != nil {
		var duplicate *domain.DuplicateLockError
		var insufficient *domain.InsufficientLiquidityError
		switch {
		case errors.As(err, &duplicate):
			// A previous attempt already reserved the funds; proceed
			// against the existing lock.
		case errors.As(err, &insufficient):
			logger.Error("settlement service liquidity failure", err, logger.Fields{
				"claimId": auth.ClaimID,
				"poolId":  poolID,
			})
			return s.completeFailure(ctx, auth, failureCodeInsufficientLiquidity, err.Error())
		default:
			return err
		}
	}

	s.setStatus(auth.ClaimID, domain.PayoutStatusLocked)
	s.setStatus(auth.ClaimID, domain.PayoutStatusProcessing)

	result, execErr := s.executor.Execute(ctx, auth.ClaimID, auth.AmountMicros, auth.Currency, auth.AuthorizingEventID)
	if execErr != nil {
		// Boundary failures are terminal, never retried: at-most-once
		// money movement wins over automatic retry. The lock stays for
		// the expiry sweep to reclaim.
		logger.Error("settlement service payout execution failed", execErr, logger.Fields{
			"claimId": auth.ClaimID,
		})
		return s.completeFailure(ctx, auth, failureCodeExecutionError, execErr.Error())
	}
	if !result.Success {
		code := result.FailureCode
		if code == "" {
			code = failureCodeRailRejected
		}
		return s.completeFailure(ctx, auth, code, result.FailureReason)
	}

	ref := DeterministicTransactionRef(auth.ClaimID, auth.AuthorizingEventID)

	_, _, err := s.ledger.RecordTransaction(ctx, domain.TransactionInput{
		Entries: []domain.EntryInput{
			{Account: domain.CoreAccountOf(domain.AccountExpenseClaims), AmountMicros: auth.AmountMicros, Memo: "claim payout " + ref},
			{Account: domain.CoreAccountOf(domain.AccountAssetTreasury), AmountMicros: -auth.AmountMicros},
		},
		Currency:      auth.Currency,
		ReferenceID:   auth.ClaimID,
		ReferenceType: domain.ReferenceClaim,
		Description:   "capital payout for claim " + auth.ClaimID,
		CreatedBy:     s.producer,
	})
	if err != nil {
		var duplicate *domain.DuplicateReferenceError
		if !errors.As(err, &duplicate) {
			return err
		}
	}

	return s.completeSuccess(ctx, auth, ref)
}

func (s *SettlementService) completeSuccess(ctx context.Context, auth remoteledger.PayoutAuthorization, ref string) error {
	// Release any lock still held for the claim before the write-back. The
	// spend is settled; a lock left behind would flow back into the pool
	// through the expiry sweep. Once the ledger posting exists every retry
	// of this claim lands here, so the release cannot be skipped.
	if lock, err := s.treasury.ActiveLockForClaim(ctx, auth.ClaimID); err == nil {
		if err := s.treasury.ReleaseLock(ctx, lock.ID); err != nil {
			return err
		}
	} else if !errors.Is(err, commons.ErrRecordNotFound) {
		return err
	}

	payload := remoteledger.ExecutedPayload{
		ClaimID:            auth.ClaimID,
		TransactionRef:     ref,
		AmountMicros:       auth.AmountMicros,
		Currency:           auth.Currency,
		AuthorizingEventID: auth.AuthorizingEventID,
	}
	if err := s.appendConsequence(ctx, remoteledger.EventCapitalPayoutExecuted, auth.ClaimID, payload); err != nil {
		return err
	}

	s.mu.Lock()
	if payout, ok := s.payouts[auth.ClaimID]; ok {
		now := time.Now().UTC()
		payout.Status = domain.PayoutStatusCleared
		payout.TransactionRef = ref
		payout.CompletedAt = &now
	}
	s.mu.Unlock()

	logger.Info("settlement service payout cleared", logger.Fields{
		"claimId":        auth.ClaimID,
		"transactionRef": ref,
	})
	return nil
}

func (s *SettlementService) completeFailure(ctx context.Context, auth remoteledger.PayoutAuthorization, code, reason string) error {
	payload := remoteledger.FailedPayload{
		ClaimID:            auth.ClaimID,
		FailureCode:        code,
		FailureReason:      reason,
		AuthorizingEventID: auth.AuthorizingEventID,
	}
	if err := s.appendConsequence(ctx, remoteledger.EventCapitalPayoutFailed, auth.ClaimID, payload); err != nil {
		return err
	}

	s.mu.Lock()
	if payout, ok := s.payouts[auth.ClaimID]; ok {
		now := time.Now().UTC()
		payout.Status = domain.PayoutStatusFailed
		payout.FailureCode = code
		payout.FailureReason = reason
		payout.CompletedAt = &now
	}
	s.mu.Unlock()

	logger.Info("settlement service payout failed", logger.Fields{
		"claimId":     auth.ClaimID,
		"failureCode": code,
	})
	return nil
}

func (s *SettlementService) appendConsequence(ctx context.Context, eventType, claimID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal consequence payload: %w", err)
	}

	_, err = s.remote.Append(ctx, remoteledger.Event{
		EventType:      eventType,
		SchemaVersion:  remoteledger.SchemaVersion,
		CorrelationID:  uuid.NewString(),
		IdempotencyKey: remoteledger.ConsequenceIdempotencyKey(eventType, claimID),
		OccurredAt:     time.Now().UTC(),
		Producer:       s.producer,
		Subject:        claimID,
		Payload:        body,
	})
	if err != nil {
		logger.Error("settlement service append consequence failed", err, logger.Fields{
			"claimId":   claimID,
			"eventType": eventType,
		})
		return err
	}
	return nil
}

// terminalConsequence is the idempotency gate: any prior consequence event
// for the claim means execution must be skipped entirely.
func (s *SettlementService) terminalConsequence(ctx context.Context, claimID string) (domain.PayoutStatus, error) {
	events, err := s.remote.ListBySubject(ctx, claimID)
	if err != nil {
		logger.Error("settlement service idempotency gate failed", err, logger.Fields{
			"claimId": claimID,
		})
		return "", err
	}

	for _, ev := range events {
		switch ev.EventType {
		case remoteledger.EventCapitalPayoutExecuted:
			return domain.PayoutStatusCleared, nil
		case remoteledger.EventCapitalPayoutFailed:
			return domain.PayoutStatusFailed, nil
		}
	}
	return "", nil
}

func (s *SettlementService) processApproved(ctx context.Context) error {
	s.mu.Lock()
	ready := make([]remoteledger.PayoutAuthorization, 0, len(s.approved))
	for claimID := range s.approved {
		auth, ok := s.held[claimID]
		if !ok {
			delete(s.approved, claimID)
			continue
		}
		ready = append(ready, auth)
	}
	s.mu.Unlock()

	// The hold is cleared only after the claim settles. A transient failure
	// leaves the claim held and approved, so the next cycle picks it up
	// again; the gates in reconcile keep the retry from paying twice.
	for _, auth := range ready {
		if err := s.reconcile(ctx, auth, false); err != nil {
			return err
		}
		s.mu.Lock()
		delete(s.held, auth.ClaimID)
		delete(s.approved, auth.ClaimID)
		s.mu.Unlock()
	}
	return nil
}

// ApprovePayout releases a claim parked in manual review; the payout
// executes on the next cycle.
func (s *SettlementService) ApprovePayout(claimID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.held[claimID]; !ok {
		return commons.ErrRecordNotFound
	}
	s.approved[claimID] = struct{}{}
	return nil
}

// Payouts returns a snapshot of the correlation records observed since
// startup, newest state included.
func (s *SettlementService) Payouts() []domain.PayoutTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.PayoutTransaction, 0, len(s.payouts))
	for _, payout := range s.payouts {
		out = append(out, *payout)
	}
	return out
}

func (s *SettlementService) Cursor() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

func (s *SettlementService) setCursor(sequence int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sequence > s.cursor {
		s.cursor = sequence
	}
}

func (s *SettlementService) trackObserved(auth remoteledger.PayoutAuthorization) *domain.PayoutTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.payouts[auth.ClaimID]; ok {
		return existing
	}

	poolID := auth.PoolID
	if poolID == "" {
		poolID = s.defaultPoolID
	}
	payout := &domain.PayoutTransaction{
		ID:                 uuid.NewString(),
		ClaimID:            auth.ClaimID,
		PolicyID:           auth.PolicyID,
		PoolID:             poolID,
		RecipientAddress:   auth.RecipientAddress,
		AmountMicros:       auth.AmountMicros,
		Currency:           auth.Currency,
		Rail:               auth.Rail,
		Status:             domain.PayoutStatusPending,
		IdempotencyKey:     remoteledger.ConsequenceIdempotencyKey(remoteledger.EventCapitalPayoutExecuted, auth.ClaimID),
		AuthorizingEventID: auth.AuthorizingEventID,
		ObservedAt:         time.Now().UTC(),
	}
	s.payouts[auth.ClaimID] = payout
	return payout
}

func (s *SettlementService) setStatus(claimID string, status domain.PayoutStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if payout, ok := s.payouts[claimID]; ok {
		payout.Status = status
	}
}

func (s *SettlementService) isApproved(claimID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.approved[claimID]
	return ok
}

func (s *SettlementService) hold(auth remoteledger.PayoutAuthorization) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.held[auth.ClaimID] = auth
	if payout, ok := s.payouts[auth.ClaimID]; ok {
		payout.Status = domain.PayoutStatusManualReview
	}
}
