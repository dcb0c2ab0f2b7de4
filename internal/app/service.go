package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hylla/herbchain/internal/domain"
)

// Intent names used for logging, metrics, and the transaction log.
const (
	IntentRegisterActor        = "register_actor"
	IntentRecordCollection     = "record_collection"
	IntentUpdateCollection     = "update_collection"
	IntentSendCollection       = "send_collection"
	IntentRecordTest           = "record_test"
	IntentUpdateTest           = "update_test"
	IntentCompleteTest         = "complete_test"
	IntentDispatchTest         = "dispatch_test"
	IntentCreateProduct        = "create_product"
	IntentCompleteProduct      = "complete_product"
	IntentDispatchProduct      = "dispatch_product"
	IntentReceiveProduct       = "receive_product"
	IntentVerifyPackaging      = "verify_packaging"
	IntentGenerateConsumerCode = "generate_consumer_code"
	IntentResolveProvenance    = "resolve_provenance"
	IntentMintCode             = "mint_code"
)

// Logger is the structured logging surface the service writes to.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

// Metrics receives intent outcomes.
type Metrics interface {
	IntentApplied(intent string, kind domain.RecordKind, elapsed time.Duration)
	IntentRejected(intent string, kind domain.ErrorKind, elapsed time.Duration)
	CodeMinted(prefix string)
}

// ServiceConfig holds configuration for service.
type ServiceConfig struct {
	// CodeYear pins the year segment of minted codes. Zero uses the clock's UTC year.
	CodeYear int
	Logger   Logger
	Metrics  Metrics
}

// IDGenerator returns unique identifiers for new entities.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

// Service applies actor intents to the ledger.
type Service struct {
	ledger  Ledger
	actors  ActorStore
	idGen   IDGenerator
	clock   Clock
	codes   *CodeGenerator
	logger  Logger
	metrics Metrics
}

// NewService constructs a new value for this package.
func NewService(ledger Ledger, actors ActorStore, idGen IDGenerator, clock Clock, cfg ServiceConfig) *Service {
	if idGen == nil {
		idGen = func() string { return "" }
	}
	if clock == nil {
		clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = nopLogger{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	return &Service{
		ledger:  ledger,
		actors:  actors,
		idGen:   idGen,
		clock:   clock,
		codes:   NewCodeGenerator(clock, cfg.CodeYear, cfg.Metrics),
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// Codes returns the service's code generator.
func (s *Service) Codes() *CodeGenerator {
	return s.codes
}

// TransitionInput identifies a record an actor wants to advance.
// ExpectedVersion, when non-zero, must match the stored version or the call fails with a conflict.
type TransitionInput struct {
	ActorID         string
	RecordID        string
	ExpectedVersion int64
}

// authorizedActor resolves actorID through the identity registry.
func (s *Service) authorizedActor(ctx context.Context, actorID string) (domain.Actor, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return domain.Actor{}, ErrActorRequired
	}
	return s.ResolveActor(ctx, actorID)
}

// mutation describes one change to an existing record.
type mutation struct {
	intent   string
	op       domain.ChangeOperation
	input    TransitionInput
	metadata map[string]string
	// terminalNoop returns a record already in its terminal state unchanged instead of failing.
	terminalNoop bool
	apply        func(ctx context.Context, r LedgerView, actor domain.Actor, rec *domain.Record) error
}

// mutate loads, authorizes, and rewrites one record. The record version is the only point of
// contention: the rewrite is committed with CommitSwap, so two writers racing on one record
// leave exactly one winner and the others see domain.ErrVersionMismatch.
func (s *Service) mutate(ctx context.Context, m mutation) (domain.Record, error) {
	started := s.clock()
	recordID := strings.TrimSpace(m.input.RecordID)
	var out domain.Record
	err := func() error {
		if recordID == "" {
			return ErrRecordRequired
		}
		actor, err := s.authorizedActor(ctx, m.input.ActorID)
		if err != nil {
			return err
		}
		current, err := s.ledger.Get(ctx, recordID)
		if err != nil {
			return err
		}
		if err := domain.AuthorizeWrite(actor, current); err != nil {
			return err
		}
		if m.input.ExpectedVersion != 0 && m.input.ExpectedVersion != current.Version {
			return fmt.Errorf("%w: %s is at version %d, caller expected %d", domain.ErrVersionMismatch, recordID, current.Version, m.input.ExpectedVersion)
		}
		if domain.IsTerminal(current.Kind, current.Status) {
			if m.terminalNoop {
				out = current
				return nil
			}
			return fmt.Errorf("%w: %s is %s", domain.ErrReadOnly, current.ID, current.Status)
		}
		next := current.Clone()
		if err := m.apply(ctx, s.ledger, actor, &next); err != nil {
			return err
		}
		next.Version = current.Version + 1
		event := domain.NewChangeEvent(m.op, m.intent, next, current.Status, actor.ID, m.metadata, s.clock())
		stored, err := s.ledger.CommitSwap(ctx, recordID, current.Version, next, event)
		if err != nil {
			return err
		}
		out = stored
		return nil
	}()
	return out, s.finish(m.intent, m.input.ActorID, started, out, err)
}

// create runs build inside a serialized ledger transaction, stores its record, and logs the creation.
// Creation intents check invariants across records (one test per collection, one packaging per
// product, batch headroom), so they are the only writes that take the ledger-wide section.
func (s *Service) create(ctx context.Context, intent, actorID string, kind domain.RecordKind, build func(ctx context.Context, tx LedgerTx, actor domain.Actor) (domain.Record, map[string]string, error)) (domain.Record, error) {
	started := s.clock()
	var out domain.Record
	err := func() error {
		actor, err := s.authorizedActor(ctx, actorID)
		if err != nil {
			return err
		}
		if err := domain.AuthorizeCreate(actor, kind); err != nil {
			return err
		}
		return s.ledger.Transact(ctx, func(tx LedgerTx) error {
			rec, metadata, err := build(ctx, tx, actor)
			if err != nil {
				return err
			}
			if rec.Code != "" {
				if err := ensureCodeUnissued(ctx, tx, rec.Code); err != nil {
					return err
				}
			}
			stored, err := tx.Put(ctx, rec)
			if err != nil {
				return err
			}
			event := domain.NewChangeEvent(domain.ChangeOperationCreate, intent, stored, "", actor.ID, metadata, s.clock())
			if err := tx.AppendChangeEvent(ctx, event); err != nil {
				return err
			}
			out = stored
			return nil
		})
	}()
	return out, s.finish(intent, actorID, started, out, err)
}

// ensureCodeUnissued fails when code already identifies a stored record.
func ensureCodeUnissued(ctx context.Context, tx LedgerReader, code string) error {
	existing, err := tx.FindByCode(ctx, code)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s already names record %s", domain.ErrCodeCollision, code, existing.ID)
	case errors.Is(err, domain.ErrNotFound):
		return nil
	default:
		return err
	}
}

// finish logs and measures one intent outcome and returns err unchanged.
func (s *Service) finish(intent, actorID string, started time.Time, rec domain.Record, err error) error {
	elapsed := s.clock().Sub(started)
	if err != nil {
		kind := domain.KindOf(err)
		s.metrics.IntentRejected(intent, kind, elapsed)
		s.logger.Debug("intent rejected", "intent", intent, "actor_id", actorID, "error_kind", string(kind), "err", err)
		return err
	}
	s.metrics.IntentApplied(intent, rec.Kind, elapsed)
	s.logger.Info("intent applied", "intent", intent, "record_id", rec.ID, "kind", string(rec.Kind), "status", string(rec.Status), "version", rec.Version, "actor_id", actorID)
	return nil
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type nopMetrics struct{}

func (nopMetrics) IntentApplied(string, domain.RecordKind, time.Duration) {}
func (nopMetrics) IntentRejected(string, domain.ErrorKind, time.Duration) {}
func (nopMetrics) CodeMinted(string)                                      {}
