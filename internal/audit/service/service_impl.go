package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/spendledger/internal/audit/domain"
	"github.com/smallbiznis/spendledger/internal/clock"
	obscontext "github.com/smallbiznis/spendledger/internal/observability/context"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultBufferSize = 1024

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  auditdomain.Repository
	Clock clock.Clock
}

// AsyncSink buffers audit events and writes them from a single background worker.
type AsyncSink struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  auditdomain.Repository
	clock clock.Clock

	queue chan auditdomain.AuditLog
	wg    sync.WaitGroup
	once  sync.Once
	stop  sync.Once
}

func NewAsyncSink(p Params) *AsyncSink {
	return &AsyncSink{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: p.Clock,
		queue: make(chan auditdomain.AuditLog, defaultBufferSize),
	}
}

// Start launches the writer. Calling it more than once is a no-op.
func (s *AsyncSink) Start() {
	s.once.Do(func() {
		s.wg.Add(1)
		go s.run()
	})
}

// Close stops accepting events and waits for queued ones to be written.
func (s *AsyncSink) Close(ctx context.Context) error {
	s.stop.Do(func() { close(s.queue) })
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *AsyncSink) Record(ctx context.Context, evt auditdomain.Event) {
	action := strings.TrimSpace(evt.Action)
	if action == "" {
		s.log.Warn("dropping audit event", zap.Error(auditdomain.ErrInvalidAction))
		return
	}

	targetType := strings.TrimSpace(evt.TargetType)
	if targetType == "" {
		targetType = "unknown"
	}

	actorType, actorID := obscontext.ActorFromContext(ctx)
	if actorType == "" {
		actorType = string(auditdomain.ActorTypeSystem)
	}

	payload := map[string]any{}
	for key, value := range evt.Metadata {
		if key == "" {
			continue
		}
		payload[key] = value
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}

	entry := auditdomain.AuditLog{
		ID:            s.genID.Generate(),
		Action:        action,
		TargetType:    targetType,
		TargetID:      strings.TrimSpace(evt.TargetID),
		CorrelationID: obscontext.CorrelationIDFromContext(ctx),
		ActorType:     actorType,
		ActorID:       actorID,
		Metadata:      datatypes.JSONMap(payload),
		CreatedAt:     s.clock.Now(),
	}

	defer func() {
		// queue closed during shutdown
		if recover() != nil {
			s.log.Warn("audit sink closed, event dropped", zap.String("action", action))
		}
	}()
	select {
	case s.queue <- entry:
	default:
		s.log.Warn("audit queue full, event dropped", zap.String("action", action))
	}
}

func (s *AsyncSink) run() {
	defer s.wg.Done()
	for entry := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.repo.Insert(ctx, s.db, &entry); err != nil {
			s.log.Warn("failed to write audit log", zap.String("action", entry.Action), zap.Error(err))
		}
		cancel()
	}
}

// List returns recent audit entries for a target.
func (s *AsyncSink) List(ctx context.Context, filter auditdomain.ListFilter) ([]auditdomain.AuditLog, error) {
	return s.repo.List(ctx, s.db, filter)
}
