package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/spendledger/internal/aggregation"
	"github.com/smallbiznis/spendledger/internal/clock"
	"github.com/smallbiznis/spendledger/internal/inventory/domain"
	pkgdb "github.com/smallbiznis/spendledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Repo   domain.Repository
	Engine *aggregation.Engine
	Clock  clock.Clock
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	repo   domain.Repository
	engine *aggregation.Engine
	clock  clock.Clock
}

func New(p Params) domain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("inventory.service"),
		genID:  p.GenID,
		repo:   p.Repo,
		engine: p.Engine,
		clock:  p.Clock,
	}
}

func (s *Service) CreateBatch(ctx context.Context, req domain.CreateBatchRequest) (domain.Batch, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Batch{}, domain.ErrInvalidName
	}
	now := s.clock.Now()
	batch := domain.Batch{
		ID:            s.genID.Generate(),
		Name:          name,
		TotalSpending: decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.InsertBatch(ctx, s.db, &batch); err != nil {
		return domain.Batch{}, err
	}
	return batch, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CreateCustomerRequest) (domain.Customer, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Customer{}, domain.ErrInvalidName
	}
	now := s.clock.Now()
	customer := domain.Customer{
		ID:            s.genID.Generate(),
		Name:          name,
		TotalSpending: decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.InsertCustomer(ctx, s.db, &customer); err != nil {
		return domain.Customer{}, err
	}
	return customer, nil
}

func (s *Service) CreateInvoiceEntity(ctx context.Context, req domain.CreateInvoiceEntityRequest) (domain.InvoiceEntity, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.InvoiceEntity{}, domain.ErrInvalidName
	}
	now := s.clock.Now()
	entity := domain.InvoiceEntity{
		ID:            s.genID.Generate(),
		Name:          name,
		TotalSpending: decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.InsertInvoiceEntity(ctx, s.db, &entity); err != nil {
		return domain.InvoiceEntity{}, err
	}
	return entity, nil
}

// CreateAccount inserts the account and refreshes the counters of its parents
// in the same transaction.
func (s *Service) CreateAccount(ctx context.Context, req domain.CreateAccountRequest) (domain.Account, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Account{}, domain.ErrInvalidName
	}
	if req.BatchID == 0 {
		return domain.Account{}, domain.ErrBatchRequired
	}
	status := req.Status
	if status == "" {
		status = domain.AccountStatusActive
	}
	if !status.Valid() {
		return domain.Account{}, domain.ErrInvalidStatus
	}

	var externalRef *string
	if ref := strings.TrimSpace(req.ExternalRef); ref != "" {
		externalRef = &ref
	}

	now := s.clock.Now()
	account := domain.Account{
		ID:                s.genID.Generate(),
		ExternalRef:       externalRef,
		Name:              name,
		BatchID:           req.BatchID,
		CurrentInvoiceID:  req.CurrentInvoiceID,
		CurrentCustomerID: req.CurrentCustomerID,
		Status:            status,
		TotalSpending:     decimal.Zero,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, parent := range account.Parents() {
			ok, err := s.repo.EntityExists(ctx, tx, parent)
			if err != nil {
				return err
			}
			if !ok {
				return parent.Type.UnknownErr()
			}
		}
		if err := s.repo.InsertAccount(ctx, tx, &account); err != nil {
			if pkgdb.IsDuplicateKeyErr(err) {
				return domain.ErrDuplicateExternalRef
			}
			return err
		}
		_, err := s.engine.RecomputeRefs(ctx, tx, account.Parents())
		return err
	})
	if err != nil {
		return domain.Account{}, err
	}

	s.log.Debug("account created",
		zap.String("account_id", account.ID.String()),
		zap.String("batch_id", account.BatchID.String()),
	)
	return account, nil
}

func (s *Service) GetAccount(ctx context.Context, id snowflake.ID) (domain.Account, error) {
	if id == 0 {
		return domain.Account{}, domain.ErrInvalidID
	}
	account, err := s.repo.FindAccount(ctx, s.db, id)
	if err != nil {
		return domain.Account{}, err
	}
	if account == nil {
		return domain.Account{}, domain.ErrUnknownAccount
	}
	return *account, nil
}
