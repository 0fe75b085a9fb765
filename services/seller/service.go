package seller

import (
	"context"
	"strings"

	"incentive-controlplane/pkg/errutil"
	"incentive-controlplane/pkg/gen"
	"incentive-controlplane/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Directory resolves sellers for the fulfillment engine.
type Directory interface {
	WithTrx(tx *gorm.DB) Directory
	FindByID(ctx context.Context, id string) (*Seller, error)
	FindByDocument(ctx context.Context, cpf string) (*Seller, error)
}

type Service struct {
	db       *gorm.DB
	logger   *zap.Logger
	node     *snowflake.Node
	validate *validator.Validate
	store    repository.Repository[Seller]
}

type Params struct {
	fx.In

	DB     *gorm.DB
	Logger *zap.Logger     `optional:"true"`
	Node   *snowflake.Node `optional:"true"`
}

func NewService(p Params) *Service {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:       p.DB,
		logger:   logger,
		node:     p.Node,
		validate: validator.New(),
		store:    repository.ProvideStore[Seller](p.DB),
	}
}

var _ Directory = (*Service)(nil)

// WithTrx returns a copy that reads through tx.
func (s *Service) WithTrx(tx *gorm.DB) Directory {
	if tx == nil {
		return s
	}
	cp := *s
	cp.db = tx
	cp.store = s.store.WithTrx(tx)
	return &cp
}

type RegisterInput struct {
	Name      string `json:"name" validate:"required"`
	CPF       string `json:"cpf" validate:"required"`
	OpticCNPJ string `json:"optic_cnpj"`
	ManagerID string `json:"manager_id"`
}

// Register stores a seller keyed by the digits of its CPF.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Seller, error) {
	if err := s.validate.StructCtx(ctx, in); err != nil {
		return nil, errutil.ValidationFailed("invalid seller", err)
	}

	seller := &Seller{
		ID:        gen.NextID(s.node),
		Name:      strings.TrimSpace(in.Name),
		CPF:       Digits(in.CPF),
		OpticCNPJ: Digits(in.OpticCNPJ),
	}
	if in.ManagerID != "" {
		manager, err := s.FindByID(ctx, in.ManagerID)
		if err != nil {
			return nil, err
		}
		seller.ManagerID = &manager.ID
	}

	if err := s.store.Create(ctx, seller); err != nil {
		s.logger.Error("failed to register seller", zap.Error(err))
		return nil, errutil.Internal("failed to register seller", err)
	}
	return seller, nil
}

func (s *Service) FindByID(ctx context.Context, id string) (*Seller, error) {
	seller, err := s.store.FindOne(ctx, &Seller{ID: id})
	if err != nil {
		return nil, err
	}
	if seller == nil {
		return nil, errutil.NotFound("seller not found", nil, errutil.WithReason(errutil.ReasonSellerNotFound))
	}
	return seller, nil
}

// FindByDocument looks a seller up by CPF in any punctuation.
func (s *Service) FindByDocument(ctx context.Context, cpf string) (*Seller, error) {
	digits := Digits(cpf)
	if digits == "" {
		return nil, errutil.NotFound("seller not found", nil, errutil.WithReason(errutil.ReasonSellerNotFound))
	}
	seller, err := s.store.FindOne(ctx, &Seller{CPF: digits})
	if err != nil {
		return nil, err
	}
	if seller == nil {
		return nil, errutil.NotFound("no seller registered with this CPF", nil, errutil.WithReason(errutil.ReasonSellerNotFound))
	}
	return seller, nil
}

// Digits drops everything but 0-9.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
