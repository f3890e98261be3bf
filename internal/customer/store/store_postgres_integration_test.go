//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"intake/internal/customer/models"
	"intake/internal/customer/store"
	"intake/internal/platform/postgres"
	id "intake/pkg/domain"
	"intake/pkg/platform/sentinel"
	"intake/pkg/testutil/containers"
)

type PostgresCustomerStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *store.PostgresStore
}

func TestPostgresCustomerStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresCustomerStoreSuite))
}

func (s *PostgresCustomerStoreSuite) SetupSuite() {
	s.pg = containers.GetManager().GetPostgres(s.T())
	s.Require().NoError(postgres.Migrate(context.Background(), s.pg.DB))
}

func (s *PostgresCustomerStoreSuite) SetupTest() {
	s.pg.Exec(s.T(), "TRUNCATE customer_registrations")
	s.store = store.NewPostgres(s.pg.Pool)
}

func newRegistration(owner id.UserID, createdAt time.Time) *models.Registration {
	return &models.Registration{
		ID:      id.NewSubmissionID(),
		OwnerID: owner,
		Customer: models.Customer{
			Empresa:        "Padaria Central LTDA",
			CNPJ:           "11.222.333/0001-81",
			Email:          "contato@padaria.com.br",
			Celular:        "(11) 98765-4321",
			CEP:            "01310-100",
			Endereco:       "Av. Paulista, 1000",
			NomeCompleto:   "Maria da Silva",
			CPF:            "529.982.247-25",
			DataNascimento: "1985-04-15",
			Banco:          "341",
			Agencia:        "1234",
			Conta:          "123456-7",
		},
		Status:    models.StatusSubmitted,
		CreatedAt: createdAt,
	}
}

func (s *PostgresCustomerStoreSuite) TestSaveAndFind() {
	ctx := context.Background()
	owner := id.NewUserID()
	reg := newRegistration(owner, time.Now().UTC().Truncate(time.Microsecond))
	s.Require().NoError(s.store.Save(ctx, reg))

	got, err := s.store.FindByID(ctx, owner, reg.ID)
	s.Require().NoError(err)
	s.Equal(reg.Customer, got.Customer)
	s.Equal(reg.OwnerID, got.OwnerID)
	s.Equal(models.StatusSubmitted, got.Status)
	s.True(reg.CreatedAt.Equal(got.CreatedAt))

	_, err = s.store.FindByID(ctx, id.NewUserID(), reg.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresCustomerStoreSuite) TestOptionalColumnsRoundTrip() {
	ctx := context.Background()
	owner := id.NewUserID()
	reg := newRegistration(owner, time.Now().UTC())
	reg.Customer.DataNascimento = ""
	reg.Customer.Telefone = "(11) 3456-7890"
	s.Require().NoError(s.store.Save(ctx, reg))

	got, err := s.store.FindByID(ctx, owner, reg.ID)
	s.Require().NoError(err)
	s.Empty(got.Customer.DataNascimento)
	s.Empty(got.Customer.Complemento)
	s.Equal("(11) 3456-7890", got.Customer.Telefone)
}

func (s *PostgresCustomerStoreSuite) TestListNewestFirst() {
	ctx := context.Background()
	owner := id.NewUserID()
	base := time.Now().UTC().Truncate(time.Microsecond)
	older := newRegistration(owner, base.Add(-time.Hour))
	newer := newRegistration(owner, base)
	s.Require().NoError(s.store.Save(ctx, older))
	s.Require().NoError(s.store.Save(ctx, newer))
	s.Require().NoError(s.store.Save(ctx, newRegistration(id.NewUserID(), base)))

	regs, err := s.store.ListByOwner(ctx, owner, 10)
	s.Require().NoError(err)
	s.Require().Len(regs, 2)
	s.Equal(newer.ID, regs[0].ID)
	s.Equal(older.ID, regs[1].ID)
}
