package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"intake/internal/customer/models"
	id "intake/pkg/domain"
	"intake/pkg/platform/sentinel"
)

const dateLayout = "2006-01-02"

const selectColumns = `id, owner_id, empresa, cnpj, email, celular, telefone, cep, endereco,
	complemento, nome_completo, cpf, data_nascimento, banco, agencia, conta, status, created_at`

// PostgresStore persists registrations with pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *PostgresStore) Save(ctx context.Context, reg *models.Registration) error {
	c := reg.Customer
	var birth *time.Time
	if c.DataNascimento != "" {
		d, err := time.Parse(dateLayout, c.DataNascimento)
		if err != nil {
			return fmt.Errorf("parse data_nascimento: %w", err)
		}
		birth = &d
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO customer_registrations (
			id, owner_id, empresa, cnpj, email, celular, telefone, cep, endereco,
			complemento, nome_completo, cpf, data_nascimento, banco, agencia, conta, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`,
		reg.ID.String(), reg.OwnerID.String(), c.Empresa, c.CNPJ, c.Email, c.Celular, nullable(c.Telefone),
		c.CEP, c.Endereco, nullable(c.Complemento), c.NomeCompleto, c.CPF, birth,
		c.Banco, c.Agencia, c.Conta, string(reg.Status), reg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert registration: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, owner id.UserID, regID id.SubmissionID) (*models.Registration, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectColumns+`
		FROM customer_registrations WHERE id = $1 AND owner_id = $2`,
		regID.String(), owner.String(),
	)
	reg, err := scanRegistration(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find registration: %w", err)
	}
	return reg, nil
}

// ListByOwner returns up to limit registrations, newest first.
func (s *PostgresStore) ListByOwner(ctx context.Context, owner id.UserID, limit int) ([]*models.Registration, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `SELECT `+selectColumns+`
		FROM customer_registrations WHERE owner_id = $1
		ORDER BY created_at DESC LIMIT $2`,
		owner.String(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	var out []*models.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		out = append(out, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate registrations: %w", err)
	}
	return out, nil
}

func scanRegistration(row pgx.Row) (*models.Registration, error) {
	var (
		regID, ownerID        string
		telefone, complemento *string
		birth                 *time.Time
		status                string
		reg                   models.Registration
	)
	c := &reg.Customer
	err := row.Scan(&regID, &ownerID, &c.Empresa, &c.CNPJ, &c.Email, &c.Celular, &telefone,
		&c.CEP, &c.Endereco, &complemento, &c.NomeCompleto, &c.CPF, &birth,
		&c.Banco, &c.Agencia, &c.Conta, &status, &reg.CreatedAt)
	if err != nil {
		return nil, err
	}
	if reg.ID, err = id.ParseSubmissionID(regID); err != nil {
		return nil, err
	}
	if reg.OwnerID, err = id.ParseUserID(ownerID); err != nil {
		return nil, err
	}
	if telefone != nil {
		c.Telefone = *telefone
	}
	if complemento != nil {
		c.Complemento = *complemento
	}
	if birth != nil {
		c.DataNascimento = birth.Format(dateLayout)
	}
	reg.Status = models.Status(status)
	reg.CreatedAt = reg.CreatedAt.UTC()
	return &reg, nil
}
