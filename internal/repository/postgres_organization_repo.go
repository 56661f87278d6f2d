package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/legaldesk/internal/model"
)

// PostgresOrganizationRepo はPostgreSQLを使用した組織リポジトリ。
type PostgresOrganizationRepo struct {
	db *sql.DB
}

// NewPostgresOrganizationRepo はPostgresOrganizationRepoを生成する。
func NewPostgresOrganizationRepo(db *sql.DB) *PostgresOrganizationRepo {
	return &PostgresOrganizationRepo{db: db}
}

const organizationColumns = `id, slug, full_name, email, phone, street_address,
	locality, region, postal_code, country, is_provider, created_at`

// FindBySlug は指定スラッグの組織を取得する。見つからない場合はnilを返す。
func (r *PostgresOrganizationRepo) FindBySlug(ctx context.Context, slug string) (*model.Organization, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+organizationColumns+` FROM organizations WHERE slug = $1`,
		slug,
	)
	org, err := scanOrganization(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find organization by slug: %w", err)
	}
	return org, nil
}

// FindByID は指定IDの組織を取得する。見つからない場合はnilを返す。
func (r *PostgresOrganizationRepo) FindByID(ctx context.Context, id string) (*model.Organization, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+organizationColumns+` FROM organizations WHERE id = $1`,
		id,
	)
	org, err := scanOrganization(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find organization by ID: %w", err)
	}
	return org, nil
}

func scanOrganization(row *sql.Row) (*model.Organization, error) {
	org := &model.Organization{}
	err := row.Scan(
		&org.ID, &org.Slug, &org.FullName, &org.Email, &org.Phone, &org.StreetAddress,
		&org.Locality, &org.Region, &org.PostalCode, &org.Country, &org.IsProvider, &org.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return org, nil
}

// compile-time interface check
var _ OrganizationRepository = (*PostgresOrganizationRepo)(nil)
