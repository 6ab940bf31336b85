// Package catalog manages the products offered for sale.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gosimple/slug"

	"github.com/01moynul/storefront-ledger/internal/apperr"
	"github.com/01moynul/storefront-ledger/internal/database"
	"github.com/01moynul/storefront-ledger/internal/logger"
	"github.com/01moynul/storefront-ledger/internal/models"
	"github.com/01moynul/storefront-ledger/internal/money"
	"github.com/01moynul/storefront-ledger/internal/security"
)

type Service struct {
	db  *sql.DB
	log *logger.Logger
	now func() time.Time
}

func NewService(db *sql.DB, log *logger.Logger) *Service {
	return &Service{db: db, log: log, now: func() time.Time { return time.Now().UTC() }}
}

type ProductInput struct {
	Name             string       `json:"name" binding:"required,max=255"`
	Kind             string       `json:"kind" binding:"required,oneof=gift_card game_topup subscription"`
	Description      string       `json:"description" binding:"max=5000"`
	Price            money.Amount `json:"price" binding:"required,gt=0"`
	RequiresPlayerID bool         `json:"requires_player_id"`
	Active           *bool        `json:"active"`
}

const columns = `id, name, slug, kind, description, price, requires_player_id, active, created_at, updated_at`

func scan(row interface{ Scan(...interface{}) error }) (*models.Product, error) {
	var (
		p    models.Product
		desc *string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Slug, &p.Kind, &desc, &p.Price, &p.RequiresPlayerID, &p.Active,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if desc != nil {
		p.Description = *desc
	}
	return &p, nil
}

func (s *Service) one(ctx context.Context, where string, arg interface{}) (*models.Product, error) {
	p, err := scan(s.db.QueryRowContext(ctx, "SELECT "+columns+" FROM products WHERE "+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Product not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load product: %w", err)
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*models.Product, error) {
	return s.one(ctx, "id = ?", id)
}

// GetBySlug returns an active product for the storefront.
func (s *Service) GetBySlug(ctx context.Context, slugValue string) (*models.Product, error) {
	p, err := s.one(ctx, "slug = ?", strings.ToLower(strings.TrimSpace(slugValue)))
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, apperr.NotFound("Product not found")
	}
	return p, nil
}

// List returns products by name. Inactive ones are included only for admins.
func (s *Service) List(ctx context.Context, kind string, includeInactive bool) ([]models.Product, error) {
	var (
		where []string
		args  []interface{}
	)
	if !includeInactive {
		where = append(where, "active = TRUE")
	}
	if kind != "" {
		where = append(where, "kind = ?")
		args = append(args, kind)
	}
	query := "SELECT " + columns + " FROM products"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY name, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	list := []models.Product{}
	for rows.Next() {
		p, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		list = append(list, *p)
	}
	return list, rows.Err()
}

// uniqueSlug derives a slug from name, adding -2, -3 and so on until it is
// free. excludeID lets a product keep its own slug on update.
func (s *Service) uniqueSlug(ctx context.Context, q database.Querier, name string, excludeID int64) (string, error) {
	base := slug.Make(name)
	if base == "" {
		return "", apperr.Validation("Product name must contain letters or digits")
	}
	candidate := base
	for n := 2; ; n++ {
		var id int64
		err := q.QueryRowContext(ctx, "SELECT id FROM products WHERE slug = ?", candidate).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && id == excludeID) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("check slug: %w", err)
		}
		candidate = fmt.Sprintf("%s-%d", base, n)
	}
}

func (s *Service) Create(ctx context.Context, in ProductInput) (*models.Product, error) {
	name := security.CleanText(in.Name)
	if name == "" {
		return nil, apperr.Validation("Product name is required")
	}
	if in.Price <= 0 {
		return nil, apperr.Validation("Price must be greater than zero")
	}
	active := true
	if in.Active != nil {
		active = *in.Active
	}

	var id int64
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		sl, err := s.uniqueSlug(ctx, tx, name, 0)
		if err != nil {
			return err
		}
		now := s.now()
		res, err := tx.ExecContext(ctx, `
			INSERT INTO products (name, slug, kind, description, price, requires_player_id, active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			name, sl, in.Kind, security.SanitizeHTML(in.Description), in.Price, in.RequiresPlayerID, active, now, now)
		if err != nil {
			return fmt.Errorf("insert product: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Infow("product created", "product_id", id, "name", name, "price", in.Price.String())
	return s.Get(ctx, id)
}

// Update replaces a product's fields. Past order lines keep the price they
// were sold at.
func (s *Service) Update(ctx context.Context, id int64, in ProductInput) (*models.Product, error) {
	name := security.CleanText(in.Name)
	if name == "" {
		return nil, apperr.Validation("Product name is required")
	}
	if in.Price <= 0 {
		return nil, apperr.Validation("Price must be greater than zero")
	}

	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var active bool
		err := tx.QueryRowContext(ctx, "SELECT active FROM products WHERE id = ?", id).Scan(&active)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("Product not found")
		}
		if err != nil {
			return fmt.Errorf("load product: %w", err)
		}
		if in.Active != nil {
			active = *in.Active
		}
		sl, err := s.uniqueSlug(ctx, tx, name, id)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE products SET name = ?, slug = ?, kind = ?, description = ?, price = ?, requires_player_id = ?,
			active = ?, updated_at = ? WHERE id = ?`,
			name, sl, in.Kind, security.SanitizeHTML(in.Description), in.Price, in.RequiresPlayerID, active, s.now(), id)
		if err != nil {
			return fmt.Errorf("update product: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Infow("product updated", "product_id", id)
	return s.Get(ctx, id)
}

func (s *Service) SetActive(ctx context.Context, id int64, active bool) (*models.Product, error) {
	res, err := s.db.ExecContext(ctx, "UPDATE products SET active = ?, updated_at = ? WHERE id = ?", active, s.now(), id)
	if err != nil {
		return nil, fmt.Errorf("update product: %w", err)
	}
	n, err := database.RowsChanged(res)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, apperr.NotFound("Product not found")
	}
	return s.Get(ctx, id)
}
