package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"petstore-fulfillment/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetProductByID retrieves a product together with its size variants
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product %d: %w", id, models.ErrProductUnavailable)
	}
	if err != nil {
		return nil, err
	}

	err = s.db.SelectContext(ctx, &product.Sizes,
		"SELECT * FROM product_sizes WHERE product_id = $1 ORDER BY label", id)
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProductsByIDs retrieves multiple products with their size variants
func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.Product
	if err := s.db.SelectContext(ctx, &products, query, args...); err != nil {
		return nil, err
	}

	query, args, err = sqlx.In("SELECT * FROM product_sizes WHERE product_id IN (?) ORDER BY label", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var sizes []models.SizeVariant
	if err := s.db.SelectContext(ctx, &sizes, query, args...); err != nil {
		return nil, err
	}

	byProduct := make(map[int64][]models.SizeVariant)
	for _, sv := range sizes {
		byProduct[sv.ProductID] = append(byProduct[sv.ProductID], sv)
	}
	for i := range products {
		products[i].Sizes = byProduct[products[i].ID]
	}
	return products, nil
}

// restoreLines adds each line's quantity back to its variant within the
// caller's transaction; the inverse of the reservation applied by
// CreateOrder.
func restoreLines(ctx context.Context, tx *sqlx.Tx, lines []models.OrderLine) error {
	for _, line := range lines {
		_, err := tx.ExecContext(ctx,
			"UPDATE product_sizes SET quantity = quantity + $1 WHERE product_id = $2 AND label = $3",
			line.Quantity, line.ProductID, line.SizeLabel)
		if err != nil {
			return fmt.Errorf("failed to restore stock for product %d size %s: %w",
				line.ProductID, line.SizeLabel, err)
		}
	}
	return nil
}
