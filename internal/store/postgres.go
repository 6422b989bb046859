package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/dutch-engine/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const auctionColumns = `id, seller, asset_ref,
	asset_amount::TEXT, start_price::TEXT, end_price::TEXT,
	start_time, duration, buyer, status,
	settled_price::TEXT, closed_at`

func (s *PostgresStore) CreateAuction(ctx context.Context, a *model.Auction) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO auctions (seller, asset_ref, asset_amount, start_price, end_price,
		                       start_time, duration, buyer, status, settled_price)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6, $7, $8, $9, $10::NUMERIC)
		 RETURNING id`,
		a.Seller, a.AssetRef,
		a.AssetAmount.String(), a.StartPrice.String(), a.EndPrice.String(),
		a.StartTime, a.Duration, a.Buyer, string(a.Status), a.SettledPrice.String(),
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("insert auction: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAuction(ctx context.Context, id int64) (*model.Auction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, id)

	a, err := scanAuction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get auction %d: %w", id, err)
	}
	return a, nil
}

func (s *PostgresStore) ListAuctions(ctx context.Context) ([]model.Auction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+auctionColumns+` FROM auctions ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAuctions(rows)
}

func (s *PostgresStore) ListAuctionsBySeller(ctx context.Context, seller string) ([]model.Auction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE seller = $1 ORDER BY id DESC`, seller)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAuctions(rows)
}

func (s *PostgresStore) UpdateAuctionState(ctx context.Context, a *model.Auction, from model.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE auctions
		 SET status = $2, buyer = $3, settled_price = $4::NUMERIC, closed_at = $5
		 WHERE id = $1 AND status = $6`,
		a.ID, string(a.Status), a.Buyer, a.SettledPrice.String(), a.ClosedAt, string(from),
	)
	if err != nil {
		return fmt.Errorf("update auction %d: %w", a.ID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM auctions WHERE id = $1)`, a.ID).Scan(&exists); err != nil {
		return fmt.Errorf("update auction %d: %w", a.ID, err)
	}
	if !exists {
		return fmt.Errorf("%w: %d", ErrNotFound, a.ID)
	}
	return fmt.Errorf("%w: %d is no longer %s", ErrStatusConflict, a.ID, from)
}

func (s *PostgresStore) CountActive(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM auctions WHERE status = $1`, string(model.StatusActive)).Scan(&n)
	return n, err
}

func (s *PostgresStore) InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ledger_entries (id, auction_id, kind, seller, buyer, asset_ref, asset_amount, price, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9)`,
		e.ID, e.AuctionID, string(e.Kind), e.Seller, e.Buyer, e.AssetRef,
		e.AssetAmount.String(), e.Price.String(),
		e.Timestamp,
	)
	return err
}

const ledgerColumns = `id::TEXT, auction_id, kind, seller, buyer, asset_ref,
	asset_amount::TEXT, price::TEXT, timestamp`

func (s *PostgresStore) GetLedgerEntriesByAuction(ctx context.Context, auctionID int64) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE auction_id = $1 ORDER BY timestamp`, auctionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

func (s *PostgresStore) GetLedgerEntriesByUser(ctx context.Context, account string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries
		 WHERE seller = $1 OR buyer = $1 ORDER BY timestamp`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

// pgxRows is the subset of pgx.Rows the scanners need.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

// scanAuction reads one auction row. NUMERIC columns arrive as text so they
// round-trip through decimal without loss.
func scanAuction(row pgx.Row) (*model.Auction, error) {
	var a model.Auction
	var amount, startPrice, endPrice, settled, status string

	if err := row.Scan(&a.ID, &a.Seller, &a.AssetRef,
		&amount, &startPrice, &endPrice,
		&a.StartTime, &a.Duration, &a.Buyer, &status,
		&settled, &a.ClosedAt); err != nil {
		return nil, err
	}

	a.Status = model.Status(status)
	a.AssetAmount, _ = decimal.NewFromString(amount)
	a.StartPrice, _ = decimal.NewFromString(startPrice)
	a.EndPrice, _ = decimal.NewFromString(endPrice)
	a.SettledPrice, _ = decimal.NewFromString(settled)
	return &a, nil
}

func scanAuctions(rows pgxRows) ([]model.Auction, error) {
	var auctions []model.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		auctions = append(auctions, *a)
	}
	return auctions, rows.Err()
}

// scanLedgerEntries reads pgx rows into LedgerEntry slices.
func scanLedgerEntries(rows pgxRows) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var kind, amountS, priceS string

		if err := rows.Scan(&e.ID, &e.AuctionID, &kind, &e.Seller, &e.Buyer, &e.AssetRef,
			&amountS, &priceS, &e.Timestamp); err != nil {
			return nil, err
		}

		e.Kind = model.LedgerKind(kind)
		e.AssetAmount, _ = decimal.NewFromString(amountS)
		e.Price, _ = decimal.NewFromString(priceS)

		entries = append(entries, e)
	}
	return entries, rows.Err()
}
