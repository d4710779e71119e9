package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"tradepost/internal/domain"
	"tradepost/internal/store"
)

var schema = []string{
	`create table if not exists items (
		name text primary key,
		buy_price bigint not null check (buy_price >= 0),
		sell_price bigint not null check (sell_price >= 0)
	)`,
	`create table if not exists users (
		name text primary key,
		credits bigint not null default 0 check (credits >= 0),
		updated_at timestamptz not null default now()
	)`,
	`create table if not exists user_items (
		user_name text not null references users(name) on delete cascade,
		item_name text not null,
		quantity bigint not null check (quantity > 0),
		primary key (user_name, item_name)
	)`,
}

// Backend keeps accounts and the catalog in postgres.
type Backend struct {
	db *sql.DB
}

var _ store.Backend = (*Backend)(nil)

// Open connects to databaseURL and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*Backend, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	return New(db), nil
}

func New(db *sql.DB) *Backend {
	return &Backend{db: db}
}

// Migrate creates the tables if they do not exist yet.
func (b *Backend) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "apply schema")
		}
	}
	return nil
}

// SeedItems inserts catalog entries that are not present yet. Existing rows
// keep their prices.
func (b *Backend) SeedItems(ctx context.Context, items []domain.Item) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin seed")
	}
	defer func() { _ = tx.Rollback() }()
	for _, item := range items {
		if _, err := tx.ExecContext(ctx,
			`insert into items(name, buy_price, sell_price) values ($1, $2, $3)
			 on conflict (name) do nothing`,
			item.Name, item.BuyPrice, item.SellPrice,
		); err != nil {
			return errors.Wrapf(err, "seed item %q", item.Name)
		}
	}
	return errors.Wrap(tx.Commit(), "commit seed")
}

func (b *Backend) Load(ctx context.Context) ([]domain.Item, []domain.User, error) {
	items, err := b.loadItems(ctx)
	if err != nil {
		return nil, nil, err
	}
	users, err := b.loadUsers(ctx)
	if err != nil {
		return nil, nil, err
	}
	return items, users, nil
}

func (b *Backend) loadItems(ctx context.Context) ([]domain.Item, error) {
	rows, err := b.db.QueryContext(ctx, `select name, buy_price, sell_price from items order by name`)
	if err != nil {
		return nil, errors.Wrap(err, "query items")
	}
	defer rows.Close()
	var items []domain.Item
	for rows.Next() {
		var item domain.Item
		if err := rows.Scan(&item.Name, &item.BuyPrice, &item.SellPrice); err != nil {
			return nil, errors.Wrap(err, "scan item")
		}
		items = append(items, item)
	}
	return items, errors.Wrap(rows.Err(), "iterate items")
}

func (b *Backend) loadUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := b.db.QueryContext(ctx, `select name, credits from users order by name`)
	if err != nil {
		return nil, errors.Wrap(err, "query users")
	}
	var users []domain.User
	index := map[string]int{}
	for rows.Next() {
		var name string
		var credits int64
		if err := rows.Scan(&name, &credits); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan user")
		}
		index[name] = len(users)
		users = append(users, domain.User{Name: name, Credits: credits, Items: map[string]int64{}})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errors.Wrap(err, "iterate users")
	}
	rows.Close()

	owned, err := b.db.QueryContext(ctx, `select user_name, item_name, quantity from user_items`)
	if err != nil {
		return nil, errors.Wrap(err, "query user items")
	}
	defer owned.Close()
	for owned.Next() {
		var userName, itemName string
		var qty int64
		if err := owned.Scan(&userName, &itemName, &qty); err != nil {
			return nil, errors.Wrap(err, "scan user item")
		}
		i, ok := index[userName]
		if !ok {
			continue
		}
		users[i].Items[itemName] = qty
	}
	return users, errors.Wrap(owned.Err(), "iterate user items")
}

// Save writes the whole snapshot in one transaction.
func (b *Backend) Save(ctx context.Context, users []domain.User) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin save")
	}
	defer func() { _ = tx.Rollback() }()

	for _, u := range users {
		if _, err := tx.ExecContext(ctx,
			`insert into users(name, credits, updated_at) values ($1, $2, now())
			 on conflict (name) do update
			 set credits = excluded.credits, updated_at = excluded.updated_at`,
			u.Name, u.Credits,
		); err != nil {
			return errors.Wrapf(err, "upsert user %q", u.Name)
		}
		names := u.ItemNames()
		if _, err := tx.ExecContext(ctx,
			`delete from user_items where user_name = $1 and not (item_name = any($2))`,
			u.Name, pq.Array(names),
		); err != nil {
			return errors.Wrapf(err, "prune items of %q", u.Name)
		}
		for _, name := range names {
			if _, err := tx.ExecContext(ctx,
				`insert into user_items(user_name, item_name, quantity) values ($1, $2, $3)
				 on conflict (user_name, item_name) do update set quantity = excluded.quantity`,
				u.Name, name, u.Items[name],
			); err != nil {
				return errors.Wrapf(err, "upsert item %q of %q", name, u.Name)
			}
		}
	}
	return errors.Wrap(tx.Commit(), "commit save")
}

func (b *Backend) Close() error {
	return b.db.Close()
}
