// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/playhost-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrInsufficientBalance возвращается при попытке списания суммы, превышающей баланс.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrCouponNotFound возвращается, если активный купон с таким кодом не найден.
	ErrCouponNotFound = errors.New("coupon not found")
	// ErrCouponAlreadyRedeemed возвращается при повторной активации купона тем же пользователем.
	ErrCouponAlreadyRedeemed = errors.New("coupon already redeemed")
	// ErrCouponExhausted возвращается, когда купон исчерпал лимит активаций.
	ErrCouponExhausted = errors.New("coupon max uses reached")
	// ErrPlanNotFound возвращается, если активный тариф не найден.
	ErrPlanNotFound = errors.New("plan not found")
	// ErrSoftwareNotFound возвращается, если серверное ПО не найдено.
	ErrSoftwareNotFound = errors.New("software not found")
	// ErrStoreItemNotFound возвращается, если активный товар магазина не найден.
	ErrStoreItemNotFound = errors.New("store item not found")
	// ErrServerNotFound возвращается, если сервер не найден или принадлежит другому пользователю.
	ErrServerNotFound = errors.New("server not found")
	// ErrWalletNotFound возвращается при операции над несуществующим кошельком.
	ErrWalletNotFound = errors.New("wallet not found")
)

// CooldownError возвращается при попытке получить ежедневную награду до окончания перерыва.
type CooldownError struct {
	NextClaimAt time.Time
	Remaining   time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("daily reward already claimed, next claim at %s", e.NextClaimAt.Format(time.RFC3339))
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет операцию при конфликте сериализации, дедлоке или сетевой ошибке.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
			return err
		}

		if isConnectionError(err) {
			return retry.RetryableError(err)
		}

		return err
	})
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// GetOrCreateUser возвращает пользователя по внешнему идентификатору, создавая его при первом обращении.
// Соответствие auth_uuid -> id неизменно после создания; email обновляется до актуального.
func (r *PostgresRepository) GetOrCreateUser(ctx context.Context, subject, email string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO users (auth_uuid, email, role) VALUES ($1, $2, 'user')
		 ON CONFLICT (auth_uuid) DO UPDATE SET email = EXCLUDED.email
		 RETURNING id, auth_uuid, email, role, created_at`,
		subject, email,
	)

	var u model.User
	if err := row.Scan(&u.ID, &u.AuthUUID, &u.Email, &u.Role, &u.CreatedAt); err != nil {
		return nil, fmt.Errorf("get or create user: %w", err)
	}

	return &u, nil
}

// GetOrCreateWallet возвращает кошелёк пользователя, создавая его с нулевым балансом при первом обращении.
func (r *PostgresRepository) GetOrCreateWallet(ctx context.Context, userID int64) (*model.Wallet, error) {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO wallets (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}

	row := r.pool.QueryRow(ctx,
		`SELECT user_id, balance, credits, total_earned, updated_at FROM wallets WHERE user_id = $1`,
		userID,
	)

	var w model.Wallet
	if err := row.Scan(&w.UserID, &w.Balance, &w.Credits, &w.TotalEarned, &w.UpdatedAt); err != nil {
		return nil, fmt.Errorf("get wallet: %w", err)
	}

	return &w, nil
}

// CreditWallet атомарно увеличивает баланс кошелька и возвращает новый баланс.
// При earned = true сумма также учитывается в счётчике total_earned.
func (r *PostgresRepository) CreditWallet(ctx context.Context, userID, amount int64, earned bool) (int64, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE wallets
		 SET balance = balance + $2,
		     total_earned = total_earned + CASE WHEN $3 THEN $2 ELSE 0 END,
		     updated_at = now()
		 WHERE user_id = $1
		 RETURNING balance`,
		userID, amount, earned,
	)

	var balance int64
	if err := row.Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrWalletNotFound
		}
		return 0, fmt.Errorf("credit wallet: %w", err)
	}

	return balance, nil
}

// DebitWallet атомарно списывает сумму с кошелька, если баланса достаточно.
// Условное обновление исключает уход баланса в минус при параллельных списаниях.
func (r *PostgresRepository) DebitWallet(ctx context.Context, userID, amount int64) (int64, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE wallets
		 SET balance = balance - $2, updated_at = now()
		 WHERE user_id = $1 AND balance >= $2
		 RETURNING balance`,
		userID, amount,
	)

	var balance int64
	if err := row.Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrInsufficientBalance
		}
		return 0, fmt.Errorf("debit wallet: %w", err)
	}

	return balance, nil
}

// AppendTransaction добавляет запись в журнал операций.
func (r *PostgresRepository) AppendTransaction(ctx context.Context, userID, amount int64, txType model.TransactionType, referenceID *int64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO transactions (user_id, amount, type, reference_id) VALUES ($1, $2, $3, $4)`,
		userID, amount, string(txType), referenceID,
	)
	if err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

// ListTransactions возвращает страницу журнала операций пользователя и общее число записей.
func (r *PostgresRepository) ListTransactions(ctx context.Context, userID int64, offset, limit int) ([]model.Transaction, int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM transactions WHERE user_id = $1`,
		userID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, amount, type, reference_id, created_at
		 FROM transactions
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 OFFSET $2 LIMIT $3`,
		userID, offset, limit,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var res []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var txType string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &txType, &t.ReferenceID, &t.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan transaction: %w", err)
		}
		t.Type = model.TransactionType(txType)
		res = append(res, t)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}

	return res, total, nil
}

// ClaimDaily выполняет получение ежедневной награды одной транзакцией БД:
// проверка перерыва, запись о получении, начисление и строка журнала либо
// применяются целиком, либо не применяются вовсе. Строка пользователя
// блокируется, чтобы параллельные запросы не прошли проверку одновременно.
func (r *PostgresRepository) ClaimDaily(ctx context.Context, userID, amount int64, cooldown time.Duration) (int64, error) {
	var newBalance int64

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var dummy int
		if err := tx.QueryRow(ctx, `SELECT 1 FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&dummy); err != nil {
			return fmt.Errorf("lock user for update: %w", err)
		}

		var lastClaim time.Time
		err = tx.QueryRow(ctx,
			`SELECT claimed_at FROM daily_claims WHERE user_id = $1 ORDER BY claimed_at DESC LIMIT 1`,
			userID,
		).Scan(&lastClaim)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("select last claim: %w", err)
		}

		if err == nil {
			nextClaimAt := lastClaim.Add(cooldown)
			if remaining := time.Until(nextClaimAt); remaining > 0 {
				return &CooldownError{NextClaimAt: nextClaimAt, Remaining: remaining}
			}
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO daily_claims (user_id, amount) VALUES ($1, $2)`,
			userID, amount,
		); err != nil {
			return fmt.Errorf("insert daily claim: %w", err)
		}

		err = tx.QueryRow(ctx,
			`UPDATE wallets
			 SET balance = balance + $2, total_earned = total_earned + $2, updated_at = now()
			 WHERE user_id = $1
			 RETURNING balance`,
			userID, amount,
		).Scan(&newBalance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrWalletNotFound
			}
			return fmt.Errorf("credit wallet: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO transactions (user_id, amount, type) VALUES ($1, $2, $3)`,
			userID, amount, string(model.TransactionDailyClaim),
		); err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return newBalance, nil
}

// RedeemCoupon активирует купон для пользователя одной транзакцией БД.
// Повторную активацию отсекает частичный уникальный индекс по журналу
// операций, лимит активаций — условное обновление счётчика.
func (r *PostgresRepository) RedeemCoupon(ctx context.Context, userID int64, coupon *model.Coupon) (int64, error) {
	var newBalance int64

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		_, err = tx.Exec(ctx,
			`INSERT INTO transactions (user_id, amount, type, reference_id) VALUES ($1, $2, $3, $4)`,
			userID, coupon.Amount, string(model.TransactionCouponRedeem), coupon.ID,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return ErrCouponAlreadyRedeemed
			}
			return fmt.Errorf("insert transaction: %w", err)
		}

		cmdTag, err := tx.Exec(ctx,
			`UPDATE coupons
			 SET used_count = used_count + 1
			 WHERE id = $1 AND active AND (max_uses IS NULL OR used_count < max_uses)`,
			coupon.ID,
		)
		if err != nil {
			return fmt.Errorf("increment coupon uses: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			return ErrCouponExhausted
		}

		err = tx.QueryRow(ctx,
			`UPDATE wallets
			 SET balance = balance + $2, total_earned = total_earned + $2, updated_at = now()
			 WHERE user_id = $1
			 RETURNING balance`,
			userID, coupon.Amount,
		).Scan(&newBalance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrWalletNotFound
			}
			return fmt.Errorf("credit wallet: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return newBalance, nil
}

// GetCouponByCode возвращает активный купон по коду.
func (r *PostgresRepository) GetCouponByCode(ctx context.Context, code string) (*model.Coupon, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, code, amount, active, expires_at, max_uses, used_count
		 FROM coupons WHERE code = $1 AND active`,
		code,
	)

	var c model.Coupon
	if err := row.Scan(&c.ID, &c.Code, &c.Amount, &c.Active, &c.ExpiresAt, &c.MaxUses, &c.UsedCount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCouponNotFound
		}
		return nil, fmt.Errorf("get coupon: %w", err)
	}

	return &c, nil
}

type dailyRewardValue struct {
	Amount        int64 `json:"amount"`
	CooldownHours int64 `json:"cooldown_hours"`
}

// DailyRewardConfig возвращает размер ежедневной награды и длительность перерыва.
// При отсутствии записи действуют значения по умолчанию: 10 монет, 24 часа.
func (r *PostgresRepository) DailyRewardConfig(ctx context.Context) (int64, time.Duration, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx,
		`SELECT value FROM config WHERE key = 'daily_reward'`,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 10, 24 * time.Hour, nil
		}
		return 0, 0, fmt.Errorf("select config: %w", err)
	}

	var v dailyRewardValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, 0, fmt.Errorf("decode daily reward config: %w", err)
	}

	if v.Amount <= 0 {
		v.Amount = 10
	}
	if v.CooldownHours <= 0 {
		v.CooldownHours = 24
	}

	return v.Amount, time.Duration(v.CooldownHours) * time.Hour, nil
}

// GetPlan возвращает активный тариф по идентификатору.
func (r *PostgresRepository) GetPlan(ctx context.Context, id int64) (*model.Plan, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, software_id, name, ram, cpu, disk, price, active
		 FROM plans WHERE id = $1 AND active`,
		id,
	)

	var p model.Plan
	if err := row.Scan(&p.ID, &p.SoftwareID, &p.Name, &p.RAM, &p.CPU, &p.Disk, &p.Price, &p.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("get plan: %w", err)
	}

	return &p, nil
}

// GetSoftware возвращает серверное ПО по идентификатору.
func (r *PostgresRepository) GetSoftware(ctx context.Context, id int64) (*model.Software, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, slug, egg_id, nest_id FROM softwares WHERE id = $1`,
		id,
	)

	var s model.Software
	if err := row.Scan(&s.ID, &s.Name, &s.Slug, &s.EggID, &s.NestID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSoftwareNotFound
		}
		return nil, fmt.Errorf("get software: %w", err)
	}

	return &s, nil
}

// GetStoreItem возвращает активный товар магазина по идентификатору.
func (r *PostgresRepository) GetStoreItem(ctx context.Context, id int64) (*model.StoreItem, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, type, price, config, active
		 FROM store_items WHERE id = $1 AND active`,
		id,
	)

	var it model.StoreItem
	var itemType string
	if err := row.Scan(&it.ID, &it.Name, &itemType, &it.Price, &it.Config, &it.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStoreItemNotFound
		}
		return nil, fmt.Errorf("get store item: %w", err)
	}
	it.Type = model.ItemType(itemType)

	return &it, nil
}

// ListStoreItems возвращает активные товары магазина, отсортированные по цене.
func (r *PostgresRepository) ListStoreItems(ctx context.Context) ([]model.StoreItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, type, price, config, active
		 FROM store_items WHERE active ORDER BY price ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select store items: %w", err)
	}
	defer rows.Close()

	var res []model.StoreItem
	for rows.Next() {
		var it model.StoreItem
		var itemType string
		if err := rows.Scan(&it.ID, &it.Name, &itemType, &it.Price, &it.Config, &it.Active); err != nil {
			return nil, fmt.Errorf("scan store item: %w", err)
		}
		it.Type = model.ItemType(itemType)
		res = append(res, it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// InsertStorePurchase записывает факт покупки товара магазина.
func (r *PostgresRepository) InsertStorePurchase(ctx context.Context, userID, itemID int64, serverID *int64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO store_purchases (user_id, item_id, server_id) VALUES ($1, $2, $3)`,
		userID, itemID, serverID,
	)
	if err != nil {
		return fmt.Errorf("insert store purchase: %w", err)
	}
	return nil
}

// CreateServer сохраняет запись о развёрнутом сервере и возвращает её идентификатор.
func (r *PostgresRepository) CreateServer(ctx context.Context, s *model.Server) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO servers (user_id, plan_id, panel_server_id, panel_uuid, name, status, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		s.UserID, s.PlanID, s.PanelServerID, s.PanelUUID, s.Name, string(s.Status), s.ExpiresAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create server: %w", err)
	}
	return id, nil
}

// GetServer возвращает не удалённый сервер пользователя.
func (r *PostgresRepository) GetServer(ctx context.Context, userID, serverID int64) (*model.Server, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, user_id, plan_id, panel_server_id, panel_uuid, name, status, expires_at, deleted, created_at
		 FROM servers WHERE id = $1 AND user_id = $2 AND NOT deleted`,
		serverID, userID,
	)

	s, err := scanServer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServerNotFound
		}
		return nil, fmt.Errorf("get server: %w", err)
	}

	return s, nil
}

// GetServerWithPlan возвращает не удалённый сервер пользователя вместе с его тарифом.
func (r *PostgresRepository) GetServerWithPlan(ctx context.Context, userID, serverID int64) (*model.Server, *model.Plan, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT s.id, s.user_id, s.plan_id, s.panel_server_id, s.panel_uuid, s.name, s.status, s.expires_at, s.deleted, s.created_at,
		        p.id, p.software_id, p.name, p.ram, p.cpu, p.disk, p.price, p.active
		 FROM servers s
		 JOIN plans p ON p.id = s.plan_id
		 WHERE s.id = $1 AND s.user_id = $2 AND NOT s.deleted`,
		serverID, userID,
	)

	var s model.Server
	var p model.Plan
	var status string
	err := row.Scan(
		&s.ID, &s.UserID, &s.PlanID, &s.PanelServerID, &s.PanelUUID, &s.Name, &status, &s.ExpiresAt, &s.Deleted, &s.CreatedAt,
		&p.ID, &p.SoftwareID, &p.Name, &p.RAM, &p.CPU, &p.Disk, &p.Price, &p.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrServerNotFound
		}
		return nil, nil, fmt.Errorf("get server with plan: %w", err)
	}
	s.Status = model.ServerStatus(status)

	return &s, &p, nil
}

// ListServers возвращает не удалённые серверы пользователя, новые первыми.
func (r *PostgresRepository) ListServers(ctx context.Context, userID int64) ([]model.Server, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, plan_id, panel_server_id, panel_uuid, name, status, expires_at, deleted, created_at
		 FROM servers WHERE user_id = $1 AND NOT deleted
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select servers: %w", err)
	}
	defer rows.Close()

	var res []model.Server
	for rows.Next() {
		s, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan server: %w", err)
		}
		res = append(res, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpdateServerStatus обновляет локальный статус сервера.
func (r *PostgresRepository) UpdateServerStatus(ctx context.Context, serverID int64, status model.ServerStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE servers SET status = $2 WHERE id = $1`,
		serverID, string(status),
	)
	if err != nil {
		return fmt.Errorf("update server status: %w", err)
	}
	return nil
}

// UpdateServerExpiry устанавливает новый срок аренды сервера.
func (r *PostgresRepository) UpdateServerExpiry(ctx context.Context, serverID int64, expiresAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE servers SET expires_at = $2 WHERE id = $1`,
		serverID, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("update server expiry: %w", err)
	}
	return nil
}

// SoftDeleteServer помечает сервер удалённым. Запись сохраняется для истории.
func (r *PostgresRepository) SoftDeleteServer(ctx context.Context, serverID int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE servers SET deleted = TRUE, status = $2 WHERE id = $1`,
		serverID, string(model.ServerStatusDeleted),
	)
	if err != nil {
		return fmt.Errorf("soft delete server: %w", err)
	}
	return nil
}

// MarkExpiredServers переводит истёкшие серверы в состояние offline.
// Возвращает число затронутых записей.
func (r *PostgresRepository) MarkExpiredServers(ctx context.Context) (int64, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE servers SET status = $1
		 WHERE NOT deleted AND expires_at < now() AND status NOT IN ($1, $2)`,
		string(model.ServerStatusOffline), string(model.ServerStatusDeleted),
	)
	if err != nil {
		return 0, fmt.Errorf("mark expired servers: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}

func scanServer(row pgx.Row) (*model.Server, error) {
	var s model.Server
	var status string
	err := row.Scan(&s.ID, &s.UserID, &s.PlanID, &s.PanelServerID, &s.PanelUUID, &s.Name, &status, &s.ExpiresAt, &s.Deleted, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	s.Status = model.ServerStatus(status)
	return &s, nil
}
