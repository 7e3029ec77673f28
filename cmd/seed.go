package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/fiverlaine/tracktelegram/internal/config"
	"github.com/fiverlaine/tracktelegram/internal/db"
	"github.com/fiverlaine/tracktelegram/internal/model"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with a demo account and funnel",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		log.Println(">> Seeding demo accounts...")

		if err := seedAccounts(sqlDB); err != nil {
			return err
		}
		if err := seedDemoFunnel(sqlDB); err != nil {
			return err
		}
		if err := ensureCounters(sqlDB, cfg.Quota.DefaultLimit, cfg.Quota.Window); err != nil {
			return err
		}

		log.Println(">> Seed completed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

// seedAccounts inserts deterministic demo accounts (idempotent).
func seedAccounts(dbx *sqlx.DB) error {
	accounts := []model.Account{
		{
			Name:         "Demo Media",
			APIKey:       "11111111111111111111111111111111",
			Status:       "active",
			Plan:         "starter",
			RateLimitRPS: intptr(20),
		},
		{
			Name:         "Growth Labs",
			APIKey:       "22222222222222222222222222222222",
			Status:       "active",
			Plan:         "pro",
			RateLimitRPS: intptr(100),
		},
		{
			Name:         "Suspended Inc",
			APIKey:       "33333333333333333333333333333333",
			Status:       "suspended",
			Plan:         "starter",
			RateLimitRPS: nil,
		},
	}

	// idempotent upsert based on api_key (UNIQUE)
	const q = `
INSERT INTO accounts
    (name, api_key, status, plan, rate_limit_rps, created_at, updated_at)
VALUES
    (?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    name           = VALUES(name),
    status         = VALUES(status),
    plan           = VALUES(plan),
    rate_limit_rps = VALUES(rate_limit_rps),
    updated_at     = VALUES(updated_at)
`
	tx, err := dbx.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	for _, a := range accounts {
		if _, err := tx.Exec(q, a.Name, a.APIKey, a.Status, a.Plan, a.RateLimitRPS, now, now); err != nil {
			return fmt.Errorf("insert account %q: %w", a.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit accounts: %w", err)
	}
	return nil
}

// seedDemoFunnel wires pixel -> channel -> funnel "abc123" under the first
// demo account so GET /abc123 works out of the box.
func seedDemoFunnel(dbx *sqlx.DB) error {
	var accountID int64
	if err := dbx.Get(&accountID, `SELECT id FROM accounts WHERE api_key = ?`, "11111111111111111111111111111111"); err != nil {
		return fmt.Errorf("lookup demo account: %w", err)
	}

	now := time.Now()

	const pixelQ = `
INSERT INTO pixels (id, account_id, name, pixel_id, access_token, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE updated_at = VALUES(updated_at)
`
	if _, err := dbx.Exec(pixelQ,
		"01SEED0000000000000000PIXL", accountID, "Demo Pixel",
		"1234567890", "EAAB-demo-token", model.PixelValid, now, now); err != nil {
		return fmt.Errorf("insert demo pixel: %w", err)
	}

	chatID := int64(-1001234567890)
	const channelQ = `
INSERT INTO channels (id, account_id, name, bot_token, invite_link, chat_id, webhook_set, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE updated_at = VALUES(updated_at)
`
	if _, err := dbx.Exec(channelQ,
		"01SEED0000000000000000CHAN", accountID, "Demo Channel",
		"123456:demo-bot-token", "https://t.me/demochannel", chatID, false, now, now); err != nil {
		return fmt.Errorf("insert demo channel: %w", err)
	}

	const funnelQ = `
INSERT INTO funnels (id, account_id, name, slug, pixel_ref, channel_ref, passthrough, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE updated_at = VALUES(updated_at)
`
	if _, err := dbx.Exec(funnelQ,
		"01SEED0000000000000000FUNL", accountID, "Demo Funnel", "abc123",
		"01SEED0000000000000000PIXL", "01SEED0000000000000000CHAN",
		false, model.FunnelActive, now, now); err != nil {
		return fmt.Errorf("insert demo funnel: %w", err)
	}

	return nil
}

// ensureCounters creates usage_counters for accounts who don't have one yet.
func ensureCounters(dbx *sqlx.DB, limit int64, window time.Duration) error {
	const q = `
INSERT INTO usage_counters (account_id, window_start, window_end, used, quota_limit, updated_at)
SELECT a.id, ?, ?, 0, ?, NOW()
FROM accounts a
LEFT JOIN usage_counters u ON u.account_id = a.id
WHERE u.account_id IS NULL
`
	now := time.Now()
	if _, err := dbx.Exec(q, now, now.Add(window), limit); err != nil {
		return fmt.Errorf("ensure usage counters: %w", err)
	}
	return nil
}

func intptr(i int) *int { return &i }
