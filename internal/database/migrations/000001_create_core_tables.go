package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// CreateCoreTables creates the users, referrals and
// commission_transactions tables.
func CreateCoreTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_core_tables",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.Exec(`
				CREATE EXTENSION IF NOT EXISTS "uuid-ossp";

				CREATE TABLE IF NOT EXISTS users (
					user_id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
					email VARCHAR(120) NOT NULL UNIQUE,
					password_hash VARCHAR(128) NOT NULL,
					signup_date DATE NOT NULL,
					isactive BOOLEAN NOT NULL DEFAULT FALSE,
					active_till DATE,
					verified BOOLEAN NOT NULL DEFAULT FALSE,
					stripe_customer_id VARCHAR(255),
					stripe_subscription_id VARCHAR(255),
					referee UUID,
					cancel_at_period_end BOOLEAN NOT NULL DEFAULT FALSE
				);

				CREATE INDEX IF NOT EXISTS idx_users_referee ON users(referee);
			`).Error; err != nil {
				return err
			}

			if err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS referrals (
					user_id UUID PRIMARY KEY,
					referral_link VARCHAR(50) NOT NULL UNIQUE,
					commission DOUBLE PRECISION NOT NULL DEFAULT 0.25,
					discount DOUBLE PRECISION NOT NULL DEFAULT 0.05
				);
			`).Error; err != nil {
				return err
			}

			if err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS commission_transactions (
					charge_id VARCHAR(50) PRIMARY KEY,
					user_id UUID REFERENCES users(user_id),
					referee UUID,
					customer_id VARCHAR(50),
					email VARCHAR(255),
					amount DOUBLE PRECISION,
					currency VARCHAR(3),
					status VARCHAR(50),
					notes TEXT,
					disputed BOOLEAN,
					dispute TEXT,
					refunded BOOLEAN,
					created TIMESTAMP,
					description TEXT,
					payment_method VARCHAR(20),
					last4 VARCHAR(4),
					matures_on TIMESTAMP,
					commission_amount DOUBLE PRECISION,
					commission_paid BOOLEAN NOT NULL DEFAULT FALSE,
					commission_paid_tx_id TEXT NOT NULL DEFAULT ''
				);

				CREATE INDEX IF NOT EXISTS idx_commission_transactions_referee
					ON commission_transactions(referee);
			`).Error; err != nil {
				return err
			}

			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Exec(`
				DROP TABLE IF EXISTS commission_transactions;
				DROP TABLE IF EXISTS referrals;
				DROP TABLE IF EXISTS users;
			`).Error
		},
	}
}
