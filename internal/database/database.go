package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/quantpulse/reconciler/internal/config"
	"github.com/quantpulse/reconciler/internal/database/migrations"
	"github.com/quantpulse/reconciler/internal/logger"
	"github.com/quantpulse/reconciler/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	// ErrDatabase marks connectivity or constraint failures.
	ErrDatabase = errors.New("database error")
	// ErrValidation marks malformed identifiers in input rows.
	ErrValidation = errors.New("validation error")
)

// Init opens the Postgres connection, configures the pool and runs
// migrations.
func Init(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect: %v", ErrDatabase, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get connection: %v", ErrDatabase, err)
	}

	sqlDB.SetMaxIdleConns(cfg.MaxIdle)
	sqlDB.SetMaxOpenConns(cfg.MaxConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := migrations.Run(db); err != nil {
		return nil, fmt.Errorf("%w: failed to run migrations: %v", ErrDatabase, err)
	}

	return db, nil
}

// ReferredUser is the projection of users the pipeline works on: users
// who were referred by someone. Referrer is the user who earns the
// commission on this user's charges.
type ReferredUser struct {
	UserID           uuid.UUID
	StripeCustomerID *string
	Referrer         uuid.UUID
}

// FetchReferredUsers returns every user with a non-null referrer.
func FetchReferredUsers(db *gorm.DB) ([]ReferredUser, error) {
	var users []models.User
	err := db.
		Select("user_id", "stripe_customer_id", "referee").
		Where("referee IS NOT NULL").
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("%w: fetching users: %v", ErrDatabase, err)
	}

	referred := make([]ReferredUser, 0, len(users))
	for _, u := range users {
		referred = append(referred, ReferredUser{
			UserID:           u.UserID,
			StripeCustomerID: u.StripeCustomerID,
			Referrer:         *u.Referee,
		})
	}
	return referred, nil
}

// FetchCommissionRates loads the referrer -> commission fraction mapping.
// An empty referrals table yields an empty map, not an error.
func FetchCommissionRates(db *gorm.DB) (map[uuid.UUID]float64, error) {
	var referrals []models.Referral
	if err := db.Select("user_id", "commission").Find(&referrals).Error; err != nil {
		return nil, fmt.Errorf("%w: fetching commission rates: %v", ErrDatabase, err)
	}

	rates := make(map[uuid.UUID]float64, len(referrals))
	for _, r := range referrals {
		rates[r.UserID] = r.Commission
	}
	return rates, nil
}

// ReadLedger loads the full commission_transactions table. The publisher
// reads the ledger fresh after upsert so aggregates reflect committed
// data only.
func ReadLedger(db *gorm.DB) ([]models.CommissionTransaction, error) {
	var rows []models.CommissionTransaction
	if err := db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: reading ledger: %v", ErrDatabase, err)
	}
	return rows, nil
}

// ActiveStatus carries one user's desired isactive flag. UserID is kept
// as a string so malformed identifiers can be counted instead of
// silently dropped.
type ActiveStatus struct {
	UserID string
	Active bool
}

// UpdateSummary reports the outcome of a status refresh write.
type UpdateSummary struct {
	Updated int
	Skipped int
	Errors  int
}

// UpdateActiveFlags writes the isactive column for the given users in one
// transaction. Row-level problems (unparsable id, unknown user) are
// counted and logged, never fatal; only database failures roll back.
func UpdateActiveFlags(db *gorm.DB, statuses []ActiveStatus, log *logger.Logger) (UpdateSummary, error) {
	var summary UpdateSummary

	err := db.Transaction(func(tx *gorm.DB) error {
		for _, st := range statuses {
			userID, err := uuid.Parse(st.UserID)
			if err != nil {
				log.Warnw("invalid user id, skipping",
					"user_id", st.UserID,
					"error", fmt.Errorf("%w: %v", ErrValidation, err))
				summary.Errors++
				continue
			}

			var user models.User
			err = tx.Select("user_id", "isactive").First(&user, "user_id = ?", userID).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				log.Warnw("user not found, skipping", "user_id", st.UserID)
				summary.Skipped++
				continue
			}
			if err != nil {
				return err
			}

			if user.IsActive == st.Active {
				summary.Skipped++
				continue
			}

			err = tx.Model(&models.User{}).
				Where("user_id = ?", userID).
				Update("isactive", st.Active).Error
			if err != nil {
				return err
			}
			summary.Updated++
		}
		return nil
	})
	if err != nil {
		return summary, fmt.Errorf("%w: updating isactive: %v", ErrDatabase, err)
	}

	return summary, nil
}
