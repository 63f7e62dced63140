package database

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/quantpulse/reconciler/internal/logger"
	"github.com/quantpulse/reconciler/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Referral{},
		&models.CommissionTransaction{},
	))
	return db
}

func createUser(t *testing.T, db *gorm.DB, customerID *string, referrer *uuid.UUID) models.User {
	t.Helper()
	user := models.User{
		UserID:           uuid.New(),
		Email:            uuid.NewString() + "@example.com",
		PasswordHash:     "x",
		SignupDate:       time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		StripeCustomerID: customerID,
		Referee:          referrer,
	}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func strptr(s string) *string        { return &s }
func uuidptr(u uuid.UUID) *uuid.UUID { return &u }

func TestFetchReferredUsersFiltersOnReferrer(t *testing.T) {
	db := setupTestDB(t)
	referrer := uuid.New()

	referred := createUser(t, db, strptr("cus_1"), uuidptr(referrer))
	createUser(t, db, strptr("cus_2"), nil)

	users, err := FetchReferredUsers(db)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, referred.UserID, users[0].UserID)
	assert.Equal(t, referrer, users[0].Referrer)
	require.NotNil(t, users[0].StripeCustomerID)
	assert.Equal(t, "cus_1", *users[0].StripeCustomerID)
}

func TestFetchCommissionRatesEmptyTable(t *testing.T) {
	db := setupTestDB(t)

	rates, err := FetchCommissionRates(db)
	require.NoError(t, err)
	assert.NotNil(t, rates)
	assert.Empty(t, rates)
}

func TestFetchCommissionRates(t *testing.T) {
	db := setupTestDB(t)
	referrer := uuid.New()
	require.NoError(t, db.Create(&models.Referral{
		UserID:       referrer,
		ReferralLink: "ref-abc",
		Commission:   0.30,
		Discount:     0.05,
	}).Error)

	rates, err := FetchCommissionRates(db)
	require.NoError(t, err)
	assert.Equal(t, map[uuid.UUID]float64{referrer: 0.30}, rates)
}

func TestUpdateActiveFlags(t *testing.T) {
	db := setupTestDB(t)
	log := logger.NewNop()

	active := createUser(t, db, strptr("cus_1"), uuidptr(uuid.New()))
	require.NoError(t, db.Model(&models.User{}).
		Where("user_id = ?", active.UserID).
		Update("isactive", true).Error)
	unchanged := createUser(t, db, strptr("cus_2"), uuidptr(uuid.New()))

	summary, err := UpdateActiveFlags(db, []ActiveStatus{
		{UserID: active.UserID.String(), Active: false},    // flips
		{UserID: unchanged.UserID.String(), Active: false}, // already false
		{UserID: uuid.NewString(), Active: true},           // unknown user
		{UserID: "not-a-uuid", Active: true},               // malformed id
	}, log)
	require.NoError(t, err)

	assert.Equal(t, UpdateSummary{Updated: 1, Skipped: 2, Errors: 1}, summary)

	var stored models.User
	require.NoError(t, db.First(&stored, "user_id = ?", active.UserID).Error)
	assert.False(t, stored.IsActive)
}

func TestReadLedger(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.Create(&models.CommissionTransaction{ChargeID: "ch_1"}).Error)
	require.NoError(t, db.Create(&models.CommissionTransaction{ChargeID: "ch_2"}).Error)

	rows, err := ReadLedger(db)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}
