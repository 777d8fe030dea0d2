package repository

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"

	"github.com/openmint/vendere/internal/models"
	"github.com/openmint/vendere/pkg/logger"
)

// PostgresDB is the durable state store of the vending engine: the
// processed-payments log, in-progress markers, whitelist consumptions and
// asset records all live here so correctness survives restarts.
type PostgresDB struct {
	logger *logger.Logger

	Conn *gorm.DB
}

func NewPostgresDB(user, password, dbname, host string, port int, logger *logger.Logger) (*PostgresDB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		host, user, password, dbname, port)

	// Configure GORM logger to suppress "record not found" messages
	gormLogger := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %s", err)
	}

	if err := db.AutoMigrate(
		&models.ProcessedPayment{},
		&models.VendMarker{},
		&models.WhitelistConsumption{},
		&models.AssetRecord{},
	); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate models: %s", err)
	}
	logger.Info("Successfully connected to PostgreSQL!")
	return &PostgresDB{Conn: db, logger: logger}, nil
}

func (db *PostgresDB) Close() error {
	sqlDB, err := db.Conn.DB()
	if err != nil {
		return fmt.Errorf("failed to get database connection: %s", err)
	}
	return sqlDB.Close()
}

func (db *PostgresDB) IsProcessed(paymentID string) (bool, error) {
	var payment models.ProcessedPayment
	if err := db.Conn.Where("payment_id = ?", paymentID).First(&payment).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to check processed payment: %s", err)
	}

	return true, nil
}

// MarkProcessed appends to the processed-payments log. Re-marking an
// already processed payment is a no-op so a restarted commit never fails.
func (db *PostgresDB) MarkProcessed(p *models.ProcessedPayment) error {
	if err := db.Conn.Clauses(clause.OnConflict{DoNothing: true}).Create(p).Error; err != nil {
		return fmt.Errorf("failed to mark payment processed: %s", err)
	}

	return nil
}

func (db *PostgresDB) ProcessedCount() (int64, error) {
	var count int64
	if err := db.Conn.Model(&models.ProcessedPayment{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count processed payments: %s", err)
	}

	return count, nil
}

func (db *PostgresDB) RevenueTotal() (int64, error) {
	var total int64
	err := db.Conn.Model(&models.ProcessedPayment{}).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("failed to sum revenue: %s", err)
	}

	return total, nil
}

func (db *PostgresDB) GetMarker(paymentID string) (*models.VendMarker, error) {
	var marker models.VendMarker
	if err := db.Conn.Where("payment_id = ?", paymentID).First(&marker).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get vend marker: %s", err)
	}

	return &marker, nil
}

func (db *PostgresDB) PutMarker(m *models.VendMarker) error {
	m.UpdatedAt = time.Now().Unix()
	if err := db.Conn.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "payment_id"}},
		UpdateAll: true,
	}).Create(m).Error; err != nil {
		return fmt.Errorf("failed to put vend marker: %s", err)
	}

	return nil
}

func (db *PostgresDB) DeleteMarker(paymentID string) error {
	if err := db.Conn.Where("payment_id = ?", paymentID).Delete(&models.VendMarker{}).Error; err != nil {
		return fmt.Errorf("failed to delete vend marker: %s", err)
	}

	return nil
}

func (db *PostgresDB) ListMarkersByState(state models.VendState) ([]*models.VendMarker, error) {
	var markers []*models.VendMarker
	if err := db.Conn.Where("state = ?", state).Order("updated_at").Find(&markers).Error; err != nil {
		return nil, fmt.Errorf("failed to list vend markers: %s", err)
	}

	return markers, nil
}

// AddConsumption persists a whitelist commitment. The reservation id is
// the primary key, so re-running a commit after a restart cannot decrement
// a quota twice. The returned flag reports whether the row was newly
// inserted; a conflict leaves zero rows affected.
func (db *PostgresDB) AddConsumption(c *models.WhitelistConsumption) (bool, error) {
	res := db.Conn.Clauses(clause.OnConflict{DoNothing: true}).Create(c)
	if res.Error != nil {
		return false, fmt.Errorf("failed to add whitelist consumption: %s", res.Error)
	}

	return res.RowsAffected > 0, nil
}

func (db *PostgresDB) DeleteConsumption(reservationID string) error {
	if err := db.Conn.Where("reservation_id = ?", reservationID).Delete(&models.WhitelistConsumption{}).Error; err != nil {
		return fmt.Errorf("failed to delete whitelist consumption: %s", err)
	}

	return nil
}

func (db *PostgresDB) ConsumedByKey(key string) (int, error) {
	var total int64
	err := db.Conn.Model(&models.WhitelistConsumption{}).
		Where("key = ?", key).
		Select("COALESCE(SUM(count), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("failed to sum whitelist consumption: %s", err)
	}

	return int(total), nil
}

// SaveAssetRecord inserts a pool record if it is new. Known records keep
// their delivery state so re-syncing the metadata directory never
// re-offers a delivered asset.
func (db *PostgresDB) SaveAssetRecord(r *models.AssetRecord) error {
	if err := db.Conn.Clauses(clause.OnConflict{DoNothing: true}).Create(r).Error; err != nil {
		return fmt.Errorf("failed to save asset record: %s", err)
	}

	return nil
}

func (db *PostgresDB) ListAssetRecords() ([]*models.AssetRecord, error) {
	var records []*models.AssetRecord
	if err := db.Conn.Order("name").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list asset records: %s", err)
	}

	return records, nil
}

func (db *PostgresDB) SetAssetStates(names []string, state models.AssetState) error {
	if len(names) == 0 {
		return nil
	}
	err := db.Conn.Model(&models.AssetRecord{}).
		Where("name IN ?", names).
		Updates(map[string]interface{}{"state": state, "updated_at": time.Now().Unix()}).Error
	if err != nil {
		return fmt.Errorf("failed to update asset states: %s", err)
	}

	return nil
}

func (db *PostgresDB) AssetCountByState(state models.AssetState) (int64, error) {
	var count int64
	if err := db.Conn.Model(&models.AssetRecord{}).Where("state = ?", state).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count asset records: %s", err)
	}

	return count, nil
}
