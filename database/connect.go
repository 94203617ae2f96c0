package database

import (
	"fmt"
	"log"
	"strconv"
	"time"

	"cinema_booking/config"
	"cinema_booking/model"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func ConnectDB(s config.Settings) (*gorm.DB, error) {
	port, err := strconv.ParseUint(s.DBPort, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database port %q: %w", s.DBPort, err)
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
		s.DBHost, port, s.DBUser, s.DBPassword, s.DBName)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	log.Println("Connection Opened to Database")
	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(model.Tables()...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Println("Database Migrated")
	return nil
}
