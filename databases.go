package main

import (
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var db *gorm.DB

type Orders struct {
	gorm.Model
	OrderId     string `gorm:"uniqueIndex"`
	Package     string
	Price       float64
	Discord     string
	Email       string
	ServerId    string
	Coupon      string
	Status      string
	Timestamp   time.Time
	LastUpdated time.Time
}

type Sessions struct {
	gorm.Model
	Token   string `gorm:"uniqueIndex"`
	Name    string
	Discord string
	Email   string
	Role    string
	IsAdmin bool
	Expiry  int64 // unix millis
}

type ChatSessions struct {
	gorm.Model
	SessionId    string `gorm:"uniqueIndex"`
	CustomerName string
	StartTime    time.Time
	MessageCount uint
	LastMessage  string
	LastActivity time.Time
	IsActive     bool
}

type ChatMessages struct {
	gorm.Model
	SessionId string `gorm:"index"`
	Sender    string // customer, bot or admin
	Text      string
	Timestamp time.Time
}

type Roles struct {
	RoleName    string `gorm:"primaryKey"`
	Permissions string `gorm:"type:text"` // Stored as JSON array
}

type Notifications struct {
	gorm.Model
	Kind        string // order_created or status_update
	OrderId     string
	Status      string
	State       string // pending, delivered or failed
	Attempts    uint
	LastError   string
	NextAttempt time.Time
}

func OpenDatabase(path string) error {
	var err error
	db, err = gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return err
	}
	return db.AutoMigrate(
		&Orders{},
		&Sessions{},
		&ChatSessions{},
		&ChatMessages{},
		&Roles{},
		&Notifications{},
	)
}
