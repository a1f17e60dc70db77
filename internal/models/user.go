package models

import "time"

// User is the minimal owner record a payment references
type User struct {
	ID            int64     `json:"id" db:"id"`
	WalletAddress string    `json:"wallet_address" db:"wallet_address"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
