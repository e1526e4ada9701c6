// Package domain defines the persistence models of the users service. These
// types are mapped with GORM and form the core data layer of the application.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// User is an account that can sign in and manage other users.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Password: bcrypt hash; never serialised.
//   - Name: display name.
//   - Email: login identifier, unique across non-deleted rows.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//   - DeletedAt: soft deletion marker.
type User struct {
	ID        string         `json:"id"        gorm:"type:char(36);primaryKey"`
	Password  string         `json:"-"         gorm:"type:varchar(255);not null"`
	Name      string         `json:"name"      gorm:"type:varchar(255);not null"`
	Email     string         `json:"email"     gorm:"type:varchar(255);not null;uniqueIndex:ux_users_email"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"index"`
	DeletedAt gorm.DeletedAt `json:"-"         gorm:"index"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }
