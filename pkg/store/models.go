package store

import "time"

// GORM models used for persistence.
type UserModel struct {
	ID           string    `gorm:"primaryKey"`
	Username     string    `gorm:"size:150;uniqueIndex;not null"`
	Email        string    `gorm:"size:254;uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	Role         string    `gorm:"size:10;not null;default:user"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

type BookModel struct {
	ID         string        `gorm:"primaryKey"`
	Title      string        `gorm:"size:255;not null"`
	Author     string        `gorm:"size:255;not null"`
	Genre      string        `gorm:"size:100;index"`
	CoverImage string        `gorm:"size:2048"`
	CreatedAt  time.Time     `gorm:"not null;index"`
	UpdatedAt  time.Time     `gorm:"not null"`
	Reviews    []ReviewModel `gorm:"foreignKey:BookID;constraint:OnDelete:CASCADE"`
}

type ReviewModel struct {
	ID        string    `gorm:"primaryKey"`
	BookID    string    `gorm:"not null;uniqueIndex:idx_review_book_user"`
	UserID    string    `gorm:"not null;uniqueIndex:idx_review_book_user;index"`
	User      UserModel `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	Rating    int       `gorm:"not null;check:rating >= 1 AND rating <= 5"`
	Comment   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null;index"`
}
