package domain

import "time"

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

// Genres lists the accepted values of Book.Genre.
var Genres = []string{"Fiction", "Non-Fiction", "Mystery", "Sci-Fi", "Fantasy", "Dystopian"}

// ValidGenre reports whether g is an accepted genre. Empty means "no genre".
func ValidGenre(g string) bool {
	if g == "" {
		return true
	}
	for _, v := range Genres {
		if v == g {
			return true
		}
	}
	return false
}

type Book struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Author     string    `json:"author"`
	Genre      string    `json:"genre"`
	CoverImage string    `json:"cover_image"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Review struct {
	ID        string    `json:"id"`
	BookID    string    `json:"book"`
	UserID    string    `json:"user"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Identity is the authenticated caller as resolved from an access token.
type Identity struct {
	UserID string
	Role   UserRole
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// BookPage is one page of a book listing.
type BookPage struct {
	Count    int64  `json:"count"`
	Page     int    `json:"page"`
	Limit    int    `json:"limit"`
	Next     *int   `json:"next"`
	Previous *int   `json:"previous"`
	Results  []Book `json:"results"`
}
