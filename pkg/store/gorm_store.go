package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"bookshelf/pkg/domain"
)

const migrateLockID int64 = 41526301

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &BookModel{}, &ReviewModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// translate maps constraint errors reported by the database onto store errors.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return fmt.Errorf("%w: %v", ErrReferenceMissing, err)
	default:
		return err
	}
}

// CreateUser inserts a user; duplicate username or email yields ErrConflict.
func (s *GormStore) CreateUser(ctx context.Context, u domain.User) (domain.User, error) {
	now := time.Now().UTC()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = domain.RoleUser
	}
	u.CreatedAt, u.UpdatedAt = now, now
	model := userToModel(u)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.User{}, translate(err)
	}
	return userFromModel(model), nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return domain.User{}, translate(err)
	}
	return userFromModel(model), nil
}

// GetUserByUsername looks up a user by username.
func (s *GormStore) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "username = ?", username).Error; err != nil {
		return domain.User{}, translate(err)
	}
	return userFromModel(model), nil
}

// CreateBook inserts a book with a store-assigned id.
func (s *GormStore) CreateBook(ctx context.Context, b domain.Book) (domain.Book, error) {
	now := time.Now().UTC()
	b.ID = uuid.NewString()
	b.CreatedAt, b.UpdatedAt = now, now
	model := bookToModel(b)
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&model).Error; err != nil {
		return domain.Book{}, translate(err)
	}
	return bookFromModel(model), nil
}

// GetBook retrieves a book.
func (s *GormStore) GetBook(ctx context.Context, id string) (domain.Book, error) {
	var model BookModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return domain.Book{}, translate(err)
	}
	return bookFromModel(model), nil
}

// UpdateBook overwrites the mutable fields of an existing book.
func (s *GormStore) UpdateBook(ctx context.Context, b domain.Book) (domain.Book, error) {
	var out BookModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&BookModel{}).
			Where("id = ?", b.ID).
			Updates(map[string]any{
				"title":       b.Title,
				"author":      b.Author,
				"genre":       b.Genre,
				"cover_image": b.CoverImage,
				"updated_at":  time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.First(&out, "id = ?", b.ID).Error
	})
	if err != nil {
		return domain.Book{}, translate(err)
	}
	return bookFromModel(out), nil
}

// DeleteBook removes a book; its reviews go with it through the FK cascade.
func (s *GormStore) DeleteBook(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&BookModel{}, "id = ?", id)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListBooks returns one window of books plus the total number of matches.
func (s *GormStore) ListBooks(ctx context.Context, q BookQuery) ([]domain.Book, int64, error) {
	tx := s.db.WithContext(ctx).Model(&BookModel{})
	if search := strings.ToLower(strings.TrimSpace(q.Search)); search != "" {
		pattern := "%" + escapeLike(search) + "%"
		tx = tx.Where("LOWER(title) LIKE ? OR LOWER(author) LIKE ?", pattern, pattern)
	}
	if q.Genre != "" {
		tx = tx.Where("genre = ?", q.Genre)
	}
	tx = tx.Session(&gorm.Session{})
	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var models []BookModel
	if err := tx.Order("created_at ASC").Order("id ASC").
		Offset(q.Offset).
		Limit(q.Limit).
		Find(&models).Error; err != nil {
		return nil, 0, err
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res, total, nil
}

// CreateReview inserts a review. The unique (book_id, user_id) index and the
// book/user foreign keys decide the outcome, not a prior lookup.
func (s *GormStore) CreateReview(ctx context.Context, r domain.Review) (domain.Review, error) {
	r.ID = uuid.NewString()
	r.CreatedAt = time.Now().UTC()
	model := reviewToModel(r)
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&model).Error; err != nil {
		return domain.Review{}, translate(err)
	}
	return reviewFromModel(model), nil
}

// GetReview returns a review by ID.
func (s *GormStore) GetReview(ctx context.Context, id string) (domain.Review, error) {
	var model ReviewModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return domain.Review{}, translate(err)
	}
	return reviewFromModel(model), nil
}

// UpdateReview replaces rating and comment; book, user and id never change.
func (s *GormStore) UpdateReview(ctx context.Context, r domain.Review) (domain.Review, error) {
	var out ReviewModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&ReviewModel{}).
			Where("id = ?", r.ID).
			Updates(map[string]any{
				"rating":  r.Rating,
				"comment": r.Comment,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.First(&out, "id = ?", r.ID).Error
	})
	if err != nil {
		return domain.Review{}, translate(err)
	}
	return reviewFromModel(out), nil
}

// DeleteReview removes a review.
func (s *GormStore) DeleteReview(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&ReviewModel{}, "id = ?", id)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListReviewsByBook returns reviews of a book, newest first.
func (s *GormStore) ListReviewsByBook(ctx context.Context, bookID string) ([]domain.Review, error) {
	var models []ReviewModel
	if err := s.db.WithContext(ctx).
		Where("book_id = ?", bookID).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Review, 0, len(models))
	for _, m := range models {
		res = append(res, reviewFromModel(m))
	}
	return res, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	role := domain.UserRole(m.Role)
	if role == "" {
		role = domain.RoleUser
	}
	return domain.User{
		ID:           m.ID,
		Username:     m.Username,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		Role:         role,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func bookToModel(b domain.Book) BookModel {
	return BookModel{
		ID:         b.ID,
		Title:      b.Title,
		Author:     b.Author,
		Genre:      b.Genre,
		CoverImage: b.CoverImage,
		CreatedAt:  b.CreatedAt,
		UpdatedAt:  b.UpdatedAt,
	}
}

func bookFromModel(m BookModel) domain.Book {
	return domain.Book{
		ID:         m.ID,
		Title:      m.Title,
		Author:     m.Author,
		Genre:      m.Genre,
		CoverImage: m.CoverImage,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func reviewToModel(r domain.Review) ReviewModel {
	return ReviewModel{
		ID:        r.ID,
		BookID:    r.BookID,
		UserID:    r.UserID,
		Rating:    r.Rating,
		Comment:   r.Comment,
		CreatedAt: r.CreatedAt,
	}
}

func reviewFromModel(m ReviewModel) domain.Review {
	return domain.Review{
		ID:        m.ID,
		BookID:    m.BookID,
		UserID:    m.UserID,
		Rating:    m.Rating,
		Comment:   m.Comment,
		CreatedAt: m.CreatedAt,
	}
}
