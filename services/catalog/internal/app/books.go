package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"bookshelf/internal/util"
	"bookshelf/pkg/cache"
	"bookshelf/pkg/domain"
	"bookshelf/pkg/queue"
	"bookshelf/pkg/store"
	"bookshelf/services/catalog/internal/googlebooks"
)

// BookInput is a create or update request. Nil fields are absent from the
// request body.
type BookInput struct {
	Title      *string `json:"title"`
	Author     *string `json:"author"`
	Genre      *string `json:"genre"`
	CoverImage *string `json:"cover_image"`
}

type bookFields struct {
	Title      string `json:"title" validate:"required,max=255"`
	Author     string `json:"author" validate:"required,max=255"`
	Genre      string `json:"genre" validate:"omitempty,genre"`
	CoverImage string `json:"cover_image" validate:"omitempty,url,max=2048"`
}

// merge overlays the present fields of in onto b.
func (in BookInput) merge(b domain.Book) domain.Book {
	if in.Title != nil {
		b.Title = strings.TrimSpace(*in.Title)
	}
	if in.Author != nil {
		b.Author = strings.TrimSpace(*in.Author)
	}
	if in.Genre != nil {
		b.Genre = strings.TrimSpace(*in.Genre)
	}
	if in.CoverImage != nil {
		b.CoverImage = strings.TrimSpace(*in.CoverImage)
	}
	return b
}

// BookDetail is a book with its enrichment block.
type BookDetail struct {
	domain.Book
	Metadata googlebooks.Metadata `json:"metadata"`
}

// checkBook validates b. A stored cover_image may be a relative /media/ path,
// so it is only checked when in supplies it.
func (a *App) checkBook(b domain.Book, in BookInput) error {
	fields := bookFields{
		Title:  b.Title,
		Author: b.Author,
		Genre:  b.Genre,
	}
	if in.CoverImage != nil {
		fields.CoverImage = b.CoverImage
	}
	return a.check(fields)
}

// CreateBook validates and stores a new book.
func (a *App) CreateBook(ctx context.Context, in BookInput) (domain.Book, error) {
	b := in.merge(domain.Book{})
	if err := a.checkBook(b, in); err != nil {
		return domain.Book{}, err
	}
	created, err := a.store.CreateBook(ctx, b)
	if err != nil {
		return domain.Book{}, storeError(err, "book")
	}
	a.invalidateBooks(ctx)
	a.warmMetadata(ctx, created)
	return created, nil
}

// GetBookDetail reads the book fresh from the store and attaches metadata.
// Metadata problems never fail the call.
func (a *App) GetBookDetail(ctx context.Context, id string) (BookDetail, error) {
	b, err := a.store.GetBook(ctx, id)
	if err != nil {
		return BookDetail{}, storeError(err, "book")
	}
	return BookDetail{
		Book:     b,
		Metadata: a.metadata.FetchMetadata(ctx, b.Title, b.Author),
	}, nil
}

// UpdateBook applies a full (PUT) or partial (PATCH) update. A full update
// requires title and author and clears absent optional fields.
func (a *App) UpdateBook(ctx context.Context, id string, in BookInput, partial bool) (domain.Book, error) {
	cur, err := a.store.GetBook(ctx, id)
	if err != nil {
		return domain.Book{}, storeError(err, "book")
	}
	base := cur
	if !partial {
		base = domain.Book{ID: cur.ID, CreatedAt: cur.CreatedAt}
	}
	next := in.merge(base)
	if err := a.checkBook(next, in); err != nil {
		return domain.Book{}, err
	}
	updated, err := a.store.UpdateBook(ctx, next)
	if err != nil {
		return domain.Book{}, storeError(err, "book")
	}
	a.invalidateBooks(ctx)
	if updated.Title != cur.Title || updated.Author != cur.Author {
		a.warmMetadata(ctx, updated)
	}
	return updated, nil
}

// warmMetadata enqueues a cache warm-up for b. Failures only cost the first
// reader a synchronous fetch.
func (a *App) warmMetadata(ctx context.Context, b domain.Book) {
	if a.warmer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), invalidationTimeout)
	defer cancel()
	if err := a.warmer.Enqueue(ctx, queue.Job{BookID: b.ID, Title: b.Title, Author: b.Author}); err != nil {
		util.LoggerFromContext(ctx).Warn("metadata warm-up enqueue failed", "book_id", b.ID, "err", err)
	}
}

// DeleteBook removes a book and its reviews. Only admins may delete books.
func (a *App) DeleteBook(ctx context.Context, requester domain.Identity, id string) error {
	if !requester.IsAdmin() {
		return fmt.Errorf("%w: only admins can delete books", ErrPermissionDenied)
	}
	if err := a.store.DeleteBook(ctx, id); err != nil {
		return storeError(err, "book")
	}
	a.invalidateBooks(ctx)
	return nil
}

// ListBooks returns one encoded page of the catalog. Pages are cached and
// returned byte for byte on a hit.
func (a *App) ListBooks(ctx context.Context, page, limit int) (json.RawMessage, error) {
	if err := checkPagination(page, limit); err != nil {
		return nil, err
	}
	return a.cachedPage(ctx, func(gen int64) string {
		return cache.BookListKey(gen, page, limit)
	}, store.BookQuery{}, page, limit)
}

// FilterBooks is ListBooks restricted by search text over title or author and
// an exact genre.
func (a *App) FilterBooks(ctx context.Context, search, genre string, page, limit int) (json.RawMessage, error) {
	if err := checkPagination(page, limit); err != nil {
		return nil, err
	}
	genre = strings.TrimSpace(genre)
	if !domain.ValidGenre(genre) {
		return nil, invalidField("genre", fmt.Sprintf("genre %q is not allowed", genre))
	}
	search = cache.NormalizeSearch(search)
	if len(search) > 255 {
		return nil, invalidField("search", "ensure this field has no more than 255 characters")
	}
	q := store.BookQuery{Search: search, Genre: genre}
	return a.cachedPage(ctx, func(gen int64) string {
		return cache.BookFilterKey(gen, page, limit, search, genre)
	}, q, page, limit)
}

func (a *App) cachedPage(ctx context.Context, keyFor func(gen int64) string, q store.BookQuery, page, limit int) (json.RawMessage, error) {
	logger := util.LoggerFromContext(ctx)
	gen, cacheOK := a.booksGeneration(ctx)
	key := ""
	if cacheOK {
		key = keyFor(gen)
		raw, hit, err := a.cache.Get(ctx, key)
		switch {
		case err != nil:
			logger.Warn("book page cache read failed", "key", key, "err", err)
		case hit:
			return raw, nil
		}
	}

	q.Offset = (page - 1) * limit
	q.Limit = limit
	books, total, err := a.store.ListBooks(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	payload, err := json.Marshal(newBookPage(books, total, page, limit))
	if err != nil {
		return nil, fmt.Errorf("encode page: %w", err)
	}
	if cacheOK {
		if err := a.cache.Set(ctx, key, payload, a.listTTL); err != nil {
			logger.Warn("book page cache write failed", "key", key, "err", err)
		}
	}
	return payload, nil
}

// booksGeneration reads the collection generation. The second result is
// false when the cache is unreachable and must be bypassed.
func (a *App) booksGeneration(ctx context.Context) (int64, bool) {
	raw, ok, err := a.cache.Get(ctx, cache.BooksGenerationKey)
	if err != nil {
		util.LoggerFromContext(ctx).Warn("books generation read failed", "err", err)
		return 0, false
	}
	if !ok {
		return 0, true
	}
	gen, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		util.LoggerFromContext(ctx).Warn("books generation unreadable", "value", string(raw), "err", err)
		return 0, false
	}
	return gen, true
}

// invalidateBooks runs after a committed write and before the response. It
// bumps the generation first so a page computed from pre-write data can never
// be served again, then drops the stale pages themselves. Detail reads always
// hit the store, so a single book has no cached entry of its own to drop.
func (a *App) invalidateBooks(ctx context.Context) {
	logger := util.LoggerFromContext(ctx)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), invalidationTimeout)
	defer cancel()
	if _, err := a.cache.Incr(ctx, cache.BooksGenerationKey); err != nil {
		logger.Error("books generation bump failed", "err", err)
	}
	for _, prefix := range []string{cache.BookListPrefix, cache.BookFilterPrefix} {
		if err := a.cache.DeletePrefix(ctx, prefix); err != nil {
			logger.Warn("book page invalidation failed", "prefix", prefix, "err", err)
		}
	}
}

func newBookPage(books []domain.Book, total int64, page, limit int) domain.BookPage {
	if books == nil {
		books = []domain.Book{}
	}
	p := domain.BookPage{
		Count:   total,
		Page:    page,
		Limit:   limit,
		Results: books,
	}
	if int64(page)*int64(limit) < total {
		next := page + 1
		p.Next = &next
	}
	if page > 1 {
		prev := page - 1
		p.Previous = &prev
	}
	return p
}

// CoverUpload is an uploaded cover image.
type CoverUpload struct {
	Size int64
	Body io.Reader
}

var coverExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// SetCover stores an uploaded image in object storage and points the book's
// cover_image at it. The content type is sniffed, not trusted.
func (a *App) SetCover(ctx context.Context, id string, up CoverUpload) (domain.Book, error) {
	if a.objects == nil {
		return domain.Book{}, fmt.Errorf("%w: cover storage not configured", ErrUnavailable)
	}
	if up.Body == nil || up.Size <= 0 {
		return domain.Book{}, invalidField("file", "this field is required")
	}
	cur, err := a.store.GetBook(ctx, id)
	if err != nil {
		return domain.Book{}, storeError(err, "book")
	}
	head := make([]byte, 512)
	n, err := io.ReadFull(up.Body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return domain.Book{}, fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]
	contentType := http.DetectContentType(head)
	ext, ok := coverExtensions[contentType]
	if !ok {
		return domain.Book{}, invalidField("file", "upload a valid image (jpeg, png, gif or webp)")
	}
	key := path.Join("covers", cur.ID, util.NewID()+ext)
	body := io.MultiReader(bytes.NewReader(head), up.Body)
	if err := a.objects.Put(ctx, key, body, up.Size, contentType); err != nil {
		return domain.Book{}, fmt.Errorf("save cover: %w", err)
	}
	cur.CoverImage = a.objects.URL(key)
	updated, err := a.store.UpdateBook(ctx, cur)
	if err != nil {
		_ = a.objects.Delete(context.WithoutCancel(ctx), key)
		return domain.Book{}, storeError(err, "book")
	}
	a.invalidateBooks(ctx)
	return updated, nil
}
