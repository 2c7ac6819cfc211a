package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
)

// Key layout of the book collection. Every list and filter key embeds the
// current collection generation, so bumping BooksGenerationKey makes all
// previously written pages unreachable even before they are deleted.
const (
	BooksGenerationKey = "books:gen"
	BookListPrefix     = "books:list:"
	BookFilterPrefix   = "books:filter:"
)

// BookListKey derives the key of one unfiltered page.
func BookListKey(gen int64, page, limit int) string {
	return fmt.Sprintf("%sg%d:p%d:l%d", BookListPrefix, gen, page, limit)
}

// BookFilterKey derives the key of one filtered page. Search text is
// normalized (case, surrounding and repeated whitespace) and hashed; genre is
// matched exactly and therefore kept verbatim.
func BookFilterKey(gen int64, page, limit int, search, genre string) string {
	sum := sha1.Sum([]byte(NormalizeSearch(search)))
	return fmt.Sprintf("%sg%d:p%d:l%d:q%s:genre%s",
		BookFilterPrefix, gen, page, limit, hex.EncodeToString(sum[:]), genre)
}

// NormalizeSearch lowercases s and collapses whitespace runs.
func NormalizeSearch(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
