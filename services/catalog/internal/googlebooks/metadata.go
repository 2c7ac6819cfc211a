package googlebooks

import (
	"encoding/json"
	"fmt"
)

// Placeholders used when the upstream volume lacks a field. Existing clients
// compare against these strings, keep them stable.
const (
	NoDescription = "No description available"
	Unknown       = "Unknown"
	NotRated      = "Not rated"
	NoThumbnail   = "No thumbnail available"

	NotFoundError = "No matching book found in Google Books"
	fetchErrorFmt = "Failed to fetch metadata from Google Books: %v"
)

// Metadata is the enrichment block attached to a book detail response.
// When Error is set the block carries only the error descriptor.
type Metadata struct {
	Description   string
	PublishedDate string
	Publisher     string
	AverageRating Rating
	RatingsCount  int
	Thumbnail     string
	Error         string
}

// Found reports whether the block carries volume data.
func (m Metadata) Found() bool {
	return m.Error == ""
}

func notFound() Metadata {
	return Metadata{Error: NotFoundError}
}

func fetchFailed(err error) Metadata {
	return Metadata{Error: fmt.Sprintf(fetchErrorFmt, err)}
}

type metadataWire struct {
	Description   string `json:"description"`
	PublishedDate string `json:"published_date"`
	Publisher     string `json:"publisher"`
	AverageRating Rating `json:"average_rating"`
	RatingsCount  int    `json:"ratings_count"`
	Thumbnail     string `json:"thumbnail"`
}

type errorWire struct {
	Error string `json:"error"`
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	if m.Error != "" {
		return json.Marshal(errorWire{Error: m.Error})
	}
	return json.Marshal(metadataWire{
		Description:   m.Description,
		PublishedDate: m.PublishedDate,
		Publisher:     m.Publisher,
		AverageRating: m.AverageRating,
		RatingsCount:  m.RatingsCount,
		Thumbnail:     m.Thumbnail,
	})
}

func (m *Metadata) UnmarshalJSON(data []byte) error {
	var e errorWire
	if err := json.Unmarshal(data, &e); err != nil {
		return err
	}
	if e.Error != "" {
		*m = Metadata{Error: e.Error}
		return nil
	}
	var w metadataWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*m = Metadata{
		Description:   w.Description,
		PublishedDate: w.PublishedDate,
		Publisher:     w.Publisher,
		AverageRating: w.AverageRating,
		RatingsCount:  w.RatingsCount,
		Thumbnail:     w.Thumbnail,
	}
	return nil
}

// Rating is an average rating that encodes as a number, or as "Not rated"
// when the volume has none.
type Rating struct {
	Value float64
	Rated bool
}

func (r Rating) MarshalJSON() ([]byte, error) {
	if !r.Rated {
		return json.Marshal(NotRated)
	}
	return json.Marshal(r.Value)
}

func (r *Rating) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		*r = Rating{Value: val, Rated: true}
	default:
		*r = Rating{}
	}
	return nil
}
