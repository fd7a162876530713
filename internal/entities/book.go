package entities

import "time"

// CachedBook is a downloaded book file kept for offline reading.
type CachedBook struct {
	BookID         string    `gorm:"primaryKey;size:128" json:"book_id"`
	Content        []byte    `json:"-"`
	Title          string    `gorm:"size:512" json:"title"`
	Author         string    `gorm:"size:256" json:"author"`
	FileType       string    `gorm:"size:32" json:"file_type"`
	FileSizeBytes  int64     `json:"file_size_bytes"`
	ContentHash    string    `gorm:"size:64" json:"content_hash"` // hex SHA-256 of Content
	CachedAt       time.Time `gorm:"index" json:"cached_at"`
	LastAccessedAt time.Time `gorm:"index" json:"last_accessed_at"`
}

func (CachedBook) TableName() string {
	return "books"
}

func (b CachedBook) Key() string {
	return b.BookID
}

// CacheMetadataEntry is the lightweight record the UI reads to learn whether
// a book is available offline. It survives eviction with IsCached=false.
type CacheMetadataEntry struct {
	BookID    string     `gorm:"primaryKey;size:128" json:"book_id"`
	Title     string     `gorm:"size:512" json:"title"`
	Author    string     `gorm:"size:256" json:"author"`
	CoverURL  string     `gorm:"size:2048" json:"cover_url,omitempty"`
	FileType  string     `gorm:"size:32" json:"file_type"`
	IsCached  bool       `gorm:"index;default:false" json:"is_cached"`
	SizeBytes int64      `json:"size_bytes"`
	CachedAt  *time.Time `json:"cached_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (CacheMetadataEntry) TableName() string {
	return "metadata"
}

func (m CacheMetadataEntry) Key() string {
	return m.BookID
}
