package http

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/shelfsync/internal/cache"
	"github.com/mrlokans/shelfsync/internal/entities"
	"github.com/mrlokans/shelfsync/internal/errs"
	"github.com/mrlokans/shelfsync/internal/tasks"
)

// BooksController exposes the content cache.
type BooksController struct {
	cache BookCache
	tasks TaskSubmitter
}

func NewBooksController(c BookCache, submitter TaskSubmitter) *BooksController {
	return &BooksController{cache: c, tasks: submitter}
}

// CacheRequest is the body of PUT /api/books/:id/cache.
type CacheRequest struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Author   string `json:"author"`
	FileType string `json:"file_type"`
	CoverURL string `json:"cover_url"`
}

func (r CacheRequest) source() cache.Source {
	return cache.Source{
		URL:      r.URL,
		Title:    r.Title,
		Author:   r.Author,
		FileType: r.FileType,
		CoverURL: r.CoverURL,
	}
}

// List handles GET /api/books?cached=true
func (bc *BooksController) List(c *gin.Context) {
	ctx := c.Request.Context()
	entries, err := bc.cache.ListMetadata(ctx, c.Query("cached") == "true")
	if err != nil {
		respondErr(c, err, "list books")
		return
	}
	stats, err := bc.cache.Stats(ctx)
	if err != nil {
		respondErr(c, err, "cache stats")
		return
	}
	if entries == nil {
		entries = []entities.CacheMetadataEntry{}
	}
	c.JSON(http.StatusOK, gin.H{
		"books": entries,
		"total": len(entries),
		"cache": stats,
	})
}

// Get handles GET /api/books/:id
func (bc *BooksController) Get(c *gin.Context) {
	meta, err := bc.cache.GetMetadata(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err, "get book")
		return
	}
	c.JSON(http.StatusOK, meta)
}

// Content handles GET /api/books/:id/content
// Serves the cached bytes and counts as an access for eviction order.
func (bc *BooksController) Content(c *gin.Context) {
	book, err := bc.cache.GetCachedBook(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err, "read cached book")
		return
	}
	if book == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "book not cached", Code: string(errs.CodeNotFound)})
		return
	}

	etag := `"` + book.ContentHash + `"`
	if book.ContentHash != "" && c.GetHeader("If-None-Match") == etag {
		c.Status(http.StatusNotModified)
		return
	}
	if book.ContentHash != "" {
		c.Header("ETag", etag)
	}
	c.Header("Content-Disposition", fmt.Sprintf(`inline; filename="%s"`, contentFilename(book)))
	c.Data(http.StatusOK, contentType(book.FileType), book.Content)
}

// Cache handles PUT /api/books/:id/cache
// Without ?priority the book is fetched inline. With ?priority=immediate
// or ?priority=background the fetch is handed to the task queue.
func (bc *BooksController) Cache(c *gin.Context) {
	var req CacheRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, "invalid request body: "+err.Error())
			return
		}
	}
	bookID := c.Param("id")

	if mode := c.Query("priority"); mode != "" && bc.tasks != nil {
		priority, err := tasks.ParsePriority(mode)
		if err != nil {
			respondBadRequest(c, err.Error())
			return
		}
		taskID, err := bc.tasks.Submit(c.Request.Context(), tasks.CacheBookTask{BookID: bookID, Source: req.source()}, priority)
		if err != nil {
			respondErr(c, err, "submit cache task")
			return
		}
		respondAccepted(c, "book caching scheduled", gin.H{
			"book_id":  bookID,
			"task_id":  taskID,
			"priority": priority,
		})
		return
	}

	book, err := bc.cache.CacheBook(c.Request.Context(), bookID, req.source())
	if err != nil {
		respondErr(c, err, "cache book")
		return
	}
	c.JSON(http.StatusCreated, book)
}

// Uncache handles DELETE /api/books/:id/cache
func (bc *BooksController) Uncache(c *gin.Context) {
	bookID := c.Param("id")
	if err := bc.cache.UncacheBook(c.Request.Context(), bookID); err != nil {
		respondErr(c, err, "uncache book")
		return
	}
	respondSuccess(c, "book removed from cache", gin.H{"book_id": bookID})
}

// Cleanup handles POST /api/books/cleanup?max_age_days=
// Zero or missing max_age_days uses the configured expiry.
func (bc *BooksController) Cleanup(c *gin.Context) {
	days := 0
	if raw := c.Query("max_age_days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondBadRequest(c, "invalid max_age_days")
			return
		}
		days = n
	}

	if c.Query("async") == "true" && bc.tasks != nil {
		taskID, err := bc.tasks.Submit(c.Request.Context(), tasks.CleanupExpiredBooksTask{MaxAgeDays: days}, tasks.PriorityImmediate)
		if err != nil {
			respondErr(c, err, "submit cleanup task")
			return
		}
		respondAccepted(c, "cleanup scheduled", gin.H{"task_id": taskID})
		return
	}

	removed, err := bc.cache.CleanupExpired(c.Request.Context(), days)
	if err != nil {
		respondErr(c, err, "cleanup expired books")
		return
	}
	if removed == nil {
		removed = []string{}
	}
	respondSuccess(c, fmt.Sprintf("removed %d expired books", len(removed)), gin.H{"removed": removed})
}

func contentType(fileType string) string {
	switch fileType {
	case "epub":
		return "application/epub+zip"
	case "pdf":
		return "application/pdf"
	case "txt":
		return "text/plain; charset=utf-8"
	case "html":
		return "text/html; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

func contentFilename(book *entities.CachedBook) string {
	if book.FileType == "" {
		return book.BookID
	}
	return book.BookID + "." + book.FileType
}
