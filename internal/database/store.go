package database

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mrlokans/shelfsync/internal/errs"
)

// Record is a row that lives in exactly one named partition.
type Record interface {
	TableName() string
	Key() string
}

// Partition describes a named store: its primary key column, its secondary
// indexes (index name to column) and the order GetAll results come back in.
type Partition struct {
	KeyColumn string
	Indexes   map[string]string
	Order     string
}

// Store is a keyed partition of the durable store.
type Store[T Record] struct {
	db   *gorm.DB
	name string
	part Partition
}

func NewStore[T Record](db *Database, part Partition) *Store[T] {
	var zero T
	if part.Order == "" {
		part.Order = part.KeyColumn
	}
	return &Store[T]{db: db.DB, name: zero.TableName(), part: part}
}

// WithTx returns a copy of the store bound to tx.
func (s *Store[T]) WithTx(tx *Database) *Store[T] {
	return &Store[T]{db: tx.DB, name: s.name, part: s.part}
}

// Name returns the partition name.
func (s *Store[T]) Name() string {
	return s.name
}

// Put inserts rec or replaces the stored record with the same key.
func (s *Store[T]) Put(ctx context.Context, rec T) (string, error) {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
	if err != nil {
		return "", storageError("put", s.name, err)
	}
	return rec.Key(), nil
}

// Get returns the record stored under key, or errs.ErrNotFound.
func (s *Store[T]) Get(ctx context.Context, key string) (*T, error) {
	var rec T
	err := s.db.WithContext(ctx).Where(s.part.KeyColumn+" = ?", key).Take(&rec).Error
	if err != nil {
		return nil, storageError("get", s.name, err)
	}
	return &rec, nil
}

// GetAllByIndex returns every record whose indexed column equals value.
func (s *Store[T]) GetAllByIndex(ctx context.Context, index string, value any) ([]T, error) {
	column, ok := s.part.Indexes[index]
	if !ok {
		return nil, errs.Newf(errs.CodeInvalidInput, "partition %s has no index %q", s.name, index)
	}

	var recs []T
	err := s.db.WithContext(ctx).Where(column+" = ?", value).Order(s.part.Order).Find(&recs).Error
	if err != nil {
		return nil, storageError("query", s.name, err)
	}
	return recs, nil
}

// GetAll returns the whole partition.
func (s *Store[T]) GetAll(ctx context.Context) ([]T, error) {
	var recs []T
	if err := s.db.WithContext(ctx).Order(s.part.Order).Find(&recs).Error; err != nil {
		return nil, storageError("scan", s.name, err)
	}
	return recs, nil
}

// Delete removes the record under key. Deleting a missing key is not an
// error; the returned bool reports whether anything was removed.
func (s *Store[T]) Delete(ctx context.Context, key string) (bool, error) {
	var zero T
	res := s.db.WithContext(ctx).Where(s.part.KeyColumn+" = ?", key).Delete(&zero)
	if res.Error != nil {
		return false, storageError("delete", s.name, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Update applies updates to the record under key only when every scope
// also matches, and reports whether a row changed. Scopes act as the
// compare half of a compare-and-set.
func (s *Store[T]) Update(ctx context.Context, key string, updates map[string]any, scopes ...func(*gorm.DB) *gorm.DB) (bool, error) {
	var zero T
	res := s.db.WithContext(ctx).Model(&zero).
		Where(s.part.KeyColumn+" = ?", key).
		Scopes(scopes...).
		Updates(updates)
	if res.Error != nil {
		return false, storageError("update", s.name, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Count returns the number of records matching scopes.
func (s *Store[T]) Count(ctx context.Context, scopes ...func(*gorm.DB) *gorm.DB) (int64, error) {
	var zero T
	var n int64
	if err := s.db.WithContext(ctx).Model(&zero).Scopes(scopes...).Count(&n).Error; err != nil {
		return 0, storageError("count", s.name, err)
	}
	return n, nil
}

// Find returns records matching scopes in the given order.
func (s *Store[T]) Find(ctx context.Context, order string, scopes ...func(*gorm.DB) *gorm.DB) ([]T, error) {
	if order == "" {
		order = s.part.Order
	}
	var recs []T
	if err := s.db.WithContext(ctx).Scopes(scopes...).Order(order).Find(&recs).Error; err != nil {
		return nil, storageError("query", s.name, err)
	}
	return recs, nil
}

// DeleteWhere removes every record matching scopes.
func (s *Store[T]) DeleteWhere(ctx context.Context, scopes ...func(*gorm.DB) *gorm.DB) (int64, error) {
	var zero T
	res := s.db.WithContext(ctx).Scopes(scopes...).Delete(&zero)
	if res.Error != nil {
		return 0, storageError("delete", s.name, res.Error)
	}
	return res.RowsAffected, nil
}

// Pluck collects one column from records matching scopes into dest.
func (s *Store[T]) Pluck(ctx context.Context, column, order string, limit int, dest any, scopes ...func(*gorm.DB) *gorm.DB) error {
	var zero T
	q := s.db.WithContext(ctx).Model(&zero).Scopes(scopes...)
	if order != "" {
		q = q.Order(order)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Pluck(column, dest).Error; err != nil {
		return storageError("query", s.name, err)
	}
	return nil
}
