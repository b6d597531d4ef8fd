package storage

import (
	"context"

	"gorm.io/gorm"

	"github.com/strataeng/strata/domain/collection"
	"github.com/strataeng/strata/internal/fault"
)

// CollectionStore implements collection.Store against the collections
// metadata table.
type CollectionStore struct {
	s *Store
}

// Collections returns the CollectionStore view of s.
func (s *Store) Collections() *CollectionStore { return &CollectionStore{s: s} }

var _ collection.Store = (*CollectionStore)(nil)

// Create registers a new collection. Fails if the name already exists.
func (cs *CollectionStore) Create(ctx context.Context, c collection.Collection) error {
	row := collectionRow{
		Name:         c.Name(),
		ProviderID:   c.ProviderID(),
		ModelID:      c.ModelID(),
		Dimensions:   c.Dimensions(),
		AutoGenerate: c.AutoGenerate(),
		BatchSize:    c.BatchSize(),
		Description:  c.Description(),
	}
	if err := cs.s.session(ctx).Create(&row).Error; err != nil {
		return classifySQLError(err)
	}
	return nil
}

// Get retrieves a collection by name.
func (cs *CollectionStore) Get(ctx context.Context, name string) (collection.Collection, error) {
	var row collectionRow
	err := cs.s.session(ctx).Where("name = ?", name).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return collection.Collection{}, fault.NewError(fault.KindInvalidRequest, "collection not found: "+name)
		}
		return collection.Collection{}, classifySQLError(err)
	}
	return rowToCollection(row), nil
}

// Exists reports whether a collection with the given name exists.
func (cs *CollectionStore) Exists(ctx context.Context, name string) (bool, error) {
	var count int64
	err := cs.s.session(ctx).Model(&collectionRow{}).Where("name = ?", name).Count(&count).Error
	if err != nil {
		return false, classifySQLError(err)
	}
	return count > 0, nil
}

// List returns all registered collections.
func (cs *CollectionStore) List(ctx context.Context) ([]collection.Collection, error) {
	var rows []collectionRow
	if err := cs.s.session(ctx).Find(&rows).Error; err != nil {
		return nil, classifySQLError(err)
	}
	out := make([]collection.Collection, len(rows))
	for i, r := range rows {
		out[i] = rowToCollection(r)
	}
	return out, nil
}

// SetDimensions fixes a collection's dimensions on first embedding
// (invariant 4). A no-op if dimensions already match; fails if they
// differ.
func (cs *CollectionStore) SetDimensions(ctx context.Context, name string, dimensions int) error {
	current, err := cs.Get(ctx, name)
	if err != nil {
		return err
	}
	if current.Dimensions() == dimensions {
		return nil
	}
	if current.Dimensions() != 0 && current.Dimensions() != dimensions {
		return fault.NewError(fault.KindDimensionMismatch,
			"collection dimensions are already fixed").WithDetails(map[string]any{
			"collection": name, "fixed": current.Dimensions(), "requested": dimensions,
		})
	}
	result := cs.s.session(ctx).Model(&collectionRow{}).Where("name = ?", name).Update("dimensions", dimensions)
	if result.Error != nil {
		return classifySQLError(result.Error)
	}
	return nil
}

func rowToCollection(row collectionRow) collection.Collection {
	c := collection.New(row.Name, row.ProviderID, row.ModelID, row.Dimensions, row.AutoGenerate).
		WithBatchSize(row.BatchSize).
		WithDescription(row.Description)
	return c
}
