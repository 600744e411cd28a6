package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/character-lab/backend/internal/model"
)

// CharacterRepository provides data access for characters and their images.
type CharacterRepository struct {
	db *gorm.DB
}

// NewCharacterRepository creates a new CharacterRepository.
func NewCharacterRepository(db *gorm.DB) *CharacterRepository {
	return &CharacterRepository{db: db}
}

// Create inserts a new character.
func (r *CharacterRepository) Create(ctx context.Context, c *model.Character) error {
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("failed to create character: %w", err)
	}
	return nil
}

// Get retrieves a character of userID with its images.
func (r *CharacterRepository) Get(ctx context.Context, id, userID string) (*model.Character, error) {
	var c model.Character
	err := r.db.WithContext(ctx).
		Preload("Images", func(db *gorm.DB) *gorm.DB { return db.Order("created_at") }).
		Where("id = ? AND user_id = ?", id, userID).
		First(&c).Error
	if err != nil {
		return nil, notFound(err, model.ErrCharacterNotFound)
	}
	return &c, nil
}

// Exists reports whether userID owns character id.
func (r *CharacterRepository) Exists(ctx context.Context, id, userID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Character{}).
		Where("id = ? AND user_id = ?", id, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check character: %w", err)
	}
	return count > 0, nil
}

// List returns a page of the characters of userID, newest first.
func (r *CharacterRepository) List(ctx context.Context, userID string, page Page) ([]*model.Character, error) {
	var out []*model.Character
	q := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC")
	if err := page.apply(q).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list characters: %w", err)
	}
	return out, nil
}

// Update saves the mutable fields of c.
func (r *CharacterRepository) Update(ctx context.Context, c *model.Character) error {
	res := r.db.WithContext(ctx).Model(&model.Character{}).
		Where("id = ? AND user_id = ?", c.ID, c.UserID).
		Updates(map[string]any{
			"name":           c.Name,
			"description":    c.Description,
			"is_public":      c.IsPublic,
			"character_data": c.CharacterData,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update character: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return model.ErrCharacterNotFound
	}
	return nil
}

// Delete removes a character and its image rows, returning the removed images
// so their files can be cleaned up.
func (r *CharacterRepository) Delete(ctx context.Context, id, userID string) ([]model.CharacterImage, error) {
	var images []model.CharacterImage
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c model.Character
		if err := tx.Where("id = ? AND user_id = ?", id, userID).First(&c).Error; err != nil {
			return notFound(err, model.ErrCharacterNotFound)
		}
		if err := tx.Where("character_id = ?", id).Find(&images).Error; err != nil {
			return err
		}
		if err := tx.Where("character_id = ?", id).Delete(&model.CharacterImage{}).Error; err != nil {
			return err
		}
		return tx.Delete(&c).Error
	})
	if err != nil {
		return nil, err
	}
	return images, nil
}

// AddImage inserts an image row.
func (r *CharacterRepository) AddImage(ctx context.Context, img *model.CharacterImage) error {
	if err := r.db.WithContext(ctx).Create(img).Error; err != nil {
		return fmt.Errorf("failed to create image: %w", err)
	}
	return nil
}

// GetImage retrieves an image of a character.
func (r *CharacterRepository) GetImage(ctx context.Context, characterID, imageID string) (*model.CharacterImage, error) {
	var img model.CharacterImage
	err := r.db.WithContext(ctx).
		Where("id = ? AND character_id = ?", imageID, characterID).
		First(&img).Error
	if err != nil {
		return nil, notFound(err, model.ErrImageNotFound)
	}
	return &img, nil
}

// DeleteImage removes an image row.
func (r *CharacterRepository) DeleteImage(ctx context.Context, characterID, imageID string) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND character_id = ?", imageID, characterID).
		Delete(&model.CharacterImage{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete image: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return model.ErrImageNotFound
	}
	return nil
}
