package model

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Character is a user-owned character with reference images.
type Character struct {
	ID              string           `gorm:"primaryKey" json:"id"`
	UserID          string           `gorm:"index;not null" json:"user_id"`
	Name            string           `gorm:"not null" json:"name"`
	Description     *string          `json:"description"`
	EmbeddingVector *string          `gorm:"type:text" json:"embedding_vector"`
	IsPublic        bool             `gorm:"not null;default:false" json:"is_public"`
	CharacterData   string           `gorm:"type:text" json:"-"`
	Images          []CharacterImage `gorm:"constraint:OnDelete:CASCADE" json:"images,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// BeforeCreate generates the id.
func (c *Character) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// TableName specifies the table name for GORM
func (Character) TableName() string {
	return "characters"
}

// Data decodes the free-form character data. An empty column yields nil.
func (c *Character) Data() (map[string]any, error) {
	if c.CharacterData == "" {
		return nil, nil
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(c.CharacterData), &data); err != nil {
		return nil, err
	}
	return data, nil
}

// SetData encodes data into the character data column.
func (c *Character) SetData(data map[string]any) error {
	if data == nil {
		c.CharacterData = ""
		return nil
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return err
	}
	c.CharacterData = string(encoded)
	return nil
}

// CharacterImage is a reference image of a character.
type CharacterImage struct {
	ID              string    `gorm:"primaryKey" json:"id"`
	CharacterID     string    `gorm:"index;not null" json:"character_id"`
	Filename        string    `gorm:"not null" json:"filename"`
	ImageURL        string    `gorm:"not null" json:"image_url"`
	ImageType       string    `gorm:"not null;default:reference" json:"image_type"`
	FileSize        int64     `json:"file_size"`
	MimeType        string    `json:"mime_type"`
	QualityScore    float64   `json:"quality_score"`
	Recommendations string    `gorm:"type:text" json:"-"`
	CreatedAt       time.Time `json:"created_at"`
}

// BeforeCreate generates the id.
func (i *CharacterImage) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return nil
}

// TableName specifies the table name for GORM
func (CharacterImage) TableName() string {
	return "character_images"
}

// RecommendationList splits the stored recommendations.
func (i *CharacterImage) RecommendationList() []string {
	if i.Recommendations == "" {
		return []string{}
	}
	return strings.Split(i.Recommendations, "\n")
}

// CreateCharacterRequest is the body of a character creation.
type CreateCharacterRequest struct {
	Name          string         `json:"name"`
	Description   *string        `json:"description"`
	IsPublic      bool           `json:"is_public"`
	CharacterData map[string]any `json:"character_data"`
}

// Validate validates the create character request.
func (r *CreateCharacterRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return ErrNameRequired
	}
	return nil
}

// UpdateCharacterRequest is a partial update; nil fields are left unchanged.
type UpdateCharacterRequest struct {
	Name          *string        `json:"name"`
	Description   *string        `json:"description"`
	IsPublic      *bool          `json:"is_public"`
	CharacterData map[string]any `json:"character_data"`
}

// Validate validates the update character request.
func (r *UpdateCharacterRequest) Validate() error {
	if r.Name != nil && strings.TrimSpace(*r.Name) == "" {
		return ErrNameRequired
	}
	return nil
}

// Apply copies the set fields onto c.
func (r *UpdateCharacterRequest) Apply(c *Character) error {
	if r.Name != nil {
		c.Name = strings.TrimSpace(*r.Name)
	}
	if r.Description != nil {
		c.Description = r.Description
	}
	if r.IsPublic != nil {
		c.IsPublic = *r.IsPublic
	}
	if r.CharacterData != nil {
		return c.SetData(r.CharacterData)
	}
	return nil
}
