package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/character-lab/backend/internal/logging"
	"github.com/character-lab/backend/internal/model"
	"github.com/character-lab/backend/internal/repository"
	"github.com/character-lab/backend/internal/storage"
)

// CharacterHandler handles HTTP requests for character management.
type CharacterHandler struct {
	repo  *repository.CharacterRepository
	files *storage.LocalStore
}

// NewCharacterHandler creates a new CharacterHandler.
func NewCharacterHandler(repo *repository.CharacterRepository, files *storage.LocalStore) *CharacterHandler {
	return &CharacterHandler{repo: repo, files: files}
}

// CharacterResponse represents a character in API responses.
type CharacterResponse struct {
	ID              string           `json:"id"`
	UserID          string           `json:"user_id"`
	Name            string           `json:"name"`
	Description     *string          `json:"description"`
	EmbeddingVector *string          `json:"embedding_vector"`
	IsPublic        bool             `json:"is_public"`
	CharacterData   map[string]any   `json:"character_data"`
	Images          []*ImageResponse `json:"images,omitempty"`
	CreatedAt       string           `json:"created_at"`
	UpdatedAt       string           `json:"updated_at"`
}

// ImageResponse represents a character image in API responses.
type ImageResponse struct {
	ID              string   `json:"id"`
	CharacterID     string   `json:"character_id"`
	Filename        string   `json:"filename"`
	URL             string   `json:"url"`
	ImageType       string   `json:"image_type"`
	FileSize        int64    `json:"file_size"`
	MimeType        string   `json:"mime_type"`
	QualityScore    float64  `json:"quality_score"`
	Recommendations []string `json:"recommendations"`
	CreatedAt       string   `json:"created_at"`
}

func toCharacterResponse(c *model.Character) *CharacterResponse {
	data, err := c.Data()
	if err != nil {
		logging.Warn().Err(err).Str("character_id", c.ID).Msg("ignoring undecodable character data")
	}
	resp := &CharacterResponse{
		ID:              c.ID,
		UserID:          c.UserID,
		Name:            c.Name,
		Description:     c.Description,
		EmbeddingVector: c.EmbeddingVector,
		IsPublic:        c.IsPublic,
		CharacterData:   data,
		CreatedAt:       c.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       c.UpdatedAt.UTC().Format(time.RFC3339),
	}
	for i := range c.Images {
		resp.Images = append(resp.Images, toImageResponse(&c.Images[i]))
	}
	return resp
}

func toImageResponse(img *model.CharacterImage) *ImageResponse {
	return &ImageResponse{
		ID:              img.ID,
		CharacterID:     img.CharacterID,
		Filename:        img.Filename,
		URL:             img.ImageURL,
		ImageType:       img.ImageType,
		FileSize:        img.FileSize,
		MimeType:        img.MimeType,
		QualityScore:    img.QualityScore,
		Recommendations: img.RecommendationList(),
		CreatedAt:       img.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// List handles GET /api/v1/characters.
func (h *CharacterHandler) List(c *gin.Context) {
	page, ok := pageFromQuery(c)
	if !ok {
		return
	}
	characters, err := h.repo.List(c.Request.Context(), getUserID(c), page)
	if err != nil {
		sendDomainError(c, err, "list characters")
		return
	}

	resp := make([]*CharacterResponse, 0, len(characters))
	for _, ch := range characters {
		resp = append(resp, toCharacterResponse(ch))
	}
	c.JSON(http.StatusOK, resp)
}

// Create handles POST /api/v1/characters.
func (h *CharacterHandler) Create(c *gin.Context) {
	var req model.CreateCharacterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		sendDomainError(c, err, "create character")
		return
	}

	ch := &model.Character{
		UserID:      getUserID(c),
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		IsPublic:    req.IsPublic,
	}
	if err := ch.SetData(req.CharacterData); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid character_data")
		return
	}
	if err := h.repo.Create(c.Request.Context(), ch); err != nil {
		sendDomainError(c, err, "create character")
		return
	}
	c.JSON(http.StatusCreated, toCharacterResponse(ch))
}

// Get handles GET /api/v1/characters/:id.
func (h *CharacterHandler) Get(c *gin.Context) {
	ch, err := h.repo.Get(c.Request.Context(), c.Param("id"), getUserID(c))
	if err != nil {
		sendDomainError(c, err, "get character")
		return
	}
	c.JSON(http.StatusOK, toCharacterResponse(ch))
}

// Update handles PUT /api/v1/characters/:id. Omitted fields are unchanged.
func (h *CharacterHandler) Update(c *gin.Context) {
	var req model.UpdateCharacterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		sendDomainError(c, err, "update character")
		return
	}

	ctx := c.Request.Context()
	ch, err := h.repo.Get(ctx, c.Param("id"), getUserID(c))
	if err != nil {
		sendDomainError(c, err, "update character")
		return
	}
	if err := req.Apply(ch); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid character_data")
		return
	}
	if err := h.repo.Update(ctx, ch); err != nil {
		sendDomainError(c, err, "update character")
		return
	}

	updated, err := h.repo.Get(ctx, ch.ID, ch.UserID)
	if err != nil {
		sendDomainError(c, err, "update character")
		return
	}
	c.JSON(http.StatusOK, toCharacterResponse(updated))
}

// Delete handles DELETE /api/v1/characters/:id.
func (h *CharacterHandler) Delete(c *gin.Context) {
	images, err := h.repo.Delete(c.Request.Context(), c.Param("id"), getUserID(c))
	if err != nil {
		sendDomainError(c, err, "delete character")
		return
	}
	for _, img := range images {
		if err := h.files.Delete(img.ImageURL); err != nil {
			logging.Warn().Err(err).Str("image_id", img.ID).Msg("failed to remove image file")
		}
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "Character deleted"})
}

// RegisterRoutes registers the character routes on an authenticated group.
func (h *CharacterHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/characters", h.List)
	rg.POST("/characters", h.Create)
	rg.GET("/characters/:id", h.Get)
	rg.PUT("/characters/:id", h.Update)
	rg.DELETE("/characters/:id", h.Delete)
}
