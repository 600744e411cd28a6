package handlers

import (
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/character-lab/backend/internal/ai"
	"github.com/character-lab/backend/internal/logging"
	"github.com/character-lab/backend/internal/metrics"
	"github.com/character-lab/backend/internal/model"
	"github.com/character-lab/backend/internal/repository"
	"github.com/character-lab/backend/internal/storage"
)

// UploadHandler handles character image uploads.
type UploadHandler struct {
	characters *repository.CharacterRepository
	files      *storage.LocalStore
	analyzer   ai.Analyzer
}

// NewUploadHandler creates a new UploadHandler.
func NewUploadHandler(characters *repository.CharacterRepository, files *storage.LocalStore, analyzer ai.Analyzer) *UploadHandler {
	return &UploadHandler{characters: characters, files: files, analyzer: analyzer}
}

// BatchUploadResponse summarises a multi-file upload.
type BatchUploadResponse struct {
	TotalUploaded  int              `json:"total_uploaded"`
	TotalFailed    int              `json:"total_failed"`
	UploadedImages []*ImageResponse `json:"uploaded_images"`
	FailedFiles    []string         `json:"failed_files"`
}

// UploadImages handles POST /api/v1/upload/character/:id/images. Each file of
// the multipart "files" field is stored and analysed independently; a bad
// file is reported in failed_files without failing the batch.
func (h *UploadHandler) UploadImages(c *gin.Context) {
	ctx := c.Request.Context()
	characterID := c.Param("id")

	ok, err := h.characters.Exists(ctx, characterID, getUserID(c))
	if err != nil {
		sendDomainError(c, err, "upload images")
		return
	}
	if !ok {
		sendDomainError(c, model.ErrCharacterNotFound, "upload images")
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid multipart form: "+err.Error())
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "No files provided")
		return
	}

	resp := BatchUploadResponse{
		UploadedImages: []*ImageResponse{},
		FailedFiles:    []string{},
	}
	for _, fh := range files {
		img, err := h.saveOne(c, characterID, fh)
		if err != nil {
			metrics.ImagesUploaded.WithLabelValues("failed").Inc()
			logging.Warn().Err(err).Str("character_id", characterID).Str("filename", fh.Filename).Msg("image upload failed")
			resp.FailedFiles = append(resp.FailedFiles, fh.Filename)
			continue
		}
		metrics.ImagesUploaded.WithLabelValues("ok").Inc()
		resp.UploadedImages = append(resp.UploadedImages, toImageResponse(img))
	}
	resp.TotalUploaded = len(resp.UploadedImages)
	resp.TotalFailed = len(resp.FailedFiles)

	c.JSON(http.StatusOK, resp)
}

func (h *UploadHandler) saveOne(c *gin.Context, characterID string, fh *multipart.FileHeader) (*model.CharacterImage, error) {
	ctx := c.Request.Context()

	src, err := fh.Open()
	if err != nil {
		return nil, err
	}
	stored, err := h.files.Save(characterID, src)
	src.Close()
	if err != nil {
		return nil, err
	}

	analysis, err := h.analyzer.AnalyzeImage(ctx, stored.Path, stored.MimeType)
	if err != nil {
		_ = h.files.Delete(stored.URL)
		return nil, err
	}

	img := &model.CharacterImage{
		CharacterID:     characterID,
		Filename:        fh.Filename,
		ImageURL:        stored.URL,
		ImageType:       "reference",
		FileSize:        stored.Size,
		MimeType:        stored.MimeType,
		QualityScore:    analysis.QualityScore,
		Recommendations: strings.Join(analysis.Recommendations, "\n"),
	}
	if err := h.characters.AddImage(ctx, img); err != nil {
		_ = h.files.Delete(stored.URL)
		return nil, err
	}
	return img, nil
}

// DeleteImage handles DELETE /api/v1/upload/character/:id/images/:image_id.
func (h *UploadHandler) DeleteImage(c *gin.Context) {
	ctx := c.Request.Context()
	characterID := c.Param("id")
	imageID := c.Param("image_id")

	ok, err := h.characters.Exists(ctx, characterID, getUserID(c))
	if err != nil {
		sendDomainError(c, err, "delete image")
		return
	}
	if !ok {
		sendDomainError(c, model.ErrCharacterNotFound, "delete image")
		return
	}

	img, err := h.characters.GetImage(ctx, characterID, imageID)
	if err != nil {
		sendDomainError(c, err, "delete image")
		return
	}
	if err := h.characters.DeleteImage(ctx, characterID, imageID); err != nil {
		sendDomainError(c, err, "delete image")
		return
	}
	if err := h.files.Delete(img.ImageURL); err != nil {
		logging.Warn().Err(err).Str("image_id", imageID).Msg("failed to remove image file")
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "Image deleted"})
}

// RegisterRoutes registers the upload routes on an authenticated group.
func (h *UploadHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/upload/character/:id/images", h.UploadImages)
	rg.DELETE("/upload/character/:id/images/:image_id", h.DeleteImage)
}
