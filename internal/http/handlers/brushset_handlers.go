package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/phambaophuc/brushset-converter/internal/config"
	"github.com/phambaophuc/brushset-converter/internal/models"
	"github.com/phambaophuc/brushset-converter/internal/services/converter"
	"github.com/phambaophuc/brushset-converter/internal/services/staging"
	"github.com/phambaophuc/brushset-converter/internal/services/verification"
	"go.uber.org/zap"
)

const (
	filesParamKey       = "files"
	brushCountHeader    = "X-Brush-Count"
	failedCountHeader   = "X-Failed-Archives"
	failedReportHeader  = "X-Failed-Archive-Report"
	zipContentType      = "application/zip"
	statusHealthy       = "healthy"
	statusUnhealthy     = "unhealthy"
	serviceStaging      = "staging"
	serviceVerification = "verification"
)

// Converter turns uploaded archives into one download.
type Converter interface {
	ProcessBatch(ctx context.Context, inputs []converter.Input, opts converter.Options) (*converter.BatchResult, error)
}

type BrushsetHandler struct {
	converter Converter
	gateway   verification.Gateway
	logger    *zap.Logger
	config    *config.Config
}

func NewBrushsetHandler(
	conv Converter,
	gateway verification.Gateway,
	logger *zap.Logger,
	config *config.Config,
) *BrushsetHandler {
	return &BrushsetHandler{
		converter: conv,
		gateway:   gateway,
		logger:    logger,
		config:    config,
	}
}

// === MAIN API ENDPOINTS ===

func (h *BrushsetHandler) Convert(c *gin.Context) {
	logger := h.logger.With(zap.String("request_id", requestID(c)))

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.config.Conversion.MaxRequestSize())

	form, err := c.MultipartForm()
	if err != nil {
		h.respondFormError(c, logger, err)
		return
	}
	defer form.RemoveAll()

	var req models.ConvertRequest
	if err := c.ShouldBind(&req); err != nil {
		h.respondError(c, http.StatusBadRequest, "invalid form fields: order_id must be at most 64 characters and transparency must be true or false")
		return
	}

	files := form.File[filesParamKey]
	logger.Info("Conversion requested",
		zap.Int("files", len(files)),
		zap.Bool("transparency", req.Transparency),
		zap.Bool("order_id", req.OrderID != ""))

	result, err := h.converter.ProcessBatch(c.Request.Context(), uploadInputs(files), converter.Options{
		OrderID:      req.OrderID,
		Transparency: req.Transparency,
	})
	if err != nil {
		h.respondConversionError(c, logger, err)
		return
	}
	if !result.Succeeded() {
		h.respondBatchFailure(c, logger, result)
		return
	}

	c.Header("Content-Disposition", contentDisposition(result.Filename))
	c.Header(brushCountHeader, strconv.Itoa(result.BrushCount()))
	h.setFailureHeaders(c, logger, result)
	c.Data(http.StatusOK, zipContentType, result.Archive)
}

// HealthCheck
func (h *BrushsetHandler) HealthCheck(c *gin.Context) {
	services := map[string]string{
		serviceStaging:      staging.HealthCheck(h.config.Staging),
		serviceVerification: h.gateway.HealthCheck(c.Request.Context()),
	}
	overall := h.calculateOverallHealth(services)

	statusCode := http.StatusOK
	if overall == statusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, models.APIResponse{
		Success: overall == statusHealthy,
		Data: models.HealthCheck{
			Status:      overall,
			Timestamp:   time.Now(),
			Services:    services,
			BatchPolicy: h.config.Conversion.BatchPolicy,
			MaxArchives: h.config.Conversion.MaxArchives,
		},
	})
}
