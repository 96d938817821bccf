package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/phambaophuc/brushset-converter/internal/http/middleware"
	"github.com/phambaophuc/brushset-converter/internal/models"
	"github.com/phambaophuc/brushset-converter/internal/services/converter"
	"github.com/phambaophuc/brushset-converter/internal/services/verification"
	"github.com/phambaophuc/brushset-converter/pkg/utils"
	"go.uber.org/zap"
)

// === REQUEST PARSING ===

func requestID(c *gin.Context) string {
	if id := c.GetString(middleware.RequestIDKey); id != "" {
		return id
	}
	id := uuid.NewString()
	c.Set(middleware.RequestIDKey, id)
	c.Header(middleware.RequestIDHeader, id)
	return id
}

func uploadInputs(files []*multipart.FileHeader) []converter.Input {
	inputs := make([]converter.Input, 0, len(files))
	for _, fh := range files {
		fh := fh
		inputs = append(inputs, converter.Input{
			Name: fh.Filename,
			Size: fh.Size,
			Open: func() (io.ReadCloser, error) { return fh.Open() },
		})
	}
	return inputs
}

// === RESPONSE HANDLING ===

func (h *BrushsetHandler) respondError(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, models.APIResponse{
		Success: false,
		Error:   message,
	})
}

func (h *BrushsetHandler) respondFormError(c *gin.Context, logger *zap.Logger, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		h.respondError(c, http.StatusRequestEntityTooLarge, fmt.Sprintf(
			"upload is larger than the %s limit (%d files of up to %s each)",
			utils.FormatBytes(maxErr.Limit),
			h.config.Conversion.MaxArchives,
			utils.FormatBytes(h.config.Conversion.MaxUploadSize)))
		return
	}

	logger.Warn("Failed to parse upload form", zap.Error(err))
	h.respondError(c, http.StatusBadRequest, "failed to read the upload form")
}

// respondConversionError answers a request the converter refused outright.
func (h *BrushsetHandler) respondConversionError(c *gin.Context, logger *zap.Logger, err error) {
	var cerr *converter.ConversionError
	if !errors.As(err, &cerr) {
		logger.Error("Conversion failed", zap.Error(err))
		h.respondError(c, http.StatusInternalServerError, "an unexpected error occurred")
		return
	}

	if cerr.Kind == converter.KindUnexpectedInternal {
		logger.Error("Conversion failed", zap.String("kind", string(cerr.Kind)), zap.NamedError("cause", cerr.Err))
	}

	c.JSON(statusForKind(cerr.Kind), models.APIResponse{
		Success: false,
		Error:   cerr.Error(),
		Kind:    string(cerr.Kind),
	})
}

// respondBatchFailure answers a batch that ran but produced no download. The
// status follows the first failed archive.
func (h *BrushsetHandler) respondBatchFailure(c *gin.Context, logger *zap.Logger, result *converter.BatchResult) {
	failed := result.Failed()
	if len(failed) == 0 {
		logger.Error("Batch produced neither a download nor an error")
		h.respondError(c, http.StatusInternalServerError, "an unexpected error occurred")
		return
	}

	first := failed[0].Err
	message := first.Error()
	if len(failed) > 1 {
		message = fmt.Sprintf("%d of %d archives could not be converted", len(failed), len(result.Archives))
	}

	c.JSON(statusForKind(first.Kind), models.APIResponse{
		Success: false,
		Error:   message,
		Kind:    string(first.Kind),
		Errors:  archiveReports(result),
	})
}

// setFailureHeaders lists the archives left out of a partial download.
func (h *BrushsetHandler) setFailureHeaders(c *gin.Context, logger *zap.Logger, result *converter.BatchResult) {
	failed := failedReports(result)
	c.Header(failedCountHeader, strconv.Itoa(len(failed)))
	if len(failed) == 0 {
		return
	}

	report, err := json.Marshal(failed)
	if err != nil {
		logger.Warn("Failed to encode archive report", zap.Error(err))
		return
	}
	c.Header(failedReportHeader, string(report))
}

func failedReports(result *converter.BatchResult) []models.ArchiveReport {
	var failed []models.ArchiveReport
	for _, r := range archiveReports(result) {
		if r.Kind != "" {
			failed = append(failed, r)
		}
	}
	return failed
}

func archiveReports(result *converter.BatchResult) []models.ArchiveReport {
	reports := make([]models.ArchiveReport, 0, len(result.Archives))
	for _, a := range result.Archives {
		report := models.ArchiveReport{
			Archive:  a.Name,
			Images:   a.Images,
			Entries:  a.Entries,
			NotImage: a.Skipped.NotImage,
			TooSmall: a.Skipped.TooSmall,
			TooLarge: a.Skipped.TooLarge,
		}
		if a.Err != nil {
			report.Kind = string(a.Err.Kind)
			report.Message = a.Err.Message
		}
		reports = append(reports, report)
	}
	return reports
}

func statusForKind(kind converter.ErrorKind) int {
	switch kind {
	case converter.KindInvalidRequest, converter.KindInvalidFileType:
		return http.StatusBadRequest
	case converter.KindFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case converter.KindCorruptArchive, converter.KindTooManyEntries, converter.KindNoValidImages:
		return http.StatusUnprocessableEntity
	case converter.KindVerificationNotFound:
		return http.StatusNotFound
	case converter.KindVerificationFailed:
		return http.StatusForbidden
	case converter.KindVerificationUnreachable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func contentDisposition(filename string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": filename})
}

// === UTILITY METHODS ===

func (h *BrushsetHandler) calculateOverallHealth(services map[string]string) string {
	for _, status := range services {
		switch status {
		case statusHealthy, verification.StatusDisabled, verification.StatusNotConfigured:
		default:
			return statusUnhealthy
		}
	}
	return statusHealthy
}
