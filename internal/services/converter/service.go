package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/phambaophuc/brushset-converter/internal/config"
	"github.com/phambaophuc/brushset-converter/internal/services/archive"
	"github.com/phambaophuc/brushset-converter/internal/services/processor"
	"github.com/phambaophuc/brushset-converter/internal/services/staging"
	"github.com/phambaophuc/brushset-converter/internal/services/verification"
	"github.com/phambaophuc/brushset-converter/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Service struct {
	conv      config.ConversionConfig
	staging   config.StagingConfig
	reader    *archive.Reader
	processor *processor.ImageProcessor
	writer    *archive.Writer
	gateway   verification.Gateway
	logger    *zap.Logger
}

func NewService(
	cfg *config.Config,
	reader *archive.Reader,
	processor *processor.ImageProcessor,
	writer *archive.Writer,
	gateway verification.Gateway,
	logger *zap.Logger,
) *Service {
	return &Service{
		conv:      cfg.Conversion,
		staging:   cfg.Staging,
		reader:    reader,
		processor: processor,
		writer:    writer,
		gateway:   gateway,
		logger:    logger,
	}
}

// NewServiceFromConfig wires the default reader, processor and writer.
func NewServiceFromConfig(cfg *config.Config, gateway verification.Gateway, logger *zap.Logger) *Service {
	return NewService(
		cfg,
		archive.NewReader(cfg.Conversion.MaxEntryCount(), cfg.Conversion.MaxEntrySize),
		processor.NewImageProcessor(cfg.Conversion.MinDimension, cfg.Conversion.MaxImagePixels),
		archive.NewWriter(),
		gateway,
		logger,
	)
}

// ProcessBatch converts every input into one combined download.
//
// A non-nil error means the whole request was refused: no files, too many
// files, a failed order check, or a fault while packaging. Problems with
// individual archives are reported on the result instead; under the strict
// policy any of them suppresses the download, under best effort only the
// failing archives are left out.
//
// All staged data is released before ProcessBatch returns, on every path.
func (s *Service) ProcessBatch(ctx context.Context, inputs []Input, opts Options) (result *BatchResult, err error) {
	if len(inputs) == 0 {
		return nil, &ConversionError{Kind: KindInvalidRequest, Message: "no files were uploaded"}
	}
	if len(inputs) > s.conv.MaxArchives {
		return nil, &ConversionError{
			Kind:    KindInvalidRequest,
			Message: fmt.Sprintf("%d files were uploaded, at most %d can be converted at once", len(inputs), s.conv.MaxArchives),
		}
	}

	start := time.Now()
	logger := s.logger.With(zap.Int("archives", len(inputs)), zap.Bool("transparency", opts.Transparency))

	scope := staging.NewScope(s.staging, logger)
	defer scope.Release()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic during batch conversion",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			result = nil
			err = &ConversionError{
				Kind:    KindUnexpectedInternal,
				Message: "an unexpected error occurred while building the download",
				Err:     fmt.Errorf("panic: %v", r),
			}
		}
	}()

	result = &BatchResult{Archives: make([]ArchiveResult, len(inputs))}

	labels := utils.NewLabelResolver()
	var valid []int
	for i, in := range inputs {
		result.Archives[i].Name = in.Name
		if cerr := s.validateInput(in); cerr != nil {
			result.Archives[i].Err = cerr
			continue
		}
		result.Archives[i].Label = labels.Resolve(in.Name)
		valid = append(valid, i)
	}

	if len(valid) > 0 && s.gateway.Enabled() {
		if verr := s.gateway.Verify(ctx, opts.OrderID); verr != nil {
			cerr := verificationError(opts.OrderID, verr)
			logger.Warn("Order verification rejected batch",
				zap.String("kind", string(cerr.Kind)),
				zap.Error(verr))
			return nil, cerr
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.conv.Workers)
	for _, i := range valid {
		i := i
		g.Go(func() error {
			s.convertArchive(gctx, scope, inputs[i], opts, &result.Archives[i], logger)
			return nil
		})
	}
	g.Wait()

	failed := result.Failed()
	for _, f := range failed {
		logger.Info("Archive rejected",
			zap.String("archive", f.Name),
			zap.String("kind", string(f.Err.Kind)),
			zap.NamedError("cause", f.Err.Err))
	}

	if len(failed) > 0 && s.conv.BatchPolicy == config.PolicyStrict {
		result.dropImages()
		logger.Info("Batch failed", zap.Int("failed", len(failed)), zap.Duration("elapsed", time.Since(start)))
		return result, nil
	}

	var groups []archive.Group
	var names []string
	for _, a := range result.Archives {
		if a.Err != nil {
			continue
		}
		groups = append(groups, archive.Group{Label: a.Label, Images: a.pngs})
		names = append(names, a.Label)
	}
	if len(groups) == 0 {
		result.dropImages()
		logger.Info("Batch failed", zap.Int("failed", len(failed)), zap.Duration("elapsed", time.Since(start)))
		return result, nil
	}

	var buf bytes.Buffer
	if werr := s.writer.WriteArchive(&buf, groups); werr != nil {
		logger.Error("Failed to package converted images", zap.Error(werr))
		result.dropImages()
		if errors.Is(werr, archive.ErrNoImages) {
			return nil, &ConversionError{
				Kind:    KindNoValidImages,
				Message: fmt.Sprintf("none of the uploaded archives contained images of at least %dx%d pixels", s.conv.MinDimension, s.conv.MinDimension),
				Err:     werr,
			}
		}
		return nil, &ConversionError{
			Kind:    KindUnexpectedInternal,
			Message: "an unexpected error occurred while building the download",
			Err:     werr,
		}
	}

	result.dropImages()
	result.Archive = buf.Bytes()
	result.Filename = utils.DownloadFilename(opts.OrderID, names)

	logger.Info("Batch converted",
		zap.Int("brushes", result.BrushCount()),
		zap.Int("failed", len(failed)),
		zap.Int("bytes", len(result.Archive)),
		zap.Duration("elapsed", time.Since(start)))

	return result, nil
}

func (s *Service) validateInput(in Input) *ConversionError {
	if !utils.IsBrushsetName(in.Name) {
		return newArchiveError(KindInvalidFileType, in.Name, nil,
			"file type not supported, expected a %s archive", utils.BrushsetExt)
	}
	if in.Size > s.conv.MaxUploadSize {
		return newArchiveError(KindFileTooLarge, in.Name, nil,
			"file is %s, larger than the %s limit", utils.FormatBytes(in.Size), utils.FormatBytes(s.conv.MaxUploadSize))
	}
	return nil
}

func verificationError(orderID string, err error) *ConversionError {
	switch {
	case errors.Is(err, verification.ErrMissingOrderID):
		return &ConversionError{Kind: KindVerificationFailed, Message: "an order number is required to convert brush sets", Err: err}
	case errors.Is(err, verification.ErrOrderNotFound):
		return &ConversionError{Kind: KindVerificationNotFound, Message: fmt.Sprintf("order %s was not found, check the order number on your receipt", orderID), Err: err}
	case errors.Is(err, verification.ErrUnreachable), errors.Is(err, context.DeadlineExceeded):
		return &ConversionError{Kind: KindVerificationUnreachable, Message: "the order verification service did not respond, please try again later", Err: err}
	default:
		return &ConversionError{Kind: KindVerificationFailed, Message: fmt.Sprintf("order %s could not be verified", orderID), Err: err}
	}
}
