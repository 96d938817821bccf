package converter

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/phambaophuc/brushset-converter/internal/services/archive"
	"github.com/phambaophuc/brushset-converter/internal/services/processor"
	"github.com/phambaophuc/brushset-converter/internal/services/staging"
	"github.com/phambaophuc/brushset-converter/pkg/utils"
	"go.uber.org/zap"
)

const signatureLen = 4

var errNotZip = errors.New("missing zip signature")

// convertArchive stages, extracts and filters one input, writing the outcome
// into res. It never panics past its caller.
func (s *Service) convertArchive(ctx context.Context, scope *staging.Scope, in Input, opts Options, res *ArchiveResult, logger *zap.Logger) {
	logger = logger.With(zap.String("archive", in.Name))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic while converting archive",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			res.pngs = nil
			res.Images = 0
			res.Err = newArchiveError(KindUnexpectedInternal, in.Name, fmt.Errorf("panic: %v", r),
				"an unexpected error occurred while converting this archive")
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.conv.ProcessTimeout)
	defer cancel()

	pngs, err := s.extractImages(ctx, scope, in, opts, res, logger)
	if err != nil {
		res.Err = s.classify(ctx, in.Name, err)
		return
	}

	if len(pngs) == 0 {
		res.Err = newArchiveError(KindNoValidImages, in.Name, nil,
			"no images of at least %dx%d pixels were found (%d files checked)",
			s.conv.MinDimension, s.conv.MinDimension, res.Entries)
		return
	}

	res.pngs = pngs
	res.Images = len(pngs)
	logger.Debug("Archive converted",
		zap.Int("entries", res.Entries),
		zap.Int("images", res.Images),
		zap.Int("skipped_not_image", res.Skipped.NotImage),
		zap.Int("skipped_too_small", res.Skipped.TooSmall),
		zap.Int("skipped_too_large", res.Skipped.TooLarge))
}

func (s *Service) extractImages(ctx context.Context, scope *staging.Scope, in Input, opts Options, res *ArchiveResult, logger *zap.Logger) ([][]byte, error) {
	rc, err := in.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer rc.Close()

	upload, err := scope.Put(in.Name, rc, s.conv.MaxUploadSize)
	if err != nil {
		return nil, err
	}
	defer upload.Close()

	header := make([]byte, signatureLen)
	if n, _ := upload.ReadAt(header, 0); !archive.HasZipSignature(header[:n]) {
		return nil, errNotZip
	}

	entries, err := s.reader.Extract(ctx, upload, upload.Size(), scope)
	if err != nil {
		return nil, err
	}
	res.Entries = len(entries)

	var pngs [][]byte
	for _, entry := range entries {
		converted, outcome, err := s.processor.FilterAndConvert(ctx, entry.Data, entry.Data.Size(), opts.Transparency)
		entry.Data.Close()
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", entry.Name, err)
		}
		if outcome != processor.Accepted {
			res.Skipped.record(outcome)
			logger.Debug("Entry skipped", zap.String("entry", entry.Name), zap.Stringer("outcome", outcome))
			continue
		}
		pngs = append(pngs, converted.Data)
	}

	return pngs, nil
}

// classify maps an extraction failure to the error shown to the user.
func (s *Service) classify(ctx context.Context, name string, err error) *ConversionError {
	var entryErr *archive.EntryError
	entry := ""
	if errors.As(err, &entryErr) {
		entry = entryErr.Entry
	}

	switch {
	case errors.Is(err, staging.ErrBlobTooLarge):
		return newArchiveError(KindFileTooLarge, name, err,
			"file is larger than the %s limit", utils.FormatBytes(s.conv.MaxUploadSize))
	case errors.Is(err, errNotZip):
		return newArchiveError(KindInvalidFileType, name, err,
			"file is not a valid %s archive", utils.BrushsetExt)
	case errors.Is(err, archive.ErrTooManyEntries):
		return newArchiveError(KindTooManyEntries, name, err,
			"archive contains more than %d files (limit is %d brushes with up to %d files each)",
			s.conv.MaxEntryCount(), s.conv.MaxBrushes, s.conv.EntryMultiplier)
	case errors.Is(err, archive.ErrUnsafePath):
		return newArchiveError(KindCorruptArchive, name, err,
			"archive entry %q points outside the archive and was rejected", entry)
	case errors.Is(err, archive.ErrEntryTooLarge):
		return newArchiveError(KindCorruptArchive, name, err,
			"archive entry %q is larger than the %s per-file limit", entry, utils.FormatBytes(s.conv.MaxEntrySize))
	case errors.Is(err, archive.ErrCorrupt):
		return newArchiveError(KindCorruptArchive, name, err,
			"archive is damaged and could not be read")
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil:
		return newArchiveError(KindUnexpectedInternal, name, err,
			"conversion took longer than %s and was stopped, try uploading fewer brushes at once", s.conv.ProcessTimeout)
	case errors.Is(err, context.Canceled):
		return newArchiveError(KindUnexpectedInternal, name, err,
			"conversion was cancelled before it finished")
	default:
		return newArchiveError(KindUnexpectedInternal, name, err,
			"an unexpected error occurred while converting this archive")
	}
}
