package converter

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/phambaophuc/brushset-converter/internal/config"
	"github.com/phambaophuc/brushset-converter/internal/services/verification"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeGateway struct {
	enabled bool
	err     error
	calls   atomic.Int32
	orderID string
}

func (f *fakeGateway) Verify(_ context.Context, orderID string) error {
	f.calls.Add(1)
	f.orderID = orderID
	return f.err
}

func (f *fakeGateway) Enabled() bool { return f.enabled }

func (f *fakeGateway) HealthCheck(context.Context) string { return "fake" }

type zipFile struct {
	name string
	data []byte
}

func pngBytes(t *testing.T, w, h int, shade uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: shade + uint8(x+y)})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func brushset(t *testing.T, files ...zipFile) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.Create(f.name)
		require.NoError(t, err)
		_, err = w.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// noise returns n bytes that deflate cannot shrink.
func noise(n int) []byte {
	out := make([]byte, n)
	state := uint32(2463534242)
	for i := range out {
		state ^= state << 13
		state ^= state >> 17
		state ^= state << 5
		out[i] = byte(state)
	}
	return out
}

type trackedInput struct {
	Input
	opened atomic.Int32
}

func input(name string, data []byte) *trackedInput {
	in := &trackedInput{}
	in.Input = Input{
		Name: name,
		Size: int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			in.opened.Add(1)
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
	return in
}

func inputs(tracked ...*trackedInput) []Input {
	out := make([]Input, len(tracked))
	for i, in := range tracked {
		out[i] = in.Input
	}
	return out
}

type harness struct {
	svc     *Service
	cfg     *config.Config
	gateway *fakeGateway
	root    string
}

func newHarness(t *testing.T, mutate ...func(*config.Config)) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Conversion.MinDimension = 16
	cfg.Conversion.MaxBrushes = 5
	cfg.Conversion.EntryMultiplier = 2
	cfg.Conversion.MaxUploadSize = 1 << 20
	cfg.Conversion.MaxArchives = 3
	cfg.Conversion.Workers = 2
	cfg.Conversion.ProcessTimeout = 10 * time.Second
	cfg.Staging = config.StagingConfig{Backend: config.BackendDisk, Dir: t.TempDir()}
	for _, m := range mutate {
		m(cfg)
	}

	gw := &fakeGateway{}
	return &harness{
		svc:     NewServiceFromConfig(cfg, gw, zaptest.NewLogger(t)),
		cfg:     cfg,
		gateway: gw,
		root:    cfg.Staging.Dir,
	}
}

func (h *harness) assertNoLeftovers(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.root)
	require.NoError(t, err)
	assert.Empty(t, entries, "staging root must be empty after the batch")
}

func readOutput(t *testing.T, data []byte) map[string]image.Image {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	out := make(map[string]image.Image)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		img, format, err := image.Decode(rc)
		rc.Close()
		require.NoError(t, err)
		require.Equal(t, "png", format)
		out[f.Name] = img
	}
	return out
}

func outputNames(t *testing.T, data []byte) []string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names
}

func TestProcessBatch_FiltersBySizeAndSkipsNonImages(t *testing.T) {
	h := newHarness(t)
	data := brushset(t,
		zipFile{"1/Shape.png", pngBytes(t, 20, 20, 0)},
		zipFile{"1/Brush.archive", []byte("bplist00 not an image")},
		zipFile{"2/Shape.png", pngBytes(t, 32, 16, 10)},
		zipFile{"2/QuickLook/Thumbnail.png", pngBytes(t, 8, 8, 0)},
		zipFile{"Brushset.plist", []byte("<plist/>")},
	)

	result, err := h.svc.ProcessBatch(context.Background(), inputs(input("Inks.brushset", data)), Options{})
	require.NoError(t, err)
	require.NoError(t, result.Err())
	require.True(t, result.Succeeded())

	assert.Equal(t, []string{"Inks/brush_1.png", "Inks/brush_2.png"}, outputNames(t, result.Archive))
	assert.Equal(t, 2, result.BrushCount())
	assert.Equal(t, "Inks_brushes.zip", result.Filename)

	a := result.Archives[0]
	assert.Equal(t, 5, a.Entries)
	assert.Equal(t, 2, a.Images)
	assert.Equal(t, SkipCounts{NotImage: 2, TooSmall: 1}, a.Skipped)

	h.assertNoLeftovers(t)
}

func TestProcessBatch_OrdinalsFollowSortedEntryNames(t *testing.T) {
	h := newHarness(t)
	data := brushset(t,
		zipFile{"zeta/Shape.png", pngBytes(t, 40, 40, 0)},
		zipFile{"alpha/Shape.png", pngBytes(t, 30, 30, 0)},
		zipFile{"mid/Shape.png", pngBytes(t, 35, 35, 0)},
	)

	result, err := h.svc.ProcessBatch(context.Background(), inputs(input("Set.brushset", data)), Options{})
	require.NoError(t, err)
	require.True(t, result.Succeeded())

	images := readOutput(t, result.Archive)
	require.Len(t, images, 3)
	assert.Equal(t, 30, images["Set/brush_1.png"].Bounds().Dx())
	assert.Equal(t, 35, images["Set/brush_2.png"].Bounds().Dx())
	assert.Equal(t, 40, images["Set/brush_3.png"].Bounds().Dx())
}

func TestProcessBatch_NoValidImages(t *testing.T) {
	h := newHarness(t)
	data := brushset(t,
		zipFile{"thumb.png", pngBytes(t, 4, 4, 0)},
		zipFile{"notes.txt", []byte("hello")},
	)

	result, err := h.svc.ProcessBatch(context.Background(), inputs(input("Tiny.brushset", data)), Options{})
	require.NoError(t, err)
	assert.False(t, result.Succeeded())
	assert.Nil(t, result.Archive)

	require.NotNil(t, result.Archives[0].Err)
	assert.Equal(t, KindNoValidImages, result.Archives[0].Err.Kind)
	assert.Contains(t, result.Archives[0].Err.Error(), "Tiny.brushset: no images of at least 16x16 pixels")
	h.assertNoLeftovers(t)
}

func TestProcessBatch_TooManyEntries(t *testing.T) {
	h := newHarness(t)
	var files []zipFile
	for i := 0; i < 11; i++ {
		files = append(files, zipFile{string(rune('a'+i)) + ".png", pngBytes(t, 20, 20, uint8(i))})
	}

	result, err := h.svc.ProcessBatch(context.Background(), inputs(input("Big.brushset", brushset(t, files...))), Options{})
	require.NoError(t, err)

	a := result.Archives[0]
	require.NotNil(t, a.Err)
	assert.Equal(t, KindTooManyEntries, a.Err.Kind)
	assert.Zero(t, a.Entries)
	assert.Zero(t, a.Images)
	assert.Contains(t, a.Err.Error(), "more than 10 files")
	h.assertNoLeftovers(t)
}

func TestProcessBatch_InvalidFileType(t *testing.T) {
	h := newHarness(t)
	good := brushset(t, zipFile{"a.png", pngBytes(t, 20, 20, 0)})

	wrongExt := input("Inks.zip", good)
	notZip := input("Fake.brushset", []byte("this is plain text, not an archive"))

	result, err := h.svc.ProcessBatch(context.Background(), inputs(wrongExt, notZip), Options{})
	require.NoError(t, err)
	assert.False(t, result.Succeeded())

	require.NotNil(t, result.Archives[0].Err)
	assert.Equal(t, KindInvalidFileType, result.Archives[0].Err.Kind)
	assert.Equal(t, "Inks.zip: file type not supported, expected a .brushset archive", result.Archives[0].Err.Error())
	assert.Zero(t, wrongExt.opened.Load(), "a wrongly named upload must not be read")

	require.NotNil(t, result.Archives[1].Err)
	assert.Equal(t, KindInvalidFileType, result.Archives[1].Err.Kind)
	assert.Zero(t, result.Archives[1].Entries)
	h.assertNoLeftovers(t)
}

func TestProcessBatch_CorruptArchive(t *testing.T) {
	h := newHarness(t)
	corrupt := append([]byte("PK\x03\x04"), bytes.Repeat([]byte{0xde, 0xad}, 64)...)

	result, err := h.svc.ProcessBatch(context.Background(), inputs(input("Broken.brushset", corrupt)), Options{})
	require.NoError(t, err)

	require.NotNil(t, result.Archives[0].Err)
	assert.Equal(t, KindCorruptArchive, result.Archives[0].Err.Kind)
	assert.Equal(t, "Broken.brushset: archive is damaged and could not be read", result.Archives[0].Err.Error())
	assert.NotContains(t, result.Archives[0].Err.Error(), h.root)
	h.assertNoLeftovers(t)
}

func TestProcessBatch_PathTraversalRejected(t *testing.T) {
	h := newHarness(t)
	data := brushset(t,
		zipFile{"ok.png", pngBytes(t, 20, 20, 0)},
		zipFile{"../../escape.png", pngBytes(t, 20, 20, 0)},
	)

	result, err := h.svc.ProcessBatch(context.Background(), inputs(input("Evil.brushset", data)), Options{})
	require.NoError(t, err)

	require.NotNil(t, result.Archives[0].Err)
	assert.Equal(t, KindCorruptArchive, result.Archives[0].Err.Kind)
	assert.Contains(t, result.Archives[0].Err.Error(), `"../../escape.png"`)
	assert.NoFileExists(t, h.root+"/../escape.png")
	h.assertNoLeftovers(t)
}

func TestProcessBatch_FileTooLarge(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Conversion.MaxUploadSize = 256 })
	data := brushset(t, zipFile{"a.png", pngBytes(t, 20, 20, 0)}, zipFile{"pad.bin", noise(2048)})
	require.Greater(t, len(data), 256)

	declared := input("Declared.brushset", data)
	lying := input("Lying.brushset", data)
	lying.Size = 10

	result, err := h.svc.ProcessBatch(context.Background(), inputs(declared, lying), Options{})
	require.NoError(t, err)

	for _, a := range result.Archives {
		require.NotNil(t, a.Err, a.Name)
		assert.Equal(t, KindFileTooLarge, a.Err.Kind, a.Name)
	}
	assert.Zero(t, declared.opened.Load())
	h.assertNoLeftovers(t)
}

func TestProcessBatch_StrictPolicyReturnsNoArchive(t *testing.T) {
	h := newHarness(t)
	good := brushset(t, zipFile{"a.png", pngBytes(t, 20, 20, 0)})
	empty := brushset(t, zipFile{"a.txt", []byte("x")})

	result, err := h.svc.ProcessBatch(context.Background(), inputs(input("Good.brushset", good), input("Empty.brushset", empty)), Options{})
	require.NoError(t, err)

	assert.False(t, result.Succeeded())
	assert.Nil(t, result.Archive)
	assert.Zero(t, result.BrushCount())
	require.Len(t, result.Failed(), 1)
	assert.Equal(t, "Empty.brushset", result.Failed()[0].Name)
	assert.Equal(t, 1, result.Archives[0].Images)
	for _, a := range result.Archives {
		assert.Nil(t, a.pngs, "converted images of %s are released", a.Name)
	}

	batchErr := result.Err()
	require.Error(t, batchErr)
	assert.Contains(t, batchErr.Error(), "Empty.brushset")
	h.assertNoLeftovers(t)
}

func TestProcessBatch_BestEffortPolicyPackagesSuccesses(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Conversion.BatchPolicy = config.PolicyBestEffort })
	good := brushset(t, zipFile{"a.png", pngBytes(t, 20, 20, 0)}, zipFile{"b.png", pngBytes(t, 20, 20, 5)})
	empty := brushset(t, zipFile{"a.txt", []byte("x")})

	result, err := h.svc.ProcessBatch(context.Background(), inputs(input("Good.brushset", good), input("Empty.brushset", empty)), Options{})
	require.NoError(t, err)

	require.True(t, result.Succeeded())
	assert.Equal(t, []string{"Good/brush_1.png", "Good/brush_2.png"}, outputNames(t, result.Archive))
	assert.Equal(t, 2, result.BrushCount())
	require.Len(t, result.Failed(), 1)
	assert.Equal(t, KindNoValidImages, result.Failed()[0].Err.Kind)
	h.assertNoLeftovers(t)
}

func TestProcessBatch_BestEffortAllFailed(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Conversion.BatchPolicy = config.PolicyBestEffort })
	empty := brushset(t, zipFile{"a.txt", []byte("x")})

	result, err := h.svc.ProcessBatch(context.Background(), inputs(input("Empty.brushset", empty)), Options{})
	require.NoError(t, err)
	assert.False(t, result.Succeeded())
	assert.Error(t, result.Err())
}

func TestProcessBatch_MultipleArchivesGroupedByLabel(t *testing.T) {
	h := newHarness(t)
	a := brushset(t, zipFile{"x.png", pngBytes(t, 20, 20, 0)})
	b := brushset(t, zipFile{"x.png", pngBytes(t, 20, 20, 0)}, zipFile{"y.png", pngBytes(t, 20, 20, 0)})

	result, err := h.svc.ProcessBatch(context.Background(),
		inputs(input("Inks.brushset", a), input("Pencils.brushset", b), input("inks.BRUSHSET", a)),
		Options{OrderID: "998877"})
	require.NoError(t, err)
	require.True(t, result.Succeeded())

	assert.Equal(t, []string{
		"Inks/brush_1.png",
		"Pencils/brush_1.png",
		"Pencils/brush_2.png",
		"inks_2/brush_1.png",
	}, outputNames(t, result.Archive))
	assert.Equal(t, "order_998877_brushes.zip", result.Filename)
}

func TestProcessBatch_Transparency(t *testing.T) {
	h := newHarness(t)
	src := pngBytes(t, 20, 20, 100)
	data := brushset(t, zipFile{"Shape.png", src})

	result, err := h.svc.ProcessBatch(context.Background(), inputs(input("Set.brushset", data)), Options{Transparency: true})
	require.NoError(t, err)
	require.True(t, result.Succeeded())

	srcImg, err := png.Decode(bytes.NewReader(src))
	require.NoError(t, err)
	gray := srcImg.(*image.Gray)

	out := readOutput(t, result.Archive)["Set/brush_1.png"]
	nrgba, ok := out.(*image.NRGBA)
	require.True(t, ok, "got %T", out)
	assert.Equal(t, gray.Bounds(), nrgba.Bounds())
	assert.Equal(t, color.NRGBA{A: gray.GrayAt(3, 7).Y}, nrgba.NRGBAAt(3, 7))
	assert.Equal(t, color.NRGBA{A: gray.GrayAt(19, 19).Y}, nrgba.NRGBAAt(19, 19))
}

func TestProcessBatch_Idempotent(t *testing.T) {
	h := newHarness(t)
	data := brushset(t,
		zipFile{"a.png", pngBytes(t, 20, 20, 0)},
		zipFile{"b.png", pngBytes(t, 24, 18, 50)},
	)

	for _, transparency := range []bool{false, true} {
		first, err := h.svc.ProcessBatch(context.Background(), inputs(input("Set.brushset", data)), Options{Transparency: transparency})
		require.NoError(t, err)
		second, err := h.svc.ProcessBatch(context.Background(), inputs(input("Set.brushset", data)), Options{Transparency: transparency})
		require.NoError(t, err)

		assert.Equal(t, first.Archive, second.Archive)
	}
}

func TestProcessBatch_VerificationDisabledNeedsNoOrderID(t *testing.T) {
	h := newHarness(t)
	data := brushset(t, zipFile{"a.png", pngBytes(t, 20, 20, 0)})

	result, err := h.svc.ProcessBatch(context.Background(), inputs(input("Set.brushset", data)), Options{})
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Zero(t, h.gateway.calls.Load())
}

func TestProcessBatch_VerificationFailureAbortsBeforeWork(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"not found", verification.ErrOrderNotFound, KindVerificationNotFound},
		{"missing id", verification.ErrMissingOrderID, KindVerificationFailed},
		{"rejected", verification.ErrVerificationFailed, KindVerificationFailed},
		{"unreachable", verification.ErrUnreachable, KindVerificationUnreachable},
		{"deadline", context.DeadlineExceeded, KindVerificationUnreachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.gateway.enabled = true
			h.gateway.err = tt.err

			first := input("A.brushset", brushset(t, zipFile{"a.png", pngBytes(t, 20, 20, 0)}))
			second := input("B.brushset", brushset(t, zipFile{"a.png", pngBytes(t, 20, 20, 0)}))

			result, err := h.svc.ProcessBatch(context.Background(), inputs(first, second), Options{OrderID: "123"})
			assert.Nil(t, result)
			require.Error(t, err)
			assert.Equal(t, tt.want, KindOf(err))

			var cerr *ConversionError
			require.ErrorAs(t, err, &cerr)
			assert.True(t, cerr.IsVerification())

			assert.Equal(t, int32(1), h.gateway.calls.Load(), "verification runs once per request")
			assert.Zero(t, first.opened.Load())
			assert.Zero(t, second.opened.Load())
			h.assertNoLeftovers(t)
		})
	}
}

func TestProcessBatch_VerificationPassesOrderID(t *testing.T) {
	h := newHarness(t)
	h.gateway.enabled = true

	data := brushset(t, zipFile{"a.png", pngBytes(t, 20, 20, 0)})
	result, err := h.svc.ProcessBatch(context.Background(), inputs(input("A.brushset", data), input("B.brushset", data)), Options{OrderID: "555"})
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Equal(t, int32(1), h.gateway.calls.Load())
	assert.Equal(t, "555", h.gateway.orderID)
}

func TestProcessBatch_RequestLimits(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.ProcessBatch(context.Background(), nil, Options{})
	assert.Equal(t, KindInvalidRequest, KindOf(err))

	data := brushset(t, zipFile{"a.png", pngBytes(t, 20, 20, 0)})
	many := inputs(input("1.brushset", data), input("2.brushset", data), input("3.brushset", data), input("4.brushset", data))
	_, err = h.svc.ProcessBatch(context.Background(), many, Options{})
	assert.Equal(t, KindInvalidRequest, KindOf(err))
	assert.Contains(t, err.Error(), "at most 3")
}

func TestProcessBatch_Timeout(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Conversion.ProcessTimeout = time.Nanosecond })
	data := brushset(t, zipFile{"a.png", pngBytes(t, 20, 20, 0)})

	result, err := h.svc.ProcessBatch(context.Background(), inputs(input("Slow.brushset", data)), Options{})
	require.NoError(t, err)

	require.NotNil(t, result.Archives[0].Err)
	assert.Equal(t, KindUnexpectedInternal, result.Archives[0].Err.Kind)
	assert.Contains(t, result.Archives[0].Err.Error(), "took longer than")
	h.assertNoLeftovers(t)
}

func TestProcessBatch_PanicInWorkerIsContained(t *testing.T) {
	h := newHarness(t)
	good := input("Good.brushset", brushset(t, zipFile{"a.png", pngBytes(t, 20, 20, 0)}))
	bad := Input{
		Name: "Bad.brushset",
		Size: 10,
		Open: func() (io.ReadCloser, error) { panic("boom") },
	}

	result, err := h.svc.ProcessBatch(context.Background(), []Input{good.Input, bad}, Options{})
	require.NoError(t, err)

	require.NotNil(t, result.Archives[1].Err)
	assert.Equal(t, KindUnexpectedInternal, result.Archives[1].Err.Kind)
	assert.NotContains(t, result.Archives[1].Err.Error(), "boom")
	h.assertNoLeftovers(t)
}

func TestProcessBatch_OpenError(t *testing.T) {
	h := newHarness(t)
	in := Input{
		Name: "Gone.brushset",
		Size: 10,
		Open: func() (io.ReadCloser, error) { return nil, errors.New("/tmp/multipart-123: no such file") },
	}

	result, err := h.svc.ProcessBatch(context.Background(), []Input{in}, Options{})
	require.NoError(t, err)

	require.NotNil(t, result.Archives[0].Err)
	assert.Equal(t, KindUnexpectedInternal, result.Archives[0].Err.Kind)
	assert.NotContains(t, result.Archives[0].Err.Error(), "/tmp/")
}

func TestProcessBatch_MemoryStaging(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Staging.Backend = config.BackendMemory })
	data := brushset(t, zipFile{"a.png", pngBytes(t, 20, 20, 0)})

	result, err := h.svc.ProcessBatch(context.Background(), inputs(input("Set.brushset", data)), Options{})
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	h.assertNoLeftovers(t)
}
