package utils

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

const (
	BrushsetExt     = ".brushset"
	defaultLabel    = "brushset"
	defaultDownload = "brushes.zip"
)

var (
	unsafeLabelChars = regexp.MustCompile(`[^\p{L}\p{N} ._()+-]+`)
	unsafeIDChars    = regexp.MustCompile(`[^A-Za-z0-9_-]+`)
)

// BaseName strips any client-side directory from an uploaded filename.
func BaseName(filename string) string {
	return filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
}

// IsBrushsetName reports whether filename ends in .brushset (any case) and
// has something before the extension.
func IsBrushsetName(filename string) bool {
	name := BaseName(filename)
	return len(name) > len(BrushsetExt) && strings.EqualFold(filepath.Ext(name), BrushsetExt)
}

// GroupLabel turns an uploaded filename into the directory name used for
// its images in the download.
func GroupLabel(filename string) string {
	name := BaseName(filename)
	if strings.EqualFold(filepath.Ext(name), BrushsetExt) {
		name = name[:len(name)-len(BrushsetExt)]
	}

	name = unsafeLabelChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, " .")
	if name == "" {
		return defaultLabel
	}
	return name
}

// DownloadFilename names the archive handed back to the user.
func DownloadFilename(orderID string, labels []string) string {
	if id := unsafeIDChars.ReplaceAllString(strings.TrimSpace(orderID), ""); id != "" {
		return fmt.Sprintf("order_%s_brushes.zip", id)
	}

	if len(labels) == 1 {
		return labels[0] + "_brushes.zip"
	}
	return defaultDownload
}

// LabelResolver hands out unique group labels, suffixing _2, _3, ... when
// two uploads share a name. Safe for concurrent use.
type LabelResolver struct {
	mu    sync.Mutex
	taken map[string]bool
}

func NewLabelResolver() *LabelResolver {
	return &LabelResolver{taken: make(map[string]bool)}
}

func (r *LabelResolver) Resolve(filename string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	label := GroupLabel(filename)
	key := strings.ToLower(label)
	if !r.taken[key] {
		r.taken[key] = true
		return label
	}

	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s_%d", label, n)
		key := strings.ToLower(candidate)
		if !r.taken[key] {
			r.taken[key] = true
			return candidate
		}
	}
}

// FormatBytes renders a byte count for user-facing messages.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.0f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
