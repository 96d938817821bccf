package models

// ConvertRequest holds the non-file fields of the upload form.
type ConvertRequest struct {
	OrderID      string `form:"order_id" binding:"omitempty,max=64"`
	Transparency bool   `form:"transparency"`
}

// ArchiveReport describes what happened to one uploaded archive.
type ArchiveReport struct {
	Archive  string `json:"archive"`
	Kind     string `json:"kind,omitempty"`
	Message  string `json:"message,omitempty"`
	Images   int    `json:"images"`
	Entries  int    `json:"entries"`
	NotImage int    `json:"skipped_not_image"`
	TooSmall int    `json:"skipped_too_small"`
	TooLarge int    `json:"skipped_too_large"`
}
