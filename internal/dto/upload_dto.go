package dto

// UploadResponse describes a stored file.
type UploadResponse struct {
	URL       string `json:"url"`
	Key       string `json:"key"`
	FileName  string `json:"file_name"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}
