package domain

import "time"

// FileAnalysisJob is created once per upload commit and consumed by the job runner.
type FileAnalysisJob struct {
	FileID          string    `json:"file_id"`
	MediaType       string    `json:"media_type"`
	ByteSize        int64     `json:"byte_size"`
	ContentLocation string    `json:"content_location"`
	SubmittedAt     time.Time `json:"submitted_at"`
}

func NewFileAnalysisJob(file *FileRecord) FileAnalysisJob {
	return FileAnalysisJob{
		FileID:          file.ID,
		MediaType:       file.MediaType,
		ByteSize:        file.ByteSize,
		ContentLocation: file.ContentLocation,
		SubmittedAt:     time.Now().UTC(),
	}
}
