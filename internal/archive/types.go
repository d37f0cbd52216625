package archive

import "time"

// SummaryRecord is the archived copy of a post-visit summary.
type SummaryRecord struct {
	AppointmentID   string    `json:"appointment_id"`
	PatientID       string    `json:"patient_id"`
	DoctorID        string    `json:"doctor_id"`
	Date            string    `json:"date"`
	Time            string    `json:"time"`
	Diagnosis       string    `json:"diagnosis"`
	Recommendations string    `json:"recommendations"`
	FollowUp        string    `json:"follow_up,omitempty"`
	ArchivedAt      time.Time `json:"archived_at"`
}

// ManifestEntry is one line in the monthly JSONL manifest.
type ManifestEntry struct {
	AppointmentID string `json:"appointment_id"`
	DoctorID      string `json:"doctor_id"`
	S3Key         string `json:"s3_key"`
	ArchivedAt    string `json:"archived_at"`
}
