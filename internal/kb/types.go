package kb

const (
	StatusSuccess = "success"

	JobPending = "Pending"
	JobRunning = "Running"
	JobSuccess = "Success"
	JobFailed  = "Failed"
)

type Chunking struct {
	Size    int `json:"chunk_size"`
	Overlap int `json:"chunk_overlap"`
}

// UploadParams describes one document handed to the indexing service by URL.
// FileName is the document reference used for later deletes.
type UploadParams struct {
	FileName string
	FileURL  string
	Metadata map[string]string
	Chunking Chunking
}

type JobStatus struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	Completed bool   `json:"completed"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

type uploadRequest struct {
	Namespace         string            `json:"namespace"`
	NamespacePassword string            `json:"namespace_password,omitempty"`
	FileName          string            `json:"file_name"`
	FileURL           string            `json:"file_url"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	ChunkSize         int               `json:"chunk_size"`
	ChunkOverlap      int               `json:"chunk_overlap"`
}

type apiResponse struct {
	Status    string     `json:"status"`
	Message   string     `json:"message"`
	Code      string     `json:"code"`
	JobID     string     `json:"job_id"`
	RequestID string     `json:"request_id"`
	Job       *JobStatus `json:"job"`
}
