package kb

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"
	"github.com/imroc/req/v3"
	"github.com/openmined/kbsync/internal/retry"
	"github.com/openmined/kbsync/internal/version"
)

const (
	pathUpload    = "/v1/collections/{collection}/documents/upload-async"
	pathDocuments = "/v1/collections/{collection}/documents"
	pathJob       = "/v1/collections/{collection}/jobs/{job_id}"

	headerNamespace         = "X-KB-Namespace"
	headerNamespacePassword = "X-KB-Namespace-Password"
)

// Client is the indexing service API. Calls are single attempts.
type Client struct {
	cfg    Config
	client *req.Client
}

func NewClient(cfg *Config) *Client {
	c := cfg.withDefaults()

	client := req.C().
		SetBaseURL(c.BaseURL).
		SetTimeout(c.Timeout).
		SetUserAgent(fmt.Sprintf("%s/%s", version.AppName, version.Version)).
		SetCommonPathParam("collection", c.Collection).
		SetCommonHeader(headerNamespace, c.Namespace).
		SetJsonMarshal(json.Marshal).
		SetJsonUnmarshal(json.Unmarshal)
	if c.APIKey != "" {
		client.SetCommonBearerAuthToken(c.APIKey)
	}
	if c.NamespacePassword != "" {
		client.SetCommonHeader(headerNamespacePassword, c.NamespacePassword)
	}

	return &Client{cfg: c, client: client}
}

func (c *Client) Chunking() Chunking {
	return Chunking{Size: c.cfg.ChunkSize, Overlap: c.cfg.ChunkOverlap}
}

// UploadAsync submits a document by URL and returns the ingestion job id
func (c *Client) UploadAsync(ctx context.Context, params *UploadParams) (string, error) {
	chunking := params.Chunking
	if chunking.Size <= 0 {
		chunking = c.Chunking()
	}

	var out apiResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(&uploadRequest{
			Namespace:         c.cfg.Namespace,
			NamespacePassword: c.cfg.NamespacePassword,
			FileName:          params.FileName,
			FileURL:           params.FileURL,
			Metadata:          params.Metadata,
			ChunkSize:         chunking.Size,
			ChunkOverlap:      chunking.Overlap,
		}).
		SetSuccessResult(&out).
		SetErrorResult(&out).
		Post(pathUpload)
	if err := handleAPIError(resp, err, "upload document", &out); err != nil {
		return "", err
	}
	if out.JobID == "" {
		return "", retry.NewError(retry.KindInvalid, "upload document", ErrNoJobID)
	}

	slog.Debug("kb upload accepted", "file", params.FileName, "job", out.JobID, "request", out.RequestID)
	return out.JobID, nil
}

// Delete removes every chunk of docRef. A missing document fails with a
// NotFound kind matching ErrDocumentAbsent.
func (c *Client) Delete(ctx context.Context, docRef string) error {
	var out apiResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("file_name", docRef).
		SetSuccessResult(&out).
		SetErrorResult(&out).
		Delete(pathDocuments)
	return handleAPIError(resp, err, "delete document", &out)
}

func (c *Client) GetJobStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	var out apiResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("job_id", jobID).
		SetSuccessResult(&out).
		SetErrorResult(&out).
		Get(pathJob)
	if err := handleAPIError(resp, err, "job status", &out); err != nil {
		return nil, err
	}
	if out.Job == nil {
		return &JobStatus{JobID: jobID, Status: out.Status, Message: out.Message}, nil
	}
	if out.Job.JobID == "" {
		out.Job.JobID = jobID
	}
	return out.Job, nil
}
