package adapters

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"kbetl/internal/kberr"
	"kbetl/internal/model"
)

func init() { Register(model.SourceCloud, newCloudAdapter(nil)) }

// CredentialResolver turns a CredentialConfig's opaque CredentialID into
// an oauth2 token source; the credential store itself lives
// outside this package; only the resolution contract does.
type CredentialResolver interface {
	TokenSource(ctx context.Context, credentialID string) (oauth2.TokenSource, error)
}

// SetCredentialResolver installs the resolver the cloud adapter uses to
// authenticate export requests. Like SetFileStore, this replaces the
// init()-registered placeholder once cmd/kbetl has a real credential
// store to wire in.
func SetCredentialResolver(r CredentialResolver) {
	Register(model.SourceCloud, newCloudAdapter(r))
}

// cloudAdapter fetches one exported document from a cloud provider
// (Google Docs/Sheets, Notion) via its HTTP export/API endpoint, using
// golang.org/x/oauth2 for token-authenticated requests plus the stdlib
// http.Client. Provider SDKs are deliberately absent: each provider
// here needs one export GET, not a client surface.
type cloudAdapter struct {
	resolver CredentialResolver
	client   *http.Client
}

func newCloudAdapter(r CredentialResolver) *cloudAdapter {
	return &cloudAdapter{resolver: r, client: &http.Client{Timeout: 30 * time.Second}}
}

func (c *cloudAdapter) Validate(ctx context.Context, src model.Source) error {
	return src.Config.Cloud.Validate()
}

func (c *cloudAdapter) Probe(ctx context.Context, src model.Source) (model.ProbeResult, error) {
	return model.ProbeResult{EstimatedPages: 1, ContentKind: exportMIME(src.Config.Cloud.Provider)}, nil
}

func (c *cloudAdapter) Fetch(ctx context.Context, src model.Source, sink model.Sink, checkpoint model.CheckpointToken) (model.FetchResult, error) {
	if checkpoint != "" {
		return model.FetchResult{}, nil
	}
	if c.resolver == nil {
		return model.FetchResult{}, kberr.Newf(kberr.Internal, "cloud adapter: no credential resolver configured")
	}
	cfg := src.Config.Cloud
	ts, err := c.resolver.TokenSource(ctx, cfg.CredentialID)
	if err != nil {
		return model.FetchResult{}, kberr.Wrap(kberr.Forbidden, err, "cloud adapter: resolve credential %s", cfg.CredentialID)
	}
	tok, err := ts.Token()
	if err != nil {
		return model.FetchResult{}, kberr.Wrap(kberr.Forbidden, err, "cloud adapter: token for %s", cfg.CredentialID)
	}

	exportURL, err := exportURL(cfg)
	if err != nil {
		return model.FetchResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, exportURL, nil)
	if err != nil {
		return model.FetchResult{}, kberr.Wrap(kberr.Internal, err, "cloud adapter: build request")
	}
	tok.SetAuthHeader(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return model.FetchResult{}, kberr.Wrap(kberr.Transient, err, "cloud adapter: fetch %s", cfg.ResourceID)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return model.FetchResult{}, kberr.Newf(kberr.Transient, "cloud adapter: %s returned %d", cfg.ResourceID, resp.StatusCode)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.FetchResult{}, kberr.Wrap(kberr.Transient, err, "cloud adapter: read body")
	}

	doc := model.RawDocument{
		SourceID:   src.ID,
		ExternalID: cfg.ResourceID,
		URI:        exportURL,
		MIME:       exportMIME(cfg.Provider),
		Bytes:      b,
		FetchedAt:  time.Now(),
	}
	if err := sink.Accept(doc, model.CheckpointToken(cfg.ResourceID)); err != nil {
		return model.FetchResult{}, kberr.Wrap(kberr.Transient, err, "cloud adapter: sink rejected %s", cfg.ResourceID)
	}
	return model.FetchResult{DocumentsFetched: 1, LastCheckpoint: model.CheckpointToken(cfg.ResourceID)}, nil
}

func exportURL(cfg model.CloudSourceConfig) (string, error) {
	switch cfg.Provider {
	case model.CloudProviderGDocs:
		return fmt.Sprintf("https://docs.google.com/document/d/%s/export?format=docx", cfg.ResourceID), nil
	case model.CloudProviderGSheets:
		return fmt.Sprintf("https://docs.google.com/spreadsheets/d/%s/export?format=csv", cfg.ResourceID), nil
	case model.CloudProviderNotion:
		return fmt.Sprintf("https://api.notion.com/v1/blocks/%s/children", cfg.ResourceID), nil
	default:
		return "", kberr.Newf(kberr.InvalidArgument, "cloud adapter: unknown provider %q", cfg.Provider)
	}
}

func exportMIME(p model.CloudProvider) string {
	switch p {
	case model.CloudProviderGDocs:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case model.CloudProviderGSheets:
		return "text/csv"
	case model.CloudProviderNotion:
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
