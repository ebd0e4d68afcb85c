package model

// SourceKind names the adapter that fetches one source's content.
type SourceKind string

const (
	SourceWeb       SourceKind = "web"
	SourceFile      SourceKind = "file"
	SourceCloud     SourceKind = "cloud"
	SourceText      SourceKind = "text"
	SourceComposite SourceKind = "composite"
)

// MaxCompositeDepth bounds how deeply composite sources may nest.
const MaxCompositeDepth = 2

// Source describes one input a KB (or draft) ingests. Reference and
// Config are kind-specific; a composite source's Reference is ignored and
// its ChildIDs gives the ordered list of child sources whose fetched
// content is concatenated into one document.
type Source struct {
	ID          string       `json:"id"`
	KBID        string       `json:"kb_id,omitempty"`
	Kind        SourceKind   `json:"kind"`
	Reference   string       `json:"reference,omitempty"`
	Config      SourceConfig `json:"config"`
	ChildIDs    []string     `json:"child_ids,omitempty"`
	Annotations []string     `json:"annotations,omitempty"`
	Enabled     bool         `json:"enabled"`
}

// Validate checks Reference and Config against Kind's requirements.
func (s Source) Validate() error {
	switch s.Kind {
	case SourceWeb:
		if s.Reference == "" {
			return ValidationError("reference", "web source requires a reference URL")
		}
		return s.Config.Web.Validate()
	case SourceFile:
		if s.Reference == "" {
			return ValidationError("reference", "file source requires a reference")
		}
	case SourceCloud:
		return s.Config.Cloud.Validate()
	case SourceText:
		if len(s.Config.Text) == 0 {
			return ValidationError("config.text", "text source requires non-empty content")
		}
		if len(s.Config.Text) > MaxTextSourceBytes {
			return ValidationError("config.text", "text source exceeds %d bytes", MaxTextSourceBytes)
		}
	case SourceComposite:
		if len(s.ChildIDs) == 0 {
			return ValidationError("child_ids", "composite source requires at least one child")
		}
	default:
		return ValidationError("kind", "unknown source kind %q", s.Kind)
	}
	return nil
}

// SourceConfig unions every kind's configuration plus a chunking override.
// Fields outside the active Kind's section are ignored; Source.Validate
// checks only the active Kind's section and does not reject fields set
// for another kind.
type SourceConfig struct {
	Web              WebSourceConfig   `json:"web,omitempty"`
	Cloud            CloudSourceConfig `json:"cloud,omitempty"`
	Text             string            `json:"text,omitempty"` // raw payload for SourceText, bounded below
	ChunkingOverride *ChunkingConfig   `json:"chunking_override,omitempty"`
}

// MaxTextSourceBytes bounds an inline text source's payload.
const MaxTextSourceBytes = 5 * 1024 * 1024

// WebMethod selects how the web adapter gathers pages from a reference URL.
type WebMethod string

const (
	WebMethodScrape  WebMethod = "scrape"
	WebMethodCrawl    WebMethod = "crawl"
	WebMethodMap      WebMethod = "map"
	WebMethodSearch   WebMethod = "search"
	WebMethodExtract  WebMethod = "extract"
)

// WebSourceConfig configures the web adapter.
type WebSourceConfig struct {
	Method          WebMethod `json:"method"`
	MaxPages        int       `json:"max_pages"`
	MaxDepth        int       `json:"max_depth"`
	IncludePatterns []string  `json:"include_patterns,omitempty"`
	ExcludePatterns []string  `json:"exclude_patterns,omitempty"`
	StealthMode     bool      `json:"stealth_mode"`
	RequestDelayMS  int       `json:"request_delay_ms"`
	MaxConcurrency  int       `json:"max_concurrency"`
	RespectRobots   bool      `json:"respect_robots"`
}

// DefaultWebSourceConfig returns the web adapter's stock defaults.
func DefaultWebSourceConfig() WebSourceConfig {
	return WebSourceConfig{
		Method:         WebMethodScrape,
		MaxPages:       1,
		MaxDepth:       0,
		MaxConcurrency: 4,
		RespectRobots:  true,
	}
}

// Validate enforces the web config's declared bounds.
func (c WebSourceConfig) Validate() error {
	switch c.Method {
	case WebMethodScrape, WebMethodCrawl, WebMethodMap, WebMethodSearch, WebMethodExtract:
	default:
		return ValidationError("web.method", "unknown web method %q", c.Method)
	}
	if c.MaxPages < 1 || c.MaxPages > 10000 {
		return ValidationError("web.max_pages", "max_pages must be between 1 and 10000, got %d", c.MaxPages)
	}
	if c.MaxDepth < 0 || c.MaxDepth > 10 {
		return ValidationError("web.max_depth", "max_depth must be between 0 and 10, got %d", c.MaxDepth)
	}
	if c.RequestDelayMS < 0 || c.RequestDelayMS > 60000 {
		return ValidationError("web.request_delay_ms", "request_delay_ms must be between 0 and 60000, got %d", c.RequestDelayMS)
	}
	if c.MaxConcurrency < 1 || c.MaxConcurrency > 16 {
		return ValidationError("web.max_concurrency", "max_concurrency must be between 1 and 16, got %d", c.MaxConcurrency)
	}
	return nil
}

// CloudProvider names a supported cloud document source.
type CloudProvider string

const (
	CloudProviderGDocs  CloudProvider = "gdocs"
	CloudProviderGSheets CloudProvider = "gsheets"
	CloudProviderNotion CloudProvider = "notion"
)

// CloudSourceConfig configures the cloud adapter. The adapter
// resolves CredentialID through the credential store collaborator;
// this config never carries the secret itself.
type CloudSourceConfig struct {
	Provider     CloudProvider `json:"provider"`
	ResourceID   string        `json:"resource_id"`
	CredentialID string        `json:"credential_id"`
}

// Validate checks the cloud config's required fields are present.
func (c CloudSourceConfig) Validate() error {
	switch c.Provider {
	case CloudProviderGDocs, CloudProviderGSheets, CloudProviderNotion:
	default:
		return ValidationError("cloud.provider", "unknown cloud provider %q", c.Provider)
	}
	if c.ResourceID == "" {
		return ValidationError("cloud.resource_id", "resource_id is required")
	}
	if c.CredentialID == "" {
		return ValidationError("cloud.credential_id", "credential_id is required")
	}
	return nil
}
