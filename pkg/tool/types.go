package tool

import "time"

// ServiceType groups tools by backend family.
type ServiceType string

const (
	ServiceCRM     ServiceType = "crm"
	ServiceERP     ServiceType = "erp"
	ServiceGeneral ServiceType = "general"
)

// ParameterSpec describes one schema field of a tool.
type ParameterSpec struct {
	Type     string        `yaml:"type" json:"type"`
	Required bool          `yaml:"required,omitempty" json:"required,omitempty"`
	Enum     []string      `yaml:"enum,omitempty" json:"enum,omitempty"`
	Default  interface{}   `yaml:"default,omitempty" json:"default,omitempty"`
}

// AuthConfig is the backend authentication for a tool.
type AuthConfig struct {
	// Type is "bearer" or "api_key".
	Type string `yaml:"type" json:"type"`

	// Token is the credential value. Supports ${ENV} expansion at load.
	Token string `yaml:"token" json:"-"`

	// Header overrides the default header for api_key auth
	// (default: X-API-Key).
	Header string `yaml:"header,omitempty" json:"header,omitempty"`
}

// Definition describes one remote business-API tool. Immutable after
// registration.
type Definition struct {
	Name               string                   `yaml:"name" json:"name"`
	Description        string                   `yaml:"description,omitempty" json:"description,omitempty"`
	ServiceType        ServiceType              `yaml:"service_type" json:"service_type"`
	Endpoint           string                   `yaml:"endpoint" json:"endpoint"`
	Method             string                   `yaml:"method" json:"method"`
	ParameterSchema    map[string]ParameterSpec `yaml:"parameter_schema,omitempty" json:"parameter_schema,omitempty"`
	RequiredParameters []string                 `yaml:"required_parameters,omitempty" json:"required_parameters,omitempty"`
	Timeout            time.Duration            `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	RetryCount         int                      `yaml:"retry_count,omitempty" json:"retry_count,omitempty"`
	CacheTTL           time.Duration            `yaml:"cache_ttl,omitempty" json:"cache_ttl,omitempty"`
	RateLimitPerMinute int                      `yaml:"rate_limit_per_minute,omitempty" json:"rate_limit_per_minute,omitempty"`
	Auth               *AuthConfig              `yaml:"auth,omitempty" json:"auth,omitempty"`
}

func (d *Definition) SetDefaults() {
	if d.Method == "" {
		d.Method = "POST"
	}
	if d.Timeout <= 0 {
		d.Timeout = 30 * time.Second
	}
	if d.RetryCount < 0 {
		d.RetryCount = 0
	}
	if d.RateLimitPerMinute <= 0 {
		d.RateLimitPerMinute = 60
	}
}

// ExecutionRecord is one entry of the bounded execution history.
type ExecutionRecord struct {
	ExecutionID   string                 `json:"execution_id"`
	ToolName      string                 `json:"tool_name"`
	Parameters    map[string]interface{} `json:"parameters"`
	Result        interface{}            `json:"result,omitempty"`
	Error         string                 `json:"error,omitempty"`
	ExecutionTime time.Duration          `json:"execution_time"`
	Success       bool                   `json:"success"`
	Timestamp     time.Time              `json:"timestamp"`
}
