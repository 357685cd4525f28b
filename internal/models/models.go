package models

// APIStatus is the status string carried in every JSON response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusOK).WithResult(result).Build()
}

// Error creates an error API response with the given message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusError).WithMessage(message).Build()
}

// ServiceInfo is returned by the root endpoint.
type ServiceInfo struct {
	Service   string `json:"service"`
	Status    string `json:"status"`
	Version   string `json:"version"`
	Transport string `json:"transport"`
	Timestamp string `json:"timestamp"`
}

// HealthReport is returned by the health endpoint.
type HealthReport struct {
	Server    string `json:"server"`
	Bot       string `json:"bot"`
	Store     string `json:"store"`
	Timestamp string `json:"timestamp"`
}

// DispatchStats is a point-in-time snapshot of dispatcher counters.
type DispatchStats struct {
	Uptime           string `json:"uptime"`
	EventsReceived   int64  `json:"events_received"`
	EventsRejected   int64  `json:"events_rejected"`
	Duplicates       int64  `json:"duplicates"`
	TurnsFailed      int64  `json:"turns_failed"`
	Generations      int64  `json:"generations"`
	GenerationErrors int64  `json:"generation_errors"`
	InFlight         int64  `json:"in_flight"`
	ActiveSessions   int    `json:"active_sessions"`
}
