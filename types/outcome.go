package types

import "net/http"

// Outcome is the single value a renderer consumes to build a response.
// Implemented by FormPrompt, UploadSuccess and UploadError.
type Outcome interface {
	outcome()
}

// FormPrompt asks the client for an upload.
type FormPrompt struct {
	// RequestURI is echoed in the JSON usage hint.
	RequestURI string
}

// UploadSuccess reports a published upload.
type UploadSuccess struct {
	Fields []UploadField
	Files  []UploadFile
	Result *PublishResult
}

// UploadError reports a failed upload. Fields and Files carry whatever was
// accumulated before the failure and may be empty.
type UploadError struct {
	Fields []UploadField
	Files  []UploadFile
	Reason string
	// Status overrides the response code; zero means 400.
	Status int
}

func (FormPrompt) outcome()    {}
func (UploadSuccess) outcome() {}
func (UploadError) outcome()   {}

// StatusCode returns the HTTP status for the outcome.
func StatusCode(o Outcome) int {
	if e, ok := o.(UploadError); ok {
		if e.Status != 0 {
			return e.Status
		}
		return http.StatusBadRequest
	}
	return http.StatusOK
}
