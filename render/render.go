// Package render turns an Outcome into an HTTP response body, as JSON or as
// an HTML page, depending on what the client accepts.
package render

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/pithecene-io/ipfs-publish/types"
)

// Defaults for Config.
const (
	DefaultSiteTitle   = "ipfs-publish"
	DefaultGatewayHost = "ipfs.io"
)

// Content types written by the renderer.
const (
	ContentTypeJSON = "application/json"
	ContentTypeHTML = "text/html; charset=utf-8"
)

// Messages shared by the JSON and HTML representations.
const (
	usageHint       = "Sample usage: curl -X POST -F upload=@file.extension "
	receivedMessage = "Received upload"
)

// Page titles by outcome.
const (
	titleForm    = "Upload"
	titleSuccess = "Upload complete"
	titleError   = "Upload failed"
)

//go:embed page.html.tmpl
var pageSource string

var pageTemplate = template.Must(template.New("page").Parse(pageSource))

// Config configures a Renderer.
type Config struct {
	// SiteTitle is shown in every page's <title>.
	SiteTitle string
	// GatewayHost builds https://<host>/ipfs/<hash> links.
	GatewayHost string
}

// Response is a fully rendered reply.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// Write sends the response to w.
func (r Response) Write(w http.ResponseWriter) error {
	w.Header().Set("Content-Type", r.ContentType)
	w.WriteHeader(r.Status)
	_, err := w.Write(r.Body)
	return err
}

// Renderer renders Outcomes.
type Renderer struct {
	config Config
}

// New creates a Renderer, applying defaults to unset fields.
func New(cfg Config) *Renderer {
	if cfg.SiteTitle == "" {
		cfg.SiteTitle = DefaultSiteTitle
	}
	if cfg.GatewayHost == "" {
		cfg.GatewayHost = DefaultGatewayHost
	}
	return &Renderer{config: cfg}
}

// AcceptsJSON reports whether any Accept value of r contains "json",
// ignoring case.
func AcceptsJSON(r *http.Request) bool {
	if r == nil {
		return false
	}
	accept := strings.Join(r.Header.Values("Accept"), ",")
	return strings.Contains(strings.ToLower(accept), "json")
}

// Render builds the response for o. The status code is the same for both
// representations.
func (r *Renderer) Render(o types.Outcome, wantsJSON bool) (Response, error) {
	status := types.StatusCode(o)

	if wantsJSON {
		body, err := EncodeJSON(r.jsonPayload(o))
		if err != nil {
			return Response{}, fmt.Errorf("encode json: %w", err)
		}
		return Response{Status: status, ContentType: ContentTypeJSON, Body: body}, nil
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, r.pageData(o)); err != nil {
		return Response{}, fmt.Errorf("render html: %w", err)
	}
	return Response{Status: status, ContentType: ContentTypeHTML, Body: buf.Bytes()}, nil
}

// EncodeJSON pretty-prints payload with a two-space indent.
// A string payload is taken as already encoded and returned verbatim.
func EncodeJSON(payload any) ([]byte, error) {
	if s, ok := payload.(string); ok {
		return []byte(s), nil
	}
	return json.MarshalIndent(payload, "", "  ")
}

type promptBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type publishedBody struct {
	RemoteHash string `json:"remoteHash"`
	LocalHash  string `json:"localHash"`
	URL        string `json:"url,omitempty"`
}

type successBody struct {
	Success   bool                `json:"success"`
	Message   string              `json:"message"`
	Fields    []types.UploadField `json:"fields"`
	Files     []types.UploadFile  `json:"files"`
	Published *publishedBody      `json:"published,omitempty"`
}

type errorBody struct {
	Error   bool                `json:"error"`
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Fields  []types.UploadField `json:"fields"`
	Files   []types.UploadFile  `json:"files"`
}

func (r *Renderer) jsonPayload(o types.Outcome) any {
	switch o := o.(type) {
	case types.FormPrompt:
		return promptBody{Success: true, Message: usageHint + requestURI(o.RequestURI)}
	case types.UploadSuccess:
		body := successBody{
			Success: true,
			Message: receivedMessage,
			Fields:  nonNil(o.Fields),
			Files:   nonNil(o.Files),
		}
		if o.Result != nil && (o.Result.RemoteHash != "" || o.Result.LocalHash != "") {
			body.Published = &publishedBody{
				RemoteHash: o.Result.RemoteHash,
				LocalHash:  o.Result.LocalHash,
				URL:        o.Result.GatewayURL(r.config.GatewayHost),
			}
		}
		return body
	case types.UploadError:
		return errorBody{
			Error:   true,
			Message: reason(o.Reason),
			Fields:  nonNil(o.Fields),
			Files:   nonNil(o.Files),
		}
	default:
		return errorBody{Error: true, Message: types.UnknownErrorMessage}
	}
}

type pageData struct {
	SiteTitle  string
	Title      string
	Form       bool
	Success    bool
	Error      bool
	Message    string
	Fields     []types.UploadField
	Files      []string
	GatewayURL string
	LocalHash  string
}

func (r *Renderer) pageData(o types.Outcome) pageData {
	data := pageData{SiteTitle: r.config.SiteTitle}

	switch o := o.(type) {
	case types.FormPrompt:
		data.Title = titleForm
		data.Form = true
	case types.UploadSuccess:
		data.Title = titleSuccess
		data.Success = true
		data.Fields = o.Fields
		data.Files = fileNames(o.Files)
		if o.Result.HasLocal() {
			data.GatewayURL = o.Result.GatewayURL(r.config.GatewayHost)
			data.LocalHash = o.Result.LocalHash
		}
	case types.UploadError:
		data.Title = titleError
		data.Error = true
		data.Message = reason(o.Reason)
		data.Fields = o.Fields
		data.Files = fileNames(o.Files)
	default:
		data.Title = titleError
		data.Error = true
		data.Message = types.UnknownErrorMessage
	}

	return data
}

func fileNames(files []types.UploadFile) []string {
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.OriginalName)
	}
	return names
}

func reason(s string) string {
	if s == "" {
		return types.UnknownErrorMessage
	}
	return s
}

func requestURI(uri string) string {
	if uri == "" {
		return "/"
	}
	return uri
}

// nonNil keeps empty sequences encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
