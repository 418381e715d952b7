// Package intake turns an upload request body into ordered fields and staged
// files inside a workspace.
//
// Parsing is delegated to a Parser collaborator that reports each field and
// file to a Sink as it is read. Intake.Receive accumulates those reports and
// returns them once Parse has returned, so the result can never be observed
// before every callback has been recorded.
package intake

import (
	"context"
	"net/http"

	"github.com/pithecene-io/ipfs-publish/types"
)

// DefaultMaxFieldsBytes caps the total size of non-file field values.
const DefaultMaxFieldsBytes = 2 << 20

// Encoding is the only text encoding applied to field values.
const Encoding = "utf-8"

// Options configures a single parse.
type Options struct {
	// Dir is the workspace directory files are staged into.
	Dir string
	// KeepExtensions preserves the original file extension on staged files.
	KeepExtensions bool
	// Multiple allows more than one file under the same field name.
	Multiple bool
	// MaxFieldsBytes caps the summed size of field values.
	MaxFieldsBytes int64
	// MaxBodyBytes caps the request body. Zero means unlimited.
	MaxBodyBytes int64
}

// Sink receives parse events in arrival order.
type Sink interface {
	Field(name, value string)
	File(f types.UploadFile)
}

// Parser reads a request body, staging file parts under opts.Dir and
// reporting every field and file to sink before returning.
type Parser interface {
	Parse(ctx context.Context, r *http.Request, opts Options, sink Sink) error
}

// Upload is the accumulated result of one intake.
// Fields and Files are independent ordered sequences.
type Upload struct {
	Fields []types.UploadField
	Files  []types.UploadFile
}

// Field implements Sink.
func (u *Upload) Field(name, value string) {
	u.Fields = append(u.Fields, types.UploadField{Name: name, Value: value})
}

// File implements Sink.
func (u *Upload) File(f types.UploadFile) {
	u.Files = append(u.Files, f)
}

// Config configures an Intake.
type Config struct {
	// MaxFieldsBytes caps field values (default DefaultMaxFieldsBytes).
	MaxFieldsBytes int64
	// MaxBodyBytes caps the request body (0 = unlimited).
	MaxBodyBytes int64
}

// Intake drives a Parser for upload requests.
type Intake struct {
	parser Parser
	config Config
}

// New creates an Intake. A nil parser selects MultipartParser.
func New(parser Parser, cfg Config) *Intake {
	if parser == nil {
		parser = MultipartParser{}
	}
	if cfg.MaxFieldsBytes <= 0 {
		cfg.MaxFieldsBytes = DefaultMaxFieldsBytes
	}
	return &Intake{parser: parser, config: cfg}
}

// Receive parses r into dir.
//
// On failure it returns a types.ErrUploadParse error together with whatever
// was accumulated before the failure; the caller owns releasing dir.
func (i *Intake) Receive(ctx context.Context, r *http.Request, dir string) (*Upload, error) {
	opts := Options{
		Dir:            dir,
		KeepExtensions: true,
		Multiple:       true,
		MaxFieldsBytes: i.config.MaxFieldsBytes,
		MaxBodyBytes:   i.config.MaxBodyBytes,
	}

	upload := &Upload{}
	if err := i.parser.Parse(ctx, r, opts, upload); err != nil {
		return upload, types.NewUploadParseError(err)
	}
	return upload, nil
}
