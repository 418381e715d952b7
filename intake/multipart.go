package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/pithecene-io/ipfs-publish/iox"
	"github.com/pithecene-io/ipfs-publish/types"
)

// Parse errors.
var (
	// ErrFieldsTooLarge is returned when field values exceed MaxFieldsBytes.
	ErrFieldsTooLarge = errors.New("maximum fields size exceeded")
	// ErrBodyTooLarge is returned when the body exceeds MaxBodyBytes.
	ErrBodyTooLarge = errors.New("request body too large")
	// ErrMultipleFiles is returned when Multiple is off and a field repeats.
	ErrMultipleFiles = errors.New("multiple files not allowed for field")
)

const defaultFileType = "application/octet-stream"

// MultipartParser parses multipart/form-data and
// application/x-www-form-urlencoded bodies.
type MultipartParser struct{}

// Parse implements Parser.
func (MultipartParser) Parse(ctx context.Context, r *http.Request, opts Options, sink Sink) error {
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		return errors.New("missing content type")
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return fmt.Errorf("invalid content type %q: %w", contentType, err)
	}

	var body io.Reader = r.Body
	if opts.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(nil, r.Body, opts.MaxBodyBytes)
	}

	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		boundary := params["boundary"]
		if boundary == "" {
			return errors.New("no multipart boundary in content type")
		}
		return classify(parseMultipart(ctx, multipart.NewReader(body, boundary), opts, sink))
	case mediaType == "application/x-www-form-urlencoded":
		return classify(parseURLEncoded(body, opts, sink))
	default:
		return fmt.Errorf("unsupported content type %q", mediaType)
	}
}

func parseMultipart(ctx context.Context, mr *multipart.Reader, opts Options, sink Sink) error {
	remaining := opts.MaxFieldsBytes
	filesByField := make(map[string]int)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		part, err := mr.NextPart()
		// The reader wraps io.EOF for truncated bodies; only a bare io.EOF
		// marks the closing boundary.
		if err == io.EOF { //nolint:errorlint // see above
			return nil
		}
		if err != nil {
			return err
		}

		name := part.FormName()
		filename, isFile := partFilename(part)

		if !isFile {
			value, err := readField(part, remaining)
			iox.DiscardClose(part)
			if err != nil {
				return err
			}
			remaining -= int64(len(value))
			sink.Field(name, strings.ToValidUTF8(value, "\uFFFD"))
			continue
		}

		// A file input submitted with nothing selected.
		if filename == "" {
			_, err := io.Copy(io.Discard, part)
			iox.DiscardClose(part)
			if err != nil {
				return err
			}
			continue
		}

		if !opts.Multiple && filesByField[name] > 0 {
			iox.DiscardClose(part)
			return fmt.Errorf("%w: %s", ErrMultipleFiles, name)
		}

		file, err := stageFile(part, name, filename, opts)
		iox.DiscardClose(part)
		if err != nil {
			return err
		}
		filesByField[name]++
		sink.File(file)
	}
}

// partFilename reports whether the part declares a filename parameter,
// and the base name it carries.
func partFilename(part *multipart.Part) (string, bool) {
	_, params, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
	if err != nil {
		return "", false
	}
	if _, ok := params["filename"]; !ok {
		return "", false
	}
	name := part.FileName()
	if name == "." || name == string(filepath.Separator) {
		name = ""
	}
	return name, true
}

func readField(r io.Reader, remaining int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, remaining+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > remaining {
		return "", ErrFieldsTooLarge
	}
	return string(data), nil
}

func stageFile(part *multipart.Part, field, filename string, opts Options) (types.UploadFile, error) {
	ext := ""
	if opts.KeepExtensions {
		ext = safeExt(filename)
	}

	out, err := os.CreateTemp(opts.Dir, "upload_*"+ext)
	if err != nil {
		return types.UploadFile{}, fmt.Errorf("stage %s: %w", filename, err)
	}

	size, copyErr := io.Copy(out, part)
	closeErr := out.Close()
	if copyErr != nil {
		return types.UploadFile{}, copyErr
	}
	if closeErr != nil {
		return types.UploadFile{}, fmt.Errorf("stage %s: %w", filename, closeErr)
	}

	mimeType := part.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = defaultFileType
	}

	return types.UploadFile{
		FieldName:    field,
		StagedPath:   out.Name(),
		OriginalName: filename,
		Size:         size,
		MimeType:     mimeType,
	}, nil
}

// safeExt returns the extension of name if it is made of ASCII letters and
// digits only, and "" otherwise.
func safeExt(name string) string {
	ext := filepath.Ext(name)
	if len(ext) < 2 {
		return ""
	}
	for _, c := range ext[1:] {
		isAlnum := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
		if !isAlnum {
			return ""
		}
	}
	return ext
}

// parseURLEncoded reports pairs in body order, which url.ParseQuery would lose.
func parseURLEncoded(body io.Reader, opts Options, sink Sink) error {
	raw, err := readField(body, opts.MaxFieldsBytes)
	if err != nil {
		return err
	}

	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		name, err := url.QueryUnescape(k)
		if err != nil {
			return fmt.Errorf("invalid field name %q: %w", k, err)
		}
		value, err := url.QueryUnescape(v)
		if err != nil {
			return fmt.Errorf("invalid value for field %q: %w", name, err)
		}
		sink.Field(name, strings.ToValidUTF8(value, "\uFFFD"))
	}
	return nil
}

// classify maps body-limit failures onto ErrBodyTooLarge.
func classify(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return fmt.Errorf("%w: limit is %d bytes", ErrBodyTooLarge, maxErr.Limit)
	}
	return err
}
