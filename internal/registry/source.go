package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/triage-ai/palisade/services/tool_dispatch/internal/openapi"
	"github.com/triage-ai/palisade/services/tool_dispatch/internal/tool"
)

// maxDocumentBytes caps a fetched API description.
const maxDocumentBytes = 8 << 20

// ErrDocumentTooLarge is returned when a fetched description exceeds maxDocumentBytes.
var ErrDocumentTooLarge = errors.New("document too large")

// Source produces the tool definitions a registry is built from.
type Source interface {
	Load(ctx context.Context) ([]tool.Definition, error)
	String() string
}

// OpenAPISource normalizes an OpenAPI description read from a file path or an http(s) URL.
type OpenAPISource struct {
	Location string
	Client   *http.Client
	Logger   *zap.Logger
}

// NewSource picks the source for location: a generated tools file
// (*.tools.json or *-tools.json) or an OpenAPI description.
func NewSource(location string, logger *zap.Logger) Source {
	if strings.HasSuffix(location, ".tools.json") || strings.HasSuffix(location, "-tools.json") {
		return ToolsFileSource{Path: location}
	}
	return &OpenAPISource{Location: location, Logger: logger}
}

func (s *OpenAPISource) String() string { return s.Location }

func (s *OpenAPISource) Load(ctx context.Context) ([]tool.Definition, error) {
	data, err := s.read(ctx)
	if err != nil {
		return nil, fmt.Errorf("OpenAPISource.Load: %w", err)
	}
	doc, err := openapi.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("OpenAPISource.Load: %w", err)
	}
	defs, issues := openapi.Normalize(doc)
	if s.Logger != nil {
		for _, issue := range issues {
			s.Logger.Warn("openapi normalization issue",
				zap.String("source", s.Location),
				zap.String("tool", issue.Tool),
				zap.String("detail", issue.Detail),
			)
		}
	}
	return defs, nil
}

func (s *OpenAPISource) read(ctx context.Context) ([]byte, error) {
	if !strings.HasPrefix(s.Location, "http://") && !strings.HasPrefix(s.Location, "https://") {
		return os.ReadFile(s.Location)
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.Location, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", s.Location, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxDocumentBytes {
		return nil, fmt.Errorf("fetch %s: %w (limit %d bytes)", s.Location, ErrDocumentTooLarge, maxDocumentBytes)
	}
	return data, nil
}

// ToolsFile is the on-disk shape written by toolgen.
type ToolsFile struct {
	Tools []tool.Definition `json:"tools"`
}

// ToolsFileSource reads a generated tools file.
type ToolsFileSource struct {
	Path string
}

func (s ToolsFileSource) String() string { return s.Path }

func (s ToolsFileSource) Load(_ context.Context) ([]tool.Definition, error) {
	return LoadToolsFile(s.Path)
}

// LoadToolsFile reads the tool definitions from a generated tools file.
func LoadToolsFile(path string) ([]tool.Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("LoadToolsFile: %w", err)
	}
	defer f.Close()
	return ReadToolsFile(f)
}

// ReadToolsFile decodes {"tools": [...]} from r.
func ReadToolsFile(r io.Reader) ([]tool.Definition, error) {
	var tf ToolsFile
	if err := json.NewDecoder(r).Decode(&tf); err != nil {
		return nil, fmt.Errorf("ReadToolsFile: %w", err)
	}
	for i := range tf.Tools {
		if tf.Tools[i].Parameters.Properties == nil {
			tf.Tools[i].Parameters.Properties = map[string]tool.Property{}
		}
		if tf.Tools[i].Parameters.Required == nil {
			tf.Tools[i].Parameters.Required = []string{}
		}
	}
	return tf.Tools, nil
}

// WriteToolsFile writes defs as an indented {"tools": [...]} document.
func WriteToolsFile(w io.Writer, defs []tool.Definition) error {
	if defs == nil {
		defs = []tool.Definition{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ToolsFile{Tools: defs}); err != nil {
		return fmt.Errorf("WriteToolsFile: %w", err)
	}
	return nil
}
