// internal/permission/file_gateway.go
package permission

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/tamzrod/vitals-relay/internal/vitals"
)

// grantsDoc is the on-disk shape of a grants file:
//
//	grants:
//	  heart_rate: true
//	  steps: false
type grantsDoc struct {
	Grants map[string]bool `yaml:"grants"`
}

// FileGateway is a headless Gateway backed by a YAML grants file.
// The file is re-read on every query, so editing it is how an operator
// grants or revokes a type at runtime. With AutoApprove, PromptUser records
// the prompted types as granted; otherwise prompting changes nothing.
type FileGateway struct {
	Path        string
	AutoApprove bool

	mu sync.Mutex
}

func NewFileGateway(path string, autoApprove bool) (*FileGateway, error) {
	if path == "" {
		return nil, errors.New("permission: grants file path required")
	}
	return &FileGateway{Path: path, AutoApprove: autoApprove}, nil
}

func (g *FileGateway) QueryGranted(ctx context.Context, types []vitals.PermissionType) (map[vitals.PermissionType]bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	doc, err := g.read()
	if err != nil {
		return nil, err
	}
	return pick(doc, types), nil
}

func (g *FileGateway) PromptUser(ctx context.Context, types []vitals.PermissionType) (map[vitals.PermissionType]bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	doc, err := g.read()
	if err != nil {
		return nil, err
	}

	if g.AutoApprove {
		for _, t := range types {
			doc.Grants[t.String()] = true
		}
		if err := g.write(doc); err != nil {
			return nil, err
		}
	}

	return pick(doc, types), nil
}

func (g *FileGateway) read() (grantsDoc, error) {
	doc := grantsDoc{Grants: map[string]bool{}}

	data, err := os.ReadFile(g.Path)
	if errors.Is(err, os.ErrNotExist) {
		// no file yet: nothing granted
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("%w: read %s: %v", vitals.ErrGatewayUnavailable, g.Path, err)
	}

	if err := yaml.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("%w: parse %s: %v", vitals.ErrGatewayUnavailable, g.Path, err)
	}
	if doc.Grants == nil {
		doc.Grants = map[string]bool{}
	}
	return doc, nil
}

func (g *FileGateway) write(doc grantsDoc) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: encode grants: %v", vitals.ErrGatewayUnavailable, err)
	}
	if err := os.WriteFile(g.Path, data, 0o600); err != nil {
		return fmt.Errorf("%w: write %s: %v", vitals.ErrGatewayUnavailable, g.Path, err)
	}
	return nil
}

func pick(doc grantsDoc, types []vitals.PermissionType) map[vitals.PermissionType]bool {
	out := make(map[vitals.PermissionType]bool, len(types))
	for _, t := range types {
		out[t] = doc.Grants[t.String()]
	}
	return out
}
