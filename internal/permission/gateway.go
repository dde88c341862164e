// internal/permission/gateway.go
package permission

import (
	"context"
	"errors"
	"fmt"

	"github.com/tamzrod/vitals-relay/internal/vitals"
)

// Gateway abstracts the platform authorization API.
// Both calls fail with an error wrapping vitals.ErrGatewayUnavailable when the
// platform cannot be reached. Types missing from a result are treated as not granted.
type Gateway interface {
	// QueryGranted reports the current grant state without user interaction.
	QueryGranted(ctx context.Context, types []vitals.PermissionType) (map[vitals.PermissionType]bool, error)

	// PromptUser may show a system dialog for the given types.
	PromptUser(ctx context.Context, types []vitals.PermissionType) (map[vitals.PermissionType]bool, error)
}

// gatewayError normalizes any gateway failure to ErrGatewayUnavailable.
func gatewayError(op string, err error) error {
	if errors.Is(err, vitals.ErrGatewayUnavailable) {
		return fmt.Errorf("permission: %s: %w", op, err)
	}
	return fmt.Errorf("permission: %s: %w: %v", op, vitals.ErrGatewayUnavailable, err)
}
