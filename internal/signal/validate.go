package signal

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"titanfabric/internal/types"
)

// intentValidator checks the execution-intent schema before dispatch. A
// single instance is shared; validator.Validate is safe for concurrent use.
var intentValidator = validator.New(validator.WithRequiredStructEnabled())

// ValidateIntent returns a human-readable description of every schema
// violation in the transformed payload, or nil when it is dispatchable.
func ValidateIntent(intent types.ExecutionIntent) error {
	err := intentValidator.Struct(intent)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("intent validation: %w", err)
	}

	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("intent validation: %s", strings.Join(parts, "; "))
}
