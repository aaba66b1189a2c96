package workflow

import (
	"fmt"

	"github.com/chaoschain/gateway"
)

func invalidTransition(from, to State) error {
	return fmt.Errorf("%w: %s -> %s", gateway.ErrInvalidTransition, from, to)
}

func invalidInput(format string, args ...any) error {
	return gateway.BusinessRule(gateway.CodeInvalidInput, fmt.Sprintf(format, args...), nil)
}

func missingPrerequisite(step, key string) error {
	return gateway.Invariant(fmt.Sprintf("%s requires %s to be recorded", step, key))
}
