package authz

import (
	"context"
	"fmt"

	"rocket-guard/internal/entity"
	"rocket-guard/internal/metadata"
)

// ApplyDefaults writes the rule's defaults onto every input row, overwriting
// caller-supplied values. Claim defaults copy the claim (nil when absent);
// function defaults are awaited one at a time in key order.
func ApplyDefaults(ctx context.Context, defaults map[string]Default, user *metadata.UserContext, inputs ...entity.Row) error {
	if len(defaults) == 0 {
		return nil
	}
	keys := sortedKeys(defaults)
	for _, input := range inputs {
		for _, field := range keys {
			d := defaults[field]
			if d.Func != nil {
				v, err := d.Func(ctx, user, input)
				if err != nil {
					return fmt.Errorf("default for %s: %w", field, err)
				}
				input[field] = v
				continue
			}
			v, _ := user.Claim(d.Claim)
			input[field] = v
		}
	}
	return nil
}
