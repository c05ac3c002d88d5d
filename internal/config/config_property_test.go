package config

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_ConfigLaw checks spec §8's config law: a key with a leading
// "--" (or "-") is recognized identically to the bare key.
func TestProperty_ConfigLaw(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("-- and - prefixed keys parse to the same bare key and value", prop.ForAll(
		func(keyIdx, valueIdx, prefix int) bool {
			key := fmt.Sprintf("key%d", keyIdx)
			value := fmt.Sprintf("val%d", valueIdx)

			var arg string
			switch prefix % 3 {
			case 0:
				arg = fmt.Sprintf("--%s=%s", key, value)
			case 1:
				arg = fmt.Sprintf("-%s=%s", key, value)
			default:
				arg = fmt.Sprintf("%s=%s", key, value)
			}

			out := parseArgs([]string{arg})
			got, ok := out[key]
			return ok && got == value
		},
		gen.IntRange(0, 1000),
		gen.IntRange(0, 1000),
		gen.IntRange(0, 2),
	))

	properties.TestingRun(t)
}
