package querycache

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// EncodeKey converts a caller-supplied key into its canonical string form.
//
// The encoding is JSON: map keys are sorted and struct fields appear in
// declaration order, so logically-equal keys always encode identically.
// The registry only ever compares encoded keys.
func EncodeKey(key any) (string, error) {
	b, err := json.Marshal(key)
	if err != nil {
		return "", errors.Wrap(err, "encode query key")
	}
	return string(b), nil
}
