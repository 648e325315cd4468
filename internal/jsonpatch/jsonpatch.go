package jsonpatch

import (
	"encoding/json"
	"fmt"

	jp "github.com/evanphx/json-patch/v5"
)

type PatchError struct {
	msg string
}

func (p *PatchError) Error() string {
	return p.msg
}

// Merge applies an RFC 7386 merge patch to doc. Object members present in
// the patch replace (or, when null, remove) the corresponding members of the
// document. This is the semantics npm applies to publishConfig overrides.
func Merge(doc, patch json.RawMessage) (json.RawMessage, error) {
	if len(patch) == 0 {
		return doc, nil
	}

	// A non-object patch would replace the whole document under RFC 7386;
	// for manifest overrides that is never intended.
	var members map[string]json.RawMessage
	if err := json.Unmarshal(patch, &members); err != nil {
		return nil, &PatchError{fmt.Sprintf("merge patch must be an object: %v", err)}
	}

	out, err := jp.MergePatch(doc, patch)
	if err != nil {
		return nil, &PatchError{fmt.Sprintf("merge patch: %v", err)}
	}
	return out, nil
}
