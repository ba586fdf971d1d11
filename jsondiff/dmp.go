package jsondiff

import "github.com/sergi/go-diff/diffmatchpatch"

// stringDiffOp computes a DMP operation patching base into modified. Both
// strings must be non-empty per spec.md §4.1 (empty-string cases fall back
// to REPLACE in diffValue).
func stringDiffOp(base, modified string) Operation {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(base, modified, false)
	patches := dmp.PatchMake(base, diffs)
	return DMP{Patch: dmp.PatchToText(patches)}
}

// applyDMP applies a diff_match_patch patch string to s, failing with
// ErrOperationPreconditionViolated if any hunk cannot be applied cleanly.
func applyDMP(patchText, s string) (string, error) {
	dmp := diffmatchpatch.New()
	patches, err := dmp.PatchFromText(patchText)
	if err != nil {
		return "", ErrMalformedOperation{Message: "dmp patch: " + err.Error()}
	}
	result, applied := dmp.PatchApply(patches, s)
	for _, ok := range applied {
		if !ok {
			return "", ErrOperationPreconditionViolated{Message: "dmp patch did not apply cleanly"}
		}
	}
	return result, nil
}

// dmpTransform rebases localPatch onto the result of applying upstreamPatch
// to baseStr, per spec.md §4.1's dmp_transform. It returns ok=false if the
// rebase cannot be produced conflict-free, in which case the caller drops
// the local operation (upstream wins).
func dmpTransform(localPatch, upstreamPatch, baseStr string) (string, bool) {
	dmp := diffmatchpatch.New()

	upstreamPatches, err := dmp.PatchFromText(upstreamPatch)
	if err != nil {
		return "", false
	}
	newBase, upstreamApplied := dmp.PatchApply(upstreamPatches, baseStr)
	for _, ok := range upstreamApplied {
		if !ok {
			return "", false
		}
	}

	localPatches, err := dmp.PatchFromText(localPatch)
	if err != nil {
		return "", false
	}
	rebasedText, localApplied := dmp.PatchApply(localPatches, newBase)
	for _, ok := range localApplied {
		if !ok {
			return "", false
		}
	}

	rebasedPatches := dmp.PatchMake(newBase, rebasedText)
	if len(rebasedPatches) == 0 {
		return "", false
	}
	return dmp.PatchToText(rebasedPatches), true
}
