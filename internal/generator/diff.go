package generator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/EdwardJXLi/TinyGen/internal/fetcher"
)

// renderDiff produces one unified diff covering every file that differs
// between the original and modified trees, in lexical path order.
func renderDiff(original, modified *fetcher.FileTree) (string, error) {
	paths := make(map[string]struct{}, len(original.Files))
	for p := range original.Files {
		paths[p] = struct{}{}
	}
	for p := range modified.Files {
		paths[p] = struct{}{}
	}
	ordered := make([]string, 0, len(paths))
	for p := range paths {
		ordered = append(ordered, p)
	}
	sort.Strings(ordered)

	var sb strings.Builder
	for _, p := range ordered {
		before, hadBefore := original.Files[p]
		after, hasAfter := modified.Files[p]
		if hadBefore && hasAfter && before == after {
			continue
		}

		fromFile, toFile := "a/"+p, "b/"+p
		if !hadBefore {
			fromFile = "/dev/null"
		}
		if !hasAfter {
			toFile = "/dev/null"
		}
		text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        difflib.SplitLines(before),
			B:        difflib.SplitLines(after),
			FromFile: fromFile,
			ToFile:   toFile,
			Context:  3,
		})
		if err != nil {
			return "", fmt.Errorf("failed to diff %s: %w", p, err)
		}
		sb.WriteString(text)
	}
	return sb.String(), nil
}
