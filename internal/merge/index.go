// SPDX-License-Identifier: MPL-2.0

package merge

import (
	"github.com/invowk/augment/internal/problem"
	"github.com/invowk/augment/pkg/codegen"
)

// index maps response results to their codes and records which file owns
// each augmenting part.
type index struct {
	results map[codegen.Key]codegen.Result
	owners  map[codegen.Key]int
}

// buildIndex validates responses against prep. Problems with a result whose
// id belongs to a file are attributed to that file; all others to the
// response document.
func buildIndex(prep *codegen.PrepDocument, responses []codegen.Response) (*index, problem.List) {
	idx := &index{
		results: make(map[codegen.Key]codegen.Result),
		owners:  make(map[codegen.Key]int),
	}
	for i, f := range prep.Files {
		for _, p := range f.Parts {
			if k, ok := p.Key(); ok {
				idx.owners[k] = i
			}
		}
	}

	var probs problem.List
	for _, resp := range responses {
		doc := codegen.ResponseFileName(resp.Destination)
		count, known := prep.CodeCounts[resp.Destination]
		if !known {
			probs.Add(problem.New(problem.CategoryContent, "response_unknown_destination", doc, 0,
				"response for destination %q which has no request", resp.Destination))
			continue
		}
		for _, res := range resp.Results {
			k := codegen.Key{Destination: resp.Destination, ID: res.ID}
			path := doc
			if owner, ok := idx.owners[k]; ok {
				path = prep.Files[owner].RelativePath
			}
			switch {
			case res.ID <= 0:
				probs.Add(problem.New(problem.CategoryContent, "response_bad_id", doc, 0,
					"response result has invalid id %d", res.ID))
			case res.ID > count:
				probs.Add(problem.New(problem.CategoryContent, "response_unknown_id", doc, 0,
					"response result id %s was never requested", k))
			default:
				if _, dup := idx.results[k]; dup {
					probs.Add(problem.New(problem.CategoryContent, "response_duplicate_id", path, 0,
						"response contains id %s more than once", k))
					continue
				}
				idx.results[k] = res
			}
		}
	}
	return idx, probs
}

func (idx *index) lookup(k codegen.Key) (codegen.GeneratedCode, bool) {
	res, ok := idx.results[k]
	if !ok {
		return codegen.GeneratedCode{}, false
	}
	return res.Generated(), true
}
