// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/maps"

	"github.com/invowk/augment/internal/problem"
)

const (
	ConfigLoadFailedId Id = iota + 1
	InvalidMarkersId
	SourceNotFoundId
	UnsupportedEncodingId
	StructuralProblemId
	DirectiveContentId
	EvaluationFailedId
	ResponseInvalidId
	SourceModifiedId
	ChangesDetectedId
	PermissionDeniedId
	WatchFailedId
)

type (
	Id int

	MarkdownMsg string

	HttpLink string

	Renderer interface {
		Render(in string, stylePath string) (string, error)
	}

	Issue struct {
		id       Id          // ID used to lookup the issue
		mdMsg    MarkdownMsg // Markdown text that will be rendered
		docLinks []HttpLink
		extLinks []HttpLink // external links that might be useful for the user
	}
)

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

// Render renders the issue as terminal markdown with the given glamour
// style ("auto", "dark", "light", "notty" or a path to a style file).
func (i *Issue) Render(stylePath string) (string, error) {
	var md strings.Builder
	md.WriteString(string(i.mdMsg))
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		md.WriteString("\n\n## See also\n")
		for _, link := range slices.Concat(i.docLinks, i.extLinks) {
			md.WriteString("- <" + string(link) + ">\n")
		}
	}
	return render(md.String(), stylePath)
}

var (
	render = glamour.Render

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load the configuration!

augment reads ` + "`augment.cue`" + ` from the project directory, then
` + "`config.cue`" + ` from the user configuration directory, or the file given
with ` + "`--config`" + `.

## Things you can try:
- Check the error above for the offending field path
- Print the effective configuration:
~~~
$ augment config show
~~~

- Start over from the defaults:
~~~
$ augment config init
~~~`,
	}

	invalidMarkersIssue = &Issue{
		id: InvalidMarkersId,
		mdMsg: `
# Invalid marker configuration!

Every marker must be a non-blank, single-line literal and no literal may be
used twice, not even across categories or destinations.

## Example:
~~~cue
markers: {
	inline: ["//=", "#="]
	destinations: [
		{name: "default", directives: ["//:"]},
		{name: "docs", directives: ["//#"]},
	]
}
~~~`,
	}

	sourceNotFoundIssue = &Issue{
		id: SourceNotFoundId,
		mdMsg: `
# Source directory not found!

A configured source directory does not exist or is not a directory.

## Things you can try:
- Check the ` + "`sources`" + ` list in your configuration
- Relative directories are resolved against the directory holding
  ` + "`augment.cue`" + `, or the current directory when there is none`,
	}

	unsupportedEncodingIssue = &Issue{
		id: UnsupportedEncodingId,
		mdMsg: `
# Unsupported source encoding!

The configured ` + "`encoding`" + ` is not a known IANA charset name, or it has
no decoder.

## Things you can try:
- Use a common name such as ` + "`UTF-8`" + `, ` + "`ISO-8859-1`" + ` or ` + "`windows-1252`",
		extLinks: []HttpLink{"https://www.iana.org/assignments/character-sets/character-sets.xhtml"},
	}

	structuralProblemIssue = &Issue{
		id: StructuralProblemId,
		mdMsg: `
# Unbalanced markers!

Some files contain block, skip or nesting markers that do not pair up.
No file is merged until every structural problem is fixed.

## Common issues:
- A block start without its block end, or the other way around
- A block end on the same line as its block start
- A block started inside another block
- A closing nesting marker without an opening one
- A skip region that runs to the end of the file

## Things you can try:
- Fix the lines listed above, then run again
- Wrap examples that only show markers in a skip region`,
	}

	directiveContentIssue = &Issue{
		id: DirectiveContentId,
		mdMsg: `
# Malformed directive content!

An embedded string must read ` + "`name=value`" + ` and embedded JSON must be a
single object. A variable may be declared only once per nesting level.

## Example:
~~~
//$ greeting=hello
//@ {"count": 3, "tags": ["a", "b"]}
~~~`,
	}

	evaluationFailedIssue = &Issue{
		id: EvaluationFailedId,
		mdMsg: `
# Directive code failed!

A code exited with a non-zero status. Its file keeps the original text.

## Things you can try:
- Run with ` + "`--verbose`" + ` to see the captured stderr
- External programs are refused unless enabled:
~~~cue
shell: external: true
~~~`,
	}

	responseInvalidIssue = &Issue{
		id: ResponseInvalidId,
		mdMsg: `
# Invalid response document!

A response names an unknown destination, repeats an id, uses an id that
was never requested, or leaves a requested code unanswered.

## Things you can try:
- Regenerate the responses from the current requests:
~~~
$ augment prepare && augment generate
~~~`,
	}

	sourceModifiedIssue = &Issue{
		id: SourceModifiedId,
		mdMsg: `
# Source changed since preparation!

A file was edited between ` + "`augment prepare`" + ` and ` + "`augment merge`" + `.
Merging would overwrite those edits, so the file was left alone.

## Things you can try:
- Prepare, generate and merge again, or use:
~~~
$ augment run
~~~`,
	}

	changesDetectedIssue = &Issue{
		id: ChangesDetectedId,
		mdMsg: `
# Generated code was out of date!

The run rewrote files and ` + "`--fail-on-changes`" + ` is set. This is the
expected failure in CI when someone forgot to run augment.

## Things you can try:
- Run ` + "`augment run`" + ` locally and commit the result`,
	}

	permissionDeniedIssue = &Issue{
		id: PermissionDeniedId,
		mdMsg: `
# Permission denied!

A source, output or work directory file could not be read or written.

## Things you can try:
- Check file and directory permissions
- Point ` + "`work_dir`" + ` or ` + "`output_dir`" + ` at a directory you own`,
	}

	watchFailedIssue = &Issue{
		id: WatchFailedId,
		mdMsg: `
# File watching stopped!

The operating system refused more watches or file descriptors.

## Things you can try:
- On Linux, raise the inotify watch limit:
~~~
$ sudo sysctl fs.inotify.max_user_watches=524288
~~~

- Narrow the watched tree with ` + "`sources`" + ` include and exclude patterns`,
	}

	issues = map[Id]*Issue{
		configLoadFailedIssue.Id():    configLoadFailedIssue,
		invalidMarkersIssue.Id():      invalidMarkersIssue,
		sourceNotFoundIssue.Id():      sourceNotFoundIssue,
		unsupportedEncodingIssue.Id(): unsupportedEncodingIssue,
		structuralProblemIssue.Id():   structuralProblemIssue,
		directiveContentIssue.Id():    directiveContentIssue,
		evaluationFailedIssue.Id():    evaluationFailedIssue,
		responseInvalidIssue.Id():     responseInvalidIssue,
		sourceModifiedIssue.Id():      sourceModifiedIssue,
		changesDetectedIssue.Id():     changesDetectedIssue,
		permissionDeniedIssue.Id():    permissionDeniedIssue,
		watchFailedIssue.Id():         watchFailedIssue,
	}

	// byProblemCode maps accumulated problem codes to their catalog entry.
	byProblemCode = map[string]Id{
		"source_modified":              SourceModifiedId,
		"evaluation_failed":            EvaluationFailedId,
		"response_missing":             ResponseInvalidId,
		"response_absent":              ResponseInvalidId,
		"response_unreadable":          ResponseInvalidId,
		"response_bad_id":              ResponseInvalidId,
		"response_unknown_id":          ResponseInvalidId,
		"response_duplicate_id":        ResponseInvalidId,
		"response_unknown_destination": ResponseInvalidId,
		"string_malformed":             DirectiveContentId,
		"json_malformed":               DirectiveContentId,
		"json_not_object":              DirectiveContentId,
		"duplicate_variable":           DirectiveContentId,
		"decode_failed":                UnsupportedEncodingId,
		"encode_failed":                UnsupportedEncodingId,
		"prep_encoding":                UnsupportedEncodingId,
		"read_failed":                  PermissionDeniedId,
		"write_failed":                 PermissionDeniedId,
		"source_missing":               SourceNotFoundId,
	}
)

func Values() []*Issue {
	return maps.Values(issues)
}

func Get(id Id) *Issue {
	return issues[id]
}

// ForProblem returns the catalog entry for p. Unlisted structural codes
// share one entry; anything else has none.
func ForProblem(p problem.Problem) *Issue {
	if id, ok := byProblemCode[p.Code]; ok {
		return issues[id]
	}
	if p.Category == problem.CategoryStructural {
		return issues[StructuralProblemId]
	}
	return nil
}
