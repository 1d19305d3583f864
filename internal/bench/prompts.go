package bench

// Default prompt templates. Each executes against promptData; upstream
// artifacts arrive through .Deps keyed by stage name.

const fileLocalizationPrompt = `You are triaging a bug report against a repository.

Issue {{.Issue}}:
{{.Report}}

Repository file tree (JSON array of paths):
{{index .Deps "repo_structure"}}

List the files most likely to need edits to fix the issue, most suspicious
first. Reply with a JSON object in a fenced block:

` + "```json" + `
{"files": [{"path": "pkg/server.go"}, {"path": "pkg/session.go"}]}
` + "```" + `
`

const irrelevantFilterPrompt = `You are narrowing the search space for a bug fix.

Issue {{.Issue}}:
{{.Report}}

Repository file tree (JSON array of paths):
{{index .Deps "repo_structure"}}

List the top-level folders that are certainly irrelevant to this issue, such
as documentation, examples or unrelated subsystems. Only name folders you are
confident contain no code that needs changing. Reply with a JSON array of
folder paths in a fenced block:

` + "```json" + `
["docs", "examples"]
` + "```" + `
`

const relatedElementsPrompt = `You are locating the code elements behind a bug.

Issue {{.Issue}}:
{{.Report}}

Candidate files (ranked):
{{index .Deps "combine"}}

For each candidate file, name the functions, methods, types or variables that
relate to the issue. Reply with a JSON object in a fenced block:

` + "```json" + `
{"files": [{"path": "pkg/server.go", "elements": [{"name": "Server.Accept", "kind": "method"}]}]}
` + "```" + `
`

const lineLocalizationPrompt = `You are pinpointing the lines that must change to fix a bug.

Issue {{.Issue}}:
{{.Report}}

Relevant code elements:
{{index .Deps "related_elements"}}

For each file, give the line ranges that need edits. Ranges must fall inside
the elements you were given. Reply with a JSON object in a fenced block:

` + "```json" + `
{"files": [{"path": "pkg/server.go", "spans": [{"start": 120, "end": 134}]}]}
` + "```" + `
`

const repairPrompt = `You are writing a patch for a reported bug.

Issue {{.Issue}}:
{{.Report}}

Edit locations:
{{index .Deps "merge"}}

Write a minimal unified diff that fixes the issue. Touch only the locations
above unless the fix genuinely requires more. Reply with the diff in a fenced
block:

` + "```diff" + `
--- a/pkg/server.go
+++ b/pkg/server.go
@@ ... @@
` + "```" + `
`

const regressionGeneratePrompt = `You are choosing regression tests to guard a bug fix.

Issue {{.Issue}}:
{{.Report}}

From the project's existing test suite, list test identifiers that exercise
the affected behavior and should keep passing after the fix. Reply with a
JSON array of test identifiers in a fenced block:

` + "```json" + `
["TestServerAccept", "TestSessionClose"]
` + "```" + `
`

const reproductionGeneratePrompt = `You are writing reproduction tests for a bug report.

Issue {{.Issue}}:
{{.Report}}

Propose test identifiers for tests that fail on the current code because of
this issue and pass once it is fixed. Reply with a JSON array of test
identifiers in a fenced block:

` + "```json" + `
["TestReproIssueTimeout"]
` + "```" + `
`
