package bench

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"mend/internal/localize"
	"mend/internal/pipeline"
)

// promptData is what every prompt template executes against.
type promptData struct {
	Issue  string
	Report string
	// Deps holds the upstream artifact payloads as strings, keyed by stage.
	Deps map[string]string
}

// templateCodec renders a Go text/template prompt and parses the completion
// with a stage-specific parse function.
type templateCodec struct {
	name      string
	tmpl      *template.Template
	snapshots *FSSnapshots
	parse     func(text string) ([]byte, error)
}

func (c *templateCodec) Produce(issue string, deps map[string][]byte) (string, error) {
	report, err := c.snapshots.IssueReport(issue)
	if err != nil {
		return "", err
	}
	data := promptData{Issue: issue, Report: report, Deps: make(map[string]string, len(deps))}
	for stage, payload := range deps {
		data.Deps[stage] = string(payload)
		// Family-specific merge artifacts are addressed by templates under
		// the bare "merge" key, whichever family produced them.
		if strings.HasPrefix(stage, pipeline.StageMergePrefix) {
			data.Deps["merge"] = string(payload)
		}
	}
	var buf bytes.Buffer
	if err := c.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute %s template: %w", c.name, err)
	}
	return buf.String(), nil
}

func (c *templateCodec) Parse(text string) ([]byte, error) {
	return c.parse(text)
}

// NewCodecSet builds the default prompt codecs. A template file named
// {promptDir}/{stage}.md overrides the embedded default for that stage.
func NewCodecSet(promptDir string, snapshots *FSSnapshots) (pipeline.CodecSet, error) {
	build := func(stage, fallback string, parse func(string) ([]byte, error)) (*templateCodec, error) {
		text := fallback
		if promptDir != "" {
			if data, err := os.ReadFile(filepath.Join(promptDir, stage+".md")); err == nil {
				text = string(data)
			}
		}
		tmpl, err := template.New(stage).Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", stage, err)
		}
		return &templateCodec{name: stage, tmpl: tmpl, snapshots: snapshots, parse: parse}, nil
	}

	var set pipeline.CodecSet
	var err error
	if set.FileLocalization, err = build(pipeline.StageFileLocalization, fileLocalizationPrompt, parseLocalization); err != nil {
		return set, err
	}
	if set.IrrelevantFilter, err = build(pipeline.StageIrrelevantFilter, irrelevantFilterPrompt, parseStringList); err != nil {
		return set, err
	}
	if set.RelatedElements, err = build(pipeline.StageRelatedElements, relatedElementsPrompt, parseLocalization); err != nil {
		return set, err
	}
	if set.LineLocalization, err = build(pipeline.StageLineLocalization, lineLocalizationPrompt, parseLocalization); err != nil {
		return set, err
	}
	if set.Repair, err = build("repair", repairPrompt, parseDiff); err != nil {
		return set, err
	}
	if set.RegressionGenerate, err = build(pipeline.StageRegressionGenerate, regressionGeneratePrompt, parseStringList); err != nil {
		return set, err
	}
	if set.ReproductionGenerate, err = build(pipeline.StageReproductionGenerate, reproductionGeneratePrompt, parseStringList); err != nil {
		return set, err
	}
	return set, nil
}

// extractFence returns the contents of the first fenced block tagged lang,
// falling back to the first fenced block of any tag, then to the raw text.
func extractFence(text, lang string) string {
	for _, want := range []string{"```" + lang, "```"} {
		if i := strings.Index(text, want); i >= 0 {
			rest := text[i+len(want):]
			if j := strings.Index(rest, "\n"); j >= 0 {
				rest = rest[j+1:]
			}
			if j := strings.Index(rest, "```"); j >= 0 {
				return strings.TrimSpace(rest[:j])
			}
		}
	}
	return strings.TrimSpace(text)
}

// parseLocalization validates the completion as a localization result and
// returns it normalized.
func parseLocalization(text string) ([]byte, error) {
	raw := extractFence(text, "json")
	var result localize.Result
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("not a localization JSON object: %w", err)
	}
	if len(result.Files) == 0 {
		return nil, fmt.Errorf("localization result names no files")
	}
	return json.Marshal(&result)
}

// parseStringList validates the completion as a JSON array of strings.
func parseStringList(text string) ([]byte, error) {
	raw := extractFence(text, "json")
	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("not a JSON string array: %w", err)
	}
	return json.Marshal(items)
}

// parseDiff extracts a unified diff from the completion.
func parseDiff(text string) ([]byte, error) {
	diff := extractFence(text, "diff")
	if !strings.Contains(diff, "@@") && !strings.Contains(diff, "--- ") {
		return nil, fmt.Errorf("completion contains no unified diff")
	}
	return []byte(diff), nil
}
