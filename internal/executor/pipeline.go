package executor

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"es2os/internal/timeutil"
)

// pipelineTemplate is the executor's native pipeline format. The range
// query is injected as pre-validated JSON, never by raw string splicing.
const pipelineTemplate = `input {
  elasticsearch {
    hosts => ["{{.SourceEndpoint}}"]
    index => "{{.IndexPattern}}"
    query => '{{.Query}}'
    docinfo => true
    docinfo_target => "[@metadata]"
  }
}
output {
  elasticsearch {
    hosts => ["{{.TargetEndpoint}}"]
    index => "%{[@metadata][_index]}"
    document_id => "%{[@metadata][_id]}"
  }
  file {
    path => "{{.LogPath}}"
    codec => dots
  }
}
`

var pipelineTmpl = template.Must(template.New("pipeline").Parse(pipelineTemplate))

// Pipeline describes one batch-sync invocation: where to read, where to
// write, which window of documents to select, and where executor output
// goes.
type Pipeline struct {
	SourceEndpoint string
	TargetEndpoint string
	IndexPattern   string
	Field          string
	Start          time.Time
	End            time.Time
	LogPath        string
}

type rangeBounds struct {
	GTE string `json:"gte"`
	LT  string `json:"lt"`
}

// Query builds the half-open range query [Start, End) for Field
func (p Pipeline) Query() (string, error) {
	q := map[string]any{
		"query": map[string]any{
			"range": map[string]any{
				p.Field: rangeBounds{
					GTE: timeutil.Format(p.Start),
					LT:  timeutil.Format(p.End),
				},
			},
		},
	}

	data, err := json.Marshal(q)
	if err != nil {
		return "", fmt.Errorf("failed to encode range query: %w", err)
	}
	return string(data), nil
}

func (p Pipeline) validate() error {
	if p.SourceEndpoint == "" {
		return fmt.Errorf("source endpoint is required")
	}
	if p.TargetEndpoint == "" {
		return fmt.Errorf("target endpoint is required")
	}
	if p.IndexPattern == "" {
		return fmt.Errorf("index pattern is required")
	}
	if p.Field == "" {
		return fmt.Errorf("timestamp field is required")
	}
	if !p.End.After(p.Start) {
		return fmt.Errorf("window end %s is not after start %s", timeutil.Format(p.End), timeutil.Format(p.Start))
	}
	if p.LogPath == "" {
		return fmt.Errorf("log path is required")
	}
	return nil
}

// Render produces the executor configuration for this pipeline
func (p Pipeline) Render() (string, error) {
	if err := p.validate(); err != nil {
		return "", fmt.Errorf("invalid pipeline: %w", err)
	}

	query, err := p.Query()
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	err = pipelineTmpl.Execute(&sb, struct {
		SourceEndpoint string
		TargetEndpoint string
		IndexPattern   string
		Query          string
		LogPath        string
	}{
		SourceEndpoint: p.SourceEndpoint,
		TargetEndpoint: p.TargetEndpoint,
		IndexPattern:   p.IndexPattern,
		Query:          query,
		LogPath:        p.LogPath,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render pipeline: %w", err)
	}

	return sb.String(), nil
}
