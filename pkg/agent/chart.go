package agent

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Chart is the optional series payload assembled from the final answer.
type Chart struct {
	Type   string    `json:"type"`
	Title  string    `json:"title,omitempty"`
	Labels []string  `json:"labels"`
	Values []float64 `json:"values"`
}

// seriesPattern matches "label: 123"-style pairs in answer text.
var seriesPattern = regexp.MustCompile(`([A-Za-z][\w %/\-]{0,40}?):\s*\$?(-?[0-9][0-9,]*(?:\.[0-9]+)?)`)

// buildChart assembles a chart from the answer text, falling back to numeric
// fields of the last tool result. Returns nil when no chart was requested or
// no numeric series could be found.
func (a *Assistant) buildChart(req *AskRequest, answer string, lastResult map[string]any) *Chart {
	if !req.WantsChart {
		return nil
	}
	chartType := req.ChartType
	if chartType == "" {
		chartType = "bar"
	}

	labels, values := seriesFromText(answer)
	if len(labels) == 0 {
		labels, values = seriesFromResult(lastResult)
	}
	if len(labels) == 0 {
		return nil
	}
	return &Chart{
		Type:   chartType,
		Title:  req.ChartTitle,
		Labels: labels,
		Values: values,
	}
}

func seriesFromText(answer string) ([]string, []float64) {
	var labels []string
	var values []float64
	for _, m := range seriesPattern.FindAllStringSubmatch(answer, -1) {
		v, err := strconv.ParseFloat(strings.ReplaceAll(m[2], ",", ""), 64)
		if err != nil {
			continue
		}
		labels = append(labels, strings.TrimSpace(m[1]))
		values = append(values, v)
	}
	return labels, values
}

func seriesFromResult(result map[string]any) ([]string, []float64) {
	var labels []string
	var values []float64
	keys := make([]string, 0, len(result))
	for k := range result {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := result[k].(type) {
		case float64:
			labels = append(labels, k)
			values = append(values, v)
		case int:
			labels = append(labels, k)
			values = append(values, float64(v))
		}
	}
	return labels, values
}
