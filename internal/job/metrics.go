package job

import "regexp"

// MetricSpec describes a value to grep out of the job output once it has
// run. Unique drops duplicate matches while preserving order.
type MetricSpec struct {
	Name    string
	Pattern string
	Unique  bool
}

// ExtractMetrics applies every metric spec to the captured output and stores
// the matches. Invalid patterns yield no values rather than failing the job.
func (j *Job) ExtractMetrics() {
	if len(j.Metrics) == 0 {
		return
	}
	if j.Extracted == nil {
		j.Extracted = make(map[string][]string, len(j.Metrics))
	}
	for _, spec := range j.Metrics {
		re, err := regexp.Compile(spec.Pattern)
		if err != nil {
			continue
		}
		values := re.FindAllString(j.Output, -1)
		if spec.Unique {
			seen := make(map[string]struct{}, len(values))
			unique := values[:0]
			for _, v := range values {
				if _, ok := seen[v]; ok {
					continue
				}
				seen[v] = struct{}{}
				unique = append(unique, v)
			}
			values = unique
		}
		j.Extracted[spec.Name] = values
	}
}
