package evolution

import (
	"encoding/json"
	"time"

	"github.com/mnemosyne/core/pkg/models"
)

func marshalReport(r models.JobReport) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalReport(s string) (*models.JobReport, bool) {
	if s == "" {
		return nil, false
	}
	var r models.JobReport
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return nil, false
	}
	return &r, true
}

func formatRFC3339(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
