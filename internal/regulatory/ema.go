package regulatory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/hadesus/analyzerforCP/internal/apiclient"
	"github.com/hadesus/analyzerforCP/internal/model"
)

// EMA searches the EMA electronic product information registry by title.
type EMA struct {
	client *apiclient.Client
}

func NewEMA(client *apiclient.Client) *EMA {
	return &EMA{client: client}
}

func (e *EMA) Regulator() model.Regulator { return model.RegulatorEMA }

func (e *EMA) Check(ctx context.Context, s Subject) (model.RegulatoryStatus, error) {
	var raw json.RawMessage
	err := e.client.GetJSON(ctx, "/api/retrieval/listbysearchparameter", url.Values{"title": {s.INN}}, &raw)
	if errors.Is(err, apiclient.ErrNotFound) {
		return model.RegulatoryStatus{Status: model.StatusNotFound}, nil
	}
	if err != nil {
		return model.RegulatoryStatus{}, err
	}
	n, err := countEntries(raw)
	if err != nil {
		return model.RegulatoryStatus{}, fmt.Errorf("ema: %w", err)
	}
	if n == 0 {
		return model.RegulatoryStatus{Status: model.StatusNotFound}, nil
	}
	return model.RegulatoryStatus{Status: model.StatusFound, Detail: fmt.Sprintf("%d product information record(s)", n)}, nil
}

// countEntries accepts either a bare JSON array or an envelope object
// carrying the list under a common key.
func countEntries(raw json.RawMessage) (int, error) {
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		return len(list), nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return 0, errors.New("unexpected response shape")
	}
	for _, key := range []string{"entry", "data", "results", "items"} {
		if v, ok := obj[key]; ok {
			if err := json.Unmarshal(v, &list); err == nil {
				return len(list), nil
			}
		}
	}
	var total struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(raw, &total); err == nil {
		return total.Total, nil
	}
	return 0, nil
}
