package regulatory

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/hadesus/analyzerforCP/internal/apiclient"
	"github.com/hadesus/analyzerforCP/internal/model"
)

const maxDosageRunes = 1000

// OpenFDA checks the FDA drug label database by active ingredient and reads
// the standard dosage from the first label.
type OpenFDA struct {
	client *apiclient.Client
	apiKey string
}

func NewOpenFDA(client *apiclient.Client, apiKey string) *OpenFDA {
	return &OpenFDA{client: client, apiKey: strings.TrimSpace(apiKey)}
}

func (f *OpenFDA) Regulator() model.Regulator { return model.RegulatorFDA }

type labelResponse struct {
	Results []struct {
		DosageAndAdministration []string `json:"dosage_and_administration"`
		OpenFDA                 struct {
			BrandName   []string `json:"brand_name"`
			GenericName []string `json:"generic_name"`
		} `json:"openfda"`
	} `json:"results"`
}

func (f *OpenFDA) Check(ctx context.Context, s Subject) (model.RegulatoryStatus, error) {
	q := url.Values{
		"search": {fmt.Sprintf(`active_ingredient:"%s"`, s.INN)},
		"limit":  {"1"},
	}
	if f.apiKey != "" {
		q.Set("api_key", f.apiKey)
	}
	var resp labelResponse
	err := f.client.GetJSON(ctx, "/drug/label.json", q, &resp)
	if errors.Is(err, apiclient.ErrNotFound) {
		return model.RegulatoryStatus{Status: model.StatusNotFound}, nil
	}
	if err != nil {
		return model.RegulatoryStatus{}, err
	}
	if len(resp.Results) == 0 {
		return model.RegulatoryStatus{Status: model.StatusNotFound}, nil
	}
	first := resp.Results[0]
	st := model.RegulatoryStatus{Status: model.StatusApproved}
	if len(first.DosageAndAdministration) > 0 {
		st.StandardDosage = clampRunes(strings.TrimSpace(first.DosageAndAdministration[0]), maxDosageRunes)
	}
	if len(first.OpenFDA.BrandName) > 0 {
		st.Detail = "Label: " + strings.Join(first.OpenFDA.BrandName, ", ")
	}
	return st, nil
}

func clampRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
