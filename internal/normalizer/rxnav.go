package normalizer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/hadesus/analyzerforCP/internal/apiclient"
)

var errNoIngredient = errors.New("no ingredient concept")

// RxNav resolves drug names to their ingredient concept through the NLM
// RxNorm REST API.
type RxNav struct {
	client *apiclient.Client
}

func NewRxNav(client *apiclient.Client) *RxNav {
	return &RxNav{client: client}
}

type rxcuiResponse struct {
	IDGroup struct {
		RxNormID []string `json:"rxnormId"`
	} `json:"idGroup"`
}

type allRelatedResponse struct {
	AllRelatedGroup struct {
		ConceptGroup []struct {
			TTY               string `json:"tty"`
			ConceptProperties []struct {
				RxCUI string `json:"rxcui"`
				Name  string `json:"name"`
			} `json:"conceptProperties"`
		} `json:"conceptGroup"`
	} `json:"allRelatedGroup"`
}

// ResolveIngredient maps a name to the canonical ingredient (TTY "IN") name.
func (r *RxNav) ResolveIngredient(ctx context.Context, name string) (string, error) {
	var ids rxcuiResponse
	q := url.Values{"name": {name}, "search": {"2"}}
	if err := r.client.GetJSON(ctx, "/rxcui.json", q, &ids); err != nil {
		return "", fmt.Errorf("lookup rxcui: %w", err)
	}
	if len(ids.IDGroup.RxNormID) == 0 {
		return "", fmt.Errorf("lookup rxcui %q: %w", name, errNoIngredient)
	}
	rxcui := ids.IDGroup.RxNormID[0]

	var related allRelatedResponse
	if err := r.client.GetJSON(ctx, "/rxcui/"+url.PathEscape(rxcui)+"/allrelated.json", nil, &related); err != nil {
		return "", fmt.Errorf("lookup related concepts for %s: %w", rxcui, err)
	}
	for _, g := range related.AllRelatedGroup.ConceptGroup {
		if g.TTY != "IN" || len(g.ConceptProperties) == 0 {
			continue
		}
		if n := strings.TrimSpace(g.ConceptProperties[0].Name); n != "" {
			return n, nil
		}
	}
	return "", fmt.Errorf("rxcui %s: %w", rxcui, errNoIngredient)
}
