package literature

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/hadesus/analyzerforCP/internal/apiclient"
	"github.com/hadesus/analyzerforCP/internal/model"
)

const (
	abstractPreviewRunes = 300
	maxListedAuthors     = 3
	pubmedArticleURL     = "https://pubmed.ncbi.nlm.nih.gov/%s/"
)

// EUtils talks to the NCBI E-utilities esearch and efetch endpoints.
type EUtils struct {
	client *apiclient.Client
	apiKey string
	tool   string
	email  string
}

type EUtilsOption func(*EUtils)

// WithNCBIIdentity sets the optional api_key, tool and email parameters NCBI
// asks clients to send.
func WithNCBIIdentity(apiKey, tool, email string) EUtilsOption {
	return func(e *EUtils) {
		e.apiKey = strings.TrimSpace(apiKey)
		e.tool = strings.TrimSpace(tool)
		e.email = strings.TrimSpace(email)
	}
}

func NewEUtils(client *apiclient.Client, opts ...EUtilsOption) *EUtils {
	e := &EUtils{client: client}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type esearchResponse struct {
	Result struct {
		Count  string   `json:"count"`
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
	Error string `json:"error"`
}

// Search returns up to max PMIDs for term, sorted by relevance.
func (e *EUtils) Search(ctx context.Context, term string, max int) ([]string, error) {
	q := e.params()
	q.Set("term", term)
	q.Set("retmax", strconv.Itoa(max))
	q.Set("sort", "relevance")
	q.Set("retmode", "json")

	var resp esearchResponse
	if err := e.client.GetJSON(ctx, "/esearch.fcgi", q, &resp); err != nil {
		return nil, fmt.Errorf("esearch: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("esearch: %s", resp.Error)
	}
	return resp.Result.IDList, nil
}

// Fetch retrieves and maps the article records for ids.
func (e *EUtils) Fetch(ctx context.Context, ids []string) ([]model.LiteratureRecord, error) {
	if len(ids) == 0 {
		return []model.LiteratureRecord{}, nil
	}
	q := e.params()
	q.Set("id", strings.Join(ids, ","))
	q.Set("retmode", "xml")

	body, err := e.client.Get(ctx, "/efetch.fcgi", q)
	if err != nil {
		return nil, fmt.Errorf("efetch: %w", err)
	}
	var set pubmedArticleSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("efetch: decode xml: %w", err)
	}
	out := make([]model.LiteratureRecord, 0, len(set.Articles))
	for _, a := range set.Articles {
		out = append(out, a.record())
	}
	return out, nil
}

func (e *EUtils) params() url.Values {
	q := url.Values{"db": {"pubmed"}}
	if e.apiKey != "" {
		q.Set("api_key", e.apiKey)
	}
	if e.tool != "" {
		q.Set("tool", e.tool)
	}
	if e.email != "" {
		q.Set("email", e.email)
	}
	return q
}

// xmlText collects all character data of an element, flattening inline
// markup such as <i> or <sup> in titles and abstracts.
type xmlText string

func (t *xmlText) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var sb strings.Builder
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch v := tok.(type) {
		case xml.CharData:
			sb.Write(v)
		case xml.EndElement:
			if v.Name == start.Name {
				*t = xmlText(strings.Join(strings.Fields(sb.String()), " "))
				return nil
			}
		}
	}
}

type pubmedArticleSet struct {
	Articles []pubmedArticle `xml:"PubmedArticle"`
}

type pubmedArticle struct {
	Citation struct {
		PMID    string `xml:"PMID"`
		Article struct {
			Journal struct {
				Title           string `xml:"Title"`
				ISOAbbreviation string `xml:"ISOAbbreviation"`
				PubDate         struct {
					Year        string `xml:"Year"`
					Month       string `xml:"Month"`
					Day         string `xml:"Day"`
					MedlineDate string `xml:"MedlineDate"`
				} `xml:"JournalIssue>PubDate"`
			} `xml:"Journal"`
			Title    xmlText   `xml:"ArticleTitle"`
			Abstract []xmlText `xml:"Abstract>AbstractText"`
			Authors  []struct {
				LastName       string `xml:"LastName"`
				Initials       string `xml:"Initials"`
				CollectiveName string `xml:"CollectiveName"`
			} `xml:"AuthorList>Author"`
			PublicationTypes []string `xml:"PublicationTypeList>PublicationType"`
		} `xml:"Article"`
		JournalInfo struct {
			MedlineTA string `xml:"MedlineTA"`
		} `xml:"MedlineJournalInfo"`
	} `xml:"MedlineCitation"`
}

func (a pubmedArticle) record() model.LiteratureRecord {
	c := a.Citation
	rec := model.LiteratureRecord{
		PMID:             strings.TrimSpace(c.PMID),
		Title:            firstNonEmpty(string(c.Article.Title), "No title available"),
		Authors:          formatAuthors(a),
		Journal:          firstNonEmpty(c.JournalInfo.MedlineTA, c.Article.Journal.ISOAbbreviation, c.Article.Journal.Title, "N/A"),
		PublicationDate:  formatPubDate(a),
		PublicationTypes: c.Article.PublicationTypes,
		AbstractPreview:  abstractPreview(a),
	}
	if len(rec.PublicationTypes) == 0 {
		rec.PublicationTypes = []string{"Article"}
	}
	if rec.PMID != "" {
		rec.Link = fmt.Sprintf(pubmedArticleURL, rec.PMID)
	}
	return rec
}

func formatAuthors(a pubmedArticle) string {
	var names []string
	for _, au := range a.Citation.Article.Authors {
		name := strings.TrimSpace(strings.TrimSpace(au.LastName) + " " + strings.TrimSpace(au.Initials))
		if name == "" {
			name = strings.TrimSpace(au.CollectiveName)
		}
		if name != "" {
			names = append(names, name)
		}
	}
	if len(names) > maxListedAuthors {
		return strings.Join(names[:maxListedAuthors], ", ") + " et al."
	}
	return strings.Join(names, ", ")
}

func formatPubDate(a pubmedArticle) string {
	d := a.Citation.Article.Journal.PubDate
	if d.MedlineDate != "" {
		return d.MedlineDate
	}
	parts := make([]string, 0, 3)
	for _, p := range []string{d.Year, d.Month, d.Day} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "N/A"
	}
	return strings.Join(parts, " ")
}

func abstractPreview(a pubmedArticle) string {
	sections := make([]string, 0, len(a.Citation.Article.Abstract))
	for _, s := range a.Citation.Article.Abstract {
		if s != "" {
			sections = append(sections, string(s))
		}
	}
	text := strings.Join(sections, " ")
	r := []rune(text)
	if len(r) > abstractPreviewRunes {
		return string(r[:abstractPreviewRunes]) + "..."
	}
	return text
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
