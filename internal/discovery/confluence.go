package discovery

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joshu-sajeev/sourcestage/internal/apiclient"
	"github.com/joshu-sajeev/sourcestage/internal/batch"
	"github.com/joshu-sajeev/sourcestage/internal/credentials"
)

const (
	SourceConfluence = "confluence"

	confluencePageSize    = 50
	confluenceMinInterval = 100 * time.Millisecond
	confluenceExpand      = "body.storage,version,space"
	cqlTimeLayout         = "2006-01-02 15:04"
)

var confluenceSecrets = []credentials.SecretSpec{
	{Key: "site", Name: "confluence/{connection_id}/site", EnvVar: "CONFLUENCE_SITE"},
	{Key: "email", Name: "confluence/{connection_id}/email", EnvVar: "CONFLUENCE_EMAIL"},
	{Key: "api_token", Name: "confluence/{connection_id}/api_token", EnvVar: "CONFLUENCE_API_TOKEN"},
}

type confluencePage struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
	Space struct {
		Key  string `json:"key"`
		Name string `json:"name"`
	} `json:"space"`
	Version struct {
		Number int       `json:"number"`
		When   time.Time `json:"when"`
		By     struct {
			DisplayName string `json:"displayName"`
		} `json:"by"`
	} `json:"version"`
	Body struct {
		Storage struct {
			Value string `json:"value"`
		} `json:"storage"`
	} `json:"body"`
	Links struct {
		WebUI string `json:"webui"`
	} `json:"_links"`
}

type confluenceSearchResponse struct {
	Results []confluencePage `json:"results"`
	Size    int              `json:"size"`
	Links   struct {
		Next string `json:"next"`
	} `json:"_links"`
}

// Confluence discovers wiki pages modified since a point in time, optionally
// restricted to configured spaces.
type Confluence struct {
	base
}

func NewConfluence(deps Deps) Adapter {
	return &Confluence{base: newBase(SourceConfluence, deps)}
}

var (
	_ ContentFetcher   = (*Confluence)(nil)
	_ ConnectionTester = (*Confluence)(nil)
)

func confluenceAuth(b *credentials.Bundle) map[string]string {
	raw := b.Credentials["email"] + ":" + b.Credentials["api_token"]
	return map[string]string{
		"Authorization": "Basic " + base64.StdEncoding.EncodeToString([]byte(raw)),
	}
}

func (c *Confluence) api(ctx context.Context, opts Options) (*confluenceAPI, *credentials.Bundle, error) {
	bundle, err := c.load(ctx, opts)
	if err != nil {
		return nil, nil, err
	}

	baseURL := bundle.String("base_url")
	if baseURL == "" {
		site := bundle.Credentials["site"]
		if site == "" || bundle.Credentials["api_token"] == "" {
			return nil, nil, fmt.Errorf("%s: %w", c.sourceType, ErrNotConfigured)
		}
		if !strings.Contains(site, ".") {
			site += ".atlassian.net"
		}
		baseURL = "https://" + strings.TrimPrefix(site, "https://") + "/wiki"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	return &confluenceAPI{
		baseURL: baseURL,
		client:  c.client(opts, bundle, baseURL, confluenceMinInterval, confluenceAuth),
	}, bundle, nil
}

func (c *Confluence) Discover(ctx context.Context, opts Options) ([]Item, error) {
	api, bundle, err := c.api(ctx, opts)
	if err != nil {
		return nil, err
	}

	pages, err := api.search(ctx, confluenceCQL(opts.Since, bundle.Strings("spaces")), opts.limit())
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, nil
	}

	labels := batch.Run(ctx, c.batch, pages,
		func(p confluencePage) string { return p.ID },
		api.labels)
	for id, err := range labels.Failures {
		c.logger.Warn("confluence labels unavailable", "page_id", id, "error", err)
	}

	items := make([]Item, 0, len(pages))
	for _, p := range pages {
		content := HTMLToText(p.Body.Storage.Value)
		pageLabels := labels.Outputs[p.ID]
		if pageLabels == nil {
			pageLabels = []string{}
		}

		items = append(items, Item{
			ExternalID: p.ID,
			Title:      p.Title,
			Content:    content,
			Preview:    Preview(content),
			Metadata: map[string]any{
				"space_key":        p.Space.Key,
				"space_name":       p.Space.Name,
				"version":          p.Version.Number,
				"last_modified":    p.Version.When,
				"last_modified_by": p.Version.By.DisplayName,
				"labels":           pageLabels,
				"url":              api.baseURL + p.Links.WebUI,
			},
		})
	}

	c.logger.Info("confluence discovery finished",
		"connection_id", opts.ConnectionID,
		"pages", len(items),
		"label_batches", labels.Batches,
	)
	return items, nil
}

func (c *Confluence) FetchContent(ctx context.Context, opts Options, externalID string) (string, error) {
	api, _, err := c.api(ctx, opts)
	if err != nil {
		return "", err
	}

	var page confluencePage
	endpoint := "rest/api/content/" + url.PathEscape(externalID) + "?expand=body.storage"
	if err := api.client.Get(ctx, endpoint, &page); err != nil {
		return "", fmt.Errorf("get confluence page %s: %w", externalID, err)
	}
	return HTMLToText(page.Body.Storage.Value), nil
}

func (c *Confluence) TestConnection(ctx context.Context, opts Options) TestResult {
	api, _, err := c.api(ctx, opts)
	if err != nil {
		return testResult(err)
	}
	var user map[string]any
	return testResult(api.client.Get(ctx, "rest/api/user/current", &user))
}

func confluenceCQL(since time.Time, spaces []string) string {
	clauses := []string{"type=page"}
	if !since.IsZero() {
		clauses = append(clauses, fmt.Sprintf(`lastmodified >= "%s"`, since.UTC().Format(cqlTimeLayout)))
	}
	if len(spaces) > 0 {
		quoted := make([]string, len(spaces))
		for i, s := range spaces {
			quoted[i] = strconv.Quote(s)
		}
		clauses = append(clauses, "space in ("+strings.Join(quoted, ",")+")")
	}
	return strings.Join(clauses, " AND ") + " order by lastmodified asc"
}

type confluenceAPI struct {
	baseURL string
	client  *apiclient.Client
}

func (a *confluenceAPI) search(ctx context.Context, cql string, limit int) ([]confluencePage, error) {
	params := url.Values{}
	params.Set("cql", cql)
	params.Set("limit", strconv.Itoa(min(limit, confluencePageSize)))
	params.Set("expand", confluenceExpand)

	endpoint := "rest/api/content/search?" + params.Encode()
	var pages []confluencePage
	for endpoint != "" && len(pages) < limit {
		var page confluenceSearchResponse
		if err := a.client.Get(ctx, endpoint, &page); err != nil {
			return nil, fmt.Errorf("search confluence pages: %w", err)
		}
		pages = append(pages, page.Results...)

		endpoint = ""
		if page.Links.Next != "" && len(page.Results) > 0 {
			endpoint = page.Links.Next
		}
	}

	if len(pages) > limit {
		pages = pages[:limit]
	}
	return pages, nil
}

func (a *confluenceAPI) labels(ctx context.Context, page confluencePage) ([]string, error) {
	var resp struct {
		Results []struct {
			Name string `json:"name"`
		} `json:"results"`
	}
	if err := a.client.Get(ctx, "rest/api/content/"+url.PathEscape(page.ID)+"/label", &resp); err != nil {
		return nil, fmt.Errorf("list labels of page %s: %w", page.ID, err)
	}

	labels := make([]string, 0, len(resp.Results))
	for _, l := range resp.Results {
		labels = append(labels, l.Name)
	}
	return labels, nil
}
