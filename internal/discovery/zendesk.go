package discovery

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joshu-sajeev/sourcestage/internal/apiclient"
	"github.com/joshu-sajeev/sourcestage/internal/batch"
	"github.com/joshu-sajeev/sourcestage/internal/credentials"
)

const (
	SourceZendesk = "zendesk"

	zendeskPageSize    = 100
	zendeskMinInterval = 200 * time.Millisecond
	zendeskUserChunk   = 100
)

var zendeskSecrets = []credentials.SecretSpec{
	{Key: "subdomain", Name: "zendesk/{connection_id}/subdomain", EnvVar: "ZENDESK_SUBDOMAIN"},
	{Key: "email", Name: "zendesk/{connection_id}/email", EnvVar: "ZENDESK_EMAIL"},
	{Key: "api_token", Name: "zendesk/{connection_id}/api_token", EnvVar: "ZENDESK_API_TOKEN"},
}

type zendeskTicket struct {
	ID          int64     `json:"id"`
	URL         string    `json:"url"`
	Subject     string    `json:"subject"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Priority    string    `json:"priority"`
	Tags        []string  `json:"tags"`
	RequesterID int64     `json:"requester_id"`
	AssigneeID  *int64    `json:"assignee_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type zendeskComment struct {
	ID        int64     `json:"id"`
	AuthorID  int64     `json:"author_id"`
	Body      string    `json:"body"`
	PlainBody string    `json:"plain_body"`
	Public    bool      `json:"public"`
	CreatedAt time.Time `json:"created_at"`
}

type zendeskUser struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type zendeskSearchResponse struct {
	Results  []zendeskTicket `json:"results"`
	NextPage *string         `json:"next_page"`
	Count    int             `json:"count"`
}

// Zendesk discovers support tickets updated since a point in time.
type Zendesk struct {
	base
}

func NewZendesk(deps Deps) Adapter {
	return &Zendesk{base: newBase(SourceZendesk, deps)}
}

var (
	_ ContentFetcher   = (*Zendesk)(nil)
	_ ConnectionTester = (*Zendesk)(nil)
)

func (z *Zendesk) api(ctx context.Context, opts Options) (*zendeskAPI, error) {
	bundle, err := z.load(ctx, opts)
	if err != nil {
		return nil, err
	}

	baseURL := bundle.String("base_url")
	if baseURL == "" {
		subdomain := bundle.Credentials["subdomain"]
		if subdomain == "" || bundle.Credentials["api_token"] == "" {
			return nil, fmt.Errorf("%s: %w", z.sourceType, ErrNotConfigured)
		}
		baseURL = fmt.Sprintf("https://%s.zendesk.com/api/v2", subdomain)
	}

	return &zendeskAPI{
		bundle: bundle,
		client: z.client(opts, bundle, baseURL, zendeskMinInterval, zendeskAuth),
	}, nil
}

func zendeskAuth(b *credentials.Bundle) map[string]string {
	raw := b.Credentials["email"] + "/token:" + b.Credentials["api_token"]
	return map[string]string{
		"Authorization": "Basic " + base64.StdEncoding.EncodeToString([]byte(raw)),
	}
}

func (z *Zendesk) Discover(ctx context.Context, opts Options) ([]Item, error) {
	api, err := z.api(ctx, opts)
	if err != nil {
		return nil, err
	}

	tickets, err := api.searchTickets(ctx, zendeskQuery(opts.Since, api.bundle.Strings("tags")), opts.limit())
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, nil
	}

	comments := batch.Run(ctx, z.batch, tickets,
		func(t zendeskTicket) int64 { return t.ID },
		func(ctx context.Context, t zendeskTicket) ([]zendeskComment, error) {
			return api.comments(ctx, t.ID)
		})
	for id, err := range comments.Failures {
		z.logger.Warn("ticket comments unavailable", "ticket_id", id, "error", err)
	}

	userIDs := make([]int64, 0, len(tickets)*2)
	for _, t := range tickets {
		userIDs = append(userIDs, t.RequesterID)
		if t.AssigneeID != nil {
			userIDs = append(userIDs, *t.AssigneeID)
		}
		for _, c := range comments.Outputs[t.ID] {
			userIDs = append(userIDs, c.AuthorID)
		}
	}
	users, err := api.users(ctx, userIDs)
	if err != nil {
		z.logger.Warn("zendesk user lookup failed, using ids", "error", err)
		users = map[int64]zendeskUser{}
	}

	items := make([]Item, 0, len(tickets))
	for _, t := range tickets {
		cs, ok := comments.Outputs[t.ID]
		item := buildTicketItem(t, cs, users)
		if !ok {
			item.Metadata["comments_unavailable"] = true
		}
		items = append(items, item)
	}

	z.logger.Info("zendesk discovery finished",
		"connection_id", opts.ConnectionID,
		"tickets", len(items),
		"comment_batches", comments.Batches,
	)
	return items, nil
}

func (z *Zendesk) FetchContent(ctx context.Context, opts Options, externalID string) (string, error) {
	id, err := strconv.ParseInt(externalID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid zendesk ticket id %q: %w", externalID, err)
	}

	api, err := z.api(ctx, opts)
	if err != nil {
		return "", err
	}

	var resp struct {
		Ticket zendeskTicket `json:"ticket"`
	}
	if err := api.client.Get(ctx, fmt.Sprintf("tickets/%d.json", id), &resp); err != nil {
		return "", fmt.Errorf("get zendesk ticket %d: %w", id, err)
	}

	comments, err := api.comments(ctx, id)
	if err != nil {
		return "", err
	}

	ids := make([]int64, 0, len(comments))
	for _, c := range comments {
		ids = append(ids, c.AuthorID)
	}
	users, err := api.users(ctx, ids)
	if err != nil {
		users = map[int64]zendeskUser{}
	}

	return ticketContent(resp.Ticket, comments, users), nil
}

func (z *Zendesk) TestConnection(ctx context.Context, opts Options) TestResult {
	api, err := z.api(ctx, opts)
	if err != nil {
		return testResult(err)
	}
	var me struct {
		User zendeskUser `json:"user"`
	}
	return testResult(api.client.Get(ctx, "users/me.json", &me))
}

func zendeskQuery(since time.Time, tags []string) string {
	var b strings.Builder
	b.WriteString("type:ticket")
	if !since.IsZero() {
		b.WriteString(" updated>=")
		b.WriteString(since.UTC().Format(time.RFC3339))
	}
	for _, tag := range tags {
		b.WriteString(" tags:")
		b.WriteString(tag)
	}
	return b.String()
}

type zendeskAPI struct {
	bundle *credentials.Bundle
	client *apiclient.Client
}

func (a *zendeskAPI) searchTickets(ctx context.Context, query string, limit int) ([]zendeskTicket, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("sort_by", "updated_at")
	params.Set("sort_order", "asc")
	params.Set("per_page", strconv.Itoa(min(limit, zendeskPageSize)))

	endpoint := "search.json?" + params.Encode()
	var tickets []zendeskTicket
	for endpoint != "" && len(tickets) < limit {
		var page zendeskSearchResponse
		if err := a.client.Get(ctx, endpoint, &page); err != nil {
			return nil, fmt.Errorf("search zendesk tickets: %w", err)
		}
		tickets = append(tickets, page.Results...)

		endpoint = ""
		if page.NextPage != nil && len(page.Results) > 0 {
			endpoint = *page.NextPage
		}
	}

	if len(tickets) > limit {
		tickets = tickets[:limit]
	}
	return tickets, nil
}

func (a *zendeskAPI) comments(ctx context.Context, ticketID int64) ([]zendeskComment, error) {
	var resp struct {
		Comments []zendeskComment `json:"comments"`
	}
	if err := a.client.Get(ctx, fmt.Sprintf("tickets/%d/comments.json?sort_order=asc", ticketID), &resp); err != nil {
		return nil, fmt.Errorf("list comments of ticket %d: %w", ticketID, err)
	}
	return resp.Comments, nil
}

// users resolves ids in chunks the show_many endpoint accepts.
func (a *zendeskAPI) users(ctx context.Context, ids []int64) (map[int64]zendeskUser, error) {
	slices.Sort(ids)
	ids = slices.Compact(ids)
	ids = slices.DeleteFunc(ids, func(id int64) bool { return id == 0 })

	users := make(map[int64]zendeskUser, len(ids))
	for chunk := range slices.Chunk(ids, zendeskUserChunk) {
		parts := make([]string, len(chunk))
		for i, id := range chunk {
			parts[i] = strconv.FormatInt(id, 10)
		}

		var resp struct {
			Users []zendeskUser `json:"users"`
		}
		if err := a.client.Get(ctx, "users/show_many.json?ids="+strings.Join(parts, ","), &resp); err != nil {
			return nil, fmt.Errorf("show zendesk users: %w", err)
		}
		for _, u := range resp.Users {
			users[u.ID] = u
		}
	}
	return users, nil
}

func userName(users map[int64]zendeskUser, id int64) string {
	if u, ok := users[id]; ok && u.Name != "" {
		return u.Name
	}
	return "user " + strconv.FormatInt(id, 10)
}

func buildTicketItem(t zendeskTicket, comments []zendeskComment, users map[int64]zendeskUser) Item {
	content := ticketContent(t, comments, users)

	participants := []string{userName(users, t.RequesterID)}
	publicCount := 0
	for _, c := range comments {
		if !c.Public {
			continue
		}
		publicCount++
		if name := userName(users, c.AuthorID); !slices.Contains(participants, name) {
			participants = append(participants, name)
		}
	}

	meta := map[string]any{
		"ticket_id":     t.ID,
		"status":        t.Status,
		"priority":      t.Priority,
		"tags":          t.Tags,
		"requester":     userName(users, t.RequesterID),
		"participants":  participants,
		"comment_count": publicCount,
		"created_at":    t.CreatedAt,
		"updated_at":    t.UpdatedAt,
		"url":           t.URL,
	}
	if t.AssigneeID != nil {
		meta["assignee"] = userName(users, *t.AssigneeID)
	}

	title := t.Subject
	if title == "" {
		title = fmt.Sprintf("Ticket #%d", t.ID)
	}

	return Item{
		ExternalID: strconv.FormatInt(t.ID, 10),
		Title:      title,
		Content:    content,
		Preview:    Preview(content),
		Metadata:   meta,
	}
}

// ticketContent renders the description followed by public comments in
// chronological order. Internal notes never leave Zendesk.
func ticketContent(t zendeskTicket, comments []zendeskComment, users map[int64]zendeskUser) string {
	var b strings.Builder
	if t.Subject != "" {
		b.WriteString(t.Subject)
		b.WriteString("\n\n")
	}
	b.WriteString(strings.TrimSpace(t.Description))

	public := slices.DeleteFunc(slices.Clone(comments), func(c zendeskComment) bool { return !c.Public })
	slices.SortStableFunc(public, func(a, b zendeskComment) int { return a.CreatedAt.Compare(b.CreatedAt) })

	for _, c := range public {
		body := c.PlainBody
		if body == "" {
			body = c.Body
		}
		fmt.Fprintf(&b, "\n\n%s (%s):\n%s",
			userName(users, c.AuthorID), c.CreatedAt.UTC().Format(time.RFC3339), strings.TrimSpace(body))
	}
	return b.String()
}
