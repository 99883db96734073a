package discovery

import (
	"context"
	"errors"
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
	SourceSlack = "slack"

	slackPageSize    = 200
	slackMinInterval = time.Second
	slackBaseURL     = "https://slack.com/api"
	slackTitleLength = 80
)

var slackSecrets = []credentials.SecretSpec{
	{Key: "bot_token", Name: "slack/{connection_id}/bot_token", EnvVar: "SLACK_BOT_TOKEN"},
}

// ErrSlackAPI wraps the error code of an ok:false answer.
var ErrSlackAPI = errors.New("slack api error")

// skipped subtypes carry no conversation content.
var slackSkippedSubtypes = []string{"channel_join", "channel_leave", "channel_topic", "channel_purpose", "bot_add", "bot_remove"}

type slackEnvelope struct {
	OK       bool   `json:"ok"`
	Error    string `json:"error"`
	Metadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

type slackMessage struct {
	TS         string `json:"ts"`
	ThreadTS   string `json:"thread_ts"`
	User       string `json:"user"`
	Text       string `json:"text"`
	Subtype    string `json:"subtype"`
	ReplyCount int    `json:"reply_count"`
}

type slackUser struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	RealName string `json:"real_name"`
}

type slackMessagesResponse struct {
	slackEnvelope
	Messages []slackMessage `json:"messages"`
	HasMore  bool           `json:"has_more"`
}

// channelMessage is a top-level message together with the channel it was read
// from.
type channelMessage struct {
	channel string
	msg     slackMessage
}

func (m channelMessage) key() string {
	return m.channel + ":" + m.msg.TS
}

// Slack discovers channel conversations. Every top-level message becomes one
// item, with its thread replies appended.
type Slack struct {
	base
}

func NewSlack(deps Deps) Adapter {
	return &Slack{base: newBase(SourceSlack, deps)}
}

var _ ConnectionTester = (*Slack)(nil)

func slackAuth(b *credentials.Bundle) map[string]string {
	return map[string]string{"Authorization": "Bearer " + b.Credentials["bot_token"]}
}

func (s *Slack) api(ctx context.Context, opts Options) (*slackAPI, *credentials.Bundle, error) {
	bundle, err := s.load(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	if bundle.Credentials["bot_token"] == "" && bundle.String("base_url") == "" {
		return nil, nil, fmt.Errorf("%s: %w", s.sourceType, ErrNotConfigured)
	}

	baseURL := bundle.String("base_url")
	if baseURL == "" {
		baseURL = slackBaseURL
	}
	return &slackAPI{client: s.client(opts, bundle, baseURL, slackMinInterval, slackAuth)}, bundle, nil
}

func (s *Slack) Discover(ctx context.Context, opts Options) ([]Item, error) {
	api, bundle, err := s.api(ctx, opts)
	if err != nil {
		return nil, err
	}

	channels := bundle.Strings("channels")
	if len(channels) == 0 {
		s.logger.Warn("slack connection has no channels configured", "connection_id", opts.ConnectionID)
		return nil, nil
	}

	limit := opts.limit()
	var messages []channelMessage
	for _, ch := range channels {
		if len(messages) >= limit {
			break
		}
		history, err := api.history(ctx, ch, opts.Since, limit-len(messages))
		if err != nil {
			return nil, err
		}
		for _, m := range history {
			messages = append(messages, channelMessage{channel: ch, msg: m})
		}
	}
	if len(messages) == 0 {
		return nil, nil
	}

	threaded := slices.DeleteFunc(slices.Clone(messages), func(m channelMessage) bool { return m.msg.ReplyCount == 0 })
	replies := batch.Run(ctx, s.batch, threaded, channelMessage.key,
		func(ctx context.Context, m channelMessage) ([]slackMessage, error) {
			return api.replies(ctx, m.channel, m.msg.TS)
		})
	for key, err := range replies.Failures {
		s.logger.Warn("slack thread replies unavailable", "message", key, "error", err)
	}

	var userIDs []string
	for _, m := range messages {
		userIDs = append(userIDs, m.msg.User)
		for _, r := range replies.Outputs[m.key()] {
			userIDs = append(userIDs, r.User)
		}
	}
	slices.Sort(userIDs)
	userIDs = slices.DeleteFunc(slices.Compact(userIDs), func(id string) bool { return id == "" })

	resolved := batch.Run(ctx, s.batch, userIDs,
		func(id string) string { return id },
		api.user)
	names := make(map[string]string, len(userIDs))
	for id, u := range resolved.Outputs {
		names[id] = u
	}

	items := make([]Item, 0, len(messages))
	for _, m := range messages {
		items = append(items, buildSlackItem(m, replies.Outputs[m.key()], names))
	}

	s.logger.Info("slack discovery finished",
		"connection_id", opts.ConnectionID,
		"channels", len(channels),
		"messages", len(items),
		"threads", len(threaded),
	)
	return items, nil
}

func (s *Slack) TestConnection(ctx context.Context, opts Options) TestResult {
	api, _, err := s.api(ctx, opts)
	if err != nil {
		return testResult(err)
	}
	var resp slackEnvelope
	return testResult(api.call(ctx, "auth.test", nil, &resp, &resp))
}

type slackAPI struct {
	client *apiclient.Client
}

// call issues a Web API method and turns an ok:false answer into an error.
func (a *slackAPI) call(ctx context.Context, method string, params url.Values, env *slackEnvelope, out any) error {
	endpoint := method
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	if err := a.client.Get(ctx, endpoint, out); err != nil {
		return fmt.Errorf("slack %s: %w", method, err)
	}
	if !env.OK {
		return fmt.Errorf("slack %s: %w: %s", method, ErrSlackAPI, env.Error)
	}
	return nil
}

func (a *slackAPI) history(ctx context.Context, channel string, since time.Time, limit int) ([]slackMessage, error) {
	params := url.Values{}
	params.Set("channel", channel)
	params.Set("limit", strconv.Itoa(min(limit, slackPageSize)))
	if !since.IsZero() {
		params.Set("oldest", strconv.FormatInt(since.Unix(), 10))
	}

	var out []slackMessage
	for len(out) < limit {
		var page slackMessagesResponse
		if err := a.call(ctx, "conversations.history", params, &page.slackEnvelope, &page); err != nil {
			return nil, err
		}
		for _, m := range page.Messages {
			if slices.Contains(slackSkippedSubtypes, m.Subtype) {
				continue
			}
			if m.ThreadTS != "" && m.ThreadTS != m.TS {
				continue
			}
			out = append(out, m)
		}

		cursor := page.Metadata.NextCursor
		if !page.HasMore || cursor == "" {
			break
		}
		params.Set("cursor", cursor)
	}

	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// replies returns the thread replies of ts without the parent message.
func (a *slackAPI) replies(ctx context.Context, channel, ts string) ([]slackMessage, error) {
	params := url.Values{}
	params.Set("channel", channel)
	params.Set("ts", ts)

	var out []slackMessage
	for {
		var page slackMessagesResponse
		if err := a.call(ctx, "conversations.replies", params, &page.slackEnvelope, &page); err != nil {
			return nil, err
		}
		for _, m := range page.Messages {
			if m.TS != ts {
				out = append(out, m)
			}
		}

		cursor := page.Metadata.NextCursor
		if !page.HasMore || cursor == "" {
			return out, nil
		}
		params.Set("cursor", cursor)
	}
}

func (a *slackAPI) user(ctx context.Context, id string) (string, error) {
	var resp struct {
		slackEnvelope
		User slackUser `json:"user"`
	}
	if err := a.call(ctx, "users.info", url.Values{"user": {id}}, &resp.slackEnvelope, &resp); err != nil {
		return "", err
	}
	if resp.User.RealName != "" {
		return resp.User.RealName, nil
	}
	return resp.User.Name, nil
}

func slackTime(ts string) time.Time {
	sec, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var ns int64
	if frac != "" {
		frac = (frac + "000000000")[:9]
		ns, _ = strconv.ParseInt(frac, 10, 64)
	}
	return time.Unix(s, ns).UTC()
}

func displayName(names map[string]string, id string) string {
	if n := names[id]; n != "" {
		return n
	}
	if id == "" {
		return "unknown"
	}
	return id
}

func buildSlackItem(m channelMessage, replies []slackMessage, names map[string]string) Item {
	var b strings.Builder
	participants := []string{}
	write := func(msg slackMessage) {
		name := displayName(names, msg.User)
		if !slices.Contains(participants, name) {
			participants = append(participants, name)
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%s] %s: %s", slackTime(msg.TS).Format(time.RFC3339), name, strings.TrimSpace(msg.Text))
	}

	write(m.msg)
	for _, r := range replies {
		write(r)
	}
	content := b.String()

	title := firstLine(m.msg.Text, slackTitleLength)
	if title == "" {
		title = "Message in " + m.channel
	}

	return Item{
		ExternalID: m.key(),
		Title:      title,
		Content:    content,
		Preview:    Preview(content),
		Metadata: map[string]any{
			"channel":      m.channel,
			"ts":           m.msg.TS,
			"posted_at":    slackTime(m.msg.TS),
			"reply_count":  len(replies),
			"participants": participants,
		},
	}
}
