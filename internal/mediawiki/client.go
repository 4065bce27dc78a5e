// Package mediawiki is a read-only client for the MediaWiki action API,
// covering what the archive needs: page listing, the recent-changes feed,
// revision history, file metadata and existence probes.
package mediawiki

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/vonshlovens/wikiarchive/internal/config"
)

// revisions with content are capped at 50 per request by the API
const maxContentBatch = 50

// Client talks to one wiki's api.php
type Client struct {
	APIURL    string
	UserAgent string
	MaxLag    int
	BatchSize int
	client    *http.Client
}

var _ Source = (*Client)(nil)

// New creates a client for the configured wiki
func New(cfg *config.WikiConfig) *Client {
	return &Client{
		APIURL:    cfg.APIURL,
		UserAgent: cfg.UserAgent,
		MaxLag:    cfg.MaxLag,
		BatchSize: cfg.BatchSize,
		client:    &http.Client{Timeout: cfg.RequestTimeout()},
	}
}

// get performs one API request and maps every failure onto the
// transient/permanent taxonomy.
func (c *Client) get(ctx context.Context, op string, params url.Values) (gjson.Result, error) {
	params.Set("format", "json")
	params.Set("formatversion", "2")
	if c.MaxLag > 0 {
		params.Set("maxlag", strconv.Itoa(c.MaxLag))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.APIURL+"?"+params.Encode(), nil)
	if err != nil {
		return gjson.Result{}, &PermanentError{Op: op, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return gjson.Result{}, ctx.Err()
		}
		return gjson.Result{}, &TransientError{Op: op, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return gjson.Result{}, ctx.Err()
		}
		return gjson.Result{}, &TransientError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("failed to read body: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return gjson.Result{}, &TransientError{
			Op:         op,
			Status:     resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        errors.New(http.StatusText(resp.StatusCode)),
		}
	case resp.StatusCode == http.StatusNotFound:
		return gjson.Result{}, &PermanentError{Op: op, Status: resp.StatusCode, Err: ErrNotFound}
	case resp.StatusCode != http.StatusOK:
		return gjson.Result{}, &PermanentError{Op: op, Status: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}

	if !gjson.ValidBytes(body) {
		return gjson.Result{}, malformed(op, "response is not JSON")
	}
	res := gjson.ParseBytes(body)

	if apiErr := res.Get("error"); apiErr.Exists() {
		code := apiErr.Get("code").String()
		info := errors.New(apiErr.Get("info").String())
		switch code {
		case "maxlag", "ratelimited", "readonly":
			wait := parseRetryAfter(resp.Header.Get("Retry-After"))
			if wait == 0 && code == "maxlag" {
				wait = 5 * time.Second
			}
			return gjson.Result{}, &TransientError{Op: op, Code: code, RetryAfter: wait, Err: info}
		case "missingtitle", "nosuchpageid", "nosuchrevid":
			return gjson.Result{}, &PermanentError{Op: op, Code: code, Err: fmt.Errorf("%v: %w", info, ErrNotFound)}
		default:
			return gjson.Result{}, &PermanentError{Op: op, Code: code, Err: info}
		}
	}

	return res, nil
}

// query runs action=query, following continuation until exhausted
func (c *Client) query(ctx context.Context, op string, params url.Values, fn func(gjson.Result) error) error {
	params.Set("action", "query")
	cont := url.Values{}

	for {
		req := url.Values{}
		for k, v := range params {
			req[k] = v
		}
		for k, v := range cont {
			req[k] = v
		}

		res, err := c.get(ctx, op, req)
		if err != nil {
			return err
		}
		if err := fn(res); err != nil {
			return err
		}

		next := res.Get("continue")
		if !next.Exists() {
			return nil
		}
		cont = url.Values{}
		next.ForEach(func(k, v gjson.Result) bool {
			cont.Set(k.String(), v.String())
			return true
		})
	}
}

// ServerTime returns the remote clock
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	const op = "server time"
	res, err := c.get(ctx, op, url.Values{
		"action":       {"query"},
		"meta":         {"siteinfo"},
		"curtimestamp": {"1"},
	})
	if err != nil {
		return time.Time{}, err
	}
	ts, err := parseTime(res.Get("curtimestamp"))
	if err != nil {
		return time.Time{}, malformed(op, "curtimestamp: %v", err)
	}
	return ts, nil
}

// ListPages pages through a namespace with generator=allpages
func (c *Client) ListPages(ctx context.Context, namespace int, fn func([]PageInfo) error) error {
	const op = "list pages"
	params := url.Values{
		"generator":    {"allpages"},
		"gapnamespace": {strconv.Itoa(namespace)},
		"gaplimit":     {strconv.Itoa(c.batch(500))},
		"prop":         {"info"},
	}

	return c.query(ctx, op, params, func(res gjson.Result) error {
		raw := res.Get("query.pages").Array()
		if len(raw) == 0 {
			return nil
		}
		batch := make([]PageInfo, 0, len(raw))
		for _, p := range raw {
			info, err := parsePageInfo(op, p)
			if err != nil {
				return err
			}
			batch = append(batch, info)
		}
		return fn(batch)
	})
}

// ListRecentChanges returns edits, creations, moves, deletions and uploads
// from since to now, oldest first
func (c *Client) ListRecentChanges(ctx context.Context, since time.Time, namespaces []int) ([]RecentChange, error) {
	const op = "list recent changes"
	params := url.Values{
		"list":    {"recentchanges"},
		"rcstart": {since.UTC().Format(time.RFC3339)},
		"rcdir":   {"newer"},
		"rcprop":  {"title|ids|timestamp|loginfo"},
		"rctype":  {"edit|new|log"},
		"rclimit": {strconv.Itoa(c.batch(500))},
	}
	if len(namespaces) > 0 {
		ns := make([]string, len(namespaces))
		for i, n := range namespaces {
			ns[i] = strconv.Itoa(n)
		}
		params.Set("rcnamespace", strings.Join(ns, "|"))
	}

	var changes []RecentChange
	err := c.query(ctx, op, params, func(res gjson.Result) error {
		for _, rc := range res.Get("query.recentchanges").Array() {
			change, err := parseRecentChange(op, rc)
			if err != nil {
				return err
			}
			changes = append(changes, change)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changes, nil
}

// FetchRevisions returns revisions of a page newer than sinceRevID, oldest first
func (c *Client) FetchRevisions(ctx context.Context, pageID, sinceRevID int64) ([]Revision, error) {
	const op = "fetch revisions"
	params := url.Values{
		"prop":    {"revisions"},
		"pageids": {strconv.FormatInt(pageID, 10)},
		"rvprop":  {"ids|timestamp|user|userid|comment|content|size|sha1|flags|tags"},
		"rvslots": {"main"},
		"rvdir":   {"newer"},
		"rvlimit": {strconv.Itoa(c.batch(maxContentBatch))},
	}
	if sinceRevID > 0 {
		params.Set("rvstartid", strconv.FormatInt(sinceRevID, 10))
	}

	var revs []Revision
	err := c.query(ctx, op, params, func(res gjson.Result) error {
		page := res.Get("query.pages.0")
		if !page.Exists() {
			return malformed(op, "no page in response for id %d", pageID)
		}
		if page.Get("missing").Bool() || page.Get("invalid").Bool() {
			return notFound(op, fmt.Sprintf("page %d", pageID))
		}
		for _, r := range page.Get("revisions").Array() {
			rev, err := parseRevision(op, r)
			if err != nil {
				return err
			}
			if rev.ID <= sinceRevID {
				continue
			}
			revs = append(revs, rev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return revs, nil
}

// FetchFileMetadata returns the latest version of an uploaded file. filename
// may be given with or without the File: prefix.
func (c *Client) FetchFileMetadata(ctx context.Context, filename string) (*FileInfo, error) {
	const op = "fetch file metadata"
	name := strings.TrimPrefix(filename, "File:")
	res, err := c.get(ctx, op, url.Values{
		"action": {"query"},
		"titles": {"File:" + name},
		"prop":   {"imageinfo"},
		"iiprop": {"url|sha1|size|mime|timestamp|user"},
	})
	if err != nil {
		return nil, err
	}

	info := res.Get("query.pages.0.imageinfo.0")
	if !info.Exists() {
		return nil, notFound(op, "file "+name)
	}

	ts, err := parseTime(info.Get("timestamp"))
	if err != nil {
		return nil, malformed(op, "file %s timestamp: %v", name, err)
	}
	f := &FileInfo{
		Filename:       name,
		URL:            info.Get("url").String(),
		DescriptionURL: info.Get("descriptionurl").String(),
		SHA1:           info.Get("sha1").String(),
		Size:           info.Get("size").Int(),
		MimeType:       info.Get("mime").String(),
		Timestamp:      ts,
		Width:          optionalInt(info.Get("width")),
		Height:         optionalInt(info.Get("height")),
	}
	if u := info.Get("user"); u.Exists() {
		s := u.String()
		f.Uploader = &s
	}
	return f, nil
}

// ProbePage checks whether a title currently exists
func (c *Client) ProbePage(ctx context.Context, title string) (*PageInfo, error) {
	const op = "probe page"
	res, err := c.get(ctx, op, url.Values{
		"action": {"query"},
		"titles": {title},
		"prop":   {"info"},
	})
	if err != nil {
		return nil, err
	}

	page := res.Get("query.pages.0")
	if !page.Exists() {
		return nil, malformed(op, "no page in response for %q", title)
	}
	if page.Get("missing").Bool() || page.Get("invalid").Bool() {
		return nil, nil
	}
	info, err := parsePageInfo(op, page)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) batch(limit int) int {
	if c.BatchSize <= 0 || c.BatchSize > limit {
		return limit
	}
	return c.BatchSize
}

func parsePageInfo(op string, p gjson.Result) (PageInfo, error) {
	info := PageInfo{
		ID:         p.Get("pageid").Int(),
		Namespace:  int(p.Get("ns").Int()),
		Title:      p.Get("title").String(),
		IsRedirect: p.Get("redirect").Bool(),
		LastRevID:  p.Get("lastrevid").Int(),
	}
	if info.ID <= 0 || info.Title == "" {
		return PageInfo{}, malformed(op, "page without id or title: %s", p.Raw)
	}
	if t := p.Get("touched"); t.Exists() {
		ts, err := parseTime(t)
		if err != nil {
			return PageInfo{}, malformed(op, "page %d touched: %v", info.ID, err)
		}
		info.Touched = ts
	}
	return info, nil
}

func parseRecentChange(op string, rc gjson.Result) (RecentChange, error) {
	ts, err := parseTime(rc.Get("timestamp"))
	if err != nil {
		return RecentChange{}, malformed(op, "recent change timestamp: %v", err)
	}
	change := RecentChange{
		PageID:    rc.Get("pageid").Int(),
		Namespace: int(rc.Get("ns").Int()),
		Title:     rc.Get("title").String(),
		Timestamp: ts,
		RevID:     rc.Get("revid").Int(),
		OldRevID:  rc.Get("old_revid").Int(),
	}

	switch rc.Get("type").String() {
	case "edit":
		change.Type = ChangeEdit
	case "new":
		change.Type = ChangeNew
	case "log":
		change.Type = logChangeType(rc.Get("logtype").String(), rc.Get("logaction").String())
		if change.Type == ChangeMove {
			change.NewNamespace = int(rc.Get("logparams.target_ns").Int())
			change.NewTitle = rc.Get("logparams.target_title").String()
			if change.NewTitle == "" {
				return RecentChange{}, malformed(op, "move of %q without target", change.Title)
			}
		}
	default:
		change.Type = ChangeOther
	}
	return change, nil
}

func logChangeType(logType, action string) ChangeType {
	switch logType {
	case "move":
		return ChangeMove
	case "delete":
		switch action {
		case "delete":
			return ChangeDelete
		case "restore":
			return ChangeRestore
		}
	case "upload":
		return ChangeUpload
	}
	return ChangeOther
}

func parseRevision(op string, r gjson.Result) (Revision, error) {
	ts, err := parseTime(r.Get("timestamp"))
	if err != nil {
		return Revision{}, malformed(op, "revision %d timestamp: %v", r.Get("revid").Int(), err)
	}
	rev := Revision{
		ID:            r.Get("revid").Int(),
		ParentID:      r.Get("parentid").Int(),
		Timestamp:     ts,
		Content:       r.Get("slots.main.content").String(),
		ContentHidden: r.Get("slots.main.texthidden").Bool() || r.Get("sha1hidden").Bool(),
		Size:          int(r.Get("size").Int()),
		SHA1:          r.Get("sha1").String(),
		Minor:         r.Get("minor").Bool(),
	}
	if rev.ID <= 0 {
		return Revision{}, malformed(op, "revision without id: %s", r.Raw)
	}
	if u := r.Get("user"); u.Exists() && !r.Get("userhidden").Bool() {
		s := u.String()
		rev.User = &s
		if id := r.Get("userid").Int(); id > 0 {
			rev.UserID = &id
		}
	}
	if cm := r.Get("comment"); cm.Exists() && !r.Get("commenthidden").Bool() {
		s := cm.String()
		rev.Comment = &s
	}
	for _, tag := range r.Get("tags").Array() {
		rev.Tags = append(rev.Tags, tag.String())
	}
	return rev, nil
}

func parseTime(v gjson.Result) (time.Time, error) {
	if !v.Exists() {
		return time.Time{}, errors.New("missing")
	}
	return time.Parse(time.RFC3339, v.String())
}

func optionalInt(v gjson.Result) *int {
	if !v.Exists() || v.Int() == 0 {
		return nil
	}
	n := int(v.Int())
	return &n
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
