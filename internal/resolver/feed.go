package resolver

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/JakeFAU/mylist-importer/internal/mylist"
)

func (r *Resolver) feedURL(id string) string {
	return fmt.Sprintf("%s/mylist/%s?rss=2.0", r.cfg.FeedBaseURL, id)
}

func (r *Resolver) fromFeed(ctx context.Context, id string) ([]mylist.ItemStub, error) {
	resp, err := r.fetcher.Fetch(ctx, mylist.FetchRequest{
		URL:     r.feedURL(id),
		Headers: http.Header{"Accept": {"application/rss+xml, application/xml;q=0.9, */*;q=0.8"}},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	stubs, err := parseFeed(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(stubs) == 0 {
		return nil, mylist.ErrNoItems
	}
	return stubs, nil
}

// parseFeed reads RSS 2.0 channel items. The feed carries no uploader name.
func parseFeed(body []byte) ([]mylist.ItemStub, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	items, err := xmlquery.QueryAll(doc, "//channel/item")
	if err != nil {
		return nil, fmt.Errorf("query feed items: %w", err)
	}
	stubs := make([]mylist.ItemStub, 0, len(items))
	for _, item := range items {
		id := itemIDFromLink(childText(item, "link"))
		if id == "" {
			continue
		}
		stubs = append(stubs, mylist.ItemStub{
			ExternalID: id,
			RawTitle:   childText(item, "title"),
		})
	}
	return stubs, nil
}

func childText(node *xmlquery.Node, name string) string {
	child := node.SelectElement(name)
	if child == nil {
		return ""
	}
	return strings.TrimSpace(child.InnerText())
}

// itemIDFromLink returns the last path segment of a watch link, e.g.
// "https://www.nicovideo.jp/watch/sm9?ref=rss" -> "sm9".
func itemIDFromLink(link string) string {
	if link == "" {
		return ""
	}
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	p := strings.TrimRight(u.Path, "/")
	if !strings.Contains(p, "/watch/") {
		return ""
	}
	return path.Base(p)
}
