package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/mylist-importer/internal/mylist"
)

type apiEnvelope struct {
	Meta struct {
		Status int `json:"status"`
	} `json:"meta"`
	Data struct {
		Mylist struct {
			TotalItemCount int       `json:"totalItemCount"`
			HasNext        bool      `json:"hasNext"`
			Items          []apiItem `json:"items"`
		} `json:"mylist"`
	} `json:"data"`
}

type apiItem struct {
	WatchID string `json:"watchId"`
	Video   struct {
		ID    string `json:"id"`
		Title string `json:"title"`
		Owner struct {
			Name string `json:"name"`
		} `json:"owner"`
	} `json:"video"`
}

func (r *Resolver) pageURL(id string, page int) string {
	q := url.Values{}
	q.Set("pageSize", strconv.Itoa(r.cfg.PageSize))
	q.Set("page", strconv.Itoa(page))
	q.Set("sortKey", "addedAt")
	q.Set("sortOrder", "asc")
	return fmt.Sprintf("%s/v2/mylists/%s?%s", r.cfg.APIBaseURL, id, q.Encode())
}

func (r *Resolver) apiHeaders() http.Header {
	return http.Header{
		"Accept":              {"application/json"},
		"X-Frontend-Id":       {r.cfg.FrontendID},
		"X-Frontend-Version":  {r.cfg.FrontendVersion},
		"X-Niconico-Language": {"ja-jp"},
	}
}

// fromAPI reads page 1 and then follows hasNext up to MaxPages. A failure on
// a later page keeps what was already collected.
func (r *Resolver) fromAPI(ctx context.Context, id string) ([]mylist.ItemStub, error) {
	var stubs []mylist.ItemStub
	for page := 1; page <= r.cfg.MaxPages; page++ {
		env, err := r.fetchPage(ctx, id, page)
		if err != nil {
			if page == 1 {
				return nil, err
			}
			r.logger.Warn("list api pagination stopped early",
				zap.String("mylist_id", id),
				zap.Int("page", page),
				zap.Int("collected", len(stubs)),
				zap.Error(err),
			)
			break
		}
		stubs = append(stubs, stubsFromItems(env.Data.Mylist.Items)...)
		if !env.Data.Mylist.HasNext {
			break
		}
		if page == r.cfg.MaxPages {
			r.logger.Warn("list api page cap reached",
				zap.String("mylist_id", id),
				zap.Int("max_pages", r.cfg.MaxPages),
				zap.Int("total", env.Data.Mylist.TotalItemCount),
			)
		}
	}
	if len(stubs) == 0 {
		return nil, mylist.ErrNoItems
	}
	return stubs, nil
}

func (r *Resolver) fetchPage(ctx context.Context, id string, page int) (apiEnvelope, error) {
	resp, err := r.fetcher.Fetch(ctx, mylist.FetchRequest{
		URL:     r.pageURL(id, page),
		Headers: r.apiHeaders(),
	})
	if err != nil {
		return apiEnvelope{}, fmt.Errorf("fetch page %d: %w", page, err)
	}
	var env apiEnvelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return apiEnvelope{}, fmt.Errorf("decode page %d: %w", page, err)
	}
	if env.Meta.Status != 0 && env.Meta.Status != http.StatusOK {
		return apiEnvelope{}, fmt.Errorf("page %d: api status %d", page, env.Meta.Status)
	}
	return env, nil
}

func stubsFromItems(items []apiItem) []mylist.ItemStub {
	stubs := make([]mylist.ItemStub, 0, len(items))
	for _, item := range items {
		id := item.Video.ID
		if id == "" {
			id = item.WatchID
		}
		if id == "" {
			continue
		}
		stubs = append(stubs, mylist.ItemStub{
			ExternalID: id,
			OwnerName:  item.Video.Owner.Name,
			RawTitle:   item.Video.Title,
		})
	}
	return stubs
}
