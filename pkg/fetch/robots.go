package fetch

import (
	"context"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
)

// RobotsHandler fetches, caches and checks robots.txt per host.
// It only gates anything when a site opts in with respect_robots_txt.
type RobotsHandler struct {
	fetcher   *Fetcher
	userAgent string
	cache     map[string]*robotstxt.RobotsData // scheme://host -> parsed data (nil = allow all)
	cacheMu   sync.Mutex
	inflight  singleflight.Group
	log       *logrus.Entry
}

// NewRobotsHandler creates a RobotsHandler
func NewRobotsHandler(fetcher *Fetcher, userAgent string, log *logrus.Entry) *RobotsHandler {
	return &RobotsHandler{
		fetcher:   fetcher,
		userAgent: userAgent,
		cache:     make(map[string]*robotstxt.RobotsData),
		log:       log.WithField("component", "robots"),
	}
}

// GetRobotsData returns the parsed robots.txt of target's origin, fetching it once per origin.
// Returns nil when the file is missing or unreadable, which allows everything.
func (rh *RobotsHandler) GetRobotsData(ctx context.Context, target *url.URL) *robotstxt.RobotsData {
	origin := target.Scheme + "://" + target.Host

	rh.cacheMu.Lock()
	data, found := rh.cache[origin]
	rh.cacheMu.Unlock()
	if found {
		return data
	}

	v, _, _ := rh.inflight.Do(origin, func() (interface{}, error) {
		robotsURL := origin + "/robots.txt"
		robotsLog := rh.log.WithField("robots_url", robotsURL)

		var parsed *robotstxt.RobotsData
		resp, err := rh.fetcher.Get(ctx, robotsURL)
		if err != nil {
			robotsLog.Debugf("No usable robots.txt: %v", err)
		} else if parsed, err = robotstxt.FromBytes(resp.Body); err != nil {
			robotsLog.Warnf("Error parsing robots.txt: %v", err)
			parsed = nil
		} else {
			robotsLog.Info("Fetched and parsed robots.txt")
		}

		if ctx.Err() == nil {
			rh.cacheMu.Lock()
			rh.cache[origin] = parsed
			rh.cacheMu.Unlock()
		}
		return parsed, nil
	})
	data, _ = v.(*robotstxt.RobotsData)
	return data
}

// Allowed reports whether the user agent may fetch target.
func (rh *RobotsHandler) Allowed(ctx context.Context, target *url.URL) bool {
	data := rh.GetRobotsData(ctx, target)
	if data == nil {
		return true
	}
	return data.TestAgent(target.RequestURI(), rh.userAgent)
}
