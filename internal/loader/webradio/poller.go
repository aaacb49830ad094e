// Package webradio implements the Icecast/Shoutcast-style "now playing"
// metadata poller for web-radio stations (spec §2's fourth component;
// supplemented from original_source/stream/webstream/src/MetaPoller.cpp,
// since it is named in the task list but not detailed in spec.md's four
// core subsystems).
package webradio

import (
	"encoding/json"
	"io"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/tobiasguyer/streamcore32/internal/httpapi"
)

// Kind selects which metadata endpoint shape to try. Auto probes every
// shape in turn.
type Kind uint8

const (
	KindAuto Kind = iota
	KindIcecastJSON
	KindShoutcastJSON
	KindShoutcast7
	KindDisabled
)

const (
	maxURLsPerCycle = 12
	maxAcceptBody   = 12 * 1024
	lockedFailCap   = 3
	minIntervalMs   = 1000
	jitterMs        = 250
	requestTimeout  = 12 * time.Second
)

// Spec configures one station's poll behavior.
type Spec struct {
	Kind        Kind
	URL         string // optional explicit endpoint, absolute or relative to Origin
	IntervalMs  uint32
	Enabled     bool
}

// Poller polls one armed station at a time for a changed title, invoking
// OnTitle when it changes and OnError on a terminal per-cycle failure.
// Safe to Arm/Disarm repeatedly across the lifetime of Run's goroutine.
type Poller struct {
	client *httpapi.Client
	log    *slog.Logger
	OnTitle func(station, title string)
	OnError func(station string, err error)

	mu       sync.Mutex
	active   bool
	origin   string
	station  string
	spec     Spec
	lastTitle string

	lockedURL      string
	lockedFailures int

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Poller using client for HTTP requests.
func New(client *httpapi.Client, log *slog.Logger) *Poller {
	return &Poller{
		client: client,
		log:    log,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Arm points the poller at a station and enables polling.
func (p *Poller) Arm(origin, station string, spec Spec) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.origin, p.station, p.spec = origin, station, spec
	p.lockedURL, p.lockedFailures = "", 0
	p.lastTitle = ""
	p.active = true
}

// Disarm stops active polling without stopping the Run loop.
func (p *Poller) Disarm() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = false
}

// Stop halts the Run goroutine and waits for it to exit.
func (p *Poller) Stop() {
	close(p.stopCh)
	<-p.doneCh
}

// Run polls until Stop is called. Intended to run in its own goroutine.
func (p *Poller) Run() {
	defer close(p.doneCh)
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		p.mu.Lock()
		active := p.active
		spec := p.spec
		origin := p.origin
		station := p.station
		p.mu.Unlock()

		if !active || !spec.Enabled {
			time.Sleep(200 * time.Millisecond)
			continue
		}

		title, err := p.pollOnce(origin, spec)
		if err != nil {
			if p.OnError != nil {
				p.OnError(station, err)
			}
		} else if title != "" {
			p.mu.Lock()
			changed := title != p.lastTitle
			if changed {
				p.lastTitle = title
			}
			p.mu.Unlock()
			if changed && p.OnTitle != nil {
				p.OnTitle(station, title)
			}
		} else {
			p.mu.Lock()
			noLock := p.lockedURL == ""
			if noLock {
				p.active = false
				p.lastTitle = ""
			}
			p.mu.Unlock()
		}

		p.sleepInterval(spec)
	}
}

func (p *Poller) sleepInterval(spec Spec) {
	base := spec.IntervalMs
	if base <= 500 {
		base = minIntervalMs
	}
	jitter := rand.Intn(jitterMs)
	remain := time.Duration(int(base)+jitter) * time.Millisecond
	deadline := time.Now().Add(remain)
	for time.Now().Before(deadline) {
		select {
		case <-p.stopCh:
			return
		default:
		}
		p.mu.Lock()
		stillActive := p.active
		p.mu.Unlock()
		if !stillActive {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func (p *Poller) pollOnce(origin string, spec Spec) (string, error) {
	urls := p.candidateURLs(origin, spec)
	for i, u := range urls {
		if i >= maxURLsPerCycle {
			break
		}
		title, ok := p.tryURL(u)
		if !ok {
			continue
		}
		p.mu.Lock()
		p.lockedURL = u
		p.lockedFailures = 0
		p.mu.Unlock()
		return title, nil
	}
	return "", nil
}

func (p *Poller) candidateURLs(origin string, spec Spec) []string {
	p.mu.Lock()
	locked := p.lockedURL
	p.mu.Unlock()
	if locked != "" {
		return []string{locked}
	}

	var urls []string
	seen := make(map[string]bool)
	push := func(u string) {
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		urls = append(urls, u)
	}

	if spec.URL != "" {
		if strings.HasPrefix(spec.URL, "http://") || strings.HasPrefix(spec.URL, "https://") {
			push(spec.URL)
		} else {
			sep := ""
			if !strings.HasPrefix(spec.URL, "/") {
				sep = "/"
			}
			push(origin + sep + spec.URL)
		}
	}
	for _, o := range originVariants(origin) {
		if spec.Kind == KindAuto || spec.Kind == KindIcecastJSON {
			push(o + "/status-json.xsl")
		}
		if spec.Kind == KindAuto || spec.Kind == KindShoutcastJSON {
			push(o + "/stats?json=1")
		}
		if spec.Kind == KindAuto || spec.Kind == KindShoutcast7 {
			push(o + "/7.html")
		}
		push(o + "/tracklist/currentlyplaying.json")
	}
	return urls
}

// originVariants returns origin itself plus, when it ends in a path
// segment that looks like a mount point, the bare scheme+host as a
// fallback (Icecast/Shoutcast status endpoints usually live at the
// server root, not under the stream's own mount).
func originVariants(origin string) []string {
	origin = strings.TrimRight(origin, "/")
	variants := []string{origin}
	if idx := strings.Index(origin, "://"); idx >= 0 {
		rest := origin[idx+3:]
		if slash := strings.Index(rest, "/"); slash >= 0 {
			root := origin[:idx+3+slash]
			if root != origin {
				variants = append(variants, root)
			}
		}
	}
	return variants
}

func (p *Poller) tryURL(u string) (string, bool) {
	resp, err := p.client.GetRanged(u, -1, map[string]string{
		"User-Agent": "streamcore32-radio/1.0",
		"Accept":     "application/json, text/plain;q=0.9, */*;q=0.5",
	})
	if err != nil {
		return "", false
	}
	defer httpapi.DrainAndClose(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.registerLockFailure(u)
		return "", false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAcceptBody+1))
	if err != nil || len(body) > maxAcceptBody {
		return "", false
	}

	lower := strings.ToLower(u)
	title := ""
	switch {
	case strings.HasSuffix(lower, "status-json.xsl"):
		title = parseIcecastJSON(body)
	case strings.Contains(lower, "stats?json"):
		title = parseShoutcastJSON(body)
	case strings.HasSuffix(lower, "/7.html"):
		title = parseShoutcast7(string(body))
	case strings.HasSuffix(lower, ".json"):
		title = parseGenericJSON(body)
	}
	if title == "" {
		return "", false
	}
	return title, true
}

func (p *Poller) registerLockFailure(u string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if u != p.lockedURL {
		return
	}
	p.lockedFailures++
	if p.lockedFailures >= lockedFailCap {
		p.lockedURL = ""
		p.lockedFailures = 0
	}
}

func parseIcecastJSON(body []byte) string {
	var doc struct {
		Icestats struct {
			Source json.RawMessage `json:"source"`
		} `json:"icestats"`
	}
	if json.Unmarshal(body, &doc) != nil {
		return ""
	}
	type source struct {
		Title  string `json:"title"`
		Artist string `json:"artist"`
	}
	var one source
	if json.Unmarshal(doc.Icestats.Source, &one) == nil {
		return pickIcecastTitle(one.Artist, one.Title)
	}
	var many []source
	if json.Unmarshal(doc.Icestats.Source, &many) == nil {
		for _, s := range many {
			if t := pickIcecastTitle(s.Artist, s.Title); t != "" {
				return t
			}
		}
	}
	return ""
}

func pickIcecastTitle(artist, title string) string {
	if artist != "" && title != "" {
		return artist + " - " + title
	}
	return title
}

func parseShoutcastJSON(body []byte) string {
	var doc struct {
		SongTitle string `json:"songtitle"`
		Title     string `json:"title"`
	}
	if json.Unmarshal(body, &doc) != nil {
		return ""
	}
	if doc.SongTitle != "" {
		return doc.SongTitle
	}
	return doc.Title
}

func parseGenericJSON(body []byte) string {
	var doc struct {
		Artist string `json:"artist"`
		Track  string `json:"track"`
	}
	if json.Unmarshal(body, &doc) != nil {
		return ""
	}
	if doc.Artist != "" && doc.Track != "" {
		return doc.Artist + " - " + doc.Track
	}
	return doc.Track
}

// parseShoutcast7 extracts the 4th comma-separated field of a legacy
// Shoutcast /7.html response and strips any trailing HTML.
func parseShoutcast7(body string) string {
	field := 0
	start := -1
	for i, c := range body {
		if c == ',' {
			field++
			if field == 4 {
				start = i + 1
				break
			}
		}
	}
	if start < 0 {
		return ""
	}
	rest := body[start:]
	end := strings.IndexByte(rest, ',')
	if end >= 0 {
		rest = rest[:end]
	}
	rest = strings.TrimSpace(rest)
	if lt := strings.IndexByte(rest, '<'); lt >= 0 {
		rest = rest[:lt]
	}
	return rest
}
