package modules

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/spiderfoot/core/event"
	"github.com/spiderfoot/core/host"
	"github.com/spiderfoot/core/target"
)

// Spider fetches the target's homepage and extracts internal links from it,
// grounded on the classic sfp_spider module's fetch-and-mine behaviour,
// reimplemented on the Module Host's colly/goquery transport.
type Spider struct {
	host   *host.Host
	target target.Target
}

func NewSpider() *Spider { return &Spider{} }

func (m *Spider) Name() string { return "sfp_spider" }

func (m *Spider) WatchedEvents() []string { return []string{event.TypeRoot} }

func (m *Spider) ProducedEvents() []string {
	return []string{"LINKED_URL_INTERNAL", "WEBCONTENT"}
}

func (m *Spider) Setup(h *host.Host, _ map[string]string) error {
	m.host = h
	return nil
}

func (m *Spider) SetTarget(t target.Target) { m.target = t }

func (m *Spider) HandleEvent(e event.Event) error {
	if e.Type() != event.TypeRoot {
		return nil
	}

	url := m.target.Value
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "https://" + url
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	res, err := m.host.FetchURL(ctx, url, host.FetchOptions{})
	if err != nil {
		return fmt.Errorf("spider: fetch %s: %w", url, err)
	}

	contentEv := event.New(m.host.NextEventID(), "WEBCONTENT", res.Content, m.Name(), e.ID(), true, 100, 50, 0, "")
	m.host.NotifyListeners(contentEv)

	doc, err := m.host.ParseHTML(res.Content)
	if err != nil {
		return fmt.Errorf("spider: parse %s: %w", url, err)
	}
	m.emitLinks(doc, e)
	return nil
}

func (m *Spider) emitLinks(doc *goquery.Document, source event.Event) {
	seen := m.host.TempStorage(m.Name())
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || href == "" || strings.HasPrefix(href, "#") {
			return
		}
		if !strings.Contains(href, m.target.Value) && strings.HasPrefix(href, "http") {
			return // off-target link; not this module's concern
		}
		if seen.Seen(href) {
			return
		}
		ev := event.New(m.host.NextEventID(), "LINKED_URL_INTERNAL", href, m.Name(), source.ID(), true, 80, 60, 0, "")
		m.host.NotifyListeners(ev)
	})
}
