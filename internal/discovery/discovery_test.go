package discovery

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/browser"
	"github.com/JakeFAU/catalog-crawler/internal/browser/browsertest"
)

const listingURL = "https://shop.example/bedroom/pillows.html"

// listing simulates a page that gains step products per click until it has
// been clicked growUntil times.
type listing struct {
	initial   int
	step      int
	growUntil int
	clicks    int
	noButtons bool
}

func (l *listing) count() int {
	grown := l.clicks
	if grown > l.growUntil {
		grown = l.growUntil
	}
	return l.initial + grown*l.step
}

func (l *listing) install(page *browsertest.Page) {
	page.Handle(clickLoadMoreScript.Name, func(string, []any) (any, error) {
		if l.noButtons {
			return clickResult{}, nil
		}
		l.clicks++
		return clickResult{Found: 1, Clicked: 1}, nil
	})
	page.Handle(countScript.Name, func(string, []any) (any, error) {
		return l.count(), nil
	})
	page.Handle(collectLinksScript.Name, func(_ string, args []any) (any, error) {
		hrefs := make([]string, 0, l.count())
		for i := 0; i < l.count(); i++ {
			hrefs = append(hrefs, fmt.Sprintf("/p/%d.html", i))
		}
		return hrefs, nil
	})
}

func newTestDiscoverer() *Discoverer {
	return New(Selectors{}, Config{SettleDelay: time.Millisecond, LoadWait: time.Millisecond}, nil)
}

func TestProductLinksStopsAfterStagnation(t *testing.T) {
	t.Parallel()

	for _, k := range []int{0, 1, 4, 10} {
		k := k
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			t.Parallel()

			page := browsertest.NewPage()
			site := &listing{initial: 24, step: 24, growUntil: k}
			site.install(page)

			links, err := newTestDiscoverer().ProductLinks(context.Background(), page, listingURL)
			require.NoError(t, err)
			require.LessOrEqual(t, site.clicks, k+3)
			require.Equal(t, k+3, site.clicks)
			require.Len(t, links, 24+24*k)
			require.Equal(t, "https://shop.example/p/0.html", links[0])
		})
	}
}

func TestProductLinksWithoutLoadMoreControls(t *testing.T) {
	t.Parallel()

	page := browsertest.NewPage()
	site := &listing{initial: 5, noButtons: true}
	site.install(page)

	links, err := newTestDiscoverer().ProductLinks(context.Background(), page, listingURL)
	require.NoError(t, err)
	require.Len(t, links, 5)
	require.Zero(t, site.clicks)
}

func TestProductLinksHonorsIterationCeiling(t *testing.T) {
	t.Parallel()

	page := browsertest.NewPage()
	site := &listing{initial: 1, step: 1, growUntil: 1 << 20}
	site.install(page)

	d := New(Selectors{}, Config{LoadWait: time.Millisecond, MaxLoadMoreIterations: 7}, nil)
	links, err := d.ProductLinks(context.Background(), page, listingURL)
	require.NoError(t, err)
	require.Equal(t, 7, site.clicks)
	require.Len(t, links, 8)
}

func TestProductLinksSwallowsClickScriptFailure(t *testing.T) {
	t.Parallel()

	page := browsertest.NewPage()
	site := &listing{initial: 3}
	site.install(page)
	page.Handle(clickLoadMoreScript.Name, func(string, []any) (any, error) {
		return nil, errors.New("element detached")
	})

	links, err := newTestDiscoverer().ProductLinks(context.Background(), page, listingURL)
	require.NoError(t, err)
	require.Len(t, links, 3)
}

func TestProductLinksNavigationFailure(t *testing.T) {
	t.Parallel()

	page := browsertest.NewPage()
	page.NavigateFunc = func(string) error { return errors.New("net::ERR_NAME_NOT_RESOLVED") }

	links, err := newTestDiscoverer().ProductLinks(context.Background(), page, listingURL)
	require.ErrorIs(t, err, browser.ErrNavigation)
	require.Empty(t, links)
}

func TestSubcategoriesResolvesAndDeduplicates(t *testing.T) {
	t.Parallel()

	page := browsertest.NewPage()
	category := "https://shop.example/bedroom.html"
	page.SetPresent(category, DefaultSelectors().SubcategoryLink)
	page.Handle(collectLinksScript.Name, func(_ string, args []any) (any, error) {
		require.Equal(t, []any{DefaultSelectors().SubcategoryLink}, args)
		return []string{
			"/bedroom/pillows.html",
			"https://shop.example/bedroom/duvets.html",
			"/bedroom/pillows.html#top",
			"javascript:void(0)",
			"",
		}, nil
	})

	subs, err := newTestDiscoverer().Subcategories(context.Background(), page, category)
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://shop.example/bedroom/pillows.html",
		"https://shop.example/bedroom/duvets.html",
	}, subs)
}

func TestSubcategoriesEmptyPage(t *testing.T) {
	t.Parallel()

	page := browsertest.NewPage()
	page.Handle(collectLinksScript.Name, func(string, []any) (any, error) {
		return []string{}, nil
	})

	subs, err := newTestDiscoverer().Subcategories(context.Background(), page, "https://shop.example/empty.html")
	require.NoError(t, err)
	require.Empty(t, subs)
}

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	d := New(Selectors{LoadMore: ".more"}, Config{}, nil)
	require.Equal(t, ".more", d.sel.LoadMore)
	require.Equal(t, DefaultSelectors().ProductLink, d.sel.ProductLink)
	require.Equal(t, DefaultConfig(), d.cfg)
}
